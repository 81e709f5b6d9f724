// Copyright 2026 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"
	"golang.org/x/term"
	"gvisor.dev/introspect/cmd/nfdebug/cmd/util"
	"gvisor.dev/introspect/cmd/nfdebug/config"
	"gvisor.dev/introspect/pkg/guestarch"
	"gvisor.dev/introspect/pkg/nofault"
)

const (
	// bytesPerLine is the width of a hex dump line.
	bytesPerLine = 16

	// maxReadLength bounds -n.
	maxReadLength = 1 << 30
)

// Read implements subcommands.Command for the "read" command.
type Read struct {
	length uint
	raw    bool
	page   bool
}

// Name implements subcommands.Command.Name.
func (*Read) Name() string {
	return "read"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Read) Synopsis() string {
	return "read guest memory at a linear address"
}

// Usage implements subcommands.Command.Usage.
func (*Read) Usage() string {
	return `read [flags] <address>

The address is an integer, or seg:offset for a segment register. Nothing is
printed unless the whole range can be read.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (r *Read) SetFlags(f *flag.FlagSet) {
	f.UintVar(&r.length, "n", 64, "number of bytes to read, at most 1 GiB.")
	f.BoolVar(&r.raw, "raw", false, "write the raw bytes instead of a hex dump.")
	f.BoolVar(&r.page, "page", false, "translate only once; fail if the read crosses a page boundary.")
}

// Execute implements subcommands.Command.Execute.
func (r *Read) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	if r.length > maxReadLength {
		fmt.Fprintf(os.Stderr, "-n %d exceeds the maximum of %d bytes\n", r.length, maxReadLength)
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	tgt, err := openTarget(conf)
	if err != nil {
		return util.Errorf("%v", err)
	}
	defer tgt.Close()

	addr, err := parseAddress(tgt.cpu, f.Arg(0))
	if err != nil {
		return util.Errorf("%v", err)
	}
	buf := make([]byte, r.length)
	acc := nofault.Accessor{Mem: tgt.mem}
	if r.page {
		err = acc.ReadLinear(tgt.cpu, addr, buf, guestarch.Read)
	} else {
		err = acc.CopyIn(tgt.cpu, addr, buf)
	}
	if err != nil {
		return util.Errorf("reading %d bytes at %v: %v", len(buf), addr, err)
	}

	if r.raw {
		if f, ok := stdout.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
			return util.Errorf("refusing to write raw bytes to a terminal")
		}
		if _, err := stdout.Write(buf); err != nil {
			return util.Errorf("writing output: %v", err)
		}
		return subcommands.ExitSuccess
	}
	for off := 0; off < len(buf); off += bytesPerLine {
		end := min(off+bytesPerLine, len(buf))
		fmt.Fprintf(stdout, "%016x  % x\n", uint64(addr)+uint64(off), buf[off:end])
	}
	return subcommands.ExitSuccess
}
