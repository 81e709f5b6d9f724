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
	"runtime"
	"strconv"

	"github.com/google/subcommands"
	"gvisor.dev/introspect/cmd/nfdebug/cmd/util"
	"gvisor.dev/introspect/cmd/nfdebug/config"
	"gvisor.dev/introspect/pkg/guestarch"
	"gvisor.dev/introspect/pkg/instrument"
	"gvisor.dev/introspect/pkg/log"
	"gvisor.dev/introspect/pkg/nofault"
)

// Scan implements subcommands.Command for the "scan" command.
type Scan struct {
	start   string
	end     string
	workers int
}

// Name implements subcommands.Command.Name.
func (*Scan) Name() string {
	return "scan"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Scan) Synopsis() string {
	return "list the mapped regions of a linear address range"
}

// Usage implements subcommands.Command.Usage.
func (*Scan) Usage() string {
	return `scan [flags]

Prints each run of linear addresses that maps to contiguous physical memory
through pages of one size. Non-canonical addresses in the range are skipped.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (s *Scan) SetFlags(f *flag.FlagSet) {
	f.StringVar(&s.start, "start", "0", "first linear address to scan.")
	f.StringVar(&s.end, "end", "0x800000000000", "linear address at which to stop scanning (exclusive).")
	f.IntVar(&s.workers, "j", runtime.GOMAXPROCS(0), "number of concurrent table walkers.")
}

// Execute implements subcommands.Command.Execute.
func (s *Scan) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	start, err := strconv.ParseUint(s.start, 0, 64)
	if err != nil {
		return util.Errorf("invalid -start: %v", err)
	}
	end, err := strconv.ParseUint(s.end, 0, 64)
	if err != nil {
		return util.Errorf("invalid -end: %v", err)
	}
	ar := guestarch.AddrRange{Start: guestarch.Addr(start), End: guestarch.Addr(end)}

	conf := args[0].(*config.Config)
	tgt, err := openTarget(conf)
	if err != nil {
		return util.Errorf("%v", err)
	}
	defer tgt.Close()

	var counter instrument.Counter
	acc := nofault.Accessor{Mem: tgt.mem, Notifier: &counter}
	ms, err := acc.Scan(ctx, tgt.cpu, ar, s.workers)
	if err != nil {
		return util.Errorf("scanning %v: %v", ar, err)
	}
	for _, m := range ms {
		fmt.Fprintf(stdout, "%v\n", m)
	}
	log.Infof("Scanned %v: %d mappings, %d table entries read", ar, len(ms), counter.Total())
	return subcommands.ExitSuccess
}
