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
	"io"
	"os"

	"github.com/google/subcommands"
	"gvisor.dev/introspect/cmd/nfdebug/cmd/util"
	"gvisor.dev/introspect/cmd/nfdebug/config"
	"gvisor.dev/introspect/pkg/instrument"
	"gvisor.dev/introspect/pkg/log"
	"gvisor.dev/introspect/pkg/nofault"
	"gvisor.dev/introspect/pkg/pagewalk"
)

// stdout receives command output.
var stdout io.Writer = os.Stdout

// pageSizeNames names the page size mapped by a leaf at each level.
var pageSizeNames = [...]string{
	pagewalk.PTE:  "4K",
	pagewalk.PDE:  "2M",
	pagewalk.PDPE: "1G",
}

// Translate implements subcommands.Command for the "translate" command.
type Translate struct {
	trace bool
}

// Name implements subcommands.Command.Name.
func (*Translate) Name() string {
	return "translate"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Translate) Synopsis() string {
	return "translate guest linear addresses to physical addresses"
}

// Usage implements subcommands.Command.Usage.
func (*Translate) Usage() string {
	return `translate [flags] <address>...

Addresses are integers, or seg:offset for a segment register (e.g. gs:0x28).
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (t *Translate) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&t.trace, "trace", false, "print every page table entry read.")
}

// Execute implements subcommands.Command.Execute.
func (t *Translate) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() == 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	tgt, err := openTarget(conf)
	if err != nil {
		return util.Errorf("%v", err)
	}
	defer tgt.Close()

	var rec instrument.Recorder
	acc := nofault.Accessor{
		Mem:      tgt.mem,
		Notifier: instrument.Multi{&rec, instrument.LogNotifier{Logger: log.Log()}},
	}
	status := subcommands.ExitSuccess
	for _, arg := range f.Args() {
		rec.Reset()
		addr, err := parseAddress(tgt.cpu, arg)
		if err != nil {
			status = util.Errorf("%v", err)
			continue
		}
		tr, err := acc.Translate(tgt.cpu, addr)
		if t.trace {
			for _, a := range rec.Accesses {
				fmt.Fprintf(stdout, "  %v\n", a)
			}
		}
		if err != nil {
			status = util.Errorf("%v", err)
			continue
		}
		fmt.Fprintf(stdout, "%v -> %v (%s page at %v)\n", addr, tgt.cpu.A20Addr(tr.Phys), pageSizeNames[tr.Leaf], tr.Leaf)
	}
	return status
}
