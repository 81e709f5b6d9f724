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

	"github.com/google/subcommands"
	"gvisor.dev/introspect/cmd/nfdebug/cmd/util"
	"gvisor.dev/introspect/cmd/nfdebug/config"
	"gvisor.dev/introspect/pkg/vcpu"
)

// CPU implements subcommands.Command for the "cpu" command.
type CPU struct{}

// Name implements subcommands.Command.Name.
func (*CPU) Name() string {
	return "cpu"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*CPU) Synopsis() string {
	return "print the paging configuration of a CPU state file"
}

// Usage implements subcommands.Command.Usage.
func (*CPU) Usage() string {
	return "cpu -state=<file>\n"
}

// SetFlags implements subcommands.Command.SetFlags.
func (*CPU) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*CPU) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	conf := args[0].(*config.Config)
	if conf.State == "" {
		return util.Errorf("-state is required")
	}
	cpu, err := vcpu.LoadFile(conf.State)
	if err != nil {
		return util.Errorf("%v", err)
	}
	fmt.Fprintf(stdout, "cr3:      %#x\n", cpu.CR3)
	fmt.Fprintf(stdout, "efer:     %#x\n", cpu.EFER)
	fmt.Fprintf(stdout, "a20:      %t\n", cpu.A20)
	fmt.Fprintf(stdout, "fs base:  %#x\n", cpu.SegBase[vcpu.FS])
	fmt.Fprintf(stdout, "gs base:  %#x\n", cpu.SegBase[vcpu.GS])
	fmt.Fprintf(stdout, "cpuid:    %v\n", cpu.Features)

	cfg, err := cpu.WalkConfig()
	if err != nil {
		return util.Errorf("%v", err)
	}
	fmt.Fprintf(stdout, "root:     %v\n", cfg.Root)
	fmt.Fprintf(stdout, "nxe:      %t\n", cfg.NXE)
	fmt.Fprintf(stdout, "1g pages: %t\n", cfg.GBPages)
	fmt.Fprintf(stdout, "reserved: %#x\n", cfg.ReservedBits())
	return subcommands.ExitSuccess
}
