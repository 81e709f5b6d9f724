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

// Package vcpu holds a snapshot of the virtual CPU state that guest address
// translation depends on.
package vcpu

import (
	"errors"
	"fmt"

	"gvisor.dev/introspect/pkg/cpuid"
	"gvisor.dev/introspect/pkg/guestarch"
	"gvisor.dev/introspect/pkg/pagewalk"
)

// EFER bits.
const (
	EFERLME = 1 << 8
	EFERLMA = 1 << 10
	EFERNXE = 1 << 11
)

// a20Bit is forced to zero in physical addresses while the A20 gate is
// disabled.
const a20Bit = 1 << 20

// SegReg names a segment register.
type SegReg int

// Segment registers, in encoding order.
const (
	ES SegReg = iota
	CS
	SS
	DS
	FS
	GS

	numSegRegs
)

var segRegNames = [...]string{ES: "es", CS: "cs", SS: "ss", DS: "ds", FS: "fs", GS: "gs"}

// String implements fmt.Stringer.String.
func (s SegReg) String() string {
	if s >= 0 && s < numSegRegs {
		return segRegNames[s]
	}
	return fmt.Sprintf("SegReg(%d)", int(s))
}

// SegRegFromString parses a segment register name.
func SegRegFromString(name string) (SegReg, error) {
	for i, n := range segRegNames {
		if n == name {
			return SegReg(i), nil
		}
	}
	return 0, fmt.Errorf("unknown segment register %q", name)
}

// ErrNotLongMode is returned when the snapshot is not in long mode.
var ErrNotLongMode = errors.New("CPU is not in long mode")

// State is a virtual CPU snapshot.
//
// A State is read-only while translations consult it. Each translation
// reads it afresh, so updating a State between calls takes effect
// immediately.
type State struct {
	CR3  uint64
	EFER uint64

	// A20 is the state of the A20 gate.
	A20 bool

	// SegBase holds segment base addresses. Only the FS and GS bases
	// are used in 64-bit mode.
	SegBase [numSegRegs]uint64

	// Features is the CPUID the guest sees.
	Features cpuid.FeatureSet
}

// LongMode returns true iff EFER.LMA is set.
func (s *State) LongMode() bool {
	return s.EFER&EFERLMA != 0
}

// WalkConfig returns the paging configuration for a walk.
func (s *State) WalkConfig() (pagewalk.Config, error) {
	if !s.LongMode() {
		return pagewalk.Config{}, ErrNotLongMode
	}
	cfg := pagewalk.Config{
		Root:         pagewalk.RootFromCR3(s.CR3),
		NXE:          s.EFER&EFERNXE != 0,
		GBPages:      s.Features.HasFeature(cpuid.X86FeatureGBPages),
		PhysAddrBits: s.Features.PhysicalAddressBits(),
	}
	if err := cfg.Validate(); err != nil {
		return pagewalk.Config{}, err
	}
	return cfg, nil
}

// LinearAddress returns the linear address of seg:offset in 64-bit mode.
// FS and GS add their base; the other segments are flat.
//
// Segment limits are not checked in 64-bit mode.
func (s *State) LinearAddress(seg SegReg, offset uint64) guestarch.Addr {
	if seg == FS || seg == GS {
		return guestarch.Addr(s.SegBase[seg] + offset)
	}
	return guestarch.Addr(offset)
}

// A20Addr applies the A20 gate to a physical address.
func (s *State) A20Addr(addr guestarch.PhysAddr) guestarch.PhysAddr {
	if s.A20 {
		return addr
	}
	return addr &^ a20Bit
}
