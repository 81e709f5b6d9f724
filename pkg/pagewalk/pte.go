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

package pagewalk

import (
	"fmt"

	"gvisor.dev/introspect/pkg/guestarch"
)

// Bits in page table entries.
const (
	present        = 1 << 0
	writable       = 1 << 1
	user           = 1 << 2
	writeThrough   = 1 << 3
	cacheDisable   = 1 << 4
	accessed       = 1 << 5
	dirty          = 1 << 6
	super          = 1 << 7
	global         = 1 << 8
	executeDisable = 1 << 63
)

// Frame masks. The large frame mask also drops bit 12, which is the PAT bit
// in large page entries.
const (
	frameMask      = 0x000ffffffffff000
	largeFrameMask = 0x000fffffffffe000

	// physicalBitsMask covers every bit that can encode a physical address.
	physicalBitsMask = 0x000fffffffffffff
)

// Entry is a raw 64-bit long-mode paging structure entry at any level.
type Entry uint64

// Present returns true iff the present bit is set.
func (p Entry) Present() bool {
	return p&present != 0
}

// IsSuper returns true iff the page size bit is set. Below the PML4 and
// above the PTE level this makes the entry a leaf.
func (p Entry) IsSuper() bool {
	return p&super != 0
}

// NoExecute returns true iff the execute disable bit is set.
func (p Entry) NoExecute() bool {
	return p&executeDisable != 0
}

// Frame returns the physical frame named by bits 51:12.
func (p Entry) Frame() uint64 {
	return uint64(p) & frameMask
}

// largeFrame returns the frame of a large page leaf, without the PAT bit.
func (p Entry) largeFrame() uint64 {
	return uint64(p) & largeFrameMask
}

// check validates the entry structurally: it must be present and must not
// set any bit in reserved.
//
// The requested access is deliberately ignored. Accesses on this path read
// guest memory regardless of the writable, user and execute disable
// permissions; only presence and reserved bits are enforced.
func (p Entry) check(reserved uint64, _ guestarch.AccessType) FaultKind {
	if !p.Present() {
		return FaultNotPresent
	}
	if uint64(p)&reserved != 0 {
		return FaultReserved
	}
	return FaultNone
}

// String implements fmt.Stringer.String.
func (p Entry) String() string {
	if !p.Present() {
		return fmt.Sprintf("%#x(not present)", uint64(p))
	}
	flags := [...]struct {
		bit  uint64
		name byte
	}{
		{writable, 'W'},
		{user, 'U'},
		{writeThrough, 'T'},
		{cacheDisable, 'C'},
		{accessed, 'A'},
		{dirty, 'D'},
		{super, 'S'},
		{global, 'G'},
		{executeDisable, 'X'},
	}
	var b []byte
	for _, f := range flags {
		if uint64(p)&f.bit != 0 {
			b = append(b, f.name)
		} else {
			b = append(b, '-')
		}
	}
	return fmt.Sprintf("%#x(frame=%#x %s)", uint64(p), p.Frame(), b)
}
