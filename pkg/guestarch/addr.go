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

// Package guestarch describes guest addresses and access types for a 64-bit
// x86 guest running in long mode.
package guestarch

import (
	"fmt"
)

// Page geometry of 4-level long-mode paging.
const (
	// PageShift is the binary log of the base page size.
	PageShift = 12

	// PageSize is the base page size.
	PageSize = 1 << PageShift

	// HugePageShift is the binary log of the 2 MiB page size.
	HugePageShift = 21

	// HugePageSize is the 2 MiB large page size.
	HugePageSize = 1 << HugePageShift

	// GiantPageShift is the binary log of the 1 GiB page size.
	GiantPageShift = 30

	// GiantPageSize is the 1 GiB large page size.
	GiantPageSize = 1 << GiantPageShift

	// VirtualAddressBits is the implemented linear address width.
	VirtualAddressBits = 48

	// MinPhysicalAddressBits and MaxPhysicalAddressBits bound the
	// physical address width a long-mode CPU may report.
	MinPhysicalAddressBits = 32
	MaxPhysicalAddressBits = 52
)

// Addr is a guest linear address.
type Addr uint64

// String implements fmt.Stringer.String.
func (v Addr) String() string {
	return fmt.Sprintf("%#x", uint64(v))
}

// IsCanonical returns true iff bits 63 through 47 of v are all equal, that
// is, the upper bits are the sign extension of the highest implemented bit.
//
// This is a pure check; it never touches memory.
func (v Addr) IsCanonical() bool {
	upper := int64(v) >> (VirtualAddressBits - 1)
	return upper == 0 || upper == -1
}

// PageOffset returns the offset of v into a page of size 1<<shift.
func (v Addr) PageOffset(shift uint) uint64 {
	return uint64(v) & (1<<shift - 1)
}

// RoundDown returns the address rounded down to the nearest base page
// boundary.
func (v Addr) RoundDown() Addr {
	return v &^ (PageSize - 1)
}

// RoundUp returns the address rounded up to the nearest base page boundary.
// ok is true iff rounding up did not wrap around.
func (v Addr) RoundUp() (addr Addr, ok bool) {
	addr = Addr(v + PageSize - 1).RoundDown()
	ok = addr >= v
	return
}

// AddLength adds the given length to start and returns the result. ok is true
// iff adding the length did not overflow.
func (v Addr) AddLength(length uint64) (end Addr, ok bool) {
	end = v + Addr(length)
	ok = end >= v
	return
}

// PhysAddr is a guest physical address.
type PhysAddr uint64

// String implements fmt.Stringer.String.
func (p PhysAddr) String() string {
	return fmt.Sprintf("%#x", uint64(p))
}

// AddrRange is a range of linear addresses [Start, End).
type AddrRange struct {
	Start Addr
	End   Addr
}

// Length returns the length of the range.
func (ar AddrRange) Length() uint64 {
	return uint64(ar.End - ar.Start)
}

// WellFormed returns true if ar.Start <= ar.End.
func (ar AddrRange) WellFormed() bool {
	return ar.Start <= ar.End
}

// String implements fmt.Stringer.String.
func (ar AddrRange) String() string {
	return fmt.Sprintf("[%#x, %#x)", uint64(ar.Start), uint64(ar.End))
}
