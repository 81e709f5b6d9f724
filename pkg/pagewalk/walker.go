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

// Package pagewalk translates guest linear addresses through 4-level
// long-mode page tables without side effects.
//
// The walk mirrors the structural checks of the hardware walk: each visited
// entry must be present and free of reserved bits, and large pages are only
// accepted where the architecture allows them. It differs from the hardware
// in what it does not do: no accessed or dirty bits are set, no exception is
// raised, no permissions are enforced and nothing is cached. A failed walk is
// reported as a *Fault.
package pagewalk

import (
	"fmt"

	"gvisor.dev/introspect/pkg/guestarch"
	"gvisor.dev/introspect/pkg/instrument"
	"gvisor.dev/introspect/pkg/log"
	"gvisor.dev/introspect/pkg/physmem"
)

// Level is a paging structure level. Walks start at PML4 and descend.
type Level int

// Paging levels.
const (
	// NoLevel marks faults raised outside the table walk.
	NoLevel Level = -1

	PTE  Level = 0
	PDE  Level = 1
	PDPE Level = 2
	PML4 Level = 3
)

// levelShifts is the position of each level's 9-bit index in a linear
// address, which is also the width of the offset into a page mapped by a
// leaf at that level.
var levelShifts = [...]uint{
	PTE:  12,
	PDE:  21,
	PDPE: 30,
	PML4: 39,
}

const (
	indexBits = 9
	indexMask = 1<<indexBits - 1
	entrySize = 8
)

// String implements fmt.Stringer.String.
func (l Level) String() string {
	switch l {
	case PTE:
		return "PTE"
	case PDE:
		return "PDE"
	case PDPE:
		return "PDPE"
	case PML4:
		return "PML4"
	case NoLevel:
		return "none"
	default:
		return fmt.Sprintf("Level(%d)", int(l))
	}
}

// Shift returns the binary log of the address span mapped by one entry at
// this level.
func (l Level) Shift() uint {
	return levelShifts[l]
}

// index returns the table index for addr at this level.
func (l Level) index(addr guestarch.Addr) uint64 {
	return (uint64(addr) >> levelShifts[l]) & indexMask
}

// offsetMask returns the mask of linear address bits that are passed through
// by a leaf at this level.
func (l Level) offsetMask() uint64 {
	return 1<<levelShifts[l] - 1
}

// Config is the CPU state a walk depends on. It is supplied on every walk.
type Config struct {
	// Root is the physical address of the PML4 table, i.e. CR3 with the
	// low control bits cleared.
	Root guestarch.PhysAddr

	// NXE is EFER.NXE. When clear, the execute disable bit is reserved.
	NXE bool

	// GBPages reports 1 GiB page support. When clear, the page size bit
	// at the PDPE level is a fault.
	GBPages bool

	// PhysAddrBits is the physical address width. Entry bits between it
	// and bit 51 are reserved.
	PhysAddrBits uint32
}

// RootFromCR3 returns the PML4 table address encoded in a CR3 value.
func RootFromCR3(cr3 uint64) guestarch.PhysAddr {
	return guestarch.PhysAddr(cr3 & frameMask)
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.PhysAddrBits < guestarch.MinPhysicalAddressBits || c.PhysAddrBits > guestarch.MaxPhysicalAddressBits {
		return fmt.Errorf("physical address width %d out of range [%d, %d]", c.PhysAddrBits, guestarch.MinPhysicalAddressBits, guestarch.MaxPhysicalAddressBits)
	}
	if uint64(c.Root)&^frameMask != 0 {
		return fmt.Errorf("root table %v is not page aligned", c.Root)
	}
	return nil
}

// ReservedBits returns the entry bits that must be zero at every level.
func (c Config) ReservedBits() uint64 {
	reserved := uint64(physicalBitsMask) &^ (1<<c.PhysAddrBits - 1)
	if !c.NXE {
		reserved |= executeDisable
	}
	return reserved
}

// superAllowed returns true iff a large page may terminate a walk at level.
func (c Config) superAllowed(level Level) bool {
	switch level {
	case PDE:
		return true
	case PDPE:
		return c.GBPages
	default:
		return false
	}
}

// Translation is the result of a successful walk.
type Translation struct {
	// Phys is the translated physical address.
	Phys guestarch.PhysAddr

	// Leaf is the level of the entry that mapped the page.
	Leaf Level

	// PageShift is the binary log of the mapped page size.
	PageShift uint

	// Entries holds the raw entries read, indexed by level. Levels below
	// Leaf were not read and are zero.
	Entries [4]Entry
}

// PageSize returns the size of the page containing Phys.
func (t Translation) PageSize() uint64 {
	return 1 << t.PageShift
}

// Remaining returns the number of bytes from Phys to the end of its page.
func (t Translation) Remaining() uint64 {
	return t.PageSize() - uint64(t.Phys)&(t.PageSize()-1)
}

// Walker walks page tables held in guest physical memory.
//
// A Walker holds no state between walks and takes no locks.
type Walker struct {
	// Mem supplies the paging structures.
	Mem physmem.Reader

	// Notifier, if not nil, is told about every entry read, including
	// entries that are then found to fault.
	Notifier instrument.Notifier
}

// readEntry reads the entry at addr and notifies the instrumentation sink.
func (w *Walker) readEntry(addr guestarch.PhysAddr, level Level) (Entry, error) {
	var buf [entrySize]byte
	if err := w.Mem.ReadPhysical(addr, buf[:]); err != nil {
		return 0, err
	}
	if w.Notifier != nil {
		w.Notifier.NotifyPhysicalAccess(instrument.Access{
			Addr:  addr,
			Size:  entrySize,
			Type:  guestarch.Read,
			Class: instrument.TableClass(int(level)),
			Data:  buf[:],
		})
	}
	return Entry(physmem.ByteOrder.Uint64(buf[:])), nil
}

// Walk translates addr, which must be canonical.
//
// Exactly one entry is read per visited level, from PML4 downwards, and the
// walk stops at the first fault. Entries are never written.
func (w *Walker) Walk(cfg Config, addr guestarch.Addr, at guestarch.AccessType) (Translation, error) {
	var (
		t        Translation
		reserved = cfg.ReservedBits()
		base     = uint64(cfg.Root)
	)
	for level := PML4; ; level-- {
		entryAddr := guestarch.PhysAddr(base + entrySize*level.index(addr))
		pte, err := w.readEntry(entryAddr, level)
		if err != nil {
			return Translation{}, &Fault{Kind: FaultEntryRead, Addr: addr, Level: level, EntryAddr: entryAddr, Err: err}
		}
		t.Entries[level] = pte

		fault := func(kind FaultKind) (Translation, error) {
			return Translation{}, &Fault{Kind: kind, Addr: addr, Level: level, EntryAddr: entryAddr, Entry: pte}
		}
		if kind := pte.check(reserved, at); kind != FaultNone {
			return fault(kind)
		}

		base = pte.Frame()
		if level == PTE {
			t.Leaf = level
			break
		}
		if pte.IsSuper() {
			if !cfg.superAllowed(level) {
				log.Debugf("%v: page size bit set at %v: %v", addr, level, pte)
				return fault(FaultPageSize)
			}
			base = pte.largeFrame()
			if base&level.offsetMask() != 0 {
				log.Debugf("%v: misaligned large page frame at %v: %v", addr, level, pte)
				return fault(FaultMisaligned)
			}
			t.Leaf = level
			break
		}
	}
	t.PageShift = levelShifts[t.Leaf]
	t.Phys = guestarch.PhysAddr(base | uint64(addr)&t.Leaf.offsetMask())
	return t, nil
}
