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

package physmem

import (
	"fmt"

	"github.com/google/btree"
	"gvisor.dev/introspect/pkg/guestarch"
)

// region is a single backed range in a Sparse memory.
type region struct {
	base guestarch.PhysAddr
	data []byte
}

func (r region) end() guestarch.PhysAddr {
	return r.base + guestarch.PhysAddr(len(r.data))
}

func regionLess(a, b region) bool {
	return a.base < b.base
}

// Sparse is a physical address space made of disjoint regions, such as
// RAM below and above the PCI hole. Regions are kept in a B-tree ordered by
// base address.
type Sparse struct {
	regions *btree.BTreeG[region]
}

// NewSparse returns an empty Sparse memory.
func NewSparse() *Sparse {
	return &Sparse{regions: btree.NewG(8, regionLess)}
}

// Map installs data at base. It fails if the new region overlaps an existing
// one.
func (s *Sparse) Map(base guestarch.PhysAddr, data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("empty region at %v", base)
	}
	nr := region{base: base, data: data}
	if nr.end() < base {
		return fmt.Errorf("region at %v of length %#x wraps", base, len(data))
	}
	var conflict *region
	s.regions.DescendLessOrEqual(region{base: nr.end() - 1}, func(r region) bool {
		if r.end() > base {
			conflict = &r
		}
		return false
	})
	if conflict != nil {
		return fmt.Errorf("region [%v, %v) overlaps [%v, %v)", base, nr.end(), conflict.base, conflict.end())
	}
	s.regions.ReplaceOrInsert(nr)
	return nil
}

// Regions returns the number of mapped regions.
func (s *Sparse) Regions() int {
	return s.regions.Len()
}

// ReadPhysical implements Reader.ReadPhysical.
//
// A read may span adjacent regions, but any gap fails the whole read.
func (s *Sparse) ReadPhysical(addr guestarch.PhysAddr, dst []byte) error {
	cur := addr
	done := 0
	for done < len(dst) {
		var (
			r     region
			found bool
		)
		s.regions.DescendLessOrEqual(region{base: cur}, func(item region) bool {
			r, found = item, true
			return false
		})
		if !found || r.end() <= cur {
			return &UnbackedError{Addr: addr, Length: len(dst)}
		}
		n := copy(dst[done:], r.data[cur-r.base:])
		done += n
		cur += guestarch.PhysAddr(n)
	}
	return nil
}
