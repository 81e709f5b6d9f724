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
	"testing"

	"gvisor.dev/introspect/pkg/guestarch"
	"gvisor.dev/introspect/pkg/instrument"
	"gvisor.dev/introspect/pkg/physmem"
)

// Table locations used by the tests. Each is a 4 KiB page.
const (
	testRoot guestarch.PhysAddr = 0x1000
	testPDPT guestarch.PhysAddr = 0x2000
	testPD   guestarch.PhysAddr = 0x3000
	testPT   guestarch.PhysAddr = 0x4000

	testMemSize = 0x10000
)

// testAddr is an address whose index differs at every level.
const testAddr guestarch.Addr = 0x00007f8a_b5d6_e9f1

// testGuest is a guest memory holding a single translation chain.
type testGuest struct {
	t   *testing.T
	mem *physmem.Bytes
	rec instrument.Recorder
	cfg Config
}

func newTestGuest(t *testing.T) *testGuest {
	return &testGuest{
		t:   t,
		mem: physmem.NewBytes(0, testMemSize),
		cfg: Config{
			Root:         testRoot,
			NXE:          true,
			GBPages:      true,
			PhysAddrBits: 46,
		},
	}
}

// tableFor returns the table holding the entry for level.
func tableFor(level Level) guestarch.PhysAddr {
	return [...]guestarch.PhysAddr{PTE: testPT, PDE: testPD, PDPE: testPDPT, PML4: testRoot}[level]
}

// entryAddr returns where the entry for addr at level is stored.
func entryAddr(level Level, addr guestarch.Addr) guestarch.PhysAddr {
	return tableFor(level) + guestarch.PhysAddr(8*level.index(addr))
}

// set stores the entry used to translate addr at level.
func (g *testGuest) set(level Level, addr guestarch.Addr, pte uint64) {
	if err := g.mem.PutUint64(entryAddr(level, addr), pte); err != nil {
		g.t.Fatalf("PutUint64 failed: %v", err)
	}
}

// chain installs present, writable table entries from PML4 down to the
// given level for addr.
func (g *testGuest) chain(addr guestarch.Addr, to Level) {
	for level := PML4; level > to; level-- {
		g.set(level, addr, uint64(tableFor(level-1))|present|writable)
	}
}

// walk walks addr with recording enabled.
func (g *testGuest) walk(addr guestarch.Addr, at guestarch.AccessType) (Translation, error) {
	g.rec.Reset()
	w := Walker{Mem: g.mem, Notifier: &g.rec}
	return w.Walk(g.cfg, addr, at)
}

// readLevels returns the levels of the recorded entry reads, in order.
func (g *testGuest) readLevels() []Level {
	var levels []Level
	for _, a := range g.rec.Accesses {
		levels = append(levels, Level(a.Class))
	}
	return levels
}
