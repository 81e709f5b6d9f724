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

package nofault

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
	"gvisor.dev/introspect/pkg/guestarch"
	"gvisor.dev/introspect/pkg/log"
	"gvisor.dev/introspect/pkg/pagewalk"
)

// Mapping is a linear range mapped to contiguous physical memory by pages of
// one size.
type Mapping struct {
	Range     guestarch.AddrRange
	Phys      guestarch.PhysAddr
	PageShift uint
}

// String implements fmt.Stringer.String.
func (m Mapping) String() string {
	return fmt.Sprintf("%v -> %v (%s)", m.Range, m.Phys, pageSizeString(m.PageShift))
}

func pageSizeString(shift uint) string {
	switch {
	case shift >= 30:
		return fmt.Sprintf("%dG", 1<<(shift-30))
	case shift >= 20:
		return fmt.Sprintf("%dM", 1<<(shift-20))
	default:
		return fmt.Sprintf("%dK", 1<<(shift-10))
	}
}

// extends returns true iff next continues m both linearly and physically.
func (m Mapping) extends(next Mapping) bool {
	return m.Range.End == next.Range.Start &&
		m.Phys+guestarch.PhysAddr(m.Range.Length()) == next.Phys &&
		m.PageShift == next.PageShift
}

// canonicalHalves is the canonical linear address space, less the last page
// so that every range end is representable.
var canonicalHalves = [...]guestarch.AddrRange{
	{Start: 0, End: 0x0000_8000_0000_0000},
	{Start: 0xffff_8000_0000_0000, End: 0xffff_ffff_ffff_f000},
}

// scanChunk is the granularity of work handed to one scan worker.
const scanChunk = 1 << 30

// Scan returns the mappings of the canonical part of ar, in address order,
// with adjacent mappings merged. Unmapped regions are skipped a whole table
// entry at a time, so sparse address spaces scan quickly.
//
// Up to workers goroutines walk the tables concurrently; Mem and Notifier
// must allow that. Faults other than non-present entries are logged and the
// region they cover is skipped. Scan stops at the first error that is not a
// page fault, or when ctx is cancelled.
func (a *Accessor) Scan(ctx context.Context, cpu CPU, ar guestarch.AddrRange, workers int) ([]Mapping, error) {
	if !ar.WellFormed() {
		return nil, fmt.Errorf("invalid scan range %v", ar)
	}
	if workers < 1 {
		workers = 1
	}

	// Split the canonical part of ar into chunks.
	var chunks []guestarch.AddrRange
	for _, half := range canonicalHalves {
		start, end := max(ar.Start, half.Start), min(ar.End, half.End)
		for start < end {
			next := end
			if uint64(end-start) > scanChunk {
				next = (start + scanChunk) &^ (scanChunk - 1)
			}
			chunks = append(chunks, guestarch.AddrRange{Start: start, End: next})
			start = next
		}
	}

	warn := log.BasicRateLimitedLogger(time.Second)
	results := make([][]Mapping, len(chunks))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, chunk := range chunks {
		g.Go(func() error {
			ms, err := a.scanRange(ctx, cpu, chunk, warn)
			results[i] = ms
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var merged []Mapping
	for _, ms := range results {
		for _, m := range ms {
			if n := len(merged); n > 0 && merged[n-1].extends(m) {
				merged[n-1].Range.End = m.Range.End
				continue
			}
			merged = append(merged, m)
		}
	}
	return merged, nil
}

// scanRange collects the mappings in ar, which must be canonical.
func (a *Accessor) scanRange(ctx context.Context, cpu CPU, ar guestarch.AddrRange, warn log.Logger) ([]Mapping, error) {
	var ms []Mapping
	for addr := ar.Start; addr < ar.End; {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var span uint64
		t, err := a.Translate(cpu, addr)
		if err != nil {
			var f *pagewalk.Fault
			if !errors.As(err, &f) || f.Level == pagewalk.NoLevel {
				return nil, err
			}
			if f.Kind != pagewalk.FaultNotPresent {
				warn.Warningf("Skipping region: %v", err)
			}
			size := uint64(1) << f.Level.Shift()
			span = size - uint64(addr)&(size-1)
		} else {
			span = t.Remaining()
		}
		end := addr + guestarch.Addr(span)
		if end > ar.End || end < addr {
			end = ar.End
		}
		if err == nil {
			m := Mapping{
				Range:     guestarch.AddrRange{Start: addr, End: end},
				Phys:      t.Phys,
				PageShift: t.PageShift,
			}
			if n := len(ms); n > 0 && ms[n-1].extends(m) {
				ms[n-1].Range.End = end
			} else {
				ms = append(ms, m)
			}
		}
		addr = end
	}
	return ms, nil
}
