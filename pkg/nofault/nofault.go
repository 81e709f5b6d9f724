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

// Package nofault reads guest memory through guest linear addresses without
// disturbing the guest.
//
// Accesses made here never raise exceptions into the guest, never set
// accessed or dirty bits and never enforce page protections. They are meant
// for debuggers and other introspection paths. A failed access returns a
// non-nil error and no data; callers must not consume the destination
// buffer in that case.
package nofault

import (
	"fmt"

	"gvisor.dev/introspect/pkg/guestarch"
	"gvisor.dev/introspect/pkg/instrument"
	"gvisor.dev/introspect/pkg/pagewalk"
	"gvisor.dev/introspect/pkg/physmem"
	"gvisor.dev/introspect/pkg/vcpu"
)

// CPU is the virtual CPU state consulted by an access. It is read afresh on
// every call.
//
// *vcpu.State implements CPU.
type CPU interface {
	// WalkConfig returns the current paging configuration.
	WalkConfig() (pagewalk.Config, error)

	// LinearAddress resolves seg:offset to a linear address.
	LinearAddress(seg vcpu.SegReg, offset uint64) guestarch.Addr

	// A20Addr applies the A20 gate to a physical address.
	A20Addr(addr guestarch.PhysAddr) guestarch.PhysAddr
}

// Accessor performs non-faulting reads of guest memory.
//
// An Accessor is stateless and may be used concurrently if Mem and
// Notifier may be.
type Accessor struct {
	// Mem is guest physical memory.
	Mem physmem.Reader

	// Notifier, if not nil, is told about every physical read: one per
	// page table level visited and one per data read.
	Notifier instrument.Notifier
}

// translate checks that addr is canonical and walks it.
func (a *Accessor) translate(cpu CPU, addr guestarch.Addr, at guestarch.AccessType) (pagewalk.Translation, error) {
	if !addr.IsCanonical() {
		return pagewalk.Translation{}, &pagewalk.Fault{Kind: pagewalk.FaultNonCanonical, Addr: addr, Level: pagewalk.NoLevel}
	}
	cfg, err := cpu.WalkConfig()
	if err != nil {
		return pagewalk.Translation{}, fmt.Errorf("translating %v: %w", addr, err)
	}
	w := pagewalk.Walker{Mem: a.Mem, Notifier: a.Notifier}
	return w.Walk(cfg, addr, at)
}

// readPhysical reads dst from paddr, after the A20 gate, on behalf of addr.
// It returns the address actually read.
func (a *Accessor) readPhysical(cpu CPU, addr guestarch.Addr, paddr guestarch.PhysAddr, dst []byte) (guestarch.PhysAddr, error) {
	paddr = cpu.A20Addr(paddr)
	if err := a.Mem.ReadPhysical(paddr, dst); err != nil {
		return 0, &pagewalk.Fault{Kind: pagewalk.FaultDataRead, Addr: addr, Level: pagewalk.NoLevel, Err: err}
	}
	return paddr, nil
}

// notifyData reports a completed data read of data from paddr.
func (a *Accessor) notifyData(paddr guestarch.PhysAddr, data []byte) {
	if a.Notifier == nil {
		return
	}
	a.Notifier.NotifyPhysicalAccess(instrument.Access{
		Addr:  paddr,
		Size:  len(data),
		Type:  guestarch.Read,
		Class: instrument.ClassData,
		Data:  data,
	})
}

// Translate returns the translation of addr without reading data.
func (a *Accessor) Translate(cpu CPU, addr guestarch.Addr) (pagewalk.Translation, error) {
	return a.translate(cpu, addr, guestarch.Read)
}

// ReadLinear reads len(dst) bytes at linear address addr.
//
// The address is translated once. A read that would extend past the end of
// the page mapping addr fails with pagewalk.FaultPageCrossing; use CopyIn
// for reads that may span pages. at is the access the caller intends, which
// is not checked against page protections.
func (a *Accessor) ReadLinear(cpu CPU, addr guestarch.Addr, dst []byte, at guestarch.AccessType) error {
	t, err := a.translate(cpu, addr, at)
	if err != nil {
		return err
	}
	if len(dst) == 0 {
		return nil
	}
	if uint64(len(dst)) > t.Remaining() {
		return &pagewalk.Fault{Kind: pagewalk.FaultPageCrossing, Addr: addr, Level: pagewalk.NoLevel}
	}
	paddr, err := a.readPhysical(cpu, addr, t.Phys, dst)
	if err != nil {
		return err
	}
	a.notifyData(paddr, dst)
	return nil
}

// ReadVirtualByte reads the byte at seg:offset. It returns 0 and a non-nil
// error if the byte cannot be read.
func (a *Accessor) ReadVirtualByte(cpu CPU, seg vcpu.SegReg, offset uint64) (byte, error) {
	var b [1]byte
	if err := a.ReadLinear(cpu, cpu.LinearAddress(seg, offset), b[:], guestarch.Read); err != nil {
		return 0, err
	}
	return b[0], nil
}

// chunk is the part of a CopyIn that falls within one page.
type chunk struct {
	addr guestarch.Addr
	phys guestarch.PhysAddr
	n    int
}

// CopyIn reads len(dst) bytes starting at linear address addr, which may
// span any number of pages.
//
// Every page is translated before any data is read, and dst is only written
// once every page has been read, so a failed CopyIn leaves dst untouched and
// reports no data reads.
func (a *Accessor) CopyIn(cpu CPU, addr guestarch.Addr, dst []byte) error {
	var chunks []chunk
	for done := 0; done < len(dst); {
		cur := addr + guestarch.Addr(done)
		t, err := a.translate(cpu, cur, guestarch.Read)
		if err != nil {
			return err
		}
		n := len(dst) - done
		if rem := t.Remaining(); uint64(n) > rem {
			n = int(rem)
		}
		chunks = append(chunks, chunk{addr: cur, phys: t.Phys, n: n})
		done += n
	}
	buf := make([]byte, len(dst))
	off := 0
	for i := range chunks {
		c := &chunks[i]
		paddr, err := a.readPhysical(cpu, c.addr, c.phys, buf[off:off+c.n])
		if err != nil {
			return err
		}
		c.phys = paddr
		off += c.n
	}
	copy(dst, buf)
	off = 0
	for _, c := range chunks {
		a.notifyData(c.phys, dst[off:off+c.n])
		off += c.n
	}
	return nil
}
