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
	"gvisor.dev/introspect/pkg/guestarch"
)

// Bytes is a contiguous physical memory region backed by a byte slice.
type Bytes struct {
	// Base is the physical address of Data[0].
	Base guestarch.PhysAddr

	// Data is the backing memory.
	Data []byte
}

// NewBytes returns a zeroed region of the given size at base.
func NewBytes(base guestarch.PhysAddr, size int) *Bytes {
	return &Bytes{Base: base, Data: make([]byte, size)}
}

// ReadPhysical implements Reader.ReadPhysical.
func (b *Bytes) ReadPhysical(addr guestarch.PhysAddr, dst []byte) error {
	off, ok := rangeCheck(b.Base, uint64(len(b.Data)), addr, len(dst))
	if !ok {
		return &UnbackedError{Addr: addr, Length: len(dst)}
	}
	copy(dst, b.Data[off:])
	return nil
}

// WritePhysical copies src into the region at addr.
//
// This is used to construct guest images; the translation paths never
// write.
func (b *Bytes) WritePhysical(addr guestarch.PhysAddr, src []byte) error {
	off, ok := rangeCheck(b.Base, uint64(len(b.Data)), addr, len(src))
	if !ok {
		return &UnbackedError{Addr: addr, Length: len(src)}
	}
	copy(b.Data[off:], src)
	return nil
}

// PutUint64 stores a little-endian 64-bit value at addr.
func (b *Bytes) PutUint64(addr guestarch.PhysAddr, v uint64) error {
	var buf [8]byte
	ByteOrder.PutUint64(buf[:], v)
	return b.WritePhysical(addr, buf[:])
}
