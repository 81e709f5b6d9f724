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

// Package physmem provides guest physical memory backing stores.
//
// All stores implement Reader. Reads are plain copies: they never change
// the contents of guest memory and never raise guest-visible events.
package physmem

import (
	"encoding/binary"
	"fmt"

	"gvisor.dev/introspect/pkg/guestarch"
)

// ByteOrder is the byte order of the guest.
var ByteOrder = binary.LittleEndian

// Reader reads guest physical memory.
type Reader interface {
	// ReadPhysical copies len(dst) bytes starting at addr into dst. It
	// either fills dst completely or returns an error.
	ReadPhysical(addr guestarch.PhysAddr, dst []byte) error
}

// UnbackedError is returned for reads touching physical addresses that
// have no backing memory.
type UnbackedError struct {
	Addr   guestarch.PhysAddr
	Length int
}

// Error implements error.Error.
func (e *UnbackedError) Error() string {
	return fmt.Sprintf("physical range [%v, +%d) is not backed", e.Addr, e.Length)
}

// ReadUint64 reads a little-endian 64-bit value at addr.
func ReadUint64(r Reader, addr guestarch.PhysAddr) (uint64, error) {
	var buf [8]byte
	if err := r.ReadPhysical(addr, buf[:]); err != nil {
		return 0, err
	}
	return ByteOrder.Uint64(buf[:]), nil
}

// rangeCheck returns the offset of [addr, addr+length) within a region of
// size bytes starting at base.
func rangeCheck(base guestarch.PhysAddr, size uint64, addr guestarch.PhysAddr, length int) (uint64, bool) {
	if addr < base {
		return 0, false
	}
	off := uint64(addr - base)
	if off > size || uint64(length) > size-off {
		return 0, false
	}
	return off, true
}
