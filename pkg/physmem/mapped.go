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
	"os"

	"golang.org/x/sys/unix"
	"gvisor.dev/introspect/pkg/guestarch"
)

// Mapped is a raw guest memory dump mapped read-only into the host.
type Mapped struct {
	Bytes
}

// OpenMapped maps the file at path read-only so that its first byte appears
// at physical address base.
func OpenMapped(path string, base guestarch.PhysAddr) (*Mapped, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := fi.Size()
	if size == 0 {
		return nil, fmt.Errorf("memory image %q is empty", path)
	}
	if int64(int(size)) != size {
		return nil, fmt.Errorf("memory image %q is too large: %d bytes", path, size)
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap %q: %w", path, err)
	}
	return &Mapped{Bytes{Base: base, Data: data}}, nil
}

// WritePhysical always fails: the mapping is read-only.
func (m *Mapped) WritePhysical(addr guestarch.PhysAddr, src []byte) error {
	return fmt.Errorf("write to read-only memory image at %v", addr)
}

// Close unmaps the image.
func (m *Mapped) Close() error {
	if m.Data == nil {
		return nil
	}
	err := unix.Munmap(m.Data)
	m.Data = nil
	return err
}
