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

// Package cmd holds implementations of the nfdebug commands.
package cmd

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"gvisor.dev/introspect/cmd/nfdebug/config"
	"gvisor.dev/introspect/pkg/guestarch"
	"gvisor.dev/introspect/pkg/log"
	"gvisor.dev/introspect/pkg/physmem"
	"gvisor.dev/introspect/pkg/vcpu"
)

// target is a guest loaded for inspection: a CPU snapshot and its physical
// memory images.
type target struct {
	cpu    *vcpu.State
	mem    physmem.Reader
	images []*physmem.Mapped
}

// openTarget loads the guest described by conf.
func openTarget(conf *config.Config) (*target, error) {
	if conf.State == "" {
		return nil, errors.New("-state is required")
	}
	if len(conf.Mem) == 0 {
		return nil, errors.New("at least one -mem image is required")
	}
	cpu, err := vcpu.LoadFile(conf.State)
	if err != nil {
		return nil, err
	}
	log.Debugf("Loaded CPU state from %q: cr3=%#x efer=%#x a20=%t %v", conf.State, cpu.CR3, cpu.EFER, cpu.A20, cpu.Features)

	t := &target{cpu: cpu}
	for _, f := range conf.Mem {
		m, err := physmem.OpenMapped(f.Path, f.Base)
		if err != nil {
			t.Close()
			return nil, err
		}
		log.Debugf("Mapped memory image %q at %v, %#x bytes", f.Path, f.Base, len(m.Data))
		t.images = append(t.images, m)
	}
	if len(t.images) == 1 {
		t.mem = t.images[0]
		return t, nil
	}
	sparse := physmem.NewSparse()
	for _, m := range t.images {
		if err := sparse.Map(m.Base, m.Data); err != nil {
			t.Close()
			return nil, err
		}
	}
	t.mem = sparse
	return t, nil
}

// Close unmaps the memory images.
func (t *target) Close() {
	for _, m := range t.images {
		if err := m.Close(); err != nil {
			log.Warningf("Unmapping memory image: %v", err)
		}
	}
	t.images = nil
}

// parseAddress parses a linear address, either as a plain integer or as
// seg:offset, e.g. "gs:0x10".
func parseAddress(cpu *vcpu.State, s string) (guestarch.Addr, error) {
	if seg, off, ok := strings.Cut(s, ":"); ok {
		sr, err := vcpu.SegRegFromString(strings.ToLower(seg))
		if err != nil {
			return 0, err
		}
		o, err := strconv.ParseUint(off, 0, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid offset %q: %w", off, err)
		}
		return cpu.LinearAddress(sr, o), nil
	}
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q: %w", s, err)
	}
	return guestarch.Addr(v), nil
}
