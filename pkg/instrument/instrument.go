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

// Package instrument receives notifications of the physical memory accesses
// performed while translating guest addresses.
package instrument

import (
	"fmt"
	"sync/atomic"

	"gvisor.dev/introspect/pkg/guestarch"
	"gvisor.dev/introspect/pkg/log"
)

// Class tags the purpose of a physical access.
type Class int

// Table entry classes are ordered by paging level, so that
// TableClass(level) is simply Class(level).
const (
	ClassPTE Class = iota
	ClassPDE
	ClassPDPE
	ClassPML4

	// ClassData is a read of guest data.
	ClassData

	numClasses
)

// TableClass returns the class of an entry read at the given paging level,
// where 0 is the PTE level and 3 is the PML4 level.
func TableClass(level int) Class {
	if level < 0 || level > int(ClassPML4) {
		panic(fmt.Sprintf("invalid paging level %d", level))
	}
	return Class(level)
}

// String implements fmt.Stringer.String. Table class names are all four
// letters.
func (c Class) String() string {
	switch c {
	case ClassPTE:
		return "PTE "
	case ClassPDE:
		return "PDE "
	case ClassPDPE:
		return "PDPE"
	case ClassPML4:
		return "PML4"
	case ClassData:
		return "DATA"
	default:
		return fmt.Sprintf("Class(%d)", int(c))
	}
}

// Access describes one physical memory access.
type Access struct {
	Addr  guestarch.PhysAddr
	Size  int
	Type  guestarch.AccessType
	Class Class

	// Data is a copy of the bytes read.
	Data []byte
}

// String implements fmt.Stringer.String.
func (a Access) String() string {
	return fmt.Sprintf("%s %s %v/%d % x", a.Class, a.Type, a.Addr, a.Size, a.Data)
}

// Notifier is notified of physical accesses.
type Notifier interface {
	// NotifyPhysicalAccess is called after the access completed and
	// before its result is interpreted. a.Data must not be retained
	// without copying.
	NotifyPhysicalAccess(a Access)
}

// Nop discards all notifications.
type Nop struct{}

// NotifyPhysicalAccess implements Notifier.NotifyPhysicalAccess.
func (Nop) NotifyPhysicalAccess(Access) {}

// Multi forwards each notification to every Notifier in order.
type Multi []Notifier

// NotifyPhysicalAccess implements Notifier.NotifyPhysicalAccess.
func (m Multi) NotifyPhysicalAccess(a Access) {
	for _, n := range m {
		n.NotifyPhysicalAccess(a)
	}
}

// Recorder keeps an ordered log of accesses.
//
// Recorder is not safe for concurrent use.
type Recorder struct {
	Accesses []Access
}

// NotifyPhysicalAccess implements Notifier.NotifyPhysicalAccess.
func (r *Recorder) NotifyPhysicalAccess(a Access) {
	a.Data = append([]byte(nil), a.Data...)
	r.Accesses = append(r.Accesses, a)
}

// Reset clears the log.
func (r *Recorder) Reset() {
	r.Accesses = r.Accesses[:0]
}

// Counter counts accesses by class. It is safe for concurrent use.
type Counter struct {
	counts [numClasses]atomic.Uint64
}

// NotifyPhysicalAccess implements Notifier.NotifyPhysicalAccess.
func (c *Counter) NotifyPhysicalAccess(a Access) {
	if a.Class >= 0 && a.Class < numClasses {
		c.counts[a.Class].Add(1)
	}
}

// Count returns the number of accesses of the given class.
func (c *Counter) Count(class Class) uint64 {
	return c.counts[class].Load()
}

// Total returns the number of accesses of all classes.
func (c *Counter) Total() uint64 {
	var t uint64
	for i := range c.counts {
		t += c.counts[i].Load()
	}
	return t
}

// LogNotifier logs each access at debug level.
type LogNotifier struct {
	Logger log.Logger
}

// NotifyPhysicalAccess implements Notifier.NotifyPhysicalAccess.
func (l LogNotifier) NotifyPhysicalAccess(a Access) {
	if l.Logger.IsLogging(log.Debug) {
		l.Logger.Debugf("phys access: %v", a)
	}
}
