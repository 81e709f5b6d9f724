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
	"fmt"

	"gvisor.dev/introspect/pkg/guestarch"
)

// FaultKind classifies why a translation failed.
//
// FaultKind implements error, so errors.Is(err, FaultNotPresent) reports
// whether err is a *Fault of that kind.
type FaultKind int

// Fault kinds.
const (
	// FaultNone means no fault.
	FaultNone FaultKind = iota

	// FaultNonCanonical: the linear address is not canonical. No memory
	// was read.
	FaultNonCanonical

	// FaultNotPresent: an entry's present bit is clear.
	FaultNotPresent

	// FaultReserved: an entry sets a reserved bit. This includes the
	// execute disable bit when EFER.NXE is clear.
	FaultReserved

	// FaultPageSize: the page size bit is set at a level that cannot
	// hold a large page.
	FaultPageSize

	// FaultMisaligned: a large page frame is not aligned to its page size.
	FaultMisaligned

	// FaultEntryRead: physical memory could not supply an entry.
	FaultEntryRead

	// FaultPageCrossing: a single-translation read extends past the end
	// of the page it starts in.
	FaultPageCrossing

	// FaultDataRead: physical memory could not supply the data.
	FaultDataRead
)

var faultKindNames = [...]string{
	FaultNone:         "no fault",
	FaultNonCanonical: "non-canonical address",
	FaultNotPresent:   "entry not present",
	FaultReserved:     "reserved bit set",
	FaultPageSize:     "page size bit at disallowed level",
	FaultMisaligned:   "misaligned large page frame",
	FaultEntryRead:    "entry read failed",
	FaultPageCrossing: "read crosses page boundary",
	FaultDataRead:     "data read failed",
}

// String implements fmt.Stringer.String.
func (k FaultKind) String() string {
	if k >= 0 && int(k) < len(faultKindNames) {
		return faultKindNames[k]
	}
	return fmt.Sprintf("FaultKind(%d)", int(k))
}

// Error implements error.Error.
func (k FaultKind) Error() string {
	return k.String()
}

// Fault is the error returned by failed translations and accesses.
type Fault struct {
	// Kind is the reason for the fault.
	Kind FaultKind

	// Addr is the linear address being translated.
	Addr guestarch.Addr

	// Level is the level at which the fault was detected, or NoLevel for
	// faults outside the table walk.
	Level Level

	// EntryAddr and Entry describe the faulting entry, if any.
	EntryAddr guestarch.PhysAddr
	Entry     Entry

	// Err is the underlying memory error for FaultEntryRead and
	// FaultDataRead.
	Err error
}

// Error implements error.Error.
func (f *Fault) Error() string {
	switch {
	case f.Err != nil && f.Level != NoLevel:
		return fmt.Sprintf("%v: %v at %v (entry %v): %v", f.Addr, f.Kind, f.Level, f.EntryAddr, f.Err)
	case f.Err != nil:
		return fmt.Sprintf("%v: %v: %v", f.Addr, f.Kind, f.Err)
	case f.Level != NoLevel:
		return fmt.Sprintf("%v: %v at %v (entry %v = %v)", f.Addr, f.Kind, f.Level, f.EntryAddr, f.Entry)
	default:
		return fmt.Sprintf("%v: %v", f.Addr, f.Kind)
	}
}

// Unwrap returns the fault kind and any underlying error.
func (f *Fault) Unwrap() []error {
	if f.Err != nil {
		return []error{f.Kind, f.Err}
	}
	return []error{f.Kind}
}
