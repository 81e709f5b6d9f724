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
	"sync"

	"gvisor.dev/introspect/pkg/guestarch"
)

// Locked serializes reads against a Reader.
//
// Translation itself takes no locks. Callers that inspect memory while the
// guest may be running wrap both sides of the race in the same Locked so
// that no 8-byte entry read or data read observes a torn value.
type Locked struct {
	mu sync.Mutex
	r  Reader
}

// NewLocked returns a Locked wrapping r.
func NewLocked(r Reader) *Locked {
	return &Locked{r: r}
}

// ReadPhysical implements Reader.ReadPhysical.
func (l *Locked) ReadPhysical(addr guestarch.PhysAddr, dst []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.ReadPhysical(addr, dst)
}

// Do runs fn with reads excluded, for writers that modify the underlying
// memory.
func (l *Locked) Do(fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fn()
}
