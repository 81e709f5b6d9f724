// Copyright 2019 The gVisor Authors.
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

package cpuid

// Static is a static CPUID function.
type Static map[In]Out

// NewStatic returns a Static advertising the given features and physical
// address width, with a 48-bit linear address width.
func NewStatic(physBits uint32, features ...Feature) Static {
	s := make(Static)
	s.SetAddressSizes(physBits, 48)
	for _, f := range features {
		s.Add(f)
	}
	return s
}

// ToFeatureSet converts a static table to a FeatureSet.
func (s Static) ToFeatureSet() FeatureSet {
	// Make a copy.
	ns := make(Static, len(s))
	for k, v := range s {
		ns[k] = v
	}
	return FeatureSet{ns}
}

// Add adds a feature.
func (s Static) Add(feature Feature) Static {
	feature.set(s, true)
	return s
}

// Remove removes a feature.
func (s Static) Remove(feature Feature) Static {
	feature.set(s, false)
	return s
}

// SetAddressSizes records the physical and linear address widths.
func (s Static) SetAddressSizes(physBits, virtBits uint32) {
	in := In{Eax: addressSizes.eax()}
	out := s[in]
	out.Eax = (out.Eax &^ 0xffff) | (virtBits&0xff)<<8 | physBits&0xff
	s[in] = out
	s.ensureExtended(addressSizes)
}

// ensureExtended raises the highest reported extended function to fn.
func (s Static) ensureExtended(fn cpuidFunction) {
	in := In{Eax: extendedFunctionInfo.eax()}
	out := s[in]
	if out.Eax < fn.eax() {
		out.Eax = fn.eax()
		s[in] = out
	}
}

// Set sets the raw output returned for in.
func (s Static) Set(in In, out Out) {
	s[in] = out
}

// Query implements Function.Query.
func (s Static) Query(in In) Out {
	in.normalize()
	if in.Eax >= extendedBase.eax() && in.Eax != extendedFunctionInfo.eax() {
		// Leaves above the advertised maximum read as zero.
		if highest := s[In{Eax: extendedFunctionInfo.eax()}].Eax; in.Eax > highest {
			return Out{}
		}
	}
	return s[in]
}
