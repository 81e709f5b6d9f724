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

// Package cpuid models the CPUID leaves a guest CPU advertises.
//
// A FeatureSet is built from a Function, which is typically a Static table
// captured alongside a CPU snapshot. Only the leaves that influence long-mode
// address translation are interpreted here: feature bits (PAE, NX, 1 GiB
// pages, long mode) and the address size leaf.
//
// For example, to check whether a guest may use 1 GiB pages:
//
//	if fs.HasFeature(cpuid.X86FeatureGBPages) {
//		...
//	}
package cpuid

import (
	"fmt"
)

// cpuidFunction is a useful type wrapper. The format is eax | (ecx << 32).
type cpuidFunction uint64

func (f cpuidFunction) eax() uint32 {
	return uint32(f)
}

func (f cpuidFunction) ecx() uint32 {
	return uint32(f >> 32)
}

// The standard and extended functions consulted by this package.
const (
	vendorID     cpuidFunction = 0x0 // Returns vendor ID and largest standard function.
	featureInfo  cpuidFunction = 0x1 // Returns basic feature bits and processor signature.
	extendedBase cpuidFunction = 0x80000000

	extendedFunctionInfo = extendedBase + 0 // Returns highest available extended function in eax.
	extendedFeatures     = extendedBase + 1 // Returns some extended feature bits in edx and ecx.
	addressSizes         = extendedBase + 8 // Physical and virtual address sizes.
)

// DefaultPhysicalAddressBits is used when the address size leaf is absent.
const DefaultPhysicalAddressBits = 40

// Function executes a CPUID function.
//
// This is typically a Static definition.
type Function interface {
	Query(In) Out
}

// In is input to the Query function.
type In struct {
	Eax uint32
	Ecx uint32
}

// normalize drops irrelevant Ecx values.
func (i *In) normalize() {
	switch cpuidFunction(i.Eax) {
	case vendorID, featureInfo, extendedFunctionInfo, extendedFeatures, addressSizes:
		i.Ecx = 0 // Ignore.
	}
}

// Out is output from the Query function.
type Out struct {
	Eax uint32
	Ebx uint32
	Ecx uint32
	Edx uint32
}

// FeatureSet defines features in terms of CPUID leaves and bits.
//
// Common references:
//
// Intel:
//   - Intel SDM Volume 2, Chapter 3.2 "CPUID" (more up-to-date)
//
// AMD:
//   - AMD64 APM Volume 3, Appendix 3 "Obtaining Processor Information ..."
type FeatureSet struct {
	// Function is the underlying CPUID Function.
	Function
}

// query is a internal wrapper.
func (fs FeatureSet) query(fn cpuidFunction) (uint32, uint32, uint32, uint32) {
	if fs.Function == nil {
		return 0, 0, 0, 0
	}
	out := fs.Query(In{Eax: fn.eax(), Ecx: fn.ecx()})
	return out.Eax, out.Ebx, out.Ecx, out.Edx
}

// HasFeature tests whether or not a feature is in the given feature set.
func (fs FeatureSet) HasFeature(feature Feature) bool {
	return feature.check(fs)
}

// VirtualAddressBits returns the number of bits available for virtual
// addresses.
func (fs FeatureSet) VirtualAddressBits() uint32 {
	ax, _, _, _ := fs.query(addressSizes)
	return (ax >> 8) & 0xff
}

// PhysicalAddressBits returns the number of bits available for physical
// addresses, or DefaultPhysicalAddressBits if the leaf reports none.
func (fs FeatureSet) PhysicalAddressBits() uint32 {
	ax, _, _, _ := fs.query(addressSizes)
	if bits := ax & 0xff; bits != 0 {
		return bits
	}
	return DefaultPhysicalAddressBits
}

// FlagString prints out supported CPU features.
func (fs FeatureSet) FlagString() string {
	var s string
	for _, f := range allFeatureList {
		if fs.HasFeature(f) {
			if s != "" {
				s += " "
			}
			s += f.String()
		}
	}
	return s
}

// String implements fmt.Stringer.String.
func (fs FeatureSet) String() string {
	return fmt.Sprintf("flags=[%s] phys=%d", fs.FlagString(), fs.PhysicalAddressBits())
}
