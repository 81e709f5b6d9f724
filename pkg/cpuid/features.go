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

package cpuid

import (
	"fmt"
)

// Feature is a unique identifier for a particular cpu feature. We just use an
// int as a feature number.
//
// Features are numbered according to "blocks". Each block is 32 bits, and
// feature bits from the same source (cpuid leaf/register) are in the same
// block.
type Feature int

// Block 0 constants are all of the "basic" feature bits returned by a cpuid in
// ecx with eax=1.
const (
	X86FeatureSSE3 Feature = iota
	_
	_
	_
	_
	X86FeatureVMX
	_
	_
	_
	_
	_
	_
	_
	X86FeatureCX16
	_
	_
	_
	X86FeaturePCID
	_
	_
	_
	X86FeatureX2APIC
)

// Block 1 constants are all of the "basic" feature bits returned by a cpuid in
// edx with eax=1.
const (
	X86FeatureFPU Feature = 32 + iota
	X86FeatureVME
	X86FeatureDE
	X86FeaturePSE
	X86FeatureTSC
	X86FeatureMSR
	X86FeaturePAE
	X86FeatureMCE
	X86FeatureCX8
	X86FeatureAPIC
	_
	X86FeatureSEP
	X86FeatureMTRR
	X86FeaturePGE
	X86FeatureMCA
	X86FeatureCMOV
	X86FeaturePAT
	X86FeaturePSE36
)

// Block 2 bits are the "extended" features returned in ecx for eax=0x80000001.
const (
	X86FeatureLAHF64 Feature = 64 + iota
)

// Block 3 bits are the "extended" features returned in edx for eax=0x80000001.
const (
	X86FeatureSYSCALL Feature = 96 + 11
	X86FeatureNX      Feature = 96 + 20
	X86FeatureGBPages Feature = 96 + 26
	X86FeatureRDTSCP  Feature = 96 + 27
	X86FeatureLM      Feature = 96 + 29
)

// allFeatures maps each known feature to its /proc/cpuinfo style name.
var allFeatures = map[Feature]string{
	X86FeatureSSE3:    "pni",
	X86FeatureVMX:     "vmx",
	X86FeatureCX16:    "cx16",
	X86FeaturePCID:    "pcid",
	X86FeatureX2APIC:  "x2apic",
	X86FeatureFPU:     "fpu",
	X86FeatureVME:     "vme",
	X86FeatureDE:      "de",
	X86FeaturePSE:     "pse",
	X86FeatureTSC:     "tsc",
	X86FeatureMSR:     "msr",
	X86FeaturePAE:     "pae",
	X86FeatureMCE:     "mce",
	X86FeatureCX8:     "cx8",
	X86FeatureAPIC:    "apic",
	X86FeatureSEP:     "sep",
	X86FeatureMTRR:    "mtrr",
	X86FeaturePGE:     "pge",
	X86FeatureMCA:     "mca",
	X86FeatureCMOV:    "cmov",
	X86FeaturePAT:     "pat",
	X86FeaturePSE36:   "pse36",
	X86FeatureLAHF64:  "lahf_lm",
	X86FeatureSYSCALL: "syscall",
	X86FeatureNX:      "nx",
	X86FeatureGBPages: "pdpe1gb",
	X86FeatureRDTSCP:  "rdtscp",
	X86FeatureLM:      "lm",
}

// allFeatureList is allFeatures in feature order, for stable output.
var allFeatureList []Feature

func init() {
	for f := Feature(0); f < 128; f++ {
		if _, ok := allFeatures[f]; ok {
			allFeatureList = append(allFeatureList, f)
		}
	}
}

// String implements fmt.Stringer.String.
func (f Feature) String() string {
	if s, ok := allFeatures[f]; ok {
		return s
	}
	return fmt.Sprintf("<cpuflag %d>", int(f))
}

// FeatureFromString returns the Feature associated with the given feature
// string plus a bool to indicate if it could find the feature.
func FeatureFromString(s string) (Feature, bool) {
	for f, name := range allFeatures {
		if name == s {
			return f, true
		}
	}
	return 0, false
}

// source returns the leaf and register mask for the feature block.
func (f Feature) source() (fn cpuidFunction, reg int, mask uint32) {
	block, bit := int(f)/32, uint(f)%32
	mask = 1 << bit
	switch block {
	case 0:
		return featureInfo, 2, mask // ecx
	case 1:
		return featureInfo, 3, mask // edx
	case 2:
		return extendedFeatures, 2, mask // ecx
	case 3:
		return extendedFeatures, 3, mask // edx
	}
	panic(fmt.Sprintf("unknown feature block %d", block))
}

func (f Feature) check(fs FeatureSet) bool {
	fn, reg, mask := f.source()
	ax, bx, cx, dx := fs.query(fn)
	return [4]uint32{ax, bx, cx, dx}[reg]&mask != 0
}

func (f Feature) set(s Static, on bool) {
	fn, reg, mask := f.source()
	in := In{Eax: fn.eax(), Ecx: fn.ecx()}
	out := s[in]
	regs := [4]*uint32{&out.Eax, &out.Ebx, &out.Ecx, &out.Edx}
	if on {
		*regs[reg] |= mask
	} else {
		*regs[reg] &^= mask
	}
	s[in] = out
	if fn >= extendedBase {
		s.ensureExtended(fn)
	}
}
