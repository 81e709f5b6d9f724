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

package vcpu

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gvisor.dev/introspect/pkg/cpuid"
	"gvisor.dev/introspect/pkg/guestarch"
	"gvisor.dev/introspect/pkg/pagewalk"
)

func longModeState() *State {
	return &State{
		CR3:      0x1000 | 0x18, // PWT|PCD must be ignored.
		EFER:     EFERLME | EFERLMA,
		A20:      true,
		Features: cpuid.NewStatic(46, cpuid.X86FeatureLM).ToFeatureSet(),
	}
}

func TestWalkConfig(t *testing.T) {
	for _, tc := range []struct {
		name     string
		modify   func(*State)
		want     pagewalk.Config
		wantErr  error
		anyError bool
	}{
		{
			name: "basic",
			want: pagewalk.Config{Root: 0x1000, PhysAddrBits: 46},
		},
		{
			name: "nxe",
			modify: func(s *State) {
				s.EFER |= EFERNXE
			},
			want: pagewalk.Config{Root: 0x1000, NXE: true, PhysAddrBits: 46},
		},
		{
			name: "gbpages",
			modify: func(s *State) {
				s.Features = cpuid.NewStatic(46, cpuid.X86FeatureLM, cpuid.X86FeatureGBPages).ToFeatureSet()
			},
			want: pagewalk.Config{Root: 0x1000, GBPages: true, PhysAddrBits: 46},
		},
		{
			name: "default width",
			modify: func(s *State) {
				s.Features = cpuid.FeatureSet{}
			},
			want: pagewalk.Config{Root: 0x1000, PhysAddrBits: cpuid.DefaultPhysicalAddressBits},
		},
		{
			name: "not long mode",
			modify: func(s *State) {
				s.EFER = EFERLME
			},
			wantErr: ErrNotLongMode,
		},
		{
			name: "bad width",
			modify: func(s *State) {
				s.Features = cpuid.NewStatic(60).ToFeatureSet()
			},
			anyError: true,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			s := longModeState()
			if tc.modify != nil {
				tc.modify(s)
			}
			got, err := s.WalkConfig()
			switch {
			case tc.wantErr != nil:
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("WalkConfig() error = %v, want %v", err, tc.wantErr)
				}
				return
			case tc.anyError:
				if err == nil {
					t.Fatalf("WalkConfig() = %+v, want error", got)
				}
				return
			case err != nil:
				t.Fatalf("WalkConfig() failed: %v", err)
			}
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("WalkConfig() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestWalkConfigIsFresh(t *testing.T) {
	s := longModeState()
	first, err := s.WalkConfig()
	if err != nil {
		t.Fatalf("WalkConfig() failed: %v", err)
	}
	s.CR3 = 0x7000
	second, err := s.WalkConfig()
	if err != nil {
		t.Fatalf("WalkConfig() failed: %v", err)
	}
	if first.Root != 0x1000 || second.Root != 0x7000 {
		t.Errorf("roots = %v, %v, want 0x1000, 0x7000", first.Root, second.Root)
	}
}

func TestLinearAddress(t *testing.T) {
	s := longModeState()
	s.SegBase[DS] = 0x1000
	s.SegBase[FS] = 0x7f0000000000
	s.SegBase[GS] = 0xffff888000000000
	for _, tc := range []struct {
		name   string
		seg    SegReg
		offset uint64
		want   guestarch.Addr
	}{
		{"es flat", ES, 0x10, 0x10},
		{"cs flat", CS, 0x20, 0x20},
		{"ss flat", SS, 0x30, 0x30},
		{"ds base ignored", DS, 0x40, 0x40},
		{"fs base", FS, 0x50, 0x7f0000000050},
		{"gs base", GS, 0x60, 0xffff888000000060},
		{"gs wraps", GS, 0x0000_8000_0000_0000, 0x0000_0880_0000_0000},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if got := s.LinearAddress(tc.seg, tc.offset); got != tc.want {
				t.Errorf("LinearAddress(%v, %#x) = %v, want %v", tc.seg, tc.offset, got, tc.want)
			}
		})
	}
}

func TestA20Addr(t *testing.T) {
	s := longModeState()
	if got, want := s.A20Addr(0x123456), guestarch.PhysAddr(0x123456); got != want {
		t.Errorf("A20Addr(enabled) = %v, want %v", got, want)
	}
	s.A20 = false
	if got, want := s.A20Addr(0x123456), guestarch.PhysAddr(0x023456); got != want {
		t.Errorf("A20Addr(disabled) = %v, want %v", got, want)
	}
}

func TestSegRegFromString(t *testing.T) {
	for seg := ES; seg < numSegRegs; seg++ {
		got, err := SegRegFromString(seg.String())
		if err != nil || got != seg {
			t.Errorf("SegRegFromString(%q) = %v, %v, want %v", seg.String(), got, err, seg)
		}
	}
	if _, err := SegRegFromString("xs"); err == nil {
		t.Errorf("SegRegFromString(xs) succeeded")
	}
}

const tomlState = `
cr3 = 0x1000
efer = 0xd00
fs_base = "0x7f0000000000"
gs_base = "0xffff888000000000"
phys_addr_bits = 46
features = ["lm", "nx", "pdpe1gb"]
`

const yamlState = `
cr3: 0x1000
efer: 0xd00
fs_base: 0x7f0000000000
gs_base: 0xffff888000000000
phys_addr_bits: 46
features: [lm, nx, pdpe1gb]
`

// summary is the comparable part of a State.
type summary struct {
	CR3, EFER      uint64
	A20            bool
	FSBase, GSBase uint64
	Flags          string
	PhysBits       uint32
}

func summarize(s *State) summary {
	return summary{
		CR3:      s.CR3,
		EFER:     s.EFER,
		A20:      s.A20,
		FSBase:   s.SegBase[FS],
		GSBase:   s.SegBase[GS],
		Flags:    s.Features.FlagString(),
		PhysBits: s.Features.PhysicalAddressBits(),
	}
}

func TestParse(t *testing.T) {
	want := summary{
		CR3:      0x1000,
		EFER:     0xd00,
		A20:      true,
		FSBase:   0x7f0000000000,
		GSBase:   0xffff888000000000,
		Flags:    "nx pdpe1gb lm",
		PhysBits: 46,
	}
	for _, tc := range []struct {
		format string
		data   string
	}{
		{"toml", tomlState},
		{"yaml", yamlState},
	} {
		t.Run(tc.format, func(t *testing.T) {
			s, err := Parse([]byte(tc.data), tc.format)
			if err != nil {
				t.Fatalf("Parse() failed: %v", err)
			}
			if diff := cmp.Diff(want, summarize(s)); diff != "" {
				t.Errorf("Parse() mismatch (-want +got):\n%s", diff)
			}
			cfg, err := s.WalkConfig()
			if err != nil {
				t.Fatalf("WalkConfig() failed: %v", err)
			}
			if diff := cmp.Diff(pagewalk.Config{Root: 0x1000, NXE: true, GBPages: true, PhysAddrBits: 46}, cfg); diff != "" {
				t.Errorf("WalkConfig() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseA20(t *testing.T) {
	s, err := Parse([]byte("efer = 0x500\na20 = false\n"), "toml")
	if err != nil {
		t.Fatalf("Parse() failed: %v", err)
	}
	if s.A20 {
		t.Errorf("A20 = true, want false")
	}
	if got := s.Features.PhysicalAddressBits(); got != cpuid.DefaultPhysicalAddressBits {
		t.Errorf("PhysicalAddressBits() = %d, want %d", got, cpuid.DefaultPhysicalAddressBits)
	}
}

func TestParseErrors(t *testing.T) {
	for _, tc := range []struct {
		name   string
		format string
		data   string
	}{
		{"unknown toml key", "toml", "cr2 = 1\n"},
		{"unknown yaml key", "yaml", "cr2: 1\n"},
		{"unknown feature", "toml", "features = [\"warp\"]\n"},
		{"bad value", "yaml", "cr3: banana\n"},
		{"bad format", "json", "{}"},
		{"narrow physical width", "toml", "phys_addr_bits = 31\n"},
		{"wide physical width", "toml", "phys_addr_bits = 53\n"},
		{"truncated physical width", "yaml", "phys_addr_bits: 300\n"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Parse([]byte(tc.data), tc.format); err == nil {
				t.Errorf("Parse(%q) succeeded, want error", tc.data)
			}
		})
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	for name, data := range map[string]string{
		"state.toml": tomlState,
		"state.yml":  yamlState,
	} {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(data), 0644); err != nil {
			t.Fatalf("WriteFile(%s) failed: %v", path, err)
		}
		s, err := LoadFile(path)
		if err != nil {
			t.Fatalf("LoadFile(%s) failed: %v", path, err)
		}
		if s.CR3 != 0x1000 {
			t.Errorf("LoadFile(%s): CR3 = %#x, want 0x1000", path, s.CR3)
		}
	}
	if _, err := LoadFile(filepath.Join(dir, "state.json")); err == nil {
		t.Errorf("LoadFile(state.json) succeeded, want error")
	}
}
