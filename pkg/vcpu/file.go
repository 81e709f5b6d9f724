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
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
	"gvisor.dev/introspect/pkg/cpuid"
	"gvisor.dev/introspect/pkg/guestarch"
)

// Hex is a 64-bit value written in a state file as an integer or as a
// string in any Go integer syntax, e.g. "0xffff888000000000". Strings allow
// values above the signed 64-bit range that TOML integers cannot hold.
type Hex uint64

// UnmarshalText implements encoding.TextUnmarshaler.UnmarshalText.
func (h *Hex) UnmarshalText(text []byte) error {
	v, err := strconv.ParseUint(string(text), 0, 64)
	if err != nil {
		return fmt.Errorf("invalid value %q: %w", text, err)
	}
	*h = Hex(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.MarshalText.
func (h Hex) MarshalText() ([]byte, error) {
	return []byte(fmt.Sprintf("%#x", uint64(h))), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.UnmarshalYAML.
func (h *Hex) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: expected a scalar", value.Line)
	}
	return h.UnmarshalText([]byte(value.Value))
}

// File is the on-disk form of a State.
type File struct {
	CR3    Hex `toml:"cr3" yaml:"cr3"`
	EFER   Hex `toml:"efer" yaml:"efer"`
	FSBase Hex `toml:"fs_base" yaml:"fs_base"`
	GSBase Hex `toml:"gs_base" yaml:"gs_base"`

	// A20 defaults to enabled.
	A20 *bool `toml:"a20" yaml:"a20"`

	// PhysAddrBits defaults to cpuid.DefaultPhysicalAddressBits.
	PhysAddrBits uint32 `toml:"phys_addr_bits" yaml:"phys_addr_bits"`

	// Features lists cpuid feature names, as in /proc/cpuinfo.
	Features []string `toml:"features" yaml:"features"`
}

// State converts the file to a State.
func (f *File) State() (*State, error) {
	physBits := f.PhysAddrBits
	if physBits == 0 {
		physBits = cpuid.DefaultPhysicalAddressBits
	}
	if physBits < guestarch.MinPhysicalAddressBits || physBits > guestarch.MaxPhysicalAddressBits {
		return nil, fmt.Errorf("phys_addr_bits %d out of range [%d, %d]", physBits, guestarch.MinPhysicalAddressBits, guestarch.MaxPhysicalAddressBits)
	}
	s := cpuid.NewStatic(physBits)
	for _, name := range f.Features {
		feature, ok := cpuid.FeatureFromString(name)
		if !ok {
			return nil, fmt.Errorf("unknown cpu feature %q", name)
		}
		s.Add(feature)
	}
	st := &State{
		CR3:      uint64(f.CR3),
		EFER:     uint64(f.EFER),
		A20:      f.A20 == nil || *f.A20,
		Features: s.ToFeatureSet(),
	}
	st.SegBase[FS] = uint64(f.FSBase)
	st.SegBase[GS] = uint64(f.GSBase)
	return st, nil
}

// Parse decodes a state file in the given format, "toml" or "yaml".
// Unknown keys are rejected.
func Parse(data []byte, format string) (*State, error) {
	var f File
	switch format {
	case "toml":
		md, err := toml.Decode(string(data), &f)
		if err != nil {
			return nil, err
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("unknown keys in state file: %v", undecoded)
		}
	case "yaml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&f); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown state file format %q", format)
	}
	return f.State()
}

// LoadFile reads a state file, choosing the format from its extension.
func LoadFile(path string) (*State, error) {
	var format string
	switch filepath.Ext(path) {
	case ".toml":
		format = "toml"
	case ".yaml", ".yml":
		format = "yaml"
	default:
		return nil, fmt.Errorf("state file %q: extension must be .toml, .yaml or .yml", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	st, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("state file %q: %w", path, err)
	}
	return st, nil
}
