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

// Package config holds the nfdebug command line configuration shared by all
// subcommands.
package config

import (
	"flag"
	"fmt"
	"strconv"
	"strings"

	"gvisor.dev/introspect/pkg/guestarch"
	"gvisor.dev/introspect/pkg/log"
)

// MemFile is a guest physical memory image.
type MemFile struct {
	// Path is the image file.
	Path string

	// Base is the guest physical address of the first byte of the image.
	Base guestarch.PhysAddr
}

// String implements fmt.Stringer.String.
func (m MemFile) String() string {
	if m.Base == 0 {
		return m.Path
	}
	return fmt.Sprintf("%s@%v", m.Path, m.Base)
}

// MemFiles is a flag.Getter for a repeated "path[@base]" flag.
type MemFiles []MemFile

// String implements flag.Value.String.
func (m *MemFiles) String() string {
	if m == nil {
		return ""
	}
	var parts []string
	for _, f := range *m {
		parts = append(parts, f.String())
	}
	return strings.Join(parts, ",")
}

// Set implements flag.Value.Set.
func (m *MemFiles) Set(v string) error {
	path, base, ok := strings.Cut(v, "@")
	if path == "" {
		return fmt.Errorf("empty memory image path in %q", v)
	}
	f := MemFile{Path: path}
	if ok {
		b, err := strconv.ParseUint(base, 0, 64)
		if err != nil {
			return fmt.Errorf("invalid base address in %q: %w", v, err)
		}
		f.Base = guestarch.PhysAddr(b)
	}
	*m = append(*m, f)
	return nil
}

// Get implements flag.Getter.Get.
func (m *MemFiles) Get() any {
	return *m
}

// Config holds the configuration for nfdebug.
type Config struct {
	// State is the path of the CPU state file.
	State string

	// Mem lists the guest physical memory images.
	Mem MemFiles

	// Debug indicates that debug logging should be enabled.
	Debug bool

	// DebugLog is the path to log debug information to, if not empty.
	DebugLog string

	// LogFormat is the log format: "text", "json" or "json-k8s".
	LogFormat string
}

// RegisterFlags registers the flags used to populate Config.
func RegisterFlags(flagSet *flag.FlagSet) {
	flagSet.String("state", "", "CPU state file, in TOML (.toml) or YAML (.yaml, .yml) format.")
	flagSet.Var(&MemFiles{}, "mem", "guest physical memory image as path[@base]. May be repeated; images must not overlap.")
	flagSet.Bool("debug", false, "enable debug logging.")
	flagSet.String("debug-log", "", "additional location for logs. If it ends with '/', log files are created inside the directory with default names. The following variables are available: %TIMESTAMP%, %COMMAND%.")
	flagSet.String("log-format", "text", "log format: text (default), json, or json-k8s.")
}

// get returns the value of a registered flag.
func get[T any](flagSet *flag.FlagSet, name string) T {
	f := flagSet.Lookup(name)
	if f == nil {
		panic(fmt.Sprintf("flag %q not registered", name))
	}
	return f.Value.(flag.Getter).Get().(T)
}

// NewFromFlags creates a new Config with values coming from flags.
func NewFromFlags(flagSet *flag.FlagSet) (*Config, error) {
	conf := &Config{
		State:     get[string](flagSet, "state"),
		Mem:       get[MemFiles](flagSet, "mem"),
		Debug:     get[bool](flagSet, "debug"),
		DebugLog:  get[string](flagSet, "debug-log"),
		LogFormat: get[string](flagSet, "log-format"),
	}
	switch conf.LogFormat {
	case "text", "json", "json-k8s":
	default:
		return nil, fmt.Errorf("invalid log format %q, must be 'text', 'json', or 'json-k8s'", conf.LogFormat)
	}
	return conf, nil
}

// Log logs important aspects of the configuration to the given log function.
func (c *Config) Log() {
	log.Infof("Config.State: %q", c.State)
	log.Infof("Config.Mem: %v", c.Mem.String())
	log.Infof("Config.Debug: %t", c.Debug)
	log.Infof("Config.DebugLog: %q", c.DebugLog)
	log.Infof("Config.LogFormat: %s", c.LogFormat)
}
