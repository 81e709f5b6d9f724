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

package cmd

import (
	"bytes"
	"context"
	"encoding/binary"
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/subcommands"
	"gvisor.dev/introspect/cmd/nfdebug/config"
	"gvisor.dev/introspect/pkg/guestarch"
	"gvisor.dev/introspect/pkg/nofault"
	"gvisor.dev/introspect/pkg/physmem"
)

// testAddr is mapped by a 4 KiB page to physical page 0x8000.
const testAddr = 0x00007f8a_b5d6_e9f1

const testState = `
cr3 = 0x1000
efer = 0xd00
fs_base = 0x7f8ab5d6e000
phys_addr_bits = 46
features = ["lm", "nx"]
`

// guestImage returns a physical memory image mapping testAddr, with
// "hello, world" at its physical address.
func guestImage() []byte {
	img := make([]byte, 0x10000)
	put := func(table uint64, shift uint, entry uint64) {
		idx := (uint64(testAddr) >> shift) & 0x1ff
		binary.LittleEndian.PutUint64(img[table+8*idx:], entry)
	}
	put(0x1000, 39, 0x2000|3)
	put(0x2000, 30, 0x3000|3)
	put(0x3000, 21, 0x4000|3)
	put(0x4000, 12, 0x8000|1)
	copy(img[0x89f1:], "hello, world")
	return img
}

// writeGuest writes a guest to disk. With split set, memory is written as
// two images.
func writeGuest(t *testing.T, split bool) *config.Config {
	t.Helper()
	dir := t.TempDir()
	write := func(name string, data []byte) string {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, data, 0644); err != nil {
			t.Fatalf("WriteFile(%s) failed: %v", path, err)
		}
		return path
	}
	conf := &config.Config{State: write("cpu.toml", []byte(testState)), LogFormat: "text"}
	img := guestImage()
	if split {
		conf.Mem = config.MemFiles{
			{Path: write("low.img", img[:0x8000])},
			{Path: write("high.img", img[0x8000:]), Base: 0x8000},
		}
	} else {
		conf.Mem = config.MemFiles{{Path: write("mem.img", img)}}
	}
	return conf
}

// run executes a command and returns its output.
func run(t *testing.T, c subcommands.Command, conf *config.Config, args ...string) (string, subcommands.ExitStatus) {
	t.Helper()
	f := flag.NewFlagSet(c.Name(), flag.ContinueOnError)
	c.SetFlags(f)
	if err := f.Parse(args); err != nil {
		t.Fatalf("Parse(%v) failed: %v", args, err)
	}
	var out bytes.Buffer
	stdout = &out
	defer func() { stdout = os.Stdout }()
	status := c.Execute(context.Background(), f, conf)
	return out.String(), status
}

func TestOpenTarget(t *testing.T) {
	for _, split := range []bool{false, true} {
		tgt, err := openTarget(writeGuest(t, split))
		if err != nil {
			t.Fatalf("openTarget(split=%t) failed: %v", split, err)
		}
		if _, ok := tgt.mem.(*physmem.Sparse); ok != split {
			t.Errorf("openTarget(split=%t): memory is %T", split, tgt.mem)
		}
		acc := nofault.Accessor{Mem: tgt.mem}
		buf := make([]byte, 5)
		if err := acc.CopyIn(tgt.cpu, testAddr, buf); err != nil {
			t.Errorf("CopyIn(split=%t) failed: %v", split, err)
		} else if string(buf) != "hello" {
			t.Errorf("CopyIn(split=%t) = %q, want %q", split, buf, "hello")
		}
		tgt.Close()
	}
}

func TestOpenTargetErrors(t *testing.T) {
	conf := writeGuest(t, false)

	noState := *conf
	noState.State = ""
	if _, err := openTarget(&noState); err == nil {
		t.Errorf("openTarget without state succeeded")
	}

	noMem := *conf
	noMem.Mem = nil
	if _, err := openTarget(&noMem); err == nil {
		t.Errorf("openTarget without memory succeeded")
	}

	overlap := *conf
	overlap.Mem = config.MemFiles{conf.Mem[0], {Path: conf.Mem[0].Path, Base: 0x8000}}
	if _, err := openTarget(&overlap); err == nil {
		t.Errorf("openTarget with overlapping images succeeded")
	}
}

func TestParseAddress(t *testing.T) {
	tgt, err := openTarget(writeGuest(t, false))
	if err != nil {
		t.Fatalf("openTarget failed: %v", err)
	}
	defer tgt.Close()

	for _, tc := range []struct {
		in      string
		want    guestarch.Addr
		wantErr bool
	}{
		{in: "0x10", want: 0x10},
		{in: "4096", want: 0x1000},
		{in: "fs:0x9f1", want: testAddr},
		{in: "FS:0x9f1", want: testAddr},
		{in: "ds:0x20", want: 0x20},
		{in: "xs:1", wantErr: true},
		{in: "fs:zz", wantErr: true},
		{in: "zz", wantErr: true},
	} {
		got, err := parseAddress(tgt.cpu, tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("parseAddress(%q) = %v, want error", tc.in, got)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Errorf("parseAddress(%q) = %v, %v, want %v", tc.in, got, err, tc.want)
		}
	}
}

func TestTranslate(t *testing.T) {
	conf := writeGuest(t, false)
	out, status := run(t, new(Translate), conf, "-trace", "fs:0x9f1")
	if status != subcommands.ExitSuccess {
		t.Fatalf("translate failed: %d", status)
	}
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 5 {
		t.Fatalf("translate printed %d lines, want 4 trace lines and a result:\n%s", len(lines), out)
	}
	for i, prefix := range []string{"  PML4", "  PDPE", "  PDE ", "  PTE "} {
		if !strings.HasPrefix(lines[i], prefix) {
			t.Errorf("trace line %d = %q, want prefix %q", i, lines[i], prefix)
		}
	}
	if want := "0x7f8ab5d6e9f1 -> 0x89f1 (4K page at PTE)"; lines[4] != want {
		t.Errorf("translate = %q, want %q", lines[4], want)
	}

	if _, status := run(t, new(Translate), conf, "0x7f8ab5d6f000"); status != subcommands.ExitFailure {
		t.Errorf("translate of an unmapped address returned %d", status)
	}
}

func TestRead(t *testing.T) {
	conf := writeGuest(t, true)

	out, status := run(t, new(Read), conf, "-n", "12", "fs:0x9f1")
	if status != subcommands.ExitSuccess {
		t.Fatalf("read failed: %d", status)
	}
	if want := "00007f8ab5d6e9f1  68 65 6c 6c 6f 2c 20 77 6f 72 6c 64\n"; out != want {
		t.Errorf("read = %q, want %q", out, want)
	}

	out, status = run(t, new(Read), conf, "-raw", "-page", "-n", "5", "0x7f8ab5d6e9f1")
	if status != subcommands.ExitSuccess {
		t.Fatalf("read -raw failed: %d", status)
	}
	if out != "hello" {
		t.Errorf("read -raw = %q, want %q", out, "hello")
	}

	// The next page is not mapped.
	if out, status := run(t, new(Read), conf, "-n", "16", "0x7f8ab5d6eff8"); status != subcommands.ExitFailure || out != "" {
		t.Errorf("read across into an unmapped page = %q, %d", out, status)
	}

	for _, n := range []string{"1073741825", "4611686018427387904"} {
		if out, status := run(t, new(Read), conf, "-n", n, "0x7f8ab5d6e9f1"); status != subcommands.ExitUsageError || out != "" {
			t.Errorf("read -n %s = %q, %d, want usage error", n, out, status)
		}
	}
}

func TestScan(t *testing.T) {
	conf := writeGuest(t, false)
	out, status := run(t, new(Scan), conf, "-start", "0x7f8ab5c00000", "-end", "0x7f8ab5e00000", "-j", "2")
	if status != subcommands.ExitSuccess {
		t.Fatalf("scan failed: %d", status)
	}
	if want := "[0x7f8ab5d6e000, 0x7f8ab5d6f000) -> 0x8000 (4K)\n"; out != want {
		t.Errorf("scan = %q, want %q", out, want)
	}

	if _, status := run(t, new(Scan), conf, "-start", "banana"); status != subcommands.ExitFailure {
		t.Errorf("scan with a bad start returned %d", status)
	}
}

func TestCPU(t *testing.T) {
	conf := writeGuest(t, false)
	out, status := run(t, new(CPU), conf)
	if status != subcommands.ExitSuccess {
		t.Fatalf("cpu failed: %d", status)
	}
	for _, want := range []string{
		"root:     0x1000\n",
		"nxe:      true\n",
		"1g pages: false\n",
		"fs base:  0x7f8ab5d6e000\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("cpu output missing %q:\n%s", want, out)
		}
	}
}
