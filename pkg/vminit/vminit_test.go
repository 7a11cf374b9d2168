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

package vminit

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"oslabpi.dev/bootvm/pkg/bootarch"
	"oslabpi.dev/bootvm/pkg/bootmem"
	"oslabpi.dev/bootvm/pkg/log"
	"oslabpi.dev/bootvm/pkg/memlayout"
	"oslabpi.dev/bootvm/pkg/pagetables"
)

func mustBuild(t *testing.T, l memlayout.Layout) *Result {
	t.Helper()
	r, err := Build(l)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return r
}

func TestSegmentsOrder(t *testing.T) {
	got := Segments(memlayout.Default())
	want := []Segment{
		{Name: "ram", Virtual: 0, Physical: 0, Size: 0x3F000000, Flags: pagetables.AttrNormal | pagetables.ShareInner},
		{Name: "device", Virtual: 0x3F000000, Physical: 0x3F000000, Size: 0x01000000, Flags: pagetables.AttrDevice | pagetables.ShareOuter},
		{Name: "control", Virtual: 0x40000000, Physical: 0x40000000, Size: bootarch.PageSize, Flags: pagetables.AttrDevice | pagetables.ShareOuter},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Segments mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildDefault(t *testing.T) {
	r := mustBuild(t, memlayout.Default())

	if got, want := r.Tables.RootPhysical(), memlayout.PPgdirBase; got != want {
		t.Errorf("root at %v, want %v", got, want)
	}
	if got, want := r.Tables.TTBR(), uint64(memlayout.PPgdirBase); got != want {
		t.Errorf("TTBR = %#x, want %#x", got, want)
	}
	// Root, one level 2 table per gigabyte touched, and one level 3 table
	// per 2M of RAM, device window and control page.
	const tables = 1 + 2 + 504 + 8 + 1
	if got := r.Allocator.Used(); got != tables {
		t.Errorf("Used() = %d, want %d", got, tables)
	}
	if got := r.Tables.CountTables(); got != tables {
		t.Errorf("CountTables() = %d, want %d", got, tables)
	}
	if got, want := r.Allocator.Cursor(), memlayout.PPgdirBase+tables*bootarch.PageSize; got != want {
		t.Errorf("cursor at %v, want %v", got, want)
	}
}

func TestBuildScenarios(t *testing.T) {
	r := mustBuild(t, memlayout.Default())
	for _, tc := range []struct {
		va    bootarch.Addr
		mt    pagetables.MemoryType
		share pagetables.Shareability
	}{
		{va: 0x00500000, mt: pagetables.MemoryNormal, share: pagetables.InnerShareable},
		{va: 0x00080123, mt: pagetables.MemoryNormal, share: pagetables.InnerShareable},
		{va: 0x3EFFF000, mt: pagetables.MemoryNormal, share: pagetables.InnerShareable},
		{va: 0x3F001000, mt: pagetables.MemoryDevice, share: pagetables.OuterShareable},
		{va: 0x3FFFF000, mt: pagetables.MemoryDevice, share: pagetables.OuterShareable},
		{va: 0x40000000, mt: pagetables.MemoryDevice, share: pagetables.OuterShareable},
	} {
		for _, va := range []bootarch.Addr{tc.va, tc.va.KernelAddr()} {
			pa, pte, ok := r.Tables.Lookup(va)
			if !ok {
				t.Errorf("%v is not mapped", va)
				continue
			}
			if pa != tc.va {
				t.Errorf("%v translates to %v, want %v", va, pa, tc.va)
			}
			if got := pte.MemoryType(); got != tc.mt {
				t.Errorf("%v memory type = %v, want %v", va, got, tc.mt)
			}
			if got := pte.Shareability(); got != tc.share {
				t.Errorf("%v shareability = %v, want %v", va, got, tc.share)
			}
			if !pte.HasFlags(pagetables.Mandatory) {
				t.Errorf("%v entry %v lacks mandatory bits", va, pte)
			}
		}
	}
	for _, va := range []bootarch.Addr{0x40001000, 0x80000000, memlayout.UVPT} {
		if _, _, ok := r.Tables.Lookup(va); ok {
			t.Errorf("%v is mapped, want unmapped", va)
		}
	}
}

func TestBuildRegions(t *testing.T) {
	r := mustBuild(t, memlayout.Default())
	want := []pagetables.Region{
		{
			Virtual:  bootarch.AddrRange{Start: 0, End: 0x3F000000},
			Physical: 0,
			Flags:    pagetables.AttrNormal | pagetables.ShareInner | pagetables.Mandatory,
		},
		{
			Virtual:  bootarch.AddrRange{Start: 0x3F000000, End: 0x40001000},
			Physical: 0x3F000000,
			Flags:    pagetables.AttrDevice | pagetables.ShareOuter | pagetables.Mandatory,
		},
	}
	if diff := cmp.Diff(want, r.Tables.Regions()); diff != "" {
		t.Errorf("Regions mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildOverride(t *testing.T) {
	l := memlayout.Default()
	// Control page inside RAM: the later device mapping wins.
	l.ControlRegBase = 0x00100000
	r := mustBuild(t, l)

	_, pte, ok := r.Tables.Lookup(0x00100000)
	if !ok || pte.MemoryType() != pagetables.MemoryDevice {
		t.Errorf("control page entry = %v (mapped %t), want device", pte, ok)
	}
	_, pte, ok = r.Tables.Lookup(0x00101000)
	if !ok || pte.MemoryType() != pagetables.MemoryNormal {
		t.Errorf("neighbouring entry = %v (mapped %t), want normal", pte, ok)
	}
	if err := Verify(context.Background(), r, l); err != nil {
		t.Errorf("Verify: %v", err)
	}
}

func TestBuildExhausted(t *testing.T) {
	l := memlayout.Default()
	l.PgdirLimit = l.PgdirBase + 4*bootarch.PageSize
	r, err := Build(l)
	if err == nil {
		t.Fatalf("Build with a 4 page region succeeded")
	}
	if r != nil {
		t.Errorf("Build returned a result with error %v", err)
	}
	var ee *bootmem.ExhaustedError
	if !errors.As(err, &ee) {
		t.Fatalf("Build error = %v, want *bootmem.ExhaustedError", err)
	}
	if got, want := ee.Region, l.PgdirRange(); got != want {
		t.Errorf("exhausted region = %v, want %v", got, want)
	}
}

func TestBuildWithResets(t *testing.T) {
	l := memlayout.Default()
	a := bootmem.New(l.PgdirBase, l.PgdirLimit)
	first, err := BuildWith(a, l)
	if err != nil {
		t.Fatalf("BuildWith: %v", err)
	}
	regions := first.Tables.Regions()
	used := a.Used()

	second, err := BuildWith(a, l)
	if err != nil {
		t.Fatalf("second BuildWith: %v", err)
	}
	if second.Tables.RootPhysical() != l.PgdirBase || a.Used() != used {
		t.Errorf("rebuild root %v with %d tables, want %v with %d", second.Tables.RootPhysical(), a.Used(), l.PgdirBase, used)
	}
	if diff := cmp.Diff(regions, second.Tables.Regions()); diff != "" {
		t.Errorf("rebuild regions mismatch (-first +second):\n%s", diff)
	}
}

func TestVerify(t *testing.T) {
	l := memlayout.Default()
	r := mustBuild(t, l)
	if err := Verify(context.Background(), r, l); err != nil {
		t.Fatalf("Verify: %v", err)
	}

	r.Tables.Walk(0x00500000).Set(0x00600000, pagetables.AttrNormal|pagetables.ShareInner|pagetables.Mandatory)
	err := Verify(context.Background(), r, l)
	var me *MismatchError
	if !errors.As(err, &me) {
		t.Fatalf("Verify after corruption = %v, want *MismatchError", err)
	}
	if diff := cmp.Diff(&MismatchError{Segment: "ram", Pages: 1, First: 0x00500000}, me); diff != "" {
		t.Errorf("MismatchError (-want +got):\n%s", diff)
	}
}

func TestVerifyCancelled(t *testing.T) {
	l := memlayout.Default()
	r := mustBuild(t, l)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Verify(ctx, r, l); !errors.Is(err, context.Canceled) {
		t.Errorf("Verify with cancelled context = %v, want %v", err, context.Canceled)
	}
}

func TestBuildLogsSegmentFlags(t *testing.T) {
	orig := log.Log()
	defer log.SetTarget(orig)
	var buf bytes.Buffer
	log.SetTarget(log.NewBasicLogger(&buf, log.Info))

	mustBuild(t, memlayout.Default())
	out := buf.String()
	if strings.Contains(out, "invalid") {
		t.Errorf("segment log lines show invalid flags:\n%s", out)
	}
	for _, want := range []string{
		"Mapped ram [0x0, 0x3f000000) -> 0x0 (WB ish kern rw af)",
		"Mapped device [0x3f000000, 0x40000000) -> 0x3f000000 (DV osh kern rw af)",
		"Mapped control [0x40000000, 0x40001000) -> 0x40000000 (DV osh kern rw af)",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q:\n%s", want, out)
		}
	}
}
