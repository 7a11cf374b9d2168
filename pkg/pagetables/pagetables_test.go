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

package pagetables

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"oslabpi.dev/bootvm/pkg/bootarch"
)

const (
	pteSize = bootarch.PageSize
	normal  = AttrNormal | ShareInner
	device  = AttrDevice | ShareOuter
)

type mapping struct {
	start  bootarch.Addr
	length uint64
	addr   bootarch.Addr
	flags  Flags
}

func newTestTables() *PageTables {
	return New(NewRuntimeAllocator(0x200000))
}

func checkMappings(t *testing.T, pt *PageTables, want []mapping) {
	t.Helper()
	var got []mapping
	for _, r := range pt.Regions() {
		got = append(got, mapping{
			start:  r.Virtual.Start,
			length: r.Virtual.Length(),
			addr:   r.Physical,
			flags:  r.Flags,
		})
	}
	if diff := cmp.Diff(want, got, cmp.AllowUnexported(mapping{})); diff != "" {
		t.Errorf("mappings mismatch (-want +got):\n%s", diff)
	}
}

func TestEmpty(t *testing.T) {
	pt := newTestTables()
	checkMappings(t, pt, nil)
	if got := pt.RootPhysical(); got != 0x200000 {
		t.Errorf("RootPhysical() = %v, want 0x200000", got)
	}
	if got := pt.CountTables(); got != 1 {
		t.Errorf("CountTables() = %d, want 1", got)
	}
}

func TestWalkAllocatesIntermediateTables(t *testing.T) {
	a := NewRuntimeAllocator(0x200000)
	pt := New(a)

	slot := pt.Walk(0x8080604400)
	if slot.Valid() {
		t.Errorf("fresh leaf slot is valid: %v", *slot)
	}
	if got := a.Count(); got != 3 {
		t.Fatalf("allocated %d tables, want 3", got)
	}

	l1 := &pt.Root()[2]
	if !l1.Valid() || l1.Address() != 0x201000 || l1.Flags() != Mandatory {
		t.Errorf("level 1 entry = %v, want a kernel table descriptor at 0x201000", *l1)
	}
	l2 := &a.LookupPTEs(l1.Address())[3]
	if !l2.Valid() || l2.Address() != 0x202000 || l2.Flags() != Mandatory {
		t.Errorf("level 2 entry = %v, want a kernel table descriptor at 0x202000", *l2)
	}
	if want := &a.LookupPTEs(l2.Address())[4]; slot != want {
		t.Errorf("Walk returned %p, want slot 4 of the leaf table %p", slot, want)
	}
}

func TestWalkIdempotent(t *testing.T) {
	a := NewRuntimeAllocator(0x200000)
	pt := New(a)
	for _, va := range []bootarch.Addr{0, 0x00500000, 0x3F001000, 0x40000000, 0x7FFFFFF000} {
		first := pt.Walk(va)
		n := a.Count()
		if second := pt.Walk(va); second != first {
			t.Errorf("Walk(%v) = %p then %p", va, first, second)
		}
		if a.Count() != n {
			t.Errorf("second Walk(%v) allocated %d tables", va, a.Count()-n)
		}
	}
}

func TestWalkAfterInstall(t *testing.T) {
	pt := newTestTables()
	pt.MapSegment(0x400000, pteSize, 0x9000, normal)
	slot := pt.Walk(0x400000)
	if got, want := slot.Address(), bootarch.Addr(0x9000); got != want {
		t.Errorf("slot address = %v, want %v", got, want)
	}
}

func TestWalkIgnoresHighBits(t *testing.T) {
	pt := newTestTables()
	if pt.Walk(0x00500000) != pt.Walk(bootarch.Addr(0x00500000).KernelAddr()) {
		t.Errorf("kernel alias resolved to a different slot")
	}
}

func TestMapSingle(t *testing.T) {
	pt := newTestTables()
	pt.MapSegment(0x400000, pteSize, pteSize*42, normal)
	checkMappings(t, pt, []mapping{
		{0x400000, pteSize, pteSize * 42, normal | Mandatory},
	})
}

func TestMandatoryForced(t *testing.T) {
	pt := newTestTables()
	// Callers cannot drop the access flag or the descriptor bits.
	pt.MapSegment(0x400000, pteSize, 0x1000, 0)
	_, pte, ok := pt.Lookup(0x400000)
	if !ok {
		t.Fatalf("Lookup failed")
	}
	if !pte.HasFlags(Mandatory) || pte.User() || pte.ReadOnly() {
		t.Errorf("entry %v lacks the mandatory kernel rw bits", pte)
	}
}

func TestMapSegmentEntries(t *testing.T) {
	const (
		va    = bootarch.Addr(0x3FE000)
		pa    = bootarch.Addr(0x10000000)
		size  = 8 * pteSize
		flags = device | PXN | UXN
	)
	pt := newTestTables()
	pt.MapSegment(va, size, pa, flags)
	for off := uint64(0); off < size; off += pteSize {
		e := pt.Walk(va + bootarch.Addr(off))
		if want := PTE(uint64(pa)+off) | PTE(flags|Mandatory); *e != want {
			t.Errorf("entry at %v = %#x, want %#x", va+bootarch.Addr(off), uint64(*e), uint64(want))
		}
	}
	// The range crosses a level 2 boundary.
	checkMappings(t, pt, []mapping{
		{va, size, pa, flags | Mandatory},
	})
	if got := pt.CountTables(); got != 4 {
		t.Errorf("CountTables() = %d, want 4", got)
	}
}

func TestIdentityMap16M(t *testing.T) {
	pt := newTestTables()
	pt.MapSegment(0, 0x01000000, 0, normal)
	e := pt.Walk(0x00500000)
	if got := e.Address(); got != 0x00500000 {
		t.Errorf("Address() = %v, want 0x500000", got)
	}
	if got := e.MemoryType(); got != MemoryNormal {
		t.Errorf("MemoryType() = %v, want %v", got, MemoryNormal)
	}
	checkMappings(t, pt, []mapping{
		{0, 0x01000000, 0, normal | Mandatory},
	})
}

func TestDeviceWindow(t *testing.T) {
	const limit = bootarch.Addr(0x3F000000)
	pt := newTestTables()
	pt.MapSegment(limit, 0x01000000, limit, device)
	e := pt.Walk(limit + 0x1000)
	if e.MemoryType() != MemoryDevice {
		t.Errorf("MemoryType() = %v, want %v", e.MemoryType(), MemoryDevice)
	}
	if e.Shareability() != OuterShareable {
		t.Errorf("Shareability() = %v, want %v", e.Shareability(), OuterShareable)
	}
}

func TestOverrideOrdering(t *testing.T) {
	pt := newTestTables()
	pt.MapSegment(0x400000, 8*pteSize, 0x10000, normal)
	pt.MapSegment(0x402000, 2*pteSize, 0x80000, device)
	checkMappings(t, pt, []mapping{
		{0x400000, 2 * pteSize, 0x10000, normal | Mandatory},
		{0x402000, 2 * pteSize, 0x80000, device | Mandatory},
		{0x404000, 4 * pteSize, 0x14000, normal | Mandatory},
	})
}

func TestControlPageOverride(t *testing.T) {
	pt := newTestTables()
	pt.MapSegment(0x3F000000, 0x01000000, 0x3F000000, device)
	// Remap the last device page and the control page with different
	// flags; the later call wins.
	pt.MapSegment(0x3FFFF000, 2*pteSize, 0x3FFFF000, device|PXN|UXN)
	for _, va := range []bootarch.Addr{0x3FFFF000, 0x40000000} {
		_, pte, ok := pt.Lookup(va)
		if !ok {
			t.Fatalf("Lookup(%v) failed", va)
		}
		if !pte.KernelExecuteNever() || !pte.UserExecuteNever() {
			t.Errorf("entry at %v = %v, want the second mapping's flags", va, pte)
		}
	}
	if _, pte, _ := pt.Lookup(0x3FFFE000); pte.KernelExecuteNever() {
		t.Errorf("entry below the override changed: %v", pte)
	}
}

func TestPartialPage(t *testing.T) {
	pt := newTestTables()
	// A trailing partial page is mapped in full.
	pt.MapSegment(0x400000, pteSize+1, 0x7000, normal)
	checkMappings(t, pt, []mapping{
		{0x400000, 2 * pteSize, 0x7000, normal | Mandatory},
	})
}

func TestMisalignedTruncated(t *testing.T) {
	pt := newTestTables()
	pt.MapSegment(0x400123, pteSize, 0x7456, normal)
	checkMappings(t, pt, []mapping{
		{0x400000, pteSize, 0x7000, normal | Mandatory},
	})
}

func TestZeroSize(t *testing.T) {
	a := NewRuntimeAllocator(0)
	pt := New(a)
	pt.MapSegment(0x400000, 0, 0, normal)
	checkMappings(t, pt, nil)
	if a.Count() != 1 {
		t.Errorf("zero sized mapping allocated %d tables", a.Count()-1)
	}
}

func TestLookup(t *testing.T) {
	a := NewRuntimeAllocator(0x200000)
	pt := New(a)
	pt.MapSegment(0x400000, 2*pteSize, 0x9000, normal)
	n := a.Count()

	for _, tc := range []struct {
		va     bootarch.Addr
		wantPA bootarch.Addr
		wantOK bool
	}{
		{va: 0x400000, wantPA: 0x9000, wantOK: true},
		{va: 0x401abc, wantPA: 0xaabc, wantOK: true},
		{va: 0x402000},
		{va: 0x40000000},
		{va: 0x7000000000},
	} {
		pa, _, ok := pt.Lookup(tc.va)
		if ok != tc.wantOK || pa != tc.wantPA {
			t.Errorf("Lookup(%v) = (%v, %t), want (%v, %t)", tc.va, pa, ok, tc.wantPA, tc.wantOK)
		}
	}
	if a.Count() != n {
		t.Errorf("Lookup allocated %d tables", a.Count()-n)
	}
}

func TestForEachMappingStops(t *testing.T) {
	pt := newTestTables()
	pt.MapSegment(0, 16*pteSize, 0, normal)
	var seen []bootarch.Addr
	pt.ForEachMapping(func(va bootarch.Addr, pte *PTE) bool {
		seen = append(seen, va)
		return len(seen) < 3
	})
	if diff := cmp.Diff([]bootarch.Addr{0, 0x1000, 0x2000}, seen); diff != "" {
		t.Errorf("visited (-want +got):\n%s", diff)
	}
}

func TestSparseEntries(t *testing.T) {
	pt := newTestTables()
	pt.MapSegment(0x400000, pteSize, pteSize*42, normal)
	pt.MapSegment(0x7000000000, pteSize, pteSize*47, device|ReadOnly)
	checkMappings(t, pt, []mapping{
		{0x400000, pteSize, pteSize * 42, normal | Mandatory},
		{0x7000000000, pteSize, pteSize * 47, device | ReadOnly | Mandatory},
	})
	if got := pt.CountTables(); got != 5 {
		t.Errorf("CountTables() = %d, want 5", got)
	}
}
