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

func TestBitLayout(t *testing.T) {
	// These values are consumed by the MMU and the boot stub.
	for _, tc := range []struct {
		name string
		got  Flags
		want uint64
	}{
		{"Granule4K", Granule4K, 0x3},
		{"AttrNormal", AttrNormal, 0x0},
		{"AttrDevice", AttrDevice, 0x4},
		{"AttrNonCacheable", AttrNonCacheable, 0x8},
		{"Kernel", Kernel, 0x0},
		{"User", User, 0x40},
		{"ReadWrite", ReadWrite, 0x0},
		{"ReadOnly", ReadOnly, 0x80},
		{"ShareOuter", ShareOuter, 0x200},
		{"ShareInner", ShareInner, 0x300},
		{"AccessFlag", AccessFlag, 0x400},
		{"PXN", PXN, 1 << 53},
		{"UXN", UXN, 1 << 54},
		{"CopyOnWrite", CopyOnWrite, 1 << 55},
		{"Library", Library, 1 << 56},
		{"Mandatory", Mandatory, 0x403},
	} {
		if uint64(tc.got) != tc.want {
			t.Errorf("%s = %#x, want %#x", tc.name, uint64(tc.got), tc.want)
		}
	}
}

func TestSetAndAccessors(t *testing.T) {
	var p PTE
	if p.Valid() {
		t.Fatalf("zero PTE is valid")
	}
	p.Set(0x3F001000, AttrDevice|ShareOuter|Mandatory|PXN|UXN)
	if !p.Valid() {
		t.Fatalf("PTE %v not valid after Set", p)
	}
	if got, want := p.Address(), bootarch.Addr(0x3F001000); got != want {
		t.Errorf("Address() = %v, want %v", got, want)
	}
	if got := p.MemoryType(); got != MemoryDevice {
		t.Errorf("MemoryType() = %v, want %v", got, MemoryDevice)
	}
	if got := p.Shareability(); got != OuterShareable {
		t.Errorf("Shareability() = %v, want %v", got, OuterShareable)
	}
	if p.User() || p.ReadOnly() || !p.Accessed() {
		t.Errorf("permissions of %v wrong", p)
	}
	if !p.KernelExecuteNever() || !p.UserExecuteNever() {
		t.Errorf("execute-never bits of %v not set", p)
	}
	if p.CopyOnWrite() || p.Library() {
		t.Errorf("software bits of %v set", p)
	}
	if got, want := p.String(), "0x3f001000 DV osh kern rw af pxn uxn"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestSetTruncatesAddress(t *testing.T) {
	var p PTE
	p.Set(0x00500fff, Mandatory)
	if got, want := p.Address(), bootarch.Addr(0x00500000); got != want {
		t.Errorf("Address() = %v, want %v", got, want)
	}
	if got := p.Flags(); got != Mandatory {
		t.Errorf("Flags() = %#x, want %#x", uint64(got), uint64(Mandatory))
	}
}

func TestFieldMutators(t *testing.T) {
	var p PTE
	p.Set(0x1000, Mandatory|ShareInner)

	p.SetMemoryType(MemoryNonCacheable)
	if got := p.MemoryType(); got != MemoryNonCacheable {
		t.Errorf("MemoryType() = %v, want %v", got, MemoryNonCacheable)
	}
	p.SetShareability(OuterShareable)
	if got := p.Shareability(); got != OuterShareable {
		t.Errorf("Shareability() = %v, want %v", got, OuterShareable)
	}

	// Software bits pass through.
	p.SetFlags(CopyOnWrite | Library)
	if !p.CopyOnWrite() || !p.Library() {
		t.Errorf("software bits lost in %v", p)
	}
	p.ClearFlags(CopyOnWrite)
	if p.CopyOnWrite() || !p.Library() {
		t.Errorf("ClearFlags(CopyOnWrite) gave %v", p)
	}

	// Flag mutators never touch the address.
	p.SetFlags(Flags(0xfffff000))
	if got, want := p.Address(), bootarch.Addr(0x1000); got != want {
		t.Errorf("Address() = %v after SetFlags, want %v", got, want)
	}
	if got, want := p.MemoryType(), MemoryNonCacheable; got != want {
		t.Errorf("MemoryType() = %v, want %v", got, want)
	}

	p.Clear()
	if p.Valid() || p != 0 {
		t.Errorf("Clear() left %#x", uint64(p))
	}
}

func TestAttributesRoundTrip(t *testing.T) {
	for _, a := range []Attributes{
		{Writable: true},
		{Writable: true, Device: true},
		{UserAccessible: true, UserExecutable: true},
		{Writable: true, UserAccessible: true, CopyOnWrite: true},
		{UserAccessible: true, Library: true, KernelExecutable: true},
	} {
		var p PTE
		p.Set(0x80000000, a.Flags())
		if diff := cmp.Diff(a, p.Attributes()); diff != "" {
			t.Errorf("Attributes round trip mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestAttributesShareability(t *testing.T) {
	var p PTE
	p.Set(0x3F000000, Attributes{Writable: true, Device: true}.Flags())
	if p.Shareability() != OuterShareable || p.MemoryType() != MemoryDevice {
		t.Errorf("device attributes encoded as %v", p)
	}
	p.Set(0x0, Attributes{Writable: true}.Flags())
	if p.Shareability() != InnerShareable || p.MemoryType() != MemoryNormal {
		t.Errorf("normal attributes encoded as %v", p)
	}
}

func TestFlagsString(t *testing.T) {
	for _, tc := range []struct {
		f    Flags
		want string
	}{
		{0, "invalid"},
		{AttrNormal | ShareInner | Mandatory, "WB ish kern rw af"},
		{AttrDevice | ShareOuter | Mandatory, "DV osh kern rw af"},
		{User | ReadOnly | Granule4K | Library, "WB nsh user ro lib"},
	} {
		if got := tc.f.String(); got != tc.want {
			t.Errorf("Flags(%#x).String() = %q, want %q", uint64(tc.f), got, tc.want)
		}
	}
}
