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
	"fmt"
	"strings"

	"oslabpi.dev/bootvm/pkg/bootarch"
)

// Flags are the non-address bits of a translation entry.
type Flags uint64

// Descriptor bits, as consumed by the translation hardware.
const (
	// Granule4K marks a valid table descriptor at levels 1 and 2 and a
	// valid 4K page descriptor at level 3.
	Granule4K Flags = 0b11

	// Memory attribute index (MAIR slot), bits 2-3.
	AttrNormal       Flags = 0 << attrShift
	AttrDevice       Flags = 1 << attrShift
	AttrNonCacheable Flags = 2 << attrShift

	// Access permissions, bits 6-7.
	Kernel    Flags = 0 << 6
	User      Flags = 1 << 6
	ReadWrite Flags = 0 << 7
	ReadOnly  Flags = 1 << 7

	// Shareability domain, bits 8-9.
	ShareOuter Flags = 2 << shareShift
	ShareInner Flags = 3 << shareShift

	AccessFlag Flags = 1 << 10

	// Execute-never for EL1 and EL0.
	PXN Flags = 1 << 53
	UXN Flags = 1 << 54

	// Software defined bits. They are carried through untouched.
	CopyOnWrite Flags = 1 << 55
	Library     Flags = 1 << 56

	// Mandatory is forced on every entry installed during boot.
	Mandatory = Kernel | ReadWrite | AccessFlag | Granule4K
)

const (
	attrShift  = 2
	attrMask   = 0b11 << attrShift
	shareShift = 8
	shareMask  = 0b11 << shareShift

	// addressMask selects the output address, bits 12-47.
	addressMask = 0x0000fffffffff000
)

// PTE is a translation table entry.
type PTE uint64

// PTEs is one translation table.
type PTEs [bootarch.EntriesPerTable]PTE

// Valid returns true iff the entry holds a table or page descriptor.
func (p *PTE) Valid() bool {
	return Flags(*p)&Granule4K != 0
}

// Address returns the output address of the entry.
func (p *PTE) Address() bootarch.Addr {
	return bootarch.Addr(*p & addressMask)
}

// Flags returns everything but the output address.
func (p *PTE) Flags() Flags {
	return Flags(*p &^ addressMask)
}

// HasFlags returns true if all of f are set.
func (p *PTE) HasFlags(f Flags) bool {
	return Flags(*p)&f == f
}

// SetFlags sets f.
func (p *PTE) SetFlags(f Flags) {
	*p |= PTE(f &^ addressMask)
}

// ClearFlags clears f.
func (p *PTE) ClearFlags(f Flags) {
	*p &^= PTE(f &^ addressMask)
}

// MemoryType returns the memory attribute class.
func (p *PTE) MemoryType() MemoryType {
	return MemoryType((Flags(*p) & attrMask) >> attrShift)
}

// SetMemoryType replaces the memory attribute class.
func (p *PTE) SetMemoryType(mt MemoryType) {
	*p = (*p &^ attrMask) | PTE((Flags(mt)<<attrShift)&attrMask)
}

// Shareability returns the shareability domain.
func (p *PTE) Shareability() Shareability {
	return Shareability((Flags(*p) & shareMask) >> shareShift)
}

// SetShareability replaces the shareability domain.
func (p *PTE) SetShareability(s Shareability) {
	*p = (*p &^ shareMask) | PTE((Flags(s)<<shareShift)&shareMask)
}

// User returns true if EL0 may access the page.
func (p *PTE) User() bool {
	return p.HasFlags(User)
}

// ReadOnly returns true if the page may not be written.
func (p *PTE) ReadOnly() bool {
	return p.HasFlags(ReadOnly)
}

// Accessed returns the access flag.
func (p *PTE) Accessed() bool {
	return p.HasFlags(AccessFlag)
}

// KernelExecuteNever returns true if EL1 may not execute from the page.
func (p *PTE) KernelExecuteNever() bool {
	return p.HasFlags(PXN)
}

// UserExecuteNever returns true if EL0 may not execute from the page.
func (p *PTE) UserExecuteNever() bool {
	return p.HasFlags(UXN)
}

// CopyOnWrite returns the software copy-on-write bit.
func (p *PTE) CopyOnWrite() bool {
	return p.HasFlags(CopyOnWrite)
}

// Library returns the software shared-library bit.
func (p *PTE) Library() bool {
	return p.HasFlags(Library)
}

// Set installs a descriptor for addr. The address is truncated to the
// page frame.
func (p *PTE) Set(addr bootarch.Addr, f Flags) {
	*p = PTE(uint64(addr)&addressMask) | PTE(f&^addressMask)
}

// Clear clears this PTE.
func (p *PTE) Clear() {
	*p = 0
}

// setPageTable links a child table at physical address addr.
func (p *PTE) setPageTable(addr bootarch.Addr) {
	p.Set(addr, Mandatory)
}

// String implements fmt.Stringer.String.
func (p PTE) String() string {
	if !p.Valid() {
		return "invalid"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%#x %s %s", uint64(p.Address()), p.MemoryType().ShortString(), p.Shareability().ShortString())
	if p.User() {
		b.WriteString(" user")
	} else {
		b.WriteString(" kern")
	}
	if p.ReadOnly() {
		b.WriteString(" ro")
	} else {
		b.WriteString(" rw")
	}
	for _, f := range []struct {
		set  bool
		name string
	}{
		{p.Accessed(), "af"},
		{p.KernelExecuteNever(), "pxn"},
		{p.UserExecuteNever(), "uxn"},
		{p.CopyOnWrite(), "cow"},
		{p.Library(), "lib"},
	} {
		if f.set {
			b.WriteString(" ")
			b.WriteString(f.name)
		}
	}
	return b.String()
}
