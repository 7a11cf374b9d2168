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

// Package pagetables builds three-level arm64 translation tables with a 4K
// granule.
//
// Tables only grow: there is no unmap, and an entry is rewritten only by a
// later mapping of the same page.
package pagetables

import (
	"oslabpi.dev/bootvm/pkg/bootarch"
)

// PageTables is a set of page tables.
//
// PageTables is not safe for concurrent mutation. Read-only methods may be
// called concurrently once construction is complete.
type PageTables struct {
	// Allocator is used to allocate nodes.
	Allocator Allocator

	// root is the pagetable root.
	root *PTEs

	// rootPhysical is the cached physical address of the root.
	rootPhysical bootarch.Addr
}

// New returns new PageTables. The root is the next table handed out by a.
func New(a Allocator) *PageTables {
	p := &PageTables{Allocator: a}
	p.root = a.NewPTEs()
	p.rootPhysical = a.PhysicalFor(p.root)
	return p
}

// FromRoot returns PageTables for an existing tree whose root table is at
// physical address root.
func FromRoot(a Allocator, root bootarch.Addr) *PageTables {
	return &PageTables{
		Allocator:    a,
		root:         a.LookupPTEs(root),
		rootPhysical: root,
	}
}

// Root returns the root table.
func (p *PageTables) Root() *PTEs {
	return p.root
}

// RootPhysical returns the physical address of the root table.
func (p *PageTables) RootPhysical() bootarch.Addr {
	return p.rootPhysical
}

// TTBR returns the translation table base register value for these tables.
// ASID 0 is used.
func (p *PageTables) TTBR() uint64 {
	return uint64(p.rootPhysical)
}

// MapSegment maps [va, va+size) to [pa, pa+size) one page at a time with
// flags plus Mandatory.
//
// Inputs are not validated. Addresses are truncated to their page, and a
// trailing partial page is mapped in full. A page that is already mapped
// is overwritten.
func (p *PageTables) MapSegment(va bootarch.Addr, size uint64, pa bootarch.Addr, flags Flags) {
	for off := uint64(0); off < size; off += bootarch.PageSize {
		p.Walk(va+bootarch.Addr(off)).Set(pa+bootarch.Addr(off), flags|Mandatory)
	}
}

// Lookup returns the leaf entry for va and the physical address va
// translates to. ok is false if va is not mapped. No tables are allocated.
func (p *PageTables) Lookup(va bootarch.Addr) (pa bootarch.Addr, pte PTE, ok bool) {
	e := p.lookup(va)
	if e == nil || !e.Valid() {
		return 0, 0, false
	}
	return e.Address() + bootarch.Addr(va.PageOffset()), *e, true
}

// Region is a run of pages mapped contiguously with identical flags.
type Region struct {
	Virtual  bootarch.AddrRange
	Physical bootarch.Addr
	Flags    Flags
}

// Regions coalesces all leaf entries into maximal regions, in virtual
// address order.
func (p *PageTables) Regions() []Region {
	var rs []Region
	p.ForEachMapping(func(va bootarch.Addr, pte *PTE) bool {
		if n := len(rs); n > 0 {
			last := &rs[n-1]
			if last.Virtual.End == va &&
				last.Physical+bootarch.Addr(last.Virtual.Length()) == pte.Address() &&
				last.Flags == pte.Flags() {
				last.Virtual.End += bootarch.PageSize
				return true
			}
		}
		rs = append(rs, Region{
			Virtual:  bootarch.AddrRange{Start: va, End: va + bootarch.PageSize},
			Physical: pte.Address(),
			Flags:    pte.Flags(),
		})
		return true
	})
	return rs
}
