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
	"oslabpi.dev/bootvm/pkg/bootarch"
)

// Walk returns the level 3 slot that translates va, allocating and linking
// missing level 2 and level 3 tables on the way down.
//
// The returned slot may still be empty; the caller installs its content.
// Bits of va beyond the 39-bit address width are ignored.
func (p *PageTables) Walk(va bootarch.Addr) *PTE {
	l1 := &p.root[va.L1Index()]
	l2 := &p.descend(l1)[va.L2Index()]
	return &p.descend(l2)[va.L3Index()]
}

// descend returns the table that e points to, first creating it if e is
// empty.
func (p *PageTables) descend(e *PTE) *PTEs {
	if e.Valid() {
		return p.Allocator.LookupPTEs(e.Address())
	}
	ptes := p.Allocator.NewPTEs()
	e.setPageTable(p.Allocator.PhysicalFor(ptes))
	return ptes
}

// lookup is Walk without allocation. It returns nil if either intermediate
// table is missing.
func (p *PageTables) lookup(va bootarch.Addr) *PTE {
	l1 := &p.root[va.L1Index()]
	if !l1.Valid() {
		return nil
	}
	l2 := &p.Allocator.LookupPTEs(l1.Address())[va.L2Index()]
	if !l2.Valid() {
		return nil
	}
	return &p.Allocator.LookupPTEs(l2.Address())[va.L3Index()]
}

// ForEachMapping calls fn for every valid leaf entry in ascending virtual
// address order. Iteration stops when fn returns false.
func (p *PageTables) ForEachMapping(fn func(va bootarch.Addr, pte *PTE) bool) {
	for i := range p.root {
		l1 := &p.root[i]
		if !l1.Valid() {
			continue
		}
		l2s := p.Allocator.LookupPTEs(l1.Address())
		for j := range l2s {
			l2 := &l2s[j]
			if !l2.Valid() {
				continue
			}
			l3s := p.Allocator.LookupPTEs(l2.Address())
			for k := range l3s {
				if !l3s[k].Valid() {
					continue
				}
				if !fn(bootarch.Compose(i, j, k, 0), &l3s[k]) {
					return
				}
			}
		}
	}
}

// CountTables returns the number of tables reachable from the root,
// including the root itself.
func (p *PageTables) CountTables() int {
	n := 1
	for i := range p.root {
		l1 := &p.root[i]
		if !l1.Valid() {
			continue
		}
		n++
		l2s := p.Allocator.LookupPTEs(l1.Address())
		for j := range l2s {
			if l2s[j].Valid() {
				n++
			}
		}
	}
	return n
}
