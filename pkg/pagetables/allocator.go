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

	"oslabpi.dev/bootvm/pkg/bootarch"
)

// Allocator is used to allocate and map PTEs.
//
// Tables are never freed during boot, so there is no FreePTEs.
type Allocator interface {
	// NewPTEs returns a new, zeroed table.
	NewPTEs() *PTEs

	// PhysicalFor returns the physical address for the given PTEs.
	PhysicalFor(ptes *PTEs) bootarch.Addr

	// LookupPTEs looks up PTEs by physical address.
	LookupPTEs(physical bootarch.Addr) *PTEs
}

// RuntimeAllocator hands out heap-backed tables at synthetic physical
// addresses. It has no capacity bound.
type RuntimeAllocator struct {
	next   bootarch.Addr
	byAddr map[bootarch.Addr]*PTEs
	byPTEs map[*PTEs]bootarch.Addr
}

// NewRuntimeAllocator returns an allocator whose first table sits at base.
func NewRuntimeAllocator(base bootarch.Addr) *RuntimeAllocator {
	return &RuntimeAllocator{
		next:   base.RoundDown(),
		byAddr: make(map[bootarch.Addr]*PTEs),
		byPTEs: make(map[*PTEs]bootarch.Addr),
	}
}

// NewPTEs implements Allocator.NewPTEs.
func (r *RuntimeAllocator) NewPTEs() *PTEs {
	ptes := new(PTEs)
	r.byAddr[r.next] = ptes
	r.byPTEs[ptes] = r.next
	r.next += bootarch.PageSize
	return ptes
}

// PhysicalFor implements Allocator.PhysicalFor.
func (r *RuntimeAllocator) PhysicalFor(ptes *PTEs) bootarch.Addr {
	addr, ok := r.byPTEs[ptes]
	if !ok {
		panic(fmt.Sprintf("PTEs %p not allocated here", ptes))
	}
	return addr
}

// LookupPTEs implements Allocator.LookupPTEs.
func (r *RuntimeAllocator) LookupPTEs(physical bootarch.Addr) *PTEs {
	ptes, ok := r.byAddr[physical]
	if !ok {
		panic(fmt.Sprintf("no PTEs at %v", physical))
	}
	return ptes
}

// Count returns the number of tables allocated.
func (r *RuntimeAllocator) Count() int {
	return len(r.byAddr)
}
