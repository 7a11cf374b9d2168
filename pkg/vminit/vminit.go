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

// Package vminit lays out the boot address space.
//
// Build resets the boot allocator, allocates the root table and maps, in
// order, general RAM, the device window and the control register page, all
// virtual-equals-physical. The populated region is what the boot stub
// installs before enabling the MMU.
package vminit

import (
	"fmt"

	"oslabpi.dev/bootvm/pkg/bootarch"
	"oslabpi.dev/bootvm/pkg/bootmem"
	"oslabpi.dev/bootvm/pkg/log"
	"oslabpi.dev/bootvm/pkg/memlayout"
	"oslabpi.dev/bootvm/pkg/pagetables"
)

// Segment is one identity mapping issued by Build.
type Segment struct {
	Name     string
	Virtual  bootarch.Addr
	Physical bootarch.Addr
	Size     uint64
	Flags    pagetables.Flags
}

// Range returns the virtual range covered by s.
func (s Segment) Range() bootarch.AddrRange {
	return bootarch.AddrRange{Start: s.Virtual, End: s.Virtual + bootarch.Addr(s.Size)}
}

// Segments returns the mappings Build issues for l, in the order they are
// applied. A later segment overrides any page it shares with an earlier one.
func Segments(l memlayout.Layout) []Segment {
	return []Segment{
		{
			Name:     "ram",
			Virtual:  0,
			Physical: 0,
			Size:     uint64(l.PhysLimit),
			Flags:    pagetables.AttrNormal | pagetables.ShareInner,
		},
		{
			Name:     "device",
			Virtual:  l.PhysLimit,
			Physical: l.PhysLimit,
			Size:     l.DeviceSize,
			Flags:    pagetables.AttrDevice | pagetables.ShareOuter,
		},
		{
			Name:     "control",
			Virtual:  l.ControlRegBase,
			Physical: l.ControlRegBase,
			Size:     memlayout.ControlRegSize,
			Flags:    pagetables.AttrDevice | pagetables.ShareOuter,
		},
	}
}

// Result is a constructed boot address space.
type Result struct {
	// Tables is rooted at the first page of the reserved region.
	Tables *pagetables.PageTables

	// Allocator owns every table in Tables.
	Allocator *bootmem.Allocator
}

// Build constructs the boot address space for l.
//
// l is not validated here; callers that accept external layouts should
// call Validate first. The only reported failure is exhaustion of the
// reserved region.
func Build(l memlayout.Layout) (*Result, error) {
	a := bootmem.New(l.PgdirBase, l.PgdirLimit)
	return BuildWith(a, l)
}

// BuildWith is Build with a caller-supplied allocator. The allocator is
// reset first, so its previous contents are discarded.
func BuildWith(a *bootmem.Allocator, l memlayout.Layout) (r *Result, err error) {
	defer func() {
		if v := recover(); v != nil {
			ee, ok := v.(*bootmem.ExhaustedError)
			if !ok {
				panic(v)
			}
			r, err = nil, fmt.Errorf("building boot address space: %w", ee)
		}
	}()

	a.Reset()
	pt := pagetables.New(a)
	log.Debugf("Boot page table root at %v, region %v", pt.RootPhysical(), a.Region())
	for _, s := range Segments(l) {
		before := a.Used()
		pt.MapSegment(s.Virtual, s.Size, s.Physical, s.Flags)
		log.Infof("Mapped %s %v -> %v (%v), %d new tables", s.Name, s.Range(), s.Physical, s.Flags|pagetables.Mandatory, a.Used()-before)
	}
	log.Infof("Boot address space built: %d of %d table pages used, TTBR %#x", a.Used(), a.Capacity(), pt.TTBR())
	return &Result{Tables: pt, Allocator: a}, nil
}
