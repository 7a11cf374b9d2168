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

// Package bootmem provides the bump allocator that backs boot page tables.
//
// The allocator owns the physical region [base, limit). Pages are handed out
// in address order, zero-filled, and never returned. The region contents
// can be written out as the image the boot stub places at base.
package bootmem

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"oslabpi.dev/bootvm/pkg/bootarch"
	"oslabpi.dev/bootvm/pkg/pagetables"
)

// ExhaustedError is the panic value raised by NewPTEs when the region has
// no room for another page.
type ExhaustedError struct {
	// Region is the reserved region.
	Region bootarch.AddrRange
}

// Error implements error.Error.
func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("boot page table region %v exhausted (%d pages)", e.Region, e.Region.Length()/bootarch.PageSize)
}

// Allocator is a bump allocator over a reserved physical region.
//
// Allocator is not thread-safe.
type Allocator struct {
	base  bootarch.Addr
	limit bootarch.Addr

	// used is the number of pages handed out since the last Reset. The
	// cursor is base + used*PageSize.
	used int

	// pages backs the region. pages[i] lives at base + i*PageSize and is
	// kept across Reset.
	pages []*pagetables.PTEs

	// physical maps backing pages to their address.
	physical map[*pagetables.PTEs]bootarch.Addr
}

// New returns an allocator for [base, limit). base is rounded up and limit
// rounded down to a page boundary so the cursor stays aligned.
func New(base, limit bootarch.Addr) *Allocator {
	base = base.MustRoundUp()
	limit = limit.RoundDown()
	if limit < base {
		limit = base
	}
	return &Allocator{
		base:     base,
		limit:    limit,
		physical: make(map[*pagetables.PTEs]bootarch.Addr),
	}
}

// Reset moves the cursor back to the start of the region. Previously
// returned pages are zeroed again when they are handed out.
func (a *Allocator) Reset() {
	a.used = 0
}

// Region returns the reserved region.
func (a *Allocator) Region() bootarch.AddrRange {
	return bootarch.AddrRange{Start: a.base, End: a.limit}
}

// Cursor returns the address of the next page.
func (a *Allocator) Cursor() bootarch.Addr {
	return a.base + bootarch.Addr(a.used)*bootarch.PageSize
}

// Used returns the number of pages handed out.
func (a *Allocator) Used() int {
	return a.used
}

// Capacity returns the number of pages in the region.
func (a *Allocator) Capacity() int {
	return int(uint64(a.limit-a.base) >> bootarch.PageShift)
}

// Remaining returns the number of pages still available.
func (a *Allocator) Remaining() int {
	return a.Capacity() - a.used
}

// Alloc returns the next zeroed page and its physical address.
func (a *Allocator) Alloc() (*pagetables.PTEs, bootarch.Addr, error) {
	if a.used >= a.Capacity() {
		return nil, 0, &ExhaustedError{Region: a.Region()}
	}
	addr := a.Cursor()
	var ptes *pagetables.PTEs
	if a.used < len(a.pages) {
		ptes = a.pages[a.used]
		*ptes = pagetables.PTEs{}
	} else {
		ptes = new(pagetables.PTEs)
		a.pages = append(a.pages, ptes)
		a.physical[ptes] = addr
	}
	a.used++
	return ptes, addr, nil
}

// NewPTEs implements pagetables.Allocator.NewPTEs. It panics with
// *ExhaustedError if the region is full.
func (a *Allocator) NewPTEs() *pagetables.PTEs {
	ptes, _, err := a.Alloc()
	if err != nil {
		panic(err)
	}
	return ptes
}

// PhysicalFor implements pagetables.Allocator.PhysicalFor.
func (a *Allocator) PhysicalFor(ptes *pagetables.PTEs) bootarch.Addr {
	addr, ok := a.physical[ptes]
	if !ok {
		panic(fmt.Sprintf("PTEs %p not in boot region %v", ptes, a.Region()))
	}
	return addr
}

// LookupPTEs implements pagetables.Allocator.LookupPTEs.
func (a *Allocator) LookupPTEs(physical bootarch.Addr) *pagetables.PTEs {
	if physical < a.base || !physical.IsPageAligned() {
		panic(fmt.Sprintf("table address %v not in boot region %v", physical, a.Region()))
	}
	i := int(uint64(physical-a.base) >> bootarch.PageShift)
	if i >= a.used {
		panic(fmt.Sprintf("table address %v beyond cursor %v", physical, a.Cursor()))
	}
	return a.pages[i]
}

// countingWriter counts the bytes accepted by the underlying writer.
type countingWriter struct {
	w io.Writer
	n int64
}

// Write implements io.Writer.Write.
func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// WriteTo implements io.WriterTo. It writes the pages handed out so far,
// starting at the region base, as little-endian 64-bit entries.
func (a *Allocator) WriteTo(w io.Writer) (int64, error) {
	cw := &countingWriter{w: w}
	bw := bufio.NewWriter(cw)
	for _, ptes := range a.pages[:a.used] {
		if err := binary.Write(bw, binary.LittleEndian, ptes); err != nil {
			return cw.n, err
		}
	}
	err := bw.Flush()
	return cw.n, err
}

// Load returns an allocator for [base, limit) whose first pages are read
// from an image produced by WriteTo. The root is the page at base; every
// table descriptor reachable from it must address a loaded page.
func Load(base, limit bootarch.Addr, r io.Reader) (*Allocator, error) {
	a := New(base, limit)
	br := bufio.NewReader(r)
	for {
		var page pagetables.PTEs
		if err := binary.Read(br, binary.LittleEndian, &page); err != nil {
			if err == io.EOF {
				break
			}
			if err == io.ErrUnexpectedEOF {
				return nil, fmt.Errorf("image is not a whole number of pages: %w", err)
			}
			return nil, err
		}
		ptes, _, err := a.Alloc()
		if err != nil {
			return nil, fmt.Errorf("image larger than region: %w", err)
		}
		*ptes = page
	}
	if err := a.checkTables(); err != nil {
		return nil, err
	}
	return a, nil
}

// checkTables verifies the level 1 and level 2 descriptors of the tree
// rooted at the region base. Level 3 entries are leaves and may address
// any page.
func (a *Allocator) checkTables() error {
	if a.used == 0 {
		return nil
	}
	root := a.pages[0]
	for i := range root {
		l1 := &root[i]
		if !l1.Valid() {
			continue
		}
		if err := a.checkTable(l1.Address()); err != nil {
			return fmt.Errorf("root entry %d: %w", i, err)
		}
		l2s := a.LookupPTEs(l1.Address())
		for j := range l2s {
			l2 := &l2s[j]
			if !l2.Valid() {
				continue
			}
			if err := a.checkTable(l2.Address()); err != nil {
				return fmt.Errorf("level 2 table %v entry %d: %w", l1.Address(), j, err)
			}
		}
	}
	return nil
}

// checkTable returns an error unless LookupPTEs(addr) would succeed.
func (a *Allocator) checkTable(addr bootarch.Addr) error {
	if !addr.IsPageAligned() || addr < a.base || addr >= a.Cursor() {
		return fmt.Errorf("table address %v outside loaded pages %v", addr, bootarch.AddrRange{Start: a.base, End: a.Cursor()})
	}
	return nil
}
