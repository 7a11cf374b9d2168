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

package bootarch

import (
	"fmt"
	"strconv"
	"strings"
)

// Addr is a physical or virtual address in the boot address space.
type Addr uint64

// String implements fmt.Stringer.String.
func (v Addr) String() string {
	return fmt.Sprintf("%#x", uint64(v))
}

// RoundDown returns the address rounded down to the nearest page boundary.
func (v Addr) RoundDown() Addr {
	return v & ^Addr(PageSize-1)
}

// RoundUp returns the address rounded up to the nearest page boundary. ok
// is true iff rounding up did not wrap around.
func (v Addr) RoundUp() (addr Addr, ok bool) {
	addr = Addr(v + PageSize - 1).RoundDown()
	ok = addr >= v
	return
}

// MustRoundUp is equivalent to RoundUp, but panics if rounding up wraps
// around.
func (v Addr) MustRoundUp() Addr {
	addr, ok := v.RoundUp()
	if !ok {
		panic(fmt.Sprintf("bootarch.Addr(%#x).RoundUp() wraps", v))
	}
	return addr
}

// IsPageAligned returns true if v is aligned to a page boundary.
func (v Addr) IsPageAligned() bool {
	return v.PageOffset() == 0
}

// PageOffset returns the offset of v into the current page.
func (v Addr) PageOffset() uint64 {
	return uint64(v & (PageSize - 1))
}

// AddLength adds the given length to start and returns the result. ok is
// true iff adding the length did not overflow.
func (v Addr) AddLength(length uint64) (end Addr, ok bool) {
	end = v + Addr(length)
	ok = end >= v
	return
}

// L1Index returns the index into the root table.
func (v Addr) L1Index() int {
	return int((v >> L1Shift) & IndexMask)
}

// L2Index returns the index into the middle table.
func (v Addr) L2Index() int {
	return int((v >> L2Shift) & IndexMask)
}

// L3Index returns the index into the leaf table.
func (v Addr) L3Index() int {
	return int((v >> L3Shift) & IndexMask)
}

// Indices returns the three table indices and the page offset of v.
func (v Addr) Indices() (l1, l2, l3 int, off uint64) {
	return v.L1Index(), v.L2Index(), v.L3Index(), v.PageOffset()
}

// Compose is the inverse of Indices. Indices are truncated to nine bits
// and the offset to twelve.
func Compose(l1, l2, l3 int, off uint64) Addr {
	return Addr(uint64(l1)&IndexMask)<<L1Shift |
		Addr(uint64(l2)&IndexMask)<<L2Shift |
		Addr(uint64(l3)&IndexMask)<<L3Shift |
		Addr(off&(PageSize-1))
}

// Translated returns v with the bits beyond the address width cleared.
func (v Addr) Translated() Addr {
	return v & AddressMask
}

// PageNumber returns the page number of v within the translated space.
func (v Addr) PageNumber() uint64 {
	return uint64(v&AddressMask) >> PageShift
}

// KernelAddr returns the high-half kernel alias of the physical address v.
func (v Addr) KernelAddr() Addr {
	return v | KernelBase
}

// Physical returns the physical address behind the kernel alias v.
func (v Addr) Physical() Addr {
	return v & PhysicalMask
}

// IsKernelAddr returns true if v lies in the high-half kernel window.
func (v Addr) IsKernelAddr() bool {
	return v&KernelBase == KernelBase
}

// ParseAddr parses a hexadecimal (0x prefixed) or decimal address. '_'
// separators are accepted.
func ParseAddr(s string) (Addr, error) {
	s = strings.TrimSpace(s)
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q: %w", s, err)
	}
	return Addr(v), nil
}

// AddrRange is a range of addresses [Start, End).
type AddrRange struct {
	Start Addr
	End   Addr
}

// Length returns the length of the range.
func (ar AddrRange) Length() uint64 {
	return uint64(ar.End - ar.Start)
}

// Contains returns true if ar contains x.
func (ar AddrRange) Contains(x Addr) bool {
	return ar.Start <= x && x < ar.End
}

// Overlaps returns true if ar and other share at least one address.
func (ar AddrRange) Overlaps(other AddrRange) bool {
	return ar.Start < other.End && other.Start < ar.End
}

// String implements fmt.Stringer.String.
func (ar AddrRange) String() string {
	return fmt.Sprintf("[%#x, %#x)", uint64(ar.Start), uint64(ar.End))
}
