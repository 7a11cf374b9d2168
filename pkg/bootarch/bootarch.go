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

// Package bootarch describes the addressing of the boot-time translation
// regime: 4K granule, three levels of 512 entries and a 39-bit virtual
// address.
//
//	[ L1 (9) | L2 (9) | L3 (9) | offset (12) ]
//	  38..30   29..21   20..12   11..0
package bootarch

const (
	// PageShift is the binary log of the page size.
	PageShift = 12

	// PageSize is the granule size in bytes.
	PageSize = 1 << PageShift

	// EntrySize is the size of a single translation entry in bytes.
	EntrySize = 8

	// EntriesPerTable is the number of entries in one translation table.
	EntriesPerTable = PageSize / EntrySize

	// IndexBits is the number of address bits consumed by each level.
	IndexBits = 9

	// IndexMask extracts one level index after shifting.
	IndexMask = EntriesPerTable - 1

	// L1Shift, L2Shift and L3Shift locate each level index in a virtual
	// address.
	L1Shift = 30
	L2Shift = 21
	L3Shift = PageShift

	// L1Size, L2Size and L3Size are the spans covered by one entry at
	// each level.
	L1Size = 1 << L1Shift
	L2Size = 1 << L2Shift
	L3Size = 1 << L3Shift

	// AddressBits is the width of a translated virtual address.
	AddressBits = 39

	// AddressMask keeps the translated bits of a virtual address.
	AddressMask = (1 << AddressBits) - 1

	// TableSpan is the size of the whole translated space.
	TableSpan = PageSize * EntriesPerTable * EntriesPerTable * EntriesPerTable
)

// Affine translation between physical and kernel virtual addresses.
const (
	// KernelBase is OR'ed into a physical address to obtain its alias in
	// the high-half kernel window.
	KernelBase = 0xFFFFFF8000000000

	// PhysicalMask recovers a physical address from a kernel window
	// address.
	PhysicalMask = 0xFFFFFFFF
)
