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

// Package memlayout holds the physical, kernel and user memory map shared
// with the boot stub and the linker script.
//
//	             +-------------+--------------------------------+  0x40001000
//	             |             | Interrupt Mask Control         |
//	             |  Device     +--------------------------------+  0x40000000
//	             |             | Conventional Device I/O        |
//	   PLimit    +-------------+--------------------------------+  0x3F000000
//	             |              PAGED MEMORY                    |
//	             +-------------+--------------------------------+  0x01800000 <== PReservedTop
//	             |             | Time Stack                     |
//	             +-------------+--------------------------------+  0x00B60000
//	             |  Kernel     | ENVS                           |
//	             |  Data       +--------------------------------+  0x00B00000
//	             |  Structure  | PAGES                          |
//	             +-------------+--------------------------------+  0x00500000
//	             |   VM        | Boot page tables               |
//	             +-------------+--------------------------------+  0x00200000
//	             |             | Kernel Text                    |
//	 KernelText  +-------------+--------------------------------+  0x00080000
//	 PStackTop   |             | Kernel Stack                   |
//	             +-------------+--------------------------------+
package memlayout

import (
	"fmt"

	"oslabpi.dev/bootvm/pkg/bootarch"
)

// Physical memory map.
const (
	PLimit         bootarch.Addr = 0x3F000000
	PReservedTop   bootarch.Addr = 0x01800000
	PTimeStackTop  bootarch.Addr = 0x01800000
	PEnvsBase      bootarch.Addr = 0x00B00000
	PPagesBase     bootarch.Addr = 0x00500000
	PPgdirBase     bootarch.Addr = 0x00200000
	PStackTop      bootarch.Addr = 0x00080000
	KernelText     bootarch.Addr = 0x00080000
	DeviceBase     bootarch.Addr = PLimit
	DeviceSize                   = 0x01000000
	ControlRegBase bootarch.Addr = 0x40000000
	ControlRegSize               = bootarch.PageSize
)

// Kernel window aliases of the physical map.
const (
	KTimeStackTop = PTimeStackTop | bootarch.KernelBase
	KEnvsBase     = PEnvsBase | bootarch.KernelBase
	KPagesBase    = PPagesBase | bootarch.KernelBase
	KPgdirBase    = PPgdirBase | bootarch.KernelBase
	KStackTop     = PStackTop | bootarch.KernelBase
)

// User address space.
const (
	UPagesBase bootarch.Addr = 0x90000000
	UEnvsBase  bootarch.Addr = 0x80000000
	ULimit     bootarch.Addr = 0x80000000
	UXStackTop bootarch.Addr = 0x80000000
	UStackTop  bootarch.Addr = 0x01000000
	UVPD       bootarch.Addr = 0x7040200000
	UVPM       bootarch.Addr = 0x7040000000
	UVPT       bootarch.Addr = 0x7000000000
)

// Layout is the part of the memory map that drives construction of the
// boot address space.
type Layout struct {
	// PgdirBase is where the boot allocator starts handing out tables.
	PgdirBase bootarch.Addr `toml:"pgdir_base" json:"pgdirBase" yaml:"pgdir_base"`

	// PgdirLimit bounds the table region. It is the base of the next
	// reserved region.
	PgdirLimit bootarch.Addr `toml:"pgdir_limit" json:"pgdirLimit" yaml:"pgdir_limit"`

	// PhysLimit is the end of general RAM and the start of the device
	// window.
	PhysLimit bootarch.Addr `toml:"phys_limit" json:"physLimit" yaml:"phys_limit"`

	// DeviceSize is the length of the device window.
	DeviceSize uint64 `toml:"device_size" json:"deviceSize" yaml:"device_size"`

	// ControlRegBase is the single control register page.
	ControlRegBase bootarch.Addr `toml:"control_reg_base" json:"controlRegBase" yaml:"control_reg_base"`
}

// Default returns the layout of the Raspberry Pi 3 memory map.
func Default() Layout {
	return Layout{
		PgdirBase:      PPgdirBase,
		PgdirLimit:     PPagesBase,
		PhysLimit:      PLimit,
		DeviceSize:     DeviceSize,
		ControlRegBase: ControlRegBase,
	}
}

// PgdirRange is the region reserved for boot page tables.
func (l *Layout) PgdirRange() bootarch.AddrRange {
	return bootarch.AddrRange{Start: l.PgdirBase, End: l.PgdirLimit}
}

// RAMRange is the identity-mapped normal memory.
func (l *Layout) RAMRange() bootarch.AddrRange {
	return bootarch.AddrRange{Start: 0, End: l.PhysLimit}
}

// DeviceRange is the memory-mapped peripheral window.
func (l *Layout) DeviceRange() bootarch.AddrRange {
	return bootarch.AddrRange{Start: l.PhysLimit, End: l.PhysLimit + bootarch.Addr(l.DeviceSize)}
}

// ControlRange is the control register page.
func (l *Layout) ControlRange() bootarch.AddrRange {
	return bootarch.AddrRange{Start: l.ControlRegBase, End: l.ControlRegBase + ControlRegSize}
}

// TablePages returns how many tables fit in the reserved region.
func (l *Layout) TablePages() uint64 {
	if l.PgdirLimit <= l.PgdirBase {
		return 0
	}
	return uint64(l.PgdirLimit-l.PgdirBase) >> bootarch.PageShift
}

// Validate checks the alignment and ordering contract that the mapping
// code relies on but does not check itself.
func (l *Layout) Validate() error {
	for _, f := range []struct {
		name string
		v    uint64
	}{
		{"pgdir_base", uint64(l.PgdirBase)},
		{"pgdir_limit", uint64(l.PgdirLimit)},
		{"phys_limit", uint64(l.PhysLimit)},
		{"device_size", l.DeviceSize},
		{"control_reg_base", uint64(l.ControlRegBase)},
	} {
		if !bootarch.Addr(f.v).IsPageAligned() {
			return fmt.Errorf("%s %#x is not page aligned", f.name, f.v)
		}
	}
	if l.PgdirLimit <= l.PgdirBase {
		return fmt.Errorf("page table region %v is empty", l.PgdirRange())
	}
	if l.PhysLimit == 0 {
		return fmt.Errorf("phys_limit must be non-zero")
	}
	if l.DeviceSize == 0 {
		return fmt.Errorf("device_size must be non-zero")
	}
	if _, ok := l.PhysLimit.AddLength(l.DeviceSize); !ok {
		return fmt.Errorf("device window at %v of size %#x overflows", l.PhysLimit, l.DeviceSize)
	}
	for _, r := range []bootarch.AddrRange{l.RAMRange(), l.DeviceRange(), l.ControlRange()} {
		if r.End > bootarch.AddressMask+1 {
			return fmt.Errorf("range %v exceeds the %d-bit address space", r, bootarch.AddressBits)
		}
	}
	if !l.RAMRange().Contains(l.PgdirBase) || l.PgdirLimit > l.PhysLimit {
		return fmt.Errorf("page table region %v is outside RAM %v", l.PgdirRange(), l.RAMRange())
	}
	return nil
}
