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

import "fmt"

// MemoryType is the MAIR slot selected by an entry. The boot stub programs
// MAIR_EL1 to match.
type MemoryType uint8

const (
	// MemoryNormal is normal write-back cacheable memory. It must be the
	// zero value for MemoryType.
	MemoryNormal MemoryType = iota

	// MemoryDevice is Device-nGnRnE.
	MemoryDevice

	// MemoryNonCacheable is normal non-cacheable memory.
	MemoryNonCacheable

	// NumMemoryTypes is the number of memory types.
	NumMemoryTypes
)

// String implements fmt.Stringer.String.
func (mt MemoryType) String() string {
	switch mt {
	case MemoryNormal:
		return "Normal"
	case MemoryDevice:
		return "Device"
	case MemoryNonCacheable:
		return "NonCacheable"
	default:
		return fmt.Sprintf("%d", mt)
	}
}

// ShortString returns a two-character string compactly representing the
// MemoryType.
func (mt MemoryType) ShortString() string {
	switch mt {
	case MemoryNormal:
		return "WB"
	case MemoryDevice:
		return "DV"
	case MemoryNonCacheable:
		return "NC"
	default:
		return fmt.Sprintf("%02d", mt)
	}
}

// Shareability is the coherency domain of a mapping.
type Shareability uint8

const (
	// NonShareable is the zero value.
	NonShareable Shareability = 0

	// OuterShareable and InnerShareable follow the SH[1:0] encoding; 1 is
	// reserved.
	OuterShareable Shareability = 2
	InnerShareable Shareability = 3
)

// String implements fmt.Stringer.String.
func (s Shareability) String() string {
	switch s {
	case NonShareable:
		return "NonShareable"
	case OuterShareable:
		return "OuterShareable"
	case InnerShareable:
		return "InnerShareable"
	default:
		return fmt.Sprintf("Shareability(%d)", uint8(s))
	}
}

// ShortString returns a compact form of the Shareability.
func (s Shareability) ShortString() string {
	switch s {
	case NonShareable:
		return "nsh"
	case OuterShareable:
		return "osh"
	case InnerShareable:
		return "ish"
	default:
		return "rsv"
	}
}
