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

// Attributes is an architecture-neutral view of a leaf entry.
type Attributes struct {
	Writable         bool `json:"writable" yaml:"writable"`
	UserAccessible   bool `json:"user" yaml:"user"`
	Device           bool `json:"device" yaml:"device"`
	KernelExecutable bool `json:"kernelExec" yaml:"kernel_exec"`
	UserExecutable   bool `json:"userExec" yaml:"user_exec"`
	CopyOnWrite      bool `json:"cow" yaml:"cow"`
	Library          bool `json:"library" yaml:"library"`
}

// Attributes decodes the entry.
func (p *PTE) Attributes() Attributes {
	return Attributes{
		Writable:         !p.ReadOnly(),
		UserAccessible:   p.User(),
		Device:           p.MemoryType() == MemoryDevice,
		KernelExecutable: !p.KernelExecuteNever(),
		UserExecutable:   !p.UserExecuteNever(),
		CopyOnWrite:      p.CopyOnWrite(),
		Library:          p.Library(),
	}
}

// Flags encodes the attributes for a leaf entry. Device memory is outer
// shareable, everything else is inner shareable normal memory.
func (a Attributes) Flags() Flags {
	f := AccessFlag | Granule4K
	if a.Device {
		f |= AttrDevice | ShareOuter
	} else {
		f |= AttrNormal | ShareInner
	}
	if a.UserAccessible {
		f |= User
	}
	if !a.Writable {
		f |= ReadOnly
	}
	if !a.KernelExecutable {
		f |= PXN
	}
	if !a.UserExecutable {
		f |= UXN
	}
	if a.CopyOnWrite {
		f |= CopyOnWrite
	}
	if a.Library {
		f |= Library
	}
	return f
}

// String implements fmt.Stringer.String.
func (f Flags) String() string {
	p := PTE(f &^ addressMask)
	if !p.Valid() {
		return "invalid"
	}
	// Drop the leading zero address.
	s := p.String()
	return s[len("0x0 "):]
}
