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

package vminit

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
	"oslabpi.dev/bootvm/pkg/bootarch"
	"oslabpi.dev/bootvm/pkg/log"
	"oslabpi.dev/bootvm/pkg/memlayout"
	"oslabpi.dev/bootvm/pkg/pagetables"
)

// MismatchError reports pages of a segment that do not translate as built.
type MismatchError struct {
	Segment string
	Pages   int
	First   bootarch.Addr
}

// Error implements error.Error.
func (e *MismatchError) Error() string {
	return fmt.Sprintf("segment %s: %d pages mismatched, first at %v", e.Segment, e.Pages, e.First)
}

// Verify checks that every page of every segment of l translates through
// r.Tables to its physical page with the segment's flags, both at its
// identity address and at its kernel window alias. Pages overridden by a
// later segment are checked against that segment only.
//
// Segments are checked concurrently; the tables are only read.
func Verify(ctx context.Context, r *Result, l memlayout.Layout) error {
	segs := Segments(l)
	warn := log.RateLimitedLogger(log.Log(), time.Second, 8)
	g, ctx := errgroup.WithContext(ctx)
	for i := range segs {
		s, later := segs[i], segs[i+1:]
		g.Go(func() error {
			return verifySegment(ctx, r.Tables, s, later, warn)
		})
	}
	return g.Wait()
}

func verifySegment(ctx context.Context, pt *pagetables.PageTables, s Segment, later []Segment, warn log.Logger) error {
	want := s.Flags | pagetables.Mandatory
	var bad *MismatchError
	for off := uint64(0); off < s.Size; off += bootarch.PageSize {
		if off&(bootarch.L2Size-1) == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		va := s.Virtual + bootarch.Addr(off)
		if overridden(va, later) {
			continue
		}
		pa := (s.Physical + bootarch.Addr(off)).RoundDown()
		ok := true
		for _, alias := range []bootarch.Addr{va, va.KernelAddr()} {
			got, pte, mapped := pt.Lookup(alias)
			if mapped && got.RoundDown() == pa && pte.Flags() == want {
				continue
			}
			warn.Warningf("Segment %s: %v translates to %v (%v, mapped %t), want %v (%v)", s.Name, alias, got, pte, mapped, pa, want)
			ok = false
		}
		if !ok {
			if bad == nil {
				bad = &MismatchError{Segment: s.Name, First: va}
			}
			bad.Pages++
		}
	}
	if bad != nil {
		return bad
	}
	log.Debugf("Segment %s verified: %v", s.Name, s.Range())
	return nil
}

func overridden(va bootarch.Addr, later []Segment) bool {
	page := va.RoundDown()
	for _, s := range later {
		r := bootarch.AddrRange{Start: s.Virtual.RoundDown(), End: s.Virtual + bootarch.Addr(s.Size)}
		if r.Contains(page) {
			return true
		}
	}
	return false
}
