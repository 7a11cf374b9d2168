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

// Package cmd holds implementations of the bootvm commands.
package cmd

import (
	"fmt"
	"io"
	"os"

	"oslabpi.dev/bootvm/bootvm/config"
	"oslabpi.dev/bootvm/pkg/bootmem"
	"oslabpi.dev/bootvm/pkg/log"
	"oslabpi.dev/bootvm/pkg/memlayout"
	"oslabpi.dev/bootvm/pkg/pagetables"
	"oslabpi.dev/bootvm/pkg/vminit"
)

// ErrorLogger is where error messages should be written to.
var ErrorLogger io.Writer = os.Stderr

// Fatalf logs to stderr and exits with a failure status code.
func Fatalf(format string, args ...any) {
	log.Warningf("FATAL ERROR: "+format, args...)
	fmt.Fprintf(ErrorLogger, format+"\n", args...)
	os.Exit(128)
}

// tables returns the boot address space selected by conf. If image is
// empty the tables are built from the layout, otherwise they are loaded
// from an image written by the build command.
func tables(conf *config.Config, image string) (*vminit.Result, memlayout.Layout, error) {
	l, err := conf.Layout()
	if err != nil {
		return nil, l, err
	}
	if image == "" {
		r, err := vminit.Build(l)
		return r, l, err
	}

	f, err := os.Open(image)
	if err != nil {
		return nil, l, fmt.Errorf("opening image: %w", err)
	}
	defer f.Close()
	a, err := bootmem.Load(l.PgdirBase, l.PgdirLimit, f)
	if err != nil {
		return nil, l, fmt.Errorf("loading image %q: %w", image, err)
	}
	if a.Used() == 0 {
		return nil, l, fmt.Errorf("image %q is empty", image)
	}
	log.Debugf("Loaded %d table pages from %q", a.Used(), image)
	return &vminit.Result{Tables: pagetables.FromRoot(a, l.PgdirBase), Allocator: a}, l, nil
}
