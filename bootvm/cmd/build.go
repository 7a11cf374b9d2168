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

package cmd

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/gofrs/flock"
	"github.com/google/subcommands"
	"oslabpi.dev/bootvm/bootvm/config"
	"oslabpi.dev/bootvm/pkg/log"
	"oslabpi.dev/bootvm/pkg/vminit"
)

// Build implements subcommands.Command for the "build" command.
type Build struct {
	output string
	verify bool
}

// Name implements subcommands.Command.Name.
func (*Build) Name() string {
	return "build"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Build) Synopsis() string {
	return "build the boot page tables and write the table image"
}

// Usage implements subcommands.Command.Usage.
func (*Build) Usage() string {
	return `build [flags] - build the boot page tables.

The image holds the used part of the page table region, starting with the
root table, as little-endian 64-bit entries. The boot stub copies it to the
region base and loads the printed TTBR value before enabling the MMU.

EXAMPLE:
    $ bootvm build -o pgdir.img
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (b *Build) SetFlags(f *flag.FlagSet) {
	f.StringVar(&b.output, "o", "pgdir.img", "path of the table image to write.")
	f.BoolVar(&b.verify, "verify", true, "check every mapped page before writing the image.")
}

// Execute implements subcommands.Command.Execute.
func (b *Build) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	if err := b.run(ctx, conf, os.Stdout); err != nil {
		Fatalf("build failed: %v", err)
	}
	return subcommands.ExitSuccess
}

func (b *Build) run(ctx context.Context, conf *config.Config, w io.Writer) error {
	l, err := conf.Layout()
	if err != nil {
		return err
	}
	r, err := vminit.Build(l)
	if err != nil {
		return err
	}
	if b.verify {
		if err := vminit.Verify(ctx, r, l); err != nil {
			return fmt.Errorf("verifying tables: %w", err)
		}
	}

	unlock, err := lockImage(b.output)
	if err != nil {
		return err
	}
	defer unlock()

	out, err := os.OpenFile(b.output, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("creating image: %w", err)
	}
	n, err := r.Allocator.WriteTo(out)
	if err != nil {
		out.Close()
		return fmt.Errorf("writing image %q: %w", b.output, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("writing image %q: %w", b.output, err)
	}
	log.Infof("Wrote %d bytes to %q", n, b.output)

	fmt.Fprintf(w, "image:  %s (%d bytes)\n", b.output, n)
	fmt.Fprintf(w, "root:   %v\n", r.Tables.RootPhysical())
	fmt.Fprintf(w, "ttbr:   %#x\n", r.Tables.TTBR())
	fmt.Fprintf(w, "tables: %d of %d pages\n", r.Allocator.Used(), r.Allocator.Capacity())
	return nil
}

// lockImage takes a file lock next to the image so that concurrent builds
// do not interleave their writes.
func lockImage(image string) (func() error, error) {
	f := image + ".lock"
	l := flock.New(f)
	if err := l.Lock(); err != nil {
		return nil, fmt.Errorf("error acquiring lock on image lock file %q: %v", f, err)
	}
	return l.Unlock, nil
}
