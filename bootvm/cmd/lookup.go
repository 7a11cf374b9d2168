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

	"github.com/google/subcommands"
	"oslabpi.dev/bootvm/bootvm/config"
	"oslabpi.dev/bootvm/pkg/bootarch"
)

// Lookup implements subcommands.Command for the "lookup" command.
type Lookup struct {
	image string
}

// Name implements subcommands.Command.Name.
func (*Lookup) Name() string {
	return "lookup"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Lookup) Synopsis() string {
	return "translate virtual addresses through the boot page tables"
}

// Usage implements subcommands.Command.Usage.
func (*Lookup) Usage() string {
	return `lookup [flags] <address>... - translate virtual addresses.

Addresses are parsed as Go integer literals (0x prefix for hex). For each
address the table indices, the leaf entry and the translated physical
address are printed, along with the kernel window alias of the result.

EXAMPLE:
    $ bootvm lookup 0x500000 0xffffff803f001000
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (l *Lookup) SetFlags(f *flag.FlagSet) {
	f.StringVar(&l.image, "image", "", "table image to read instead of building from the layout.")
}

// Execute implements subcommands.Command.Execute.
func (l *Lookup) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() == 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	if err := l.run(conf, f.Args(), os.Stdout); err != nil {
		Fatalf("lookup failed: %v", err)
	}
	return subcommands.ExitSuccess
}

func (l *Lookup) run(conf *config.Config, addrs []string, w io.Writer) error {
	vas := make([]bootarch.Addr, 0, len(addrs))
	for _, s := range addrs {
		va, err := bootarch.ParseAddr(s)
		if err != nil {
			return err
		}
		vas = append(vas, va)
	}

	r, _, err := tables(conf, l.image)
	if err != nil {
		return err
	}
	for _, va := range vas {
		l1, l2, l3, off := va.Indices()
		fmt.Fprintf(w, "%v [%d %d %d +%#x]: ", va, l1, l2, l3, off)
		pa, pte, ok := r.Tables.Lookup(va)
		if !ok {
			fmt.Fprintln(w, "not mapped")
			continue
		}
		fmt.Fprintf(w, "%v entry %v kaddr %v\n", pa, pte, pa.Physical().KernelAddr())
	}
	return nil
}
