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
	"text/tabwriter"

	"github.com/BurntSushi/toml"
	"github.com/google/subcommands"
	"oslabpi.dev/bootvm/bootvm/config"
	"oslabpi.dev/bootvm/pkg/bootarch"
	"oslabpi.dev/bootvm/pkg/memlayout"
	"oslabpi.dev/bootvm/pkg/pagetables"
	"oslabpi.dev/bootvm/pkg/vminit"
)

// Layout implements subcommands.Command for the "layout" command.
type Layout struct {
	format string
}

// Name implements subcommands.Command.Name.
func (*Layout) Name() string {
	return "layout"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Layout) Synopsis() string {
	return "print the memory map"
}

// Usage implements subcommands.Command.Usage.
func (*Layout) Usage() string {
	return `layout [flags] - print the memory map and the boot segments.

With -format=toml the effective layout is written in the form accepted by
the --layout flag.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (l *Layout) SetFlags(f *flag.FlagSet) {
	f.StringVar(&l.format, "format", "text", "output format: text (default), toml.")
}

// Execute implements subcommands.Command.Execute.
func (l *Layout) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	if err := l.run(conf, os.Stdout); err != nil {
		Fatalf("layout failed: %v", err)
	}
	return subcommands.ExitSuccess
}

func (l *Layout) run(conf *config.Config, w io.Writer) error {
	lay, err := conf.Layout()
	if err != nil {
		return err
	}
	switch l.format {
	case "toml":
		return toml.NewEncoder(w).Encode(lay)
	case "text":
	default:
		return fmt.Errorf("unknown format %q", l.format)
	}

	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tPHYSICAL\tKERNEL")
	for _, e := range []struct {
		name string
		addr bootarch.Addr
	}{
		{"reserved top", memlayout.PReservedTop},
		{"time stack top", memlayout.PTimeStackTop},
		{"envs", memlayout.PEnvsBase},
		{"pages", memlayout.PPagesBase},
		{"page tables", lay.PgdirBase},
		{"page tables limit", lay.PgdirLimit},
		{"kernel text", memlayout.KernelText},
		{"stack top", memlayout.PStackTop},
		{"phys limit", lay.PhysLimit},
		{"control registers", lay.ControlRegBase},
	} {
		fmt.Fprintf(tw, "%s\t%v\t%v\n", e.name, e.addr, e.addr.KernelAddr())
	}
	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "SEGMENT\tRANGE\tFLAGS")
	for _, s := range vminit.Segments(lay) {
		fmt.Fprintf(tw, "%s\t%v\t%v\n", s.Name, s.Range(), s.Flags|pagetables.Mandatory)
	}
	fmt.Fprintf(tw, "\ntable pages\t%d\n", lay.TablePages())
	return tw.Flush()
}
