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
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/google/subcommands"
	"gopkg.in/yaml.v3"
	"oslabpi.dev/bootvm/bootvm/config"
	"oslabpi.dev/bootvm/pkg/bootarch"
	"oslabpi.dev/bootvm/pkg/pagetables"
	"oslabpi.dev/bootvm/pkg/vminit"
)

// Dump implements subcommands.Command for the "dump" command.
type Dump struct {
	image  string
	format string
}

// Name implements subcommands.Command.Name.
func (*Dump) Name() string {
	return "dump"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Dump) Synopsis() string {
	return "list the mappings of the boot page tables"
}

// Usage implements subcommands.Command.Usage.
func (*Dump) Usage() string {
	return `dump [flags] - list mapped regions in virtual address order.

Contiguous pages with identical attributes are shown as one region.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (d *Dump) SetFlags(f *flag.FlagSet) {
	f.StringVar(&d.image, "image", "", "table image to read instead of building from the layout.")
	f.StringVar(&d.format, "format", "text", "output format: text (default), json, yaml.")
}

// Execute implements subcommands.Command.Execute.
func (d *Dump) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	if err := d.run(conf, os.Stdout); err != nil {
		Fatalf("dump failed: %v", err)
	}
	return subcommands.ExitSuccess
}

// dumpRegion is the serialized form of a pagetables.Region.
type dumpRegion struct {
	Start        string `json:"start" yaml:"start"`
	End          string `json:"end" yaml:"end"`
	Physical     string `json:"physical" yaml:"physical"`
	Pages        uint64 `json:"pages" yaml:"pages"`
	MemoryType   string `json:"memoryType" yaml:"memory_type"`
	Shareability string `json:"shareability" yaml:"shareability"`
	Flags        string `json:"flags" yaml:"flags"`

	Attributes pagetables.Attributes `json:"attributes" yaml:"attributes"`
}

// dumpOutput is the serialized form of a whole tree.
type dumpOutput struct {
	Root    string       `json:"root" yaml:"root"`
	TTBR    string       `json:"ttbr" yaml:"ttbr"`
	Tables  int          `json:"tables" yaml:"tables"`
	Regions []dumpRegion `json:"regions" yaml:"regions"`
}

func newDumpOutput(r *vminit.Result) dumpOutput {
	out := dumpOutput{
		Root:   r.Tables.RootPhysical().String(),
		TTBR:   fmt.Sprintf("%#x", r.Tables.TTBR()),
		Tables: r.Tables.CountTables(),
	}
	for _, reg := range r.Tables.Regions() {
		pte := pagetables.PTE(reg.Flags)
		out.Regions = append(out.Regions, dumpRegion{
			Start:        reg.Virtual.Start.String(),
			End:          reg.Virtual.End.String(),
			Physical:     reg.Physical.String(),
			Pages:        reg.Virtual.Length() / bootarch.PageSize,
			MemoryType:   pte.MemoryType().String(),
			Shareability: pte.Shareability().String(),
			Flags:        reg.Flags.String(),
			Attributes:   pte.Attributes(),
		})
	}
	return out
}

func (d *Dump) run(conf *config.Config, w io.Writer) error {
	r, _, err := tables(conf, d.image)
	if err != nil {
		return err
	}
	out := newDumpOutput(r)

	switch d.format {
	case "text":
		fmt.Fprintf(w, "root %s, ttbr %s, %d tables\n", out.Root, out.TTBR, out.Tables)
		tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
		fmt.Fprintln(tw, "VIRTUAL\tPHYSICAL\tPAGES\tFLAGS")
		for _, reg := range out.Regions {
			fmt.Fprintf(tw, "%s-%s\t%s\t%d\t%s\n", reg.Start, reg.End, reg.Physical, reg.Pages, reg.Flags)
		}
		return tw.Flush()
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(out); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown format %q", d.format)
	}
}
