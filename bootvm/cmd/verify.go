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
	"oslabpi.dev/bootvm/pkg/vminit"
)

// Verify implements subcommands.Command for the "verify" command.
type Verify struct {
	image string
}

// Name implements subcommands.Command.Name.
func (*Verify) Name() string {
	return "verify"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Verify) Synopsis() string {
	return "check that a table image maps the layout"
}

// Usage implements subcommands.Command.Usage.
func (*Verify) Usage() string {
	return `verify -image <path> - check a table image against the layout.

Every page of every boot segment must translate to itself, and its kernel
window alias to the same page, with the segment's attributes.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (v *Verify) SetFlags(f *flag.FlagSet) {
	f.StringVar(&v.image, "image", "", "table image to check (required).")
}

// Execute implements subcommands.Command.Execute.
func (v *Verify) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 || v.image == "" {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	if err := v.run(ctx, conf, os.Stdout); err != nil {
		Fatalf("verify failed: %v", err)
	}
	return subcommands.ExitSuccess
}

func (v *Verify) run(ctx context.Context, conf *config.Config, w io.Writer) error {
	r, l, err := tables(conf, v.image)
	if err != nil {
		return err
	}
	if err := vminit.Verify(ctx, r, l); err != nil {
		return err
	}
	fmt.Fprintf(w, "%s: %d segments OK, %d tables\n", v.image, len(vminit.Segments(l)), r.Tables.CountTables())
	return nil
}
