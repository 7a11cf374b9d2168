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

// Package cli is the main entrypoint for bootvm.
package cli

import (
	"context"
	"flag"
	"io"
	"os"
	"runtime"

	"github.com/google/subcommands"
	"oslabpi.dev/bootvm/bootvm/cmd"
	"oslabpi.dev/bootvm/bootvm/config"
	"oslabpi.dev/bootvm/pkg/log"
)

// Main is the main entrypoint.
func Main() {
	// Register all commands.
	forEachCmd(subcommands.Register)

	// Register with the main command line.
	config.RegisterFlags(flag.CommandLine)

	// All subcommands must be registered before flag parsing.
	flag.Parse()

	// Create a new Config from the flags.
	conf, err := config.NewFromFlags(flag.CommandLine)
	if err != nil {
		cmd.Fatalf("%v", err)
	}

	subcommand := flag.CommandLine.Arg(0)

	// Set up logging. Without a debug log only warnings reach stderr, so
	// command output stays readable.
	var out io.Writer = os.Stderr
	if len(conf.DebugLog) > 0 {
		f, err := log.OpenFile(conf.DebugLog, subcommand)
		if err != nil {
			cmd.Fatalf("error opening debug log file in %q: %v", conf.DebugLog, err)
		}
		out = f
	}
	level := log.Warning
	if conf.Debug {
		level = log.Debug
	} else if len(conf.DebugLog) > 0 {
		level = log.Info
	}
	target := log.NewBasicLogger(out, level)
	if err := target.SetFormat(conf.DebugLogFormat); err != nil {
		cmd.Fatalf("%v", err)
	}
	log.SetTarget(target.With("command", subcommand))

	const delimString = `**************** bootvm ****************`
	log.Infof(delimString)
	log.Infof("%s, %s, %d CPUs, %s, PID %d", runtime.Version(), runtime.GOARCH, runtime.NumCPU(), runtime.GOOS, os.Getpid())
	log.Infof("Args: %v", os.Args)
	conf.Log()
	log.Infof(delimString)

	// Call the subcommand and pass in the configuration.
	subcmdCode := subcommands.Execute(context.Background(), conf)
	if subcmdCode != subcommands.ExitSuccess {
		log.Warningf("Failure to execute command, err: %v", subcmdCode)
	}
	os.Exit(int(subcmdCode))
}

func forEachCmd(cb func(cmd subcommands.Command, group string)) {
	// Help and flags commands are generated automatically.
	cb(subcommands.HelpCommand(), "")
	cb(subcommands.FlagsCommand(), "")
	cb(subcommands.CommandsCommand(), "")

	// Page table commands.
	cb(new(cmd.Build), "")
	cb(new(cmd.Dump), "")
	cb(new(cmd.Lookup), "")
	cb(new(cmd.Verify), "")

	// Helpers.
	const helperGroup = "helpers"
	cb(new(cmd.Layout), helperGroup)
}
