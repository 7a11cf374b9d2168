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

// Package config provides basic infrastructure to set configuration settings
// for bootvm. Each setting that can be changed from the command line must
// have a flag tag and be registered in RegisterFlags.
package config

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/BurntSushi/toml"
	"oslabpi.dev/bootvm/pkg/log"
	"oslabpi.dev/bootvm/pkg/memlayout"
)

// Config holds configuration that is not part of the memory layout itself.
type Config struct {
	// Debug indicates that debug logging should be enabled.
	Debug bool `flag:"debug"`

	// DebugLog is the path to log debug information to, if not empty. The
	// %COMMAND% token is replaced by the subcommand name.
	DebugLog string `flag:"debug-log"`

	// DebugLogFormat is the log format for debug: text or json.
	DebugLogFormat string `flag:"debug-log-format"`

	// LayoutFile is a TOML file overriding fields of the default layout.
	LayoutFile string `flag:"layout"`
}

func (c *Config) validate() error {
	switch c.DebugLogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid debug-log-format %q, must be text or json", c.DebugLogFormat)
	}
	return nil
}

// Log prints the configuration to the log.
func (c *Config) Log() {
	log.Infof("Config:")
	obj := reflect.ValueOf(c).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		f := st.Field(i)
		if name, ok := f.Tag.Lookup("flag"); ok {
			log.Infof("\t%s: %v", name, obj.Field(i).Interface())
		}
	}
}

// Layout returns the layout selected by c.
func (c *Config) Layout() (memlayout.Layout, error) {
	return LoadLayout(c.LayoutFile)
}

// LoadLayout reads a TOML layout file over the default layout. Fields missing
// from the file keep their default value. An empty path returns the default
// layout. The result is validated.
func LoadLayout(path string) (memlayout.Layout, error) {
	l := memlayout.Default()
	if path != "" {
		md, err := toml.DecodeFile(path, &l)
		if err != nil {
			return memlayout.Layout{}, fmt.Errorf("reading layout %q: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, 0, len(undecoded))
			for _, k := range undecoded {
				keys = append(keys, k.String())
			}
			return memlayout.Layout{}, fmt.Errorf("layout %q has unknown keys: %s", path, strings.Join(keys, ", "))
		}
	}
	if err := l.Validate(); err != nil {
		return memlayout.Layout{}, fmt.Errorf("invalid layout %q: %w", path, err)
	}
	return l, nil
}
