// Copyright 2020 The gVisor Authors.
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

// Package config holds the posixcored daemon's runtime configuration: the
// flags every subcommand shares (root directory, ISA, logging) plus an
// optional TOML file to load them from, in the same two-stage
// flags-then-file layering runsc's config package uses.
package config

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/BurntSushi/toml"

	"kern.dev/posixcore/pkg/sentry/kernel"
)

const (
	xdgRuntimeDirEnvVar = "XDG_RUNTIME_DIR"
	defaultRootDir      = "/var/run/posixcored"
)

// Config is the set of options that configure a posixcored instance. It
// plays the role runsc's Config struct plays for the sandbox: one value,
// built once at startup, threaded through every subcommand.
type Config struct {
	// RootDir is the directory holding the lock file that serializes boot
	// invocations.
	RootDir string

	// ISA selects which instruction-set behavior the kernel should
	// emulate, notably the per-ISA clone() child IP-advance quirk.
	ISA kernel.ISA

	// Debug enables verbose (debug-level) logging.
	Debug bool

	// LogFormat selects the structured logging output: "text" or "json".
	LogFormat string

	// MaxTasks bounds how many tasks the daemon's process table admits
	// concurrently; 0 means unbounded.
	MaxTasks int64

	// SyscallRateLimit caps dispatched syscalls per second per kernel
	// instance; 0 means unlimited.
	SyscallRateLimit float64
}

// RegisterFlags registers the shared flags onto flagSet. cmd/posixcored
// calls it once on the top-level flag set; subcommands register only their
// own flags in SetFlags, mirroring runsc's config.RegisterFlags/runsc/cmd
// split.
func RegisterFlags(flagSet *flag.FlagSet) {
	flagSet.String("root", "", fmt.Sprintf("root directory for the boot lock file, default is $%s/posixcored, %s", xdgRuntimeDirEnvVar, defaultRootDir))
	flagSet.String("isa", "amd64", "instruction set to emulate: amd64, arm64, riscv64, loong64.")
	flagSet.Bool("debug", false, "enable debug logging.")
	flagSet.String("log-format", "text", "log format: text (default) or json.")
	flagSet.Int64("max-tasks", 0, "maximum number of concurrently registered tasks; 0 means unbounded.")
	flagSet.Float64("syscall-rate-limit", 0, "maximum dispatched syscalls per second; 0 means unlimited.")
	flagSet.String("config", "", "path to a TOML file providing defaults for the flags above.")
}

// fileConfig is the TOML shape accepted by the -config flag.
type fileConfig struct {
	Root             string  `toml:"root"`
	ISA              string  `toml:"isa"`
	Debug            bool    `toml:"debug"`
	LogFormat        string  `toml:"log_format"`
	MaxTasks         int64   `toml:"max_tasks"`
	SyscallRateLimit float64 `toml:"syscall_rate_limit"`
}

// NewFromFlags builds a Config from flagSet's parsed values, first applying
// any -config TOML file as defaults that the explicit flags then override
// (a flag's value always wins over the file, since flag.Visit only walks
// flags that were actually set on the command line).
func NewFromFlags(flagSet *flag.FlagSet) (*Config, error) {
	c := &Config{
		RootDir:   defaultRootDirFor(),
		ISA:       kernel.ISAAMD64,
		LogFormat: "text",
	}

	if path := flagSet.Lookup("config").Value.String(); path != "" {
		var fc fileConfig
		if _, err := toml.DecodeFile(path, &fc); err != nil {
			return nil, fmt.Errorf("decoding config file %q: %w", path, err)
		}
		if fc.Root != "" {
			c.RootDir = fc.Root
		}
		if fc.ISA != "" {
			isa, err := parseISA(fc.ISA)
			if err != nil {
				return nil, err
			}
			c.ISA = isa
		}
		c.Debug = fc.Debug
		if fc.LogFormat != "" {
			c.LogFormat = fc.LogFormat
		}
		c.MaxTasks = fc.MaxTasks
		c.SyscallRateLimit = fc.SyscallRateLimit
	}

	var parseErr error
	flagSet.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "root":
			c.RootDir = f.Value.String()
		case "isa":
			isa, err := parseISA(f.Value.String())
			if err != nil {
				parseErr = err
				return
			}
			c.ISA = isa
		case "debug":
			c.Debug = f.Value.String() == "true"
		case "log-format":
			c.LogFormat = f.Value.String()
		case "max-tasks":
			v, err := strconv.ParseInt(f.Value.String(), 10, 64)
			if err != nil {
				parseErr = err
				return
			}
			c.MaxTasks = v
		case "syscall-rate-limit":
			v, err := strconv.ParseFloat(f.Value.String(), 64)
			if err != nil {
				parseErr = err
				return
			}
			c.SyscallRateLimit = v
		}
	})
	if parseErr != nil {
		return nil, parseErr
	}
	return c, nil
}

func parseISA(s string) (kernel.ISA, error) {
	switch s {
	case "amd64":
		return kernel.ISAAMD64, nil
	case "arm64":
		return kernel.ISAARM64, nil
	case "riscv64":
		return kernel.ISARISCV64, nil
	case "loong64":
		return kernel.ISALoongArch64, nil
	default:
		return 0, fmt.Errorf("unknown -isa %q", s)
	}
}

func defaultRootDirFor() string {
	if d := os.Getenv(xdgRuntimeDirEnvVar); d != "" {
		return filepath.Join(d, "posixcored")
	}
	return defaultRootDir
}
