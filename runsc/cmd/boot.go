// Copyright 2018 The gVisor Authors.
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
	"os"

	"github.com/gofrs/flock"
	"github.com/google/subcommands"

	"kern.dev/posixcore/pkg/sentry/kernel"
	"kern.dev/posixcore/pkg/sentry/vm"
	"kern.dev/posixcore/runsc/config"
)

// Boot implements subcommands.Command for the "boot" command: it spawns the
// first task of the system (spec.md §4.4 "spawn_user") against the shared
// kernel instance and registers it in the Registry. The Registry lives only
// in this process's memory; a separate posixcored invocation of `wait` or
// `ps` starts with an empty one and does not see the booted task.
type Boot struct {
	path string
}

// Name implements subcommands.Command.Name.
func (*Boot) Name() string { return "boot" }

// Synopsis implements subcommands.Command.Synopsis.
func (*Boot) Synopsis() string { return "spawn the init task from a program image" }

// Usage implements subcommands.Command.Usage.
func (*Boot) Usage() string { return "boot -exec=<path> [args...]\n" }

// SetFlags implements subcommands.Command.SetFlags.
func (b *Boot) SetFlags(f *flag.FlagSet) {
	f.StringVar(&b.path, "exec", "", "path of the program image to load as init")
}

// Execute implements subcommands.Command.Execute.
func (b *Boot) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if b.path == "" {
		fmt.Fprintln(os.Stderr, "boot: -exec is required")
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	k := args[2].(*kernel.Kernel)
	reg := args[1].(*Registry)

	lock, err := acquireRootDirLock(conf.RootDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "boot: %v\n", err)
		return subcommands.ExitFailure
	}
	defer lock.Unlock()

	aspace := vm.New()
	entry, stackBase, err := aspace.LoadUserApp(b.path, f.Args(), os.Environ())
	if err != nil {
		fmt.Fprintf(os.Stderr, "boot: loading %q: %v\n", b.path, err)
		return subcommands.ExitFailure
	}

	ext, err := kernel.SpawnUser(k, aspace, kernel.NewUserContext(entry, stackBase, 0), entry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "boot: %v\n", err)
		return subcommands.ExitFailure
	}
	if err := reg.Register(ext); err != nil {
		fmt.Fprintf(os.Stderr, "boot: %v\n", err)
		return subcommands.ExitFailure
	}

	fmt.Fprintf(os.Stdout, "%d\n", ext.ProcID())
	return subcommands.ExitSuccess
}

// acquireRootDirLock takes an exclusive advisory lock on a lockfile inside
// conf.RootDir, serializing concurrent `boot` invocations against the same
// root directory the way runsc serializes container creation against a
// sandbox's root directory.
func acquireRootDirLock(rootDir string) (*flock.Flock, error) {
	if err := os.MkdirAll(rootDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating root dir %q: %w", rootDir, err)
	}
	lock := flock.New(rootDir + "/lock")
	if err := lock.Lock(); err != nil {
		return nil, fmt.Errorf("locking %q: %w", rootDir, err)
	}
	return lock, nil
}
