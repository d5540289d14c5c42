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

// Package cmd holds the posixcored subcommands: boot, wait, and ps. Each
// mirrors the shape of runsc's own subcommands (subcommands.Command plus a
// shared *config.Config carried through Execute's varargs) but drives the
// in-process kernel directly instead of a separate sandboxed process.
package cmd

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"
)

const unsetPID = -1

// Wait implements subcommands.Command for the "wait" command: it blocks
// until the named process (by its posixcored-assigned proc id) exits, then
// reports its exit code as returned by SchedTask.Join (not shifted into a
// wait-status encoding).
type Wait struct {
	pid int
}

// Name implements subcommands.Command.Name.
func (*Wait) Name() string { return "wait" }

// Synopsis implements subcommands.Command.Synopsis.
func (*Wait) Synopsis() string { return "wait on a task inside the running kernel instance" }

// Usage implements subcommands.Command.Usage.
func (*Wait) Usage() string { return "wait -pid=<proc id>\n" }

// SetFlags implements subcommands.Command.SetFlags.
func (w *Wait) SetFlags(f *flag.FlagSet) {
	f.IntVar(&w.pid, "pid", unsetPID, "proc id to wait on")
}

// Execute implements subcommands.Command.Execute. The shared kernel instance
// is threaded through the same varargs slot runsc uses for *config.Config;
// see cmd/posixcored/main.go for how the slice is assembled.
func (w *Wait) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if w.pid == unsetPID {
		fmt.Fprintln(os.Stderr, "wait: -pid is required")
		f.Usage()
		return subcommands.ExitUsageError
	}
	reg := args[1].(*Registry)

	status, err := reg.Wait(int64(w.pid))
	if err != nil {
		fmt.Fprintf(os.Stderr, "wait: %v\n", err)
		return subcommands.ExitFailure
	}

	result := struct {
		PID        int64 `json:"pid"`
		ExitStatus int   `json:"exitStatus"`
	}{PID: int64(w.pid), ExitStatus: status}
	if err := json.NewEncoder(os.Stdout).Encode(result); err != nil {
		fmt.Fprintf(os.Stderr, "wait: encoding result: %v\n", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}
