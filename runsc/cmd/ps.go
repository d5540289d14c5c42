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
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/google/subcommands"
)

// Ps implements subcommands.Command for the "ps" command: it lists every
// task the running posixcored instance has spawned.
type Ps struct {
	format string
}

// Name implements subcommands.Command.Name.
func (*Ps) Name() string { return "ps" }

// Synopsis implements subcommands.Command.Synopsis.
func (*Ps) Synopsis() string { return "list tasks known to the running kernel instance" }

// Usage implements subcommands.Command.Usage.
func (*Ps) Usage() string { return "ps [-format=table|json]\n" }

// SetFlags implements subcommands.Command.SetFlags.
func (p *Ps) SetFlags(f *flag.FlagSet) {
	f.StringVar(&p.format, "format", "table", "output format: table or json")
}

type psRow struct {
	PID    int64  `json:"pid"`
	PPID   int64  `json:"ppid"`
	State  string `json:"state"`
	Status int    `json:"exitCode,omitempty"`
}

// Execute implements subcommands.Command.Execute.
func (p *Ps) Execute(_ context.Context, _ *flag.FlagSet, args ...any) subcommands.ExitStatus {
	reg := args[1].(*Registry)

	var rows []psRow
	for _, ext := range reg.List() {
		rows = append(rows, psRow{
			PID:    ext.ProcID(),
			PPID:   ext.ParentID(),
			State:  ext.SchedTask().State().String(),
			Status: ext.SchedTask().ExitCode(),
		})
	}

	switch p.format {
	case "json":
		if err := json.NewEncoder(os.Stdout).Encode(rows); err != nil {
			fmt.Fprintf(os.Stderr, "ps: encoding result: %v\n", err)
			return subcommands.ExitFailure
		}
	default:
		tw := tabwriter.NewWriter(os.Stdout, 4, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "PID\tPPID\tSTATE\tEXIT")
		for _, row := range rows {
			fmt.Fprintf(tw, "%d\t%d\t%s\t%d\n", row.PID, row.PPID, row.State, row.Status)
		}
		tw.Flush()
	}
	return subcommands.ExitSuccess
}
