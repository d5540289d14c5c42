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

// Binary posixcored wires up a single in-process kernel instance (spec.md
// §3-§6) and exposes it through three subcommands: boot, wait, and ps. It
// plays the role runsc's own main binary plays for a sandbox, minus the OCI
// container lifecycle runsc layers on top.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"

	"kern.dev/posixcore/pkg/log"
	"kern.dev/posixcore/pkg/sentry/hal"
	"kern.dev/posixcore/pkg/sentry/kernel"
	"kern.dev/posixcore/pkg/sentry/kernel/dispatch"
	"kern.dev/posixcore/pkg/sentry/sched"
	"kern.dev/posixcore/pkg/sentry/vfsns"
	"kern.dev/posixcore/runsc/cmd"
	"kern.dev/posixcore/runsc/config"
)

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(new(cmd.Boot), "")
	subcommands.Register(new(cmd.Wait), "")
	subcommands.Register(new(cmd.Ps), "")

	config.RegisterFlags(flag.CommandLine)
	flag.Parse()

	conf, err := config.NewFromFlags(flag.CommandLine)
	if err != nil {
		fmt.Fprintf(os.Stderr, "posixcored: %v\n", err)
		os.Exit(int(subcommands.ExitUsageError))
	}
	configureLogging(conf)

	kernel.SetGlobalNamespaceFactory(func() kernel.Namespace { return vfsns.New() })
	k := kernel.NewKernel(sched.New(), hal.NewSoftwareHAL(), conf.ISA, func() kernel.Namespace { return vfsns.New() })
	reg := cmd.NewRegistry(conf.MaxTasks)
	_ = buildDispatcher(conf) // wired for future in-process trap delivery; unused by boot/wait/ps today.

	os.Exit(int(subcommands.Execute(context.Background(), conf, reg, k)))
}

// buildDispatcher constructs the Dispatcher the daemon would hand to a real
// HAL's trap-entry path; none of the current subcommands drive a trap loop
// themselves (the reference HAL's EnterUspace is a simulated no-op), but
// assembling it here keeps the rate-limit configuration in one place ready
// for whichever HAL stops being a simulation.
func buildDispatcher(conf *config.Config) *dispatch.Dispatcher {
	d := dispatch.New(dispatch.BuildTable())
	if conf.SyscallRateLimit > 0 {
		d.WithRateLimit(conf.SyscallRateLimit, int(conf.SyscallRateLimit))
	}
	return d
}

func configureLogging(conf *config.Config) {
	if conf.Debug {
		_ = log.SetLevel("debug")
	}
	if conf.LogFormat == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	}
}
