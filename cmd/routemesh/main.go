// Copyright 2025 The RouteMesh Authors
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

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/routemesh/routemesh/internal/cli"
	"github.com/routemesh/routemesh/internal/config"
	"github.com/routemesh/routemesh/internal/log"
	"github.com/routemesh/routemesh/internal/registry"
	"github.com/routemesh/routemesh/internal/svchost"
)

// Version information (injected via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// Mode is the process's runtime mode, decided exactly once at entry from the
// service-host sentinel argument. Nothing downstream re-inspects os.Args.
type Mode int

const (
	// ModeCLI runs the interactive command tree.
	ModeCLI Mode = iota
	// ModeServiceHost runs as the background service the manager launched.
	ModeServiceHost
)

// detectMode finds the service-host sentinel among the arguments and, when
// present, the home directory that follows the home flag.
func detectMode(args []string) (Mode, string) {
	for _, arg := range args {
		if arg == registry.SentinelFlag {
			home, err := registry.HomeFromArguments(args)
			if err != nil {
				home = ""
			}
			return ModeServiceHost, home
		}
	}
	return ModeCLI, ""
}

func main() {
	mode, home := detectMode(os.Args[1:])

	if mode == ModeServiceHost {
		runServiceHost(home)
		return
	}

	cli.SetVersion(version, commit, buildDate)
	rootCmd := cli.NewRootCommand()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		cli.HandleExitError(err)
	}
}

// runServiceHost hands the process to the service manager's runtime.
func runServiceHost(home string) {
	logger := log.New(log.FromEnv())

	if home == "" {
		resolved, err := config.HomeDir()
		if err != nil {
			fmt.Fprintln(os.Stderr, "service host: no usable home directory:", err)
			os.Exit(1)
		}
		home = resolved
	}

	if err := svchost.Run(home, logger, version); err != nil {
		logger.Error("service host exited", log.Error(err))
		os.Exit(1)
	}
	os.Exit(0)
}
