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

// Package cli assembles the routemesh command tree.
package cli

import (
	"github.com/spf13/cobra"

	configcmd "github.com/routemesh/routemesh/internal/commands/config"
	"github.com/routemesh/routemesh/internal/commands/install"
	"github.com/routemesh/routemesh/internal/commands/query"
	"github.com/routemesh/routemesh/internal/commands/shared"
	"github.com/routemesh/routemesh/internal/commands/start"
	"github.com/routemesh/routemesh/internal/commands/stop"
	"github.com/routemesh/routemesh/internal/commands/uninstall"
	"github.com/routemesh/routemesh/internal/commands/version"
)

// SetVersion sets the version information (called from main)
func SetVersion(v, c, b string) {
	shared.SetVersion(v, c, b)
}

// NewRootCommand creates the root Cobra command for routemesh
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "routemesh",
		Short: "RouteMesh - peer-to-peer mesh tunnel",
		Long: `RouteMesh joins this machine to a peer-to-peer mesh network and
manages the background service that keeps the tunnel up.

Run 'routemesh install <dir>' once, elevated, to register the service.
Run 'routemesh start' to bring the engine up; without an installed service
it runs in the foreground until interrupted.`,
		SilenceUsage:  true, // Don't show usage on errors
		SilenceErrors: true, // We handle errors ourselves for proper exit codes
	}

	quiet, json := shared.RegisterFlagPointers()
	cmd.PersistentFlags().BoolVarP(quiet, "quiet", "q", false, "Suppress non-error output")
	cmd.PersistentFlags().BoolVar(json, "json", false, "Output in JSON format")

	cmd.AddCommand(
		install.NewInstallCommand(),
		uninstall.NewUninstallCommand(),
		start.NewStartCommand(),
		stop.NewStopCommand(),
		configcmd.NewConfigCommand(),
		query.NewStatusCommand(),
		query.NewListCommand(),
		query.NewRouteCommand(),
		version.NewVersionCommand(),
	)
	return cmd
}

// HandleExitError handles exit errors with proper exit codes
func HandleExitError(err error) {
	shared.HandleExitError(err)
}
