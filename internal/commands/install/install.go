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

// Package install registers the background service.
package install

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/routemesh/routemesh/internal/commands/shared"
	"github.com/routemesh/routemesh/internal/registry"
)

// NewInstallCommand creates the install command.
func NewInstallCommand() *cobra.Command {
	var auto bool

	cmd := &cobra.Command{
		Use:   "install <dir>",
		Short: "Install the background service",
		Long: `Copy the service binary and its companion files into the given
directory and register the service with the operating system. With --auto the
service starts at boot; otherwise it starts on demand.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := shared.NewOrchestrator(cmd.OutOrStdout())
			if err != nil {
				return err
			}

			err = o.Install(cmd.Context(), args[0], auto)
			switch {
			case err == nil:
				if !shared.GetQuiet() {
					fmt.Fprintln(cmd.OutOrStdout(), shared.RenderOK("service installed"))
				}
				return nil
			case errors.Is(err, registry.ErrAlreadyRegistered):
				// Already printed as the outcome line; only the code remains.
				fmt.Fprintln(cmd.OutOrStdout(), shared.RenderWarn("service is already installed"))
				return shared.NewExitError(shared.ExitFailure, "", nil)
			default:
				return shared.WrapLifecycleError(err)
			}
		},
	}

	cmd.Flags().BoolVar(&auto, "auto", false, "Start the service automatically at boot")
	return cmd
}
