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

// Package config changes the registered service's start type.
package config

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/routemesh/routemesh/internal/commands/shared"
	"github.com/routemesh/routemesh/internal/registry"
)

// NewConfigCommand creates the config command.
func NewConfigCommand() *cobra.Command {
	var auto bool

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Reconfigure the installed service",
		Long: `Update the registered service's start type. The stored executable
path and data directory are preserved exactly. The service must be installed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := shared.NewOrchestrator(cmd.OutOrStdout())
			if err != nil {
				return err
			}

			err = o.Reconfigure(cmd.Context(), auto)
			switch {
			case err == nil:
				if !shared.GetQuiet() {
					mode := "on demand"
					if auto {
						mode = "automatic at boot"
					}
					fmt.Fprintln(cmd.OutOrStdout(), shared.RenderOK("service start type set to "+mode))
				}
				return nil
			case errors.Is(err, registry.ErrNotRegistered):
				fmt.Fprintln(cmd.OutOrStdout(), shared.RenderError("service is not installed"))
				return shared.NewExitError(shared.ExitFailure, "", nil)
			default:
				return shared.WrapLifecycleError(err)
			}
		},
	}

	cmd.Flags().BoolVar(&auto, "auto", false, "Start the service automatically at boot")
	return cmd
}
