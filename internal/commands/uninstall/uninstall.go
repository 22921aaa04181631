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

// Package uninstall removes the background service registration.
package uninstall

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/routemesh/routemesh/internal/commands/shared"
)

// NewUninstallCommand creates the uninstall command.
func NewUninstallCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall",
		Short: "Uninstall the background service",
		Long: `Stop the service if it is running and remove its registration.
A missing registration is reported as a warning, not a failure.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := shared.NewOrchestrator(cmd.OutOrStdout())
			if err != nil {
				return err
			}

			if err := o.Uninstall(cmd.Context()); err != nil {
				return shared.WrapLifecycleError(err)
			}
			if !shared.GetQuiet() {
				fmt.Fprintln(cmd.OutOrStdout(), shared.RenderOK("service uninstalled"))
			}
			return nil
		},
	}
}
