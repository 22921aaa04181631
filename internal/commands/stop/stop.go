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

// Package stop halts the running background service.
package stop

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/routemesh/routemesh/internal/commands/shared"
	"github.com/routemesh/routemesh/internal/lifecycle"
)

// NewStopCommand creates the stop command.
func NewStopCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the background service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := shared.NewOrchestrator(cmd.OutOrStdout())
			if err != nil {
				return err
			}

			err = o.Stop(cmd.Context())
			switch {
			case err == nil:
				if !shared.GetQuiet() {
					fmt.Fprintln(cmd.OutOrStdout(), shared.RenderOK("service stopped"))
				}
				return nil
			case errors.Is(err, lifecycle.ErrNotStarted):
				fmt.Fprintln(cmd.OutOrStdout(), shared.RenderWarn("service is not started"))
				return shared.NewExitError(shared.ExitNotRunning, "", nil)
			default:
				return shared.WrapLifecycleError(err)
			}
		},
	}
}
