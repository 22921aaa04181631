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

// Package query implements the read-only commands: status, list, route.
// They talk to whichever engine instance answers on the control channel,
// service-hosted or foreground, and refuse when none does.
package query

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/routemesh/routemesh/internal/commands/shared"
	"github.com/routemesh/routemesh/internal/control"
)

// client connects to the engine owning the default home directory.
func client() (*control.Client, error) {
	home, err := shared.Home()
	if err != nil {
		return nil, err
	}
	return control.FromHome(home), nil
}

// notStarted prints the refusal line and returns the matching exit code.
func notStarted(out io.Writer) error {
	fmt.Fprintln(out, shared.RenderWarn("service is not started"))
	return shared.NewExitError(shared.ExitNotRunning, "", nil)
}

func printJSON(out io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(out, string(data))
	return nil
}

// NewStatusCommand creates the status command.
func NewStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the running engine's status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client()
			if err != nil {
				return err
			}

			status, err := c.Status(cmd.Context())
			if err != nil {
				if control.IsNotRunning(err) {
					return notStarted(cmd.OutOrStdout())
				}
				return err
			}

			out := cmd.OutOrStdout()
			if shared.GetJSON() {
				return printJSON(out, status)
			}

			fmt.Fprintln(out, shared.RenderStatus(status.Up, "UP")+" "+shared.Bold.Render(status.Name))
			fmt.Fprintf(out, "  %s %s\n", shared.RenderLabel("device id:"), status.DeviceID)
			fmt.Fprintf(out, "  %s %s\n", shared.RenderLabel("virtual ip:"), status.VirtualIP)
			fmt.Fprintf(out, "  %s %s\n", shared.RenderLabel("server:"), status.Server)
			fmt.Fprintf(out, "  %s %s\n", shared.RenderLabel("nat type:"), status.NATType)
			fmt.Fprintf(out, "  %s %s\n", shared.RenderLabel("started:"), status.StartedAt.Format("2006-01-02 15:04:05"))
			return nil
		},
	}
}

// NewListCommand creates the list command.
func NewListCommand() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List mesh peers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client()
			if err != nil {
				return err
			}

			peers, err := c.Peers(cmd.Context(), all)
			if err != nil {
				if control.IsNotRunning(err) {
					return notStarted(cmd.OutOrStdout())
				}
				return err
			}

			out := cmd.OutOrStdout()
			if shared.GetJSON() {
				return printJSON(out, peers)
			}
			if len(peers) == 0 {
				fmt.Fprintln(out, shared.Muted.Render("no peers"))
				return nil
			}

			w := tabwriter.NewWriter(out, 2, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tVIRTUAL IP\tNAT\tRELAY\tRTT\tONLINE")
			for _, p := range peers {
				online := shared.SymbolError
				if p.Online {
					online = shared.SymbolOK
				}
				relay := "direct"
				if p.Relay {
					relay = "relay"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					p.Name, p.VirtualIP, p.NAT, relay, p.Rtt, online)
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVarP(&all, "all", "a", false, "Include offline peers")
	return cmd
}

// NewRouteCommand creates the route command.
func NewRouteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "route",
		Short: "Show the engine route table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client()
			if err != nil {
				return err
			}

			routes, err := c.Routes(cmd.Context())
			if err != nil {
				if control.IsNotRunning(err) {
					return notStarted(cmd.OutOrStdout())
				}
				return err
			}

			out := cmd.OutOrStdout()
			if shared.GetJSON() {
				return printJSON(out, routes)
			}
			if len(routes) == 0 {
				fmt.Fprintln(out, shared.Muted.Render("no routes"))
				return nil
			}

			w := tabwriter.NewWriter(out, 2, 4, 2, ' ', 0)
			fmt.Fprintln(w, "DESTINATION\tVIA\tMETRIC\tINTERFACE")
			for _, r := range routes {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", r.Destination, r.Via, r.Metric, r.Interface)
			}
			return w.Flush()
		},
	}
}
