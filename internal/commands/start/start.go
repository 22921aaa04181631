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

// Package start brings the engine up, through the service manager when the
// service is installed and directly in the foreground when it is not.
package start

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/routemesh/routemesh/internal/commands/shared"
	"github.com/routemesh/routemesh/internal/config"
	"github.com/routemesh/routemesh/internal/lifecycle"
)

// deviceValue is a pflag.Value restricted to the supported device types, so
// a typo fails at flag parsing instead of surfacing as a config error later.
type deviceValue string

var _ pflag.Value = (*deviceValue)(nil)

func (d *deviceValue) String() string { return string(*d) }

func (d *deviceValue) Set(v string) error {
	switch config.DeviceType(v) {
	case config.DeviceTUN, config.DeviceTAP:
		*d = deviceValue(v)
		return nil
	}
	return fmt.Errorf("must be %q or %q", config.DeviceTUN, config.DeviceTAP)
}

func (d *deviceValue) Type() string { return "device" }

// NewStartCommand creates the start command.
func NewStartCommand() *cobra.Command {
	var (
		configFile string
		wait       time.Duration
		device     = deviceValue(config.DeviceTUN)
		opts       config.Options
	)

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the engine",
		Long: `Start the installed background service, or, when no service is
registered, run the engine directly in the foreground until interrupted.
Configuration comes from --config when given, otherwise from the flags below.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := shared.NewOrchestrator(cmd.OutOrStdout())
			if err != nil {
				return err
			}

			resolve := func() (config.StartConfig, error) {
				if configFile != "" {
					return config.Load(configFile)
				}
				opts.Device = string(device)
				return config.Defaults(opts)
			}

			outcome, err := o.Start(cmd.Context(), resolve, wait)
			if err != nil {
				return shared.WrapLifecycleError(err)
			}
			if !shared.GetQuiet() {
				switch outcome {
				case lifecycle.StartedService:
					fmt.Fprintln(cmd.OutOrStdout(), shared.RenderOK("service started"))
				case lifecycle.RanForeground:
					fmt.Fprintln(cmd.OutOrStdout(), shared.RenderOK("engine stopped"))
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "f", "", "Path to a YAML start configuration")
	cmd.Flags().DurationVar(&wait, "wait", 0, "How long to wait for the service to report running")
	cmd.Flags().Var(&device, "device", "Virtual device type (tun or tap)")
	cmd.Flags().StringVarP(&opts.Token, "token", "k", "", "Mesh token")
	cmd.Flags().StringVar(&opts.DeviceID, "device-id", "", "Override the stable device identifier")
	cmd.Flags().StringVarP(&opts.Name, "name", "n", "", "Display name announced to peers")
	cmd.Flags().StringVarP(&opts.Server, "server", "s", "", "Coordination server host:port")
	cmd.Flags().StringSliceVar(&opts.NATTestServers, "nat-test-server", nil, "NAT classification server host:port (repeatable)")
	cmd.Flags().StringSliceVarP(&opts.InIPs, "in-ip", "i", nil, "CIDR routed into the tunnel (repeatable)")
	cmd.Flags().StringSliceVarP(&opts.OutIPs, "out-ip", "o", nil, "CIDR announced as reachable through this node (repeatable)")
	cmd.Flags().StringVarP(&opts.Password, "password", "w", "", "Payload encryption password")
	cmd.Flags().BoolVar(&opts.SimulateMulticast, "simulate-multicast", false, "Emulate multicast for dependent applications")
	return cmd
}
