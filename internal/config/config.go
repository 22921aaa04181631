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

// Package config resolves the engine start configuration, either from a
// user-supplied YAML file or from command-line defaults.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

var (
	// ErrInvalidConfig is returned when configuration validation fails.
	ErrInvalidConfig = errors.New("config: invalid configuration")
)

// DeviceType selects the virtual network device the engine drives.
type DeviceType string

const (
	// DeviceTUN is a layer-3 point-to-point device.
	DeviceTUN DeviceType = "tun"
	// DeviceTAP is a layer-2 ethernet device.
	DeviceTAP DeviceType = "tap"
)

// StartConfig is the fully resolved configuration handed to the engine.
// It is passed by value and never retained by the orchestrator.
type StartConfig struct {
	// Device is the virtual device type (tun or tap). Default: tun.
	Device DeviceType `yaml:"device"`

	// Token identifies the mesh this node joins. Required.
	Token string `yaml:"token"`

	// DeviceID uniquely identifies this node within the mesh.
	// Defaults to the OS machine identifier, falling back to a random UUID.
	DeviceID string `yaml:"device_id"`

	// Name is the display name announced to peers.
	Name string `yaml:"name"`

	// Server is the host:port of the coordination server. Required.
	Server string `yaml:"server"`

	// NATTestServers are STUN-style endpoints used to classify this node's NAT.
	NATTestServers []string `yaml:"nat_test_servers"`

	// InIPs are CIDR ranges routed into the tunnel.
	InIPs []string `yaml:"in_ips"`

	// OutIPs are CIDR ranges announced to peers as reachable through this node.
	OutIPs []string `yaml:"out_ips"`

	// Password encrypts tunnel payloads when set.
	Password string `yaml:"password"`

	// SimulateMulticast enables point-to-multipoint emulation for
	// multicast-dependent applications.
	SimulateMulticast bool `yaml:"simulate_multicast"`
}

// Load reads and validates a StartConfig from a YAML file.
// Unknown fields are rejected so typos fail loudly.
func Load(path string) (StartConfig, error) {
	var cfg StartConfig

	f, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Options are the command-line inputs used to synthesize a StartConfig when
// no config file is given.
type Options struct {
	Device            string
	Token             string
	DeviceID          string
	Name              string
	Server            string
	NATTestServers    []string
	InIPs             []string
	OutIPs            []string
	Password          string
	SimulateMulticast bool
}

// Defaults synthesizes a validated StartConfig from command-line options.
func Defaults(opts Options) (StartConfig, error) {
	cfg := StartConfig{
		Device:            DeviceType(opts.Device),
		Token:             opts.Token,
		DeviceID:          opts.DeviceID,
		Name:              opts.Name,
		Server:            opts.Server,
		NATTestServers:    opts.NATTestServers,
		InIPs:             opts.InIPs,
		OutIPs:            opts.OutIPs,
		Password:          opts.Password,
		SimulateMulticast: opts.SimulateMulticast,
	}

	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *StartConfig) {
	if cfg.Device == "" {
		cfg.Device = DeviceTUN
	}
	if cfg.DeviceID == "" {
		cfg.DeviceID = defaultDeviceID()
	}
	if cfg.Name == "" {
		if host, err := os.Hostname(); err == nil {
			cfg.Name = host
		}
	}
}

// defaultDeviceID returns a stable identifier for this machine, falling back
// to a random UUID when the hostname is unavailable.
func defaultDeviceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return uuid.NewString()
	}
	// Derive a deterministic UUID so reinstalls keep the same identity.
	return uuid.NewSHA1(uuid.NameSpaceDNS, []byte(host)).String()
}

// Validate checks that the configuration is complete and well-formed.
func (c StartConfig) Validate() error {
	if c.Device != DeviceTUN && c.Device != DeviceTAP {
		return fmt.Errorf("%w: device must be tun or tap, got %q", ErrInvalidConfig, c.Device)
	}
	if strings.TrimSpace(c.Token) == "" {
		return fmt.Errorf("%w: token is required", ErrInvalidConfig)
	}
	if c.Server == "" {
		return fmt.Errorf("%w: server is required", ErrInvalidConfig)
	}
	if _, _, err := net.SplitHostPort(c.Server); err != nil {
		return fmt.Errorf("%w: server must be host:port: %v", ErrInvalidConfig, err)
	}
	for _, s := range c.NATTestServers {
		if _, _, err := net.SplitHostPort(s); err != nil {
			return fmt.Errorf("%w: nat test server %q must be host:port: %v", ErrInvalidConfig, s, err)
		}
	}
	for _, cidr := range c.InIPs {
		if _, err := netip.ParsePrefix(cidr); err != nil {
			return fmt.Errorf("%w: in_ips entry %q: %v", ErrInvalidConfig, cidr, err)
		}
	}
	for _, cidr := range c.OutIPs {
		if _, err := netip.ParsePrefix(cidr); err != nil {
			return fmt.Errorf("%w: out_ips entry %q: %v", ErrInvalidConfig, cidr, err)
		}
	}
	return nil
}
