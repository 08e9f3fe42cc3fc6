// Copyright 2026 The Beacon Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local development machines.
	Development Environment = "development"
	// Staging is for pre-production testing.
	Staging Environment = "staging"
	// Production is for production deployments.
	Production Environment = "production"
)

// Config is the master configuration for a Beacon node.
type Config struct {
	// Environment identifies the deployment type.
	Environment Environment `yaml:"environment"`

	// Node identifies this registry node and its listen addresses.
	Node NodeConfig `yaml:"node"`

	// Registry configures lease, eviction, and self-preservation
	// behavior of the local registry store.
	Registry RegistryConfig `yaml:"registry"`

	// Replication configures the peer set and fan-out retry policy.
	Replication ReplicationConfig `yaml:"replication"`

	// Per-environment overrides, applied after the base config loads.
	Development *Overrides `yaml:"development,omitempty"`
	Staging     *Overrides `yaml:"staging,omitempty"`
	Production  *Overrides `yaml:"production,omitempty"`
}

// Overrides contains the fields that can be overridden per environment.
type Overrides struct {
	Node        *NodeConfig        `yaml:"node,omitempty"`
	Registry    *RegistryConfig    `yaml:"registry,omitempty"`
	Replication *ReplicationConfig `yaml:"replication,omitempty"`
}

// NodeConfig identifies this node.
type NodeConfig struct {
	// Name is the unique node name within the cluster. It doubles as
	// the origin marker on replicated mutations, so two nodes sharing
	// a name would suppress each other's writes. Required.
	Name string `yaml:"name"`

	// Application is the application name the node registers itself
	// under. Default: beacon-registry.
	Application string `yaml:"application"`

	// Listen is the TCP address the peer protocol server binds
	// (e.g., ":7280", "10.0.0.5:7280"). Required.
	Listen string `yaml:"listen"`

	// Advertise is the address other nodes and clients dial to reach
	// this node. Defaults to Listen. Set this when the node is behind
	// NAT or binds a wildcard address.
	Advertise string `yaml:"advertise"`
}

// RegistryConfig configures the local registry store.
//
// Durations are YAML strings in time.ParseDuration format ("90s",
// "1m30s"). Validate parses them into the exported time.Duration
// fields.
type RegistryConfig struct {
	// LeaseDuration is how long a registration stays valid without a
	// renewal. Default: 90s.
	LeaseDuration string `yaml:"lease_duration"`

	// RenewalInterval is how often well-behaved instances renew.
	// The self-preservation baseline (expected renewals per window)
	// derives from it. Default: 30s.
	RenewalInterval string `yaml:"renewal_interval"`

	// EvictionInterval is the cadence of the expired-lease sweep.
	// Default: 60s.
	EvictionInterval string `yaml:"eviction_interval"`

	// SelfPreservationThreshold is the fraction of the expected
	// renewal rate below which eviction is suspended. Default: 0.85.
	// Set to 0 to disable self-preservation entirely.
	SelfPreservationThreshold float64 `yaml:"self_preservation_threshold"`

	// Parsed duration values, filled by Validate.
	Lease    time.Duration `yaml:"-"`
	Renewal  time.Duration `yaml:"-"`
	Eviction time.Duration `yaml:"-"`
}

// PeerConfig names one remote registry node.
type PeerConfig struct {
	// Name is the peer's node name. Used in logs and to detect
	// accidental self-references in the peer list.
	Name string `yaml:"name"`

	// Address is the peer's advertised TCP address.
	Address string `yaml:"address"`
}

// ReplicationConfig configures the peer set and the fan-out policy.
type ReplicationConfig struct {
	// Peers is the static seed list of remote nodes. An empty list is
	// valid — the first node of a fresh cluster has no peers.
	Peers []PeerConfig `yaml:"peers"`

	// RetryLimit is how many times a failed replication call is
	// retried before the mutation is dropped for that peer.
	// Default: 3.
	RetryLimit int `yaml:"retry_limit"`

	// RetryBackoff is the wait between replication retries.
	// Default: 500ms.
	RetryBackoff string `yaml:"retry_backoff"`

	// CallTimeout bounds each individual peer call (replicate or
	// snapshot fetch). A timed-out call counts as a failure for
	// retry purposes. Default: 5s.
	CallTimeout string `yaml:"call_timeout"`

	// ReconcileInterval is how often the peer set is re-resolved.
	// Membership changes are picked up here, never mid-fan-out.
	// Default: 30s.
	ReconcileInterval string `yaml:"reconcile_interval"`

	// Parsed duration values, filled by Validate.
	Backoff   time.Duration `yaml:"-"`
	Timeout   time.Duration `yaml:"-"`
	Reconcile time.Duration `yaml:"-"`
}

// Default returns the default configuration. These defaults are a base
// for the config file to override, not a substitute for it — Name and
// Listen have no usable defaults and must come from the file.
func Default() *Config {
	return &Config{
		Environment: Development,
		Node: NodeConfig{
			Application: "beacon-registry",
		},
		Registry: RegistryConfig{
			LeaseDuration:             "90s",
			RenewalInterval:           "30s",
			EvictionInterval:          "60s",
			SelfPreservationThreshold: 0.85,
		},
		Replication: ReplicationConfig{
			RetryLimit:        3,
			RetryBackoff:      "500ms",
			CallTimeout:       "5s",
			ReconcileInterval: "30s",
		},
	}
}

// Load loads configuration from the BEACON_CONFIG environment variable.
//
// This is the only way to load configuration without an explicit path.
// There are no fallbacks — if BEACON_CONFIG is not set, this fails.
func Load() (*Config, error) {
	path := os.Getenv("BEACON_CONFIG")
	if path == "" {
		return nil, fmt.Errorf("BEACON_CONFIG environment variable not set; " +
			"set it to the path of your beacon.yaml config file, or use --config")
	}
	return LoadFile(path)
}

// LoadFile loads configuration from a specific file path, applies
// environment-section overrides, and validates the result.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	cfg.applyEnvironmentOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config file %s: %w", path, err)
	}
	return cfg, nil
}

// applyEnvironmentOverrides merges the section matching the configured
// environment into the base config. Empty override fields leave the
// base value in place.
func (c *Config) applyEnvironmentOverrides() {
	var overrides *Overrides
	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
	}
	if overrides == nil {
		return
	}

	if overrides.Node != nil {
		if overrides.Node.Name != "" {
			c.Node.Name = overrides.Node.Name
		}
		if overrides.Node.Application != "" {
			c.Node.Application = overrides.Node.Application
		}
		if overrides.Node.Listen != "" {
			c.Node.Listen = overrides.Node.Listen
		}
		if overrides.Node.Advertise != "" {
			c.Node.Advertise = overrides.Node.Advertise
		}
	}

	if overrides.Registry != nil {
		if overrides.Registry.LeaseDuration != "" {
			c.Registry.LeaseDuration = overrides.Registry.LeaseDuration
		}
		if overrides.Registry.RenewalInterval != "" {
			c.Registry.RenewalInterval = overrides.Registry.RenewalInterval
		}
		if overrides.Registry.EvictionInterval != "" {
			c.Registry.EvictionInterval = overrides.Registry.EvictionInterval
		}
		if overrides.Registry.SelfPreservationThreshold != 0 {
			c.Registry.SelfPreservationThreshold = overrides.Registry.SelfPreservationThreshold
		}
	}

	if overrides.Replication != nil {
		if len(overrides.Replication.Peers) > 0 {
			c.Replication.Peers = overrides.Replication.Peers
		}
		if overrides.Replication.RetryLimit != 0 {
			c.Replication.RetryLimit = overrides.Replication.RetryLimit
		}
		if overrides.Replication.RetryBackoff != "" {
			c.Replication.RetryBackoff = overrides.Replication.RetryBackoff
		}
		if overrides.Replication.CallTimeout != "" {
			c.Replication.CallTimeout = overrides.Replication.CallTimeout
		}
		if overrides.Replication.ReconcileInterval != "" {
			c.Replication.ReconcileInterval = overrides.Replication.ReconcileInterval
		}
	}
}

// Validate checks required fields and parses all duration strings into
// their typed counterparts.
func (c *Config) Validate() error {
	if c.Node.Name == "" {
		return fmt.Errorf("node.name is required")
	}
	if c.Node.Listen == "" {
		return fmt.Errorf("node.listen is required")
	}
	if c.Node.Advertise == "" {
		c.Node.Advertise = c.Node.Listen
	}

	var err error
	if c.Registry.Lease, err = parseDuration("registry.lease_duration", c.Registry.LeaseDuration); err != nil {
		return err
	}
	if c.Registry.Renewal, err = parseDuration("registry.renewal_interval", c.Registry.RenewalInterval); err != nil {
		return err
	}
	if c.Registry.Eviction, err = parseDuration("registry.eviction_interval", c.Registry.EvictionInterval); err != nil {
		return err
	}
	if c.Registry.SelfPreservationThreshold < 0 || c.Registry.SelfPreservationThreshold > 1 {
		return fmt.Errorf("registry.self_preservation_threshold must be in [0, 1], got %v",
			c.Registry.SelfPreservationThreshold)
	}

	if c.Replication.RetryLimit < 0 {
		return fmt.Errorf("replication.retry_limit must be >= 0, got %d", c.Replication.RetryLimit)
	}
	if c.Replication.Backoff, err = parseDuration("replication.retry_backoff", c.Replication.RetryBackoff); err != nil {
		return err
	}
	if c.Replication.Timeout, err = parseDuration("replication.call_timeout", c.Replication.CallTimeout); err != nil {
		return err
	}
	if c.Replication.Reconcile, err = parseDuration("replication.reconcile_interval", c.Replication.ReconcileInterval); err != nil {
		return err
	}

	seen := make(map[string]bool, len(c.Replication.Peers))
	for _, peer := range c.Replication.Peers {
		if peer.Name == "" || peer.Address == "" {
			return fmt.Errorf("replication.peers entries require both name and address, got %+v", peer)
		}
		if peer.Name == c.Node.Name {
			return fmt.Errorf("replication.peers contains this node's own name %q", peer.Name)
		}
		if seen[peer.Name] {
			return fmt.Errorf("replication.peers contains duplicate name %q", peer.Name)
		}
		seen[peer.Name] = true
	}

	return nil
}

func parseDuration(field, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", field, value, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s: duration must be positive, got %q", field, value)
	}
	return d, nil
}
