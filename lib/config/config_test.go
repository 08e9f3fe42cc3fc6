// Copyright 2026 The Beacon Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "beacon.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
environment: production
node:
  name: node-a
  listen: ":7280"
  advertise: "10.0.0.5:7280"
registry:
  lease_duration: 2m
replication:
  peers:
    - name: node-b
      address: "10.0.0.6:7280"
    - name: node-c
      address: "10.0.0.7:7280"
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	if cfg.Node.Name != "node-a" {
		t.Errorf("Node.Name = %q, want %q", cfg.Node.Name, "node-a")
	}
	if cfg.Node.Advertise != "10.0.0.5:7280" {
		t.Errorf("Node.Advertise = %q, want %q", cfg.Node.Advertise, "10.0.0.5:7280")
	}
	if cfg.Registry.Lease != 2*time.Minute {
		t.Errorf("Registry.Lease = %v, want 2m", cfg.Registry.Lease)
	}
	// Unset fields keep defaults.
	if cfg.Registry.Renewal != 30*time.Second {
		t.Errorf("Registry.Renewal = %v, want default 30s", cfg.Registry.Renewal)
	}
	if cfg.Node.Application != "beacon-registry" {
		t.Errorf("Node.Application = %q, want default %q", cfg.Node.Application, "beacon-registry")
	}
	if len(cfg.Replication.Peers) != 2 {
		t.Fatalf("len(Peers) = %d, want 2", len(cfg.Replication.Peers))
	}
	if cfg.Replication.Peers[1].Address != "10.0.0.7:7280" {
		t.Errorf("Peers[1].Address = %q", cfg.Replication.Peers[1].Address)
	}
}

func TestAdvertiseDefaultsToListen(t *testing.T) {
	path := writeConfig(t, `
node:
  name: node-a
  listen: "10.0.0.5:7280"
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Node.Advertise != "10.0.0.5:7280" {
		t.Errorf("Advertise = %q, want listen address", cfg.Node.Advertise)
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	path := writeConfig(t, `
environment: staging
node:
  name: node-a
  listen: ":7280"
registry:
  eviction_interval: 60s
staging:
  registry:
    eviction_interval: 10s
production:
  registry:
    eviction_interval: 5m
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Registry.Eviction != 10*time.Second {
		t.Errorf("Eviction = %v, want staging override 10s", cfg.Registry.Eviction)
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "missing node name",
			content: "node:\n  listen: \":7280\"\n",
			wantErr: "node.name is required",
		},
		{
			name:    "missing listen",
			content: "node:\n  name: node-a\n",
			wantErr: "node.listen is required",
		},
		{
			name: "bad duration",
			content: `
node:
  name: node-a
  listen: ":7280"
registry:
  lease_duration: ninety
`,
			wantErr: "lease_duration",
		},
		{
			name: "threshold out of range",
			content: `
node:
  name: node-a
  listen: ":7280"
registry:
  self_preservation_threshold: 1.5
`,
			wantErr: "self_preservation_threshold",
		},
		{
			name: "peer missing address",
			content: `
node:
  name: node-a
  listen: ":7280"
replication:
  peers:
    - name: node-b
`,
			wantErr: "name and address",
		},
		{
			name: "peer list includes self",
			content: `
node:
  name: node-a
  listen: ":7280"
replication:
  peers:
    - name: node-a
      address: "10.0.0.5:7280"
`,
			wantErr: "own name",
		},
		{
			name: "duplicate peer name",
			content: `
node:
  name: node-a
  listen: ":7280"
replication:
  peers:
    - name: node-b
      address: "10.0.0.6:7280"
    - name: node-b
      address: "10.0.0.7:7280"
`,
			wantErr: "duplicate",
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			path := writeConfig(t, test.content)
			_, err := LoadFile(path)
			if err == nil {
				t.Fatal("LoadFile succeeded, want error")
			}
			if !strings.Contains(err.Error(), test.wantErr) {
				t.Errorf("error = %q, want substring %q", err, test.wantErr)
			}
		})
	}
}

func TestLoadRequiresEnvironmentVariable(t *testing.T) {
	t.Setenv("BEACON_CONFIG", "")
	if _, err := Load(); err == nil {
		t.Fatal("Load with empty BEACON_CONFIG succeeded, want error")
	}
}

func TestLoadUsesEnvironmentVariable(t *testing.T) {
	path := writeConfig(t, `
node:
  name: node-a
  listen: ":7280"
`)
	t.Setenv("BEACON_CONFIG", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Node.Name != "node-a" {
		t.Errorf("Node.Name = %q, want %q", cfg.Node.Name, "node-a")
	}
}
