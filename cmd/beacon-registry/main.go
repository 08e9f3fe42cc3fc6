// Copyright 2026 The Beacon Authors
// SPDX-License-Identifier: Apache-2.0

// beacon-registry runs one node of a Beacon service registry cluster.
//
// On startup the node pulls a full snapshot from every reachable peer
// (syncUp), seeds its self-preservation baseline from the merged
// count, registers itself, and opens for traffic. From then on it
// serves the peer protocol on the configured listen address:
// registrations, renewals, and cancels replicate asynchronously to
// all peers; clients subscribe for change streams.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/beacon-foundation/beacon/lib/clock"
	"github.com/beacon-foundation/beacon/lib/config"
	"github.com/beacon-foundation/beacon/registry"
	"github.com/beacon-foundation/beacon/replication"
	"github.com/beacon-foundation/beacon/transport"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath string
		logLevel   string
	)

	flagSet := pflag.NewFlagSet("beacon-registry", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to beacon.yaml (default: $BEACON_CONFIG)")
	flagSet.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", logLevel, err)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clk := clock.Real()
	store := registry.NewStore(logger)

	peers := make([]replication.PeerNode, 0, len(cfg.Replication.Peers))
	for _, peer := range cfg.Replication.Peers {
		peers = append(peers, transport.NewPeerClient(peer.Name, peer.Address))
	}

	node := replication.NewPeerRegistry(cfg.Node.Name, store,
		replication.NewStaticResolver(peers),
		replication.FanoutConfig{
			RetryLimit:  cfg.Replication.RetryLimit,
			Backoff:     cfg.Replication.Backoff,
			CallTimeout: cfg.Replication.Timeout,
		},
		replication.Config{
			LeaseDuration:             cfg.Registry.Lease,
			RenewalInterval:           cfg.Registry.Renewal,
			EvictionInterval:          cfg.Registry.Eviction,
			SelfPreservationThreshold: cfg.Registry.SelfPreservationThreshold,
			ReconcileInterval:         cfg.Replication.Reconcile,
		},
		clk, logger)

	server, err := transport.NewServer(cfg.Node.Listen, node, logger)
	if err != nil {
		return err
	}

	logger.Info("starting registry node",
		"node", cfg.Node.Name,
		"environment", cfg.Environment,
		"listen", cfg.Node.Listen,
		"peers", len(peers),
	)

	count, err := node.SyncUp(ctx)
	if err != nil {
		return fmt.Errorf("bootstrap sync: %w", err)
	}

	self := registry.InstanceInfo{
		ID:            cfg.Node.Name,
		Application:   cfg.Node.Application,
		Address:       cfg.Node.Advertise,
		Status:        registry.StatusUp,
		LeaseDuration: cfg.Registry.Lease,
	}
	node.OpenForTraffic(ctx, self, count)

	// Heartbeat the node's own registration so peers keep its lease
	// fresh.
	go func() {
		ticker := clk.NewTicker(cfg.Registry.Renewal)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				node.Renew(cfg.Node.Name)
			}
		}
	}()

	err = server.Serve(ctx)
	node.Shutdown()
	return err
}
