// Copyright 2026 The Beacon Authors
// SPDX-License-Identifier: Apache-2.0

// Package interest is the consumer-facing face of a registry link. A
// Client owns a self-healing connection to a registry node, mirrors
// the remote dataset into a local store, and hands out per-interest
// change streams backed by that store. The client reports STARTING
// until the first full snapshot has streamed in, then UP; reconnects
// later do not drop it back to STARTING.
package interest

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/beacon-foundation/beacon/connection"
	"github.com/beacon-foundation/beacon/health"
	"github.com/beacon-foundation/beacon/lib/clock"
	"github.com/beacon-foundation/beacon/registry"
)

// ErrShutdown is returned by ForInterest after Shutdown.
var ErrShutdown = errors.New("interest: client shut down")

// Client mirrors a remote registry into a local store and serves
// change streams from it.
type Client struct {
	store  *registry.Store
	conn   *connection.Retryable
	health *health.Provider
	logger *slog.Logger

	closed         atomic.Bool
	probe          *registry.Subscription
	bootstrapCount atomic.Int64
}

// NewClient creates a client that maintains a full-interest
// subscription to the registry reached through factory, and starts it.
// The store is the local mirror the factory's channels write into; it
// must be the same store the channels were built around.
//
// The client subscribes the channel to the full interest regardless of
// what callers later ask for: narrower interests are served locally by
// filtering the mirrored dataset, so a new interest never costs a
// round trip.
func NewClient(store *registry.Store, factory connection.Factory, config connection.RetryConfig, clk clock.Clock, logger *slog.Logger) (*Client, error) {
	client := &Client{
		store:  store,
		health: health.NewProvider("interest-channel", clk),
		logger: logger,
	}

	operation := func(ctx context.Context, channel connection.Channel) error {
		return channel.ChangeInterest(ctx, registry.FullInterest())
	}
	client.conn = connection.NewRetryable(factory, operation, config, clk, logger)

	// The probe subscription must exist before any data can arrive, so
	// its notification count is exactly the initial dataset.
	client.probe = store.ForInterest(registry.FullInterest())
	go client.bootstrapProbe()

	if err := client.conn.Start(); err != nil {
		client.probe.Cancel()
		return nil, err
	}
	return client, nil
}

// ForInterest returns a live change stream for the given interest:
// current matching entries, the buffer sentinel, then incremental
// changes. Fails immediately after Shutdown.
func (c *Client) ForInterest(interest registry.Interest) (*registry.Subscription, error) {
	if c.closed.Load() {
		return nil, ErrShutdown
	}
	return c.store.ForInterest(interest), nil
}

// Health returns the provider tracking this client's channel status.
func (c *Client) Health() *health.Provider {
	return c.health
}

// BootstrapCount returns the number of instances received before the
// first buffer sentinel. Zero until the client reaches UP.
func (c *Client) BootstrapCount() int {
	return int(c.bootstrapCount.Load())
}

// Store returns the local mirror of the remote registry.
func (c *Client) Store() *registry.Store {
	return c.store
}

// Shutdown closes the connection, marks the channel DOWN, and makes
// all future ForInterest calls fail. Idempotent. Streams already
// handed out keep draining whatever they received; they see no new
// changes.
func (c *Client) Shutdown() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	c.health.MoveTo(registry.StatusDown)
	c.probe.Cancel()
	c.conn.Shutdown()
}

// bootstrapProbe watches the mirror until the initial dataset is
// complete, then reports UP. Only real instance notifications count;
// the sentinel itself is a marker, not data.
func (c *Client) bootstrapProbe() {
	count := 0
	for notification := range c.probe.C() {
		if !notification.IsSentinel() {
			count++
			continue
		}
		c.bootstrapCount.Store(int64(count))
		if c.health.MoveTo(registry.StatusUp) {
			c.logger.Info("interest channel ready",
				"instances", count,
			)
		}
		c.probe.Cancel()
		return
	}
}
