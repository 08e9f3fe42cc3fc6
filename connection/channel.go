// Copyright 2026 The Beacon Authors
// SPDX-License-Identifier: Apache-2.0

// Package connection manages the client side of a registry link: a
// Channel abstraction over one live connection, a Factory that dials
// new ones, and a Retryable that keeps a channel alive across
// failures, re-running the caller's operation on every fresh channel.
package connection

import (
	"context"
	"errors"

	"github.com/beacon-foundation/beacon/registry"
)

// ErrClosed is returned for operations on a connection that has been
// shut down.
var ErrClosed = errors.New("connection: closed")

// Channel is one live link to a registry node. A channel carries at
// most one interest subscription at a time.
type Channel interface {
	// ChangeInterest subscribes the channel to the given interest and
	// blocks while the resulting change stream flows into the local
	// store. It returns when the stream breaks (with the transport
	// error) or when ctx is cancelled.
	ChangeInterest(ctx context.Context, interest registry.Interest) error

	// Close releases the underlying connection. Safe to call more than
	// once.
	Close()
}

// Factory creates fresh channels. Each call dials a new connection.
type Factory interface {
	NewChannel() (Channel, error)
}

// Operation is the work a Retryable performs on each fresh channel.
// It should block for the useful life of the channel and return when
// the channel fails; returning nil also triggers a reconnect, since a
// registry link is meant to be permanent.
type Operation func(ctx context.Context, channel Channel) error
