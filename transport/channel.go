// Copyright 2026 The Beacon Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/beacon-foundation/beacon/connection"
	"github.com/beacon-foundation/beacon/lib/codec"
	"github.com/beacon-foundation/beacon/registry"
)

// Compile-time interface checks.
var (
	_ connection.Factory = (*ChannelFactory)(nil)
	_ connection.Channel = (*remoteChannel)(nil)
)

// dialTimeout bounds a single channel dial attempt. The reconnect
// loop's backoff handles the waiting between attempts.
const dialTimeout = 10 * time.Second

// ChannelFactory dials subscribe channels to one registry node. Every
// channel writes the remote change stream into the same local store.
type ChannelFactory struct {
	address string
	store   *registry.Store
	logger  *slog.Logger
}

// NewChannelFactory creates a factory dialing the registry at address,
// mirroring into store.
func NewChannelFactory(address string, store *registry.Store, logger *slog.Logger) *ChannelFactory {
	return &ChannelFactory{
		address: address,
		store:   store,
		logger:  logger,
	}
}

// NewChannel dials a fresh connection.
func (f *ChannelFactory) NewChannel() (connection.Channel, error) {
	conn, err := net.DialTimeout("tcp", f.address, dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("dialing registry at %s: %w", f.address, err)
	}
	return &remoteChannel{
		conn:   conn,
		store:  f.store,
		logger: f.logger,
	}, nil
}

// remoteChannel is one live subscribe stream. ChangeInterest sends the
// subscribe request, then applies every notification to the local
// store until the stream breaks.
type remoteChannel struct {
	conn   net.Conn
	store  *registry.Store
	logger *slog.Logger

	closeOnce sync.Once
}

func (c *remoteChannel) ChangeInterest(ctx context.Context, interest registry.Interest) error {
	// Close the connection when ctx ends so the blocking decode below
	// unblocks promptly.
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			c.conn.Close()
		case <-watchDone:
		}
	}()

	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := codec.NewEncoder(c.conn).Encode(subscribeRequest{
		Action:   ActionSubscribe,
		Interest: interest,
	}); err != nil {
		return fmt.Errorf("sending subscribe request: %w", err)
	}

	c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	decoder := codec.NewDecoder(c.conn)

	var response Response
	if err := decoder.Decode(&response); err != nil {
		return fmt.Errorf("reading subscribe response: %w", err)
	}
	if !response.OK {
		return &RemoteError{Action: ActionSubscribe, Message: response.Error}
	}

	// The stream idles between changes; no read deadline from here.
	c.conn.SetReadDeadline(time.Time{})

	for {
		var notification registry.ChangeNotification
		if err := decoder.Decode(&notification); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("reading change stream: %w", err)
		}
		c.apply(notification)
	}
}

// apply folds one remote notification into the local mirror.
func (c *remoteChannel) apply(notification registry.ChangeNotification) {
	switch notification.Kind {
	case registry.KindAdd, registry.KindModify:
		if notification.Instance != nil {
			c.store.Put(*notification.Instance)
		}
	case registry.KindDelete:
		if notification.Instance != nil {
			c.store.Remove(notification.Instance.ID)
		}
	case registry.KindBufferSentinel:
		// The remote's initial batch is complete; release local
		// subscribers waiting on their sentinel.
		c.store.MarkInitialized()
	default:
		c.logger.Warn("ignoring change notification of unknown kind",
			"kind", notification.Kind,
		)
	}
}

func (c *remoteChannel) Close() {
	c.closeOnce.Do(func() {
		c.conn.Close()
	})
}
