// Copyright 2026 The Beacon Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/beacon-foundation/beacon/lib/codec"
	"github.com/beacon-foundation/beacon/registry"
	"github.com/beacon-foundation/beacon/replication"
)

// Compile-time interface check.
var _ replication.PeerNode = (*PeerClient)(nil)

// PeerClient reaches one remote registry node over TCP. Each call
// dials a fresh connection for one request-response exchange;
// replication volume is low enough that connection reuse is not worth
// the pooling machinery.
type PeerClient struct {
	name    string
	address string
}

// NewPeerClient creates a client for the named peer at address.
func NewPeerClient(name, address string) *PeerClient {
	return &PeerClient{name: name, address: address}
}

// Name returns the peer's node name.
func (c *PeerClient) Name() string {
	return c.name
}

// FetchSnapshot pulls the peer's full dataset.
func (c *PeerClient) FetchSnapshot(ctx context.Context) ([]registry.InstanceInfo, error) {
	response, err := c.roundTrip(ctx, ActionSnapshot, snapshotRequest{Action: ActionSnapshot})
	if err != nil {
		return nil, err
	}

	var payload SnapshotPayload
	if err := codec.Unmarshal(response.Data, &payload); err != nil {
		return nil, fmt.Errorf("decoding snapshot payload from %s: %w", c.name, err)
	}
	instances, err := DecodeSnapshot(payload)
	if err != nil {
		return nil, fmt.Errorf("snapshot from %s: %w", c.name, err)
	}
	return instances, nil
}

// Replicate delivers one mutation to the peer.
func (c *PeerClient) Replicate(ctx context.Context, mutation replication.Mutation) error {
	_, err := c.roundTrip(ctx, ActionReplicate, replicateRequest{
		Action:   ActionReplicate,
		Mutation: mutation,
	})
	return err
}

// roundTrip dials the peer, sends one request, and decodes the
// response envelope. A failure response becomes a RemoteError.
func (c *PeerClient) roundTrip(ctx context.Context, action string, request any) (Response, error) {
	conn, err := (&net.Dialer{}).DialContext(ctx, "tcp", c.address)
	if err != nil {
		return Response{}, fmt.Errorf("dialing peer %s: %w", c.name, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	} else {
		conn.SetDeadline(time.Now().Add(readTimeout))
	}

	if err := codec.NewEncoder(conn).Encode(request); err != nil {
		return Response{}, fmt.Errorf("sending %s to peer %s: %w", action, c.name, err)
	}

	var response Response
	if err := codec.NewDecoder(conn).Decode(&response); err != nil {
		return Response{}, fmt.Errorf("reading %s response from peer %s: %w", action, c.name, err)
	}
	if !response.OK {
		return Response{}, &RemoteError{Action: action, Message: response.Error}
	}
	return response, nil
}
