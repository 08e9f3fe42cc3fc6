// Copyright 2026 The Beacon Authors
// SPDX-License-Identifier: Apache-2.0

package replication

import (
	"context"

	"github.com/beacon-foundation/beacon/registry"
)

// PeerNode is one remote registry node seen from this one.
type PeerNode interface {
	// Name is the peer's stable node name, unique within the cluster.
	Name() string

	// FetchSnapshot returns the peer's full current dataset. Used
	// during bootstrap sync.
	FetchSnapshot(ctx context.Context) ([]registry.InstanceInfo, error)

	// Replicate delivers one mutation to the peer.
	Replicate(ctx context.Context, mutation Mutation) error
}

// PeerResolver produces the current peer set. Implementations range
// from a static list to DNS or config-driven discovery; the registry
// re-resolves periodically so peers can join and leave a running
// cluster.
type PeerResolver interface {
	Resolve(ctx context.Context) ([]PeerNode, error)
}

// StaticResolver always returns the same peer set.
type StaticResolver struct {
	peers []PeerNode
}

// NewStaticResolver builds a resolver over a fixed peer list.
func NewStaticResolver(peers []PeerNode) *StaticResolver {
	return &StaticResolver{peers: peers}
}

// Resolve returns the configured peers.
func (r *StaticResolver) Resolve(ctx context.Context) ([]PeerNode, error) {
	return r.peers, nil
}
