// Copyright 2026 The Beacon Authors
// SPDX-License-Identifier: Apache-2.0

// Package replication keeps a cluster of registry nodes eventually
// consistent. Every local mutation fans out asynchronously to all
// peers; incoming replicated mutations apply under last-writer-wins
// ordered by lease renewal time, with the originating node's name
// carried along so a mutation never echoes back to its source.
package replication

import (
	"github.com/beacon-foundation/beacon/registry"
)

// MutationKind tags a replicated registry operation.
type MutationKind string

const (
	// KindRegister is a new or re-registered instance.
	KindRegister MutationKind = "register"

	// KindRenew is a lease heartbeat.
	KindRenew MutationKind = "renew"

	// KindCancel is an explicit deregistration.
	KindCancel MutationKind = "cancel"

	// KindStatus is a status override (e.g. OUT_OF_SERVICE).
	KindStatus MutationKind = "status"
)

// Mutation is one registry operation in flight between peers.
type Mutation struct {
	Kind MutationKind `json:"kind"`

	// Instance is the full post-mutation state. For cancels only the
	// ID is meaningful.
	Instance registry.InstanceInfo `json:"instance"`

	// Origin names the node where the mutation first entered the
	// cluster. A node receiving its own origin discards the mutation.
	Origin string `json:"origin"`
}
