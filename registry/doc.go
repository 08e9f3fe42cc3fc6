// Copyright 2026 The Beacon Authors
// SPDX-License-Identifier: Apache-2.0

// Package registry holds the registry data model and the in-memory
// instance store.
//
// The store is a map of instance ID to InstanceInfo plus lease
// metadata. Readers observe it as a change stream: ForInterest returns
// a subscription that first replays the current matching entries, then
// a buffer sentinel marking the end of the initial batch, then every
// subsequent matching change in emission order. Each subscription has
// its own delivery goroutine and unbounded pending queue, so a slow
// consumer can never stall the writer or other subscriptions.
//
// Mutation is single-writer from the caller's perspective: Put and
// Remove apply atomically with respect to readers, and notifications
// for one subscription are never reordered.
//
// Lease eviction is gated by EvictionPolicy: when the aggregate
// renewal rate drops below a threshold fraction of the expected rate
// (derived from the bootstrap count), eviction is suspended. This
// self-preservation mode guards against mass-eviction when a network
// partition, rather than mass instance death, stops renewals from
// arriving.
package registry
