// Copyright 2026 The Beacon Authors
// SPDX-License-Identifier: Apache-2.0

package replication

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/beacon-foundation/beacon/lib/clock"
	"github.com/beacon-foundation/beacon/registry"
)

// Config tunes a peer registry's lease and cluster behavior.
type Config struct {
	// LeaseDuration is the default lease granted to instances that
	// register without one. Default: 90 seconds.
	LeaseDuration time.Duration

	// RenewalInterval is how often instances are expected to renew.
	// Feeds the self-preservation baseline. Default: 30 seconds.
	RenewalInterval time.Duration

	// EvictionInterval is how often expired leases are swept, and the
	// measurement window for the renewal rate. Default: 60 seconds.
	EvictionInterval time.Duration

	// SelfPreservationThreshold suspends eviction when the observed
	// renewal rate falls below this fraction of the expected rate.
	// Zero disables self-preservation. Default: 0.85.
	SelfPreservationThreshold float64

	// ReconcileInterval is how often the peer set is re-resolved.
	// Default: 30 seconds.
	ReconcileInterval time.Duration
}

func (c *Config) applyDefaults() {
	if c.LeaseDuration == 0 {
		c.LeaseDuration = 90 * time.Second
	}
	if c.RenewalInterval == 0 {
		c.RenewalInterval = 30 * time.Second
	}
	if c.EvictionInterval == 0 {
		c.EvictionInterval = 60 * time.Second
	}
	if c.ReconcileInterval == 0 {
		c.ReconcileInterval = 30 * time.Second
	}
}

// PeerRegistry is one node's registry plus its cluster behavior:
// bootstrap sync from peers, replication of local mutations, and
// expired-lease eviction gated by self-preservation.
//
// Lifecycle: NewPeerRegistry, SyncUp, OpenForTraffic, then serve.
// Shutdown deregisters the node's own instance best-effort; peers
// that miss the cancel evict it by lease expiry.
type PeerRegistry struct {
	node     string
	store    *registry.Store
	policy   *registry.EvictionPolicy
	fanout   *Fanout
	resolver PeerResolver
	config   Config
	clk      clock.Clock
	logger   *slog.Logger

	// writeMu serializes read-modify-write mutations against the
	// store so last-writer-wins checks do not interleave.
	writeMu sync.Mutex

	serving     atomic.Bool
	selfID      atomic.Value // string
	cancelLoops context.CancelFunc
	loops       sync.WaitGroup
}

// NewPeerRegistry creates a registry node named node, backed by store.
// The node name is the origin marker stamped on every local mutation.
func NewPeerRegistry(node string, store *registry.Store, resolver PeerResolver, fanoutConfig FanoutConfig, config Config, clk clock.Clock, logger *slog.Logger) *PeerRegistry {
	config.applyDefaults()
	return &PeerRegistry{
		node:     node,
		store:    store,
		policy:   registry.NewEvictionPolicy(clk, config.EvictionInterval, config.SelfPreservationThreshold),
		fanout:   NewFanout(fanoutConfig, clk, logger),
		resolver: resolver,
		config:   config,
		clk:      clk,
		logger:   logger,
	}
}

// Store returns the node's registry store.
func (r *PeerRegistry) Store() *registry.Store {
	return r.store
}

// Serving reports whether OpenForTraffic has been called.
func (r *PeerRegistry) Serving() bool {
	return r.serving.Load()
}

// SyncUp pulls a full snapshot from every reachable peer and merges
// them into the local store under last-writer-wins. Unreachable peers
// are skipped with a warning: a node must come up even when most of
// the cluster is away. Returns the number of distinct instances known
// after the merge; with no peers configured that is zero.
func (r *PeerRegistry) SyncUp(ctx context.Context) (int, error) {
	peers, err := r.resolver.Resolve(ctx)
	if err != nil {
		return 0, fmt.Errorf("resolving peers for bootstrap sync: %w", err)
	}

	for _, peer := range peers {
		snapshot, err := peer.FetchSnapshot(ctx)
		if err != nil {
			r.logger.Warn("bootstrap sync skipped unreachable peer",
				"peer", peer.Name(),
				"error", err,
			)
			continue
		}
		merged := 0
		for _, info := range snapshot {
			if r.applyNewer(info) {
				merged++
			}
		}
		r.logger.Info("bootstrap sync merged peer snapshot",
			"peer", peer.Name(),
			"instances", len(snapshot),
			"merged", merged,
		)
	}
	return r.store.Len(), nil
}

// OpenForTraffic transitions the node from bootstrap to serving. The
// bootstrap count (from SyncUp) seeds the self-preservation baseline;
// a count of zero simply leaves self-preservation dormant, the node
// serves either way. The node registers its own instance and starts
// the eviction and peer-reconcile loops.
func (r *PeerRegistry) OpenForTraffic(ctx context.Context, self registry.InstanceInfo, count int) {
	r.policy.SetBaseline(count, r.config.RenewalInterval)
	r.selfID.Store(self.ID)

	if self.Status == "" {
		self.Status = registry.StatusUp
	}
	r.Register(self)
	r.store.MarkInitialized()

	r.reconcile(ctx)

	loopCtx, cancel := context.WithCancel(context.Background())
	r.cancelLoops = cancel
	r.loops.Add(2)
	go r.evictionLoop(loopCtx)
	go r.reconcileLoop(loopCtx)

	r.serving.Store(true)
	r.logger.Info("registry open for traffic",
		"node", r.node,
		"bootstrap_instances", count,
	)
}

// Register adds or replaces an instance and replicates it to peers.
// Instances without a lease get the configured default.
func (r *PeerRegistry) Register(info registry.InstanceInfo) {
	r.writeMu.Lock()
	if info.LeaseDuration == 0 {
		info.LeaseDuration = r.config.LeaseDuration
	}
	info.LastRenewal = r.clk.Now()
	r.store.Put(info)
	r.writeMu.Unlock()

	r.fanout.Broadcast(Mutation{Kind: KindRegister, Instance: info, Origin: r.node})
}

// Renew refreshes an instance's lease and replicates the heartbeat.
// Returns false when the instance is unknown, which tells the caller
// to re-register.
func (r *PeerRegistry) Renew(id string) bool {
	r.writeMu.Lock()
	info, ok := r.store.Get(id)
	if !ok {
		r.writeMu.Unlock()
		return false
	}
	info.LastRenewal = r.clk.Now()
	r.store.Put(info)
	r.writeMu.Unlock()

	r.policy.RecordRenewal()
	r.fanout.Broadcast(Mutation{Kind: KindRenew, Instance: info, Origin: r.node})
	return true
}

// Cancel removes an instance and replicates the deregistration.
// Returns false when the instance is unknown.
func (r *PeerRegistry) Cancel(id string) bool {
	r.writeMu.Lock()
	info, ok := r.store.Get(id)
	if !ok {
		r.writeMu.Unlock()
		return false
	}
	r.store.Remove(id)
	r.writeMu.Unlock()

	r.fanout.Broadcast(Mutation{Kind: KindCancel, Instance: info, Origin: r.node})
	return true
}

// SetStatus overrides an instance's status and replicates the change.
// Returns false when the instance is unknown.
func (r *PeerRegistry) SetStatus(id string, status registry.Status) bool {
	r.writeMu.Lock()
	info, ok := r.store.Get(id)
	if !ok {
		r.writeMu.Unlock()
		return false
	}
	info.Status = status
	info.LastRenewal = r.clk.Now()
	r.store.Put(info)
	r.writeMu.Unlock()

	r.fanout.Broadcast(Mutation{Kind: KindStatus, Instance: info, Origin: r.node})
	return true
}

// ApplyReplicated applies a mutation received from a peer. Mutations
// that originated here are discarded (replication echo), and stale
// updates lose to the newer local state, so replaying a mutation is
// harmless.
func (r *PeerRegistry) ApplyReplicated(mutation Mutation) {
	if mutation.Origin == r.node {
		return
	}

	switch mutation.Kind {
	case KindCancel:
		r.writeMu.Lock()
		r.store.Remove(mutation.Instance.ID)
		r.writeMu.Unlock()
	case KindRegister, KindRenew, KindStatus:
		if !r.applyNewer(mutation.Instance) {
			return
		}
		if mutation.Kind == KindRenew {
			// Replicated heartbeats count toward the renewal rate:
			// instances heartbeat one node, not all of them.
			r.policy.RecordRenewal()
		}
	default:
		r.logger.Warn("ignoring replicated mutation of unknown kind",
			"kind", mutation.Kind,
			"origin", mutation.Origin,
		)
	}
}

// applyNewer writes info to the store unless an equal-or-newer entry
// is already present. Reports whether a write happened.
func (r *PeerRegistry) applyNewer(info registry.InstanceInfo) bool {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	if existing, ok := r.store.Get(info.ID); ok && !info.NewerThan(existing) {
		return false
	}
	r.store.Put(info)
	return true
}

// Shutdown deregisters the node's own instance, stops the background
// loops, and drains the replication fanout. The outgoing cancel is
// best-effort: a peer that misses it evicts the entry by lease expiry.
func (r *PeerRegistry) Shutdown() {
	if !r.serving.CompareAndSwap(true, false) {
		r.fanout.Shutdown()
		return
	}

	if id, ok := r.selfID.Load().(string); ok && id != "" {
		r.Cancel(id)
	}
	r.cancelLoops()
	r.loops.Wait()
	r.fanout.Shutdown()
	r.logger.Info("registry shut down", "node", r.node)
}

func (r *PeerRegistry) evictionLoop(ctx context.Context) {
	defer r.loops.Done()

	ticker := r.clk.NewTicker(r.config.EvictionInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.evictExpired()
		}
	}
}

// evictExpired removes instances whose leases have lapsed, unless
// self-preservation is active. An eviction is an ordinary cancel and
// fans out to peers like one; the self-preservation gate is what keeps
// a partitioned node from broadcasting mass deletions.
func (r *PeerRegistry) evictExpired() {
	if !r.policy.IsEvictionAllowed() {
		r.logger.Warn("self-preservation active, skipping eviction sweep")
		return
	}

	selfID, _ := r.selfID.Load().(string)
	now := r.clk.Now()
	for _, info := range r.store.Snapshot() {
		if info.ID == selfID {
			continue
		}
		if !info.LeaseExpired(now) {
			continue
		}
		r.writeMu.Lock()
		// Re-check under the write lock: a renewal may have landed
		// between the snapshot and now.
		current, ok := r.store.Get(info.ID)
		evicted := ok && current.LeaseExpired(now)
		if evicted {
			r.store.Remove(info.ID)
		}
		r.writeMu.Unlock()

		if evicted {
			r.fanout.Broadcast(Mutation{Kind: KindCancel, Instance: current, Origin: r.node})
			r.logger.Info("evicted expired lease",
				"instance", info.ID,
				"application", info.Application,
				"last_renewal", current.LastRenewal,
			)
		}
	}
}

func (r *PeerRegistry) reconcileLoop(ctx context.Context) {
	defer r.loops.Done()

	ticker := r.clk.NewTicker(r.config.ReconcileInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.reconcile(ctx)
		}
	}
}

// reconcile re-resolves the peer set and updates the fanout.
func (r *PeerRegistry) reconcile(ctx context.Context) {
	peers, err := r.resolver.Resolve(ctx)
	if err != nil {
		r.logger.Warn("peer resolution failed", "error", err)
		return
	}
	r.fanout.SetPeers(peers)
}
