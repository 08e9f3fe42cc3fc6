// Copyright 2026 The Beacon Authors
// SPDX-License-Identifier: Apache-2.0

package replication

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/beacon-foundation/beacon/lib/clock"
)

// FanoutConfig tunes per-peer replication delivery.
type FanoutConfig struct {
	// RetryLimit is how many times a failed delivery is retried before
	// the mutation is dropped for that peer. Default: 3.
	RetryLimit int

	// Backoff is the fixed delay between delivery retries.
	// Default: 500ms.
	Backoff time.Duration

	// CallTimeout bounds a single Replicate call. Default: 5 seconds.
	CallTimeout time.Duration
}

func (c *FanoutConfig) applyDefaults() {
	if c.RetryLimit == 0 {
		c.RetryLimit = 3
	}
	if c.Backoff == 0 {
		c.Backoff = 500 * time.Millisecond
	}
	if c.CallTimeout == 0 {
		c.CallTimeout = 5 * time.Second
	}
}

// Fanout delivers mutations to every peer, each through its own
// worker and unbounded queue. A slow or failing peer delays only its
// own queue; Broadcast never blocks. Delivery is at-least-once per
// peer up to the retry limit, after which the mutation is dropped with
// a warning — the periodic snapshot reconcile repairs whatever a drop
// left inconsistent.
type Fanout struct {
	config FanoutConfig
	clk    clock.Clock
	logger *slog.Logger

	mu      sync.Mutex
	workers map[string]*peerWorker
	closed  bool
	group   sync.WaitGroup
}

// NewFanout creates a fanout with no peers. Call SetPeers to populate.
func NewFanout(config FanoutConfig, clk clock.Clock, logger *slog.Logger) *Fanout {
	config.applyDefaults()
	return &Fanout{
		config:  config,
		clk:     clk,
		logger:  logger,
		workers: make(map[string]*peerWorker),
	}
}

// SetPeers reconciles the worker set against the given peers, keyed by
// name: new peers get a worker, removed peers have theirs stopped.
// Queued mutations for a removed peer are discarded.
func (f *Fanout) SetPeers(peers []PeerNode) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}

	current := make(map[string]PeerNode, len(peers))
	for _, peer := range peers {
		current[peer.Name()] = peer
	}

	for name, worker := range f.workers {
		if _, keep := current[name]; !keep {
			worker.stop()
			delete(f.workers, name)
			f.logger.Info("replication peer removed", "peer", name)
		}
	}
	for name, peer := range current {
		if _, exists := f.workers[name]; exists {
			continue
		}
		worker := newPeerWorker(peer, f.config, f.clk, f.logger)
		f.workers[name] = worker
		f.group.Add(1)
		go func() {
			defer f.group.Done()
			worker.run()
		}()
		f.logger.Info("replication peer added", "peer", name)
	}
}

// Peers returns the names of peers currently receiving replication.
func (f *Fanout) Peers() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	names := make([]string, 0, len(f.workers))
	for name := range f.workers {
		names = append(names, name)
	}
	return names
}

// Broadcast queues a mutation for delivery to every current peer.
// Never blocks.
func (f *Fanout) Broadcast(mutation Mutation) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}
	for _, worker := range f.workers {
		worker.enqueue(mutation)
	}
}

// Shutdown stops all workers and waits for them to exit. Queued
// mutations are discarded.
func (f *Fanout) Shutdown() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		f.group.Wait()
		return
	}
	f.closed = true
	for name, worker := range f.workers {
		worker.stop()
		delete(f.workers, name)
	}
	f.mu.Unlock()

	f.group.Wait()
}

// peerWorker owns delivery to one peer: an unbounded queue drained in
// order, with bounded retries per mutation.
type peerWorker struct {
	peer   PeerNode
	config FanoutConfig
	clk    clock.Clock
	logger *slog.Logger

	mu      sync.Mutex
	pending []Mutation
	wake    chan struct{}

	done     chan struct{}
	stopOnce sync.Once
}

func newPeerWorker(peer PeerNode, config FanoutConfig, clk clock.Clock, logger *slog.Logger) *peerWorker {
	return &peerWorker{
		peer:   peer,
		config: config,
		clk:    clk,
		logger: logger,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

func (w *peerWorker) enqueue(mutation Mutation) {
	w.mu.Lock()
	w.pending = append(w.pending, mutation)
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *peerWorker) stop() {
	w.stopOnce.Do(func() { close(w.done) })
}

func (w *peerWorker) run() {
	for {
		w.mu.Lock()
		if len(w.pending) == 0 {
			w.mu.Unlock()
			select {
			case <-w.wake:
				continue
			case <-w.done:
				return
			}
		}
		next := w.pending[0]
		w.pending = w.pending[1:]
		w.mu.Unlock()

		if !w.deliver(next) {
			return
		}
	}
}

// deliver pushes one mutation to the peer, retrying up to the limit.
// Returns false when the worker was stopped mid-delivery.
func (w *peerWorker) deliver(mutation Mutation) bool {
	for attempt := 1; ; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), w.config.CallTimeout)
		err := w.peer.Replicate(ctx, mutation)
		cancel()
		if err == nil {
			return true
		}

		if attempt > w.config.RetryLimit {
			w.logger.Warn("dropping replication mutation",
				"peer", w.peer.Name(),
				"kind", mutation.Kind,
				"instance", mutation.Instance.ID,
				"attempts", attempt,
				"error", err,
			)
			return true
		}

		w.logger.Warn("replication delivery failed, retrying",
			"peer", w.peer.Name(),
			"kind", mutation.Kind,
			"instance", mutation.Instance.ID,
			"attempt", attempt,
			"error", err,
		)
		select {
		case <-w.clk.After(w.config.Backoff):
		case <-w.done:
			return false
		}
	}
}
