// Copyright 2026 The Beacon Authors
// SPDX-License-Identifier: Apache-2.0

// Package health tracks the lifecycle status of a subsystem and
// exposes it as a watchable stream. A provider starts in STARTING,
// moves to UP when its subsystem finishes warming (for the interest
// client, when the bootstrap buffer drains), and ends in DOWN at
// shutdown. DOWN is terminal.
package health

import (
	"sync"
	"time"

	"github.com/beacon-foundation/beacon/lib/clock"
	"github.com/beacon-foundation/beacon/registry"
)

// StatusUpdate is one transition on a provider's status stream.
type StatusUpdate struct {
	Subsystem string          `json:"subsystem"`
	Status    registry.Status `json:"status"`
	Time      time.Time       `json:"time"`
}

// Provider holds the current status of one subsystem. Watchers receive
// the current status immediately, then every subsequent transition.
type Provider struct {
	subsystem string
	clk       clock.Clock

	mu      sync.Mutex
	current StatusUpdate
	watches map[*Watch]struct{}
}

// NewProvider creates a provider for the named subsystem, starting in
// STARTING.
func NewProvider(subsystem string, clk clock.Clock) *Provider {
	return &Provider{
		subsystem: subsystem,
		clk:       clk,
		current: StatusUpdate{
			Subsystem: subsystem,
			Status:    registry.StatusStarting,
			Time:      clk.Now(),
		},
		watches: make(map[*Watch]struct{}),
	}
}

// Current returns the present status.
func (p *Provider) Current() registry.Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current.Status
}

// MoveTo transitions the subsystem to the given status and notifies
// watchers. Returns false without notifying when the status is
// unchanged or when the provider has already reached DOWN, which is
// terminal.
func (p *Provider) MoveTo(status registry.Status) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current.Status == status || p.current.Status == registry.StatusDown {
		return false
	}

	p.current = StatusUpdate{
		Subsystem: p.subsystem,
		Status:    status,
		Time:      p.clk.Now(),
	}
	for watch := range p.watches {
		watch.enqueue(p.current)
	}
	return true
}

// Watch returns a stream of status updates, beginning with the current
// status. The stream lives until Cancel.
func (p *Provider) Watch() *Watch {
	p.mu.Lock()

	watch := newWatch(p)
	watch.enqueue(p.current)
	p.watches[watch] = struct{}{}
	p.mu.Unlock()

	go watch.deliver()
	return watch
}

func (p *Provider) unwatch(watch *Watch) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.watches, watch)
}

// Watch is one consumer's view of a provider's status transitions.
// The queue between the provider and C is unbounded, so a slow
// consumer never blocks a transition.
type Watch struct {
	provider *Provider

	mu      sync.Mutex
	pending []StatusUpdate
	wake    chan struct{}

	out    chan StatusUpdate
	done   chan struct{}
	cancel sync.Once
}

func newWatch(provider *Provider) *Watch {
	return &Watch{
		provider: provider,
		wake:     make(chan struct{}, 1),
		out:      make(chan StatusUpdate, 4),
		done:     make(chan struct{}),
	}
}

// C returns the update channel. It is closed after Cancel.
func (w *Watch) C() <-chan StatusUpdate {
	return w.out
}

// Cancel detaches the watch from its provider. Idempotent.
func (w *Watch) Cancel() {
	w.cancel.Do(func() {
		w.provider.unwatch(w)
		close(w.done)
	})
}

func (w *Watch) enqueue(update StatusUpdate) {
	w.mu.Lock()
	w.pending = append(w.pending, update)
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *Watch) deliver() {
	defer close(w.out)

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

		select {
		case w.out <- next:
		case <-w.done:
			return
		}
	}
}
