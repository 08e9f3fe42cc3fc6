// Copyright 2026 The Beacon Authors
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"log/slog"
	"sync"
)

// Store is the in-memory registry: a map of instance ID to
// InstanceInfo, observable as per-interest change streams.
//
// Mutations (Put, Remove) are atomic with respect to readers. Every
// live subscription whose interest matches the mutated instance
// receives a notification, in emission order, on its own queue.
//
// A store starts uninitialized. Subscriptions created before
// MarkInitialized receive their buffer sentinel when MarkInitialized
// is called (the initial batch is still streaming in, e.g. from a
// remote channel during bootstrap); subscriptions created afterwards
// receive the current entries followed immediately by the sentinel.
type Store struct {
	mu sync.RWMutex

	instances     map[string]InstanceInfo
	subscriptions map[*Subscription]struct{}
	initialized   bool

	logger *slog.Logger
}

// NewStore creates an empty, uninitialized store.
func NewStore(logger *slog.Logger) *Store {
	return &Store{
		instances:     make(map[string]InstanceInfo),
		subscriptions: make(map[*Subscription]struct{}),
		logger:        logger,
	}
}

// Put inserts or replaces an instance and notifies matching
// subscriptions with an add or modify event. Returns true when the
// instance was already present (a modify).
func (s *Store) Put(info InstanceInfo) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, existed := s.instances[info.ID]
	s.instances[info.ID] = info

	if existed {
		s.broadcastLocked(Modified(info))
	} else {
		s.broadcastLocked(Added(info))
	}
	return existed
}

// Remove deletes an instance and notifies matching subscriptions with
// a delete event carrying the last known state. Returns false when
// the instance was not present.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, exists := s.instances[id]
	if !exists {
		return false
	}
	delete(s.instances, id)
	s.broadcastLocked(Deleted(info))
	return true
}

// Get returns the instance with the given ID.
func (s *Store) Get(id string) (InstanceInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info, exists := s.instances[id]
	return info, exists
}

// Snapshot returns a copy of all current instances. Order is
// unspecified.
func (s *Store) Snapshot() []InstanceInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := make([]InstanceInfo, 0, len(s.instances))
	for _, info := range s.instances {
		snapshot = append(snapshot, info)
	}
	return snapshot
}

// Len returns the number of registered instances.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.instances)
}

// Initialized reports whether the initial dataset is complete.
func (s *Store) Initialized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.initialized
}

// MarkInitialized declares the initial dataset complete and delivers
// the buffer sentinel to every subscription that has not received one
// yet. Idempotent: repeated calls (a reconnecting channel replays its
// batch end) do not produce duplicate sentinels.
func (s *Store) MarkInitialized() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initialized {
		return
	}
	s.initialized = true

	for subscription := range s.subscriptions {
		if !subscription.sentinelSent {
			subscription.sentinelSent = true
			subscription.enqueue(BufferSentinel())
		}
	}
}

// ForInterest returns a live change stream for the given interest.
// The stream first replays the current matching entries as add
// events, then (once the store is initialized) the buffer sentinel,
// then every subsequent matching change. The subscription is
// independent of all others and lives until Cancel.
func (s *Store) ForInterest(interest Interest) *Subscription {
	s.mu.Lock()

	subscription := newSubscription(s, interest)
	for _, info := range s.instances {
		if interest.Matches(info) {
			subscription.enqueue(Added(info))
		}
	}
	if s.initialized {
		subscription.sentinelSent = true
		subscription.enqueue(BufferSentinel())
	}
	s.subscriptions[subscription] = struct{}{}
	s.mu.Unlock()

	go subscription.deliver()
	return subscription
}

// broadcastLocked enqueues a notification on every matching
// subscription. Caller holds s.mu.
func (s *Store) broadcastLocked(notification ChangeNotification) {
	for subscription := range s.subscriptions {
		if subscription.interest.Matches(*notification.Instance) {
			subscription.enqueue(notification)
		}
	}
}

// unsubscribe removes a cancelled subscription from the broadcast set.
func (s *Store) unsubscribe(subscription *Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subscriptions, subscription)
}

// Subscription is one consumer's view of the store's change stream.
// Notifications arrive on C in emission order. The pending queue
// between the store and C is unbounded, so a consumer that falls
// behind delays only itself.
type Subscription struct {
	store    *Store
	interest Interest

	// sentinelSent guards exactly-once sentinel delivery. Guarded by
	// store.mu — every writer (ForInterest, MarkInitialized) holds it.
	sentinelSent bool

	mu      sync.Mutex
	pending []ChangeNotification

	// wake signals the delivery goroutine that pending is non-empty.
	wake chan struct{}

	out    chan ChangeNotification
	done   chan struct{}
	cancel sync.Once
}

func newSubscription(store *Store, interest Interest) *Subscription {
	return &Subscription{
		store:    store,
		interest: interest,
		wake:     make(chan struct{}, 1),
		out:      make(chan ChangeNotification, 16),
		done:     make(chan struct{}),
	}
}

// C returns the notification channel. It is closed after Cancel once
// the delivery goroutine drains out, so ranging over C terminates.
func (s *Subscription) C() <-chan ChangeNotification {
	return s.out
}

// Interest returns the interest this subscription was created with.
func (s *Subscription) Interest() Interest {
	return s.interest
}

// Cancel detaches the subscription from the store and stops delivery.
// Idempotent. Pending notifications not yet consumed are discarded.
func (s *Subscription) Cancel() {
	s.cancel.Do(func() {
		s.store.unsubscribe(s)
		close(s.done)
	})
}

// enqueue appends a notification to the pending queue and nudges the
// delivery goroutine. Never blocks: this is called from the store's
// mutation path.
func (s *Subscription) enqueue(notification ChangeNotification) {
	s.mu.Lock()
	s.pending = append(s.pending, notification)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// deliver moves notifications from the pending queue to the out
// channel, preserving order. Runs on a dedicated goroutine per
// subscription so a slow consumer never stalls the store.
func (s *Subscription) deliver() {
	defer close(s.out)

	for {
		s.mu.Lock()
		if len(s.pending) == 0 {
			s.mu.Unlock()
			select {
			case <-s.wake:
				continue
			case <-s.done:
				return
			}
		}
		next := s.pending[0]
		s.pending = s.pending[1:]
		s.mu.Unlock()

		select {
		case s.out <- next:
		case <-s.done:
			return
		}
	}
}
