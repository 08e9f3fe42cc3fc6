// Copyright 2026 The Beacon Authors
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"sync"
	"time"

	"github.com/beacon-foundation/beacon/lib/clock"
)

// RenewalRate counts lease renewals in fixed, consecutive windows.
// The most recent complete window is the measurement the eviction
// policy compares against its baseline — the in-progress window is
// never used because it undercounts by construction.
//
// Window rotation is lazy: there is no background goroutine, the
// bucket rotates on whichever call observes that the window elapsed.
type RenewalRate struct {
	mu sync.Mutex

	clk    clock.Clock
	window time.Duration

	windowStart time.Time
	current     int
	previous    int
}

// NewRenewalRate creates a rate tracker with the given measurement
// window.
func NewRenewalRate(clk clock.Clock, window time.Duration) *RenewalRate {
	return &RenewalRate{
		clk:         clk,
		window:      window,
		windowStart: clk.Now(),
	}
}

// Record counts one renewal.
func (r *RenewalRate) Record() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rotateLocked()
	r.current++
}

// LastWindow returns the renewal count of the most recent complete
// window. Zero until one full window has elapsed.
func (r *RenewalRate) LastWindow() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rotateLocked()
	return r.previous
}

// rotateLocked advances the window buckets to cover the current time.
// Caller holds r.mu.
func (r *RenewalRate) rotateLocked() {
	now := r.clk.Now()
	elapsed := now.Sub(r.windowStart)
	if elapsed < r.window {
		return
	}
	if elapsed >= 2*r.window {
		// A gap longer than a full window means the previous bucket
		// is stale too: nothing renewed during it.
		r.previous = 0
		r.current = 0
		r.windowStart = now
		return
	}
	r.previous = r.current
	r.current = 0
	r.windowStart = r.windowStart.Add(r.window)
}

// EvictionPolicy decides whether expired leases may be evicted.
//
// The baseline is set once from the bootstrap count when the registry
// opens for traffic: count instances, each renewing every
// renewalInterval, should produce count * window/renewalInterval
// renewals per measurement window. When the observed rate falls below
// threshold * expected, eviction is suspended (self-preservation) —
// mass renewal loss usually means a partition between the registry
// and its instances, not mass instance death. The exact threshold is
// a tunable, not a contract.
type EvictionPolicy struct {
	mu sync.Mutex

	rate      *RenewalRate
	window    time.Duration
	threshold float64
	expected  int
}

// NewEvictionPolicy creates a policy measuring renewals over the given
// window. A threshold of 0 disables self-preservation: eviction is
// always allowed.
func NewEvictionPolicy(clk clock.Clock, window time.Duration, threshold float64) *EvictionPolicy {
	return &EvictionPolicy{
		rate:      NewRenewalRate(clk, window),
		window:    window,
		threshold: threshold,
	}
}

// RecordRenewal counts one renewal toward the current window.
func (p *EvictionPolicy) RecordRenewal() {
	p.rate.Record()
}

// SetBaseline derives the expected renewals-per-window from the
// number of known instances and their renewal interval. Called with
// the bootstrap count at openForTraffic, and again when the instance
// population changes materially.
func (p *EvictionPolicy) SetBaseline(instanceCount int, renewalInterval time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if instanceCount <= 0 || renewalInterval <= 0 {
		p.expected = 0
		return
	}
	perInstance := int(p.window / renewalInterval)
	if perInstance < 1 {
		perInstance = 1
	}
	p.expected = instanceCount * perInstance
}

// IsEvictionAllowed reports whether the expired-lease sweep may remove
// entries right now. Returns true when self-preservation is disabled,
// when no baseline exists (fresh cluster), or when the observed
// renewal rate is healthy.
func (p *EvictionPolicy) IsEvictionAllowed() bool {
	p.mu.Lock()
	threshold := p.threshold
	expected := p.expected
	p.mu.Unlock()

	if threshold == 0 || expected == 0 {
		return true
	}
	return float64(p.rate.LastWindow()) >= threshold*float64(expected)
}
