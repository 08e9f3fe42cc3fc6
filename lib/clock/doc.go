// Copyright 2026 The Beacon Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time abstraction for testability.
//
// In production, Real() delegates to the standard time package. In
// tests, Fake() provides a deterministic clock where time stands still
// until Advance is called, so timing-dependent behavior (lease expiry,
// reconnect backoff, eviction sweeps) can be exercised without real
// sleeps.
//
// The usual race in timer-based tests — the code under test has not
// yet registered its timer when the test advances time — is handled by
// FakeClock.WaitForTimers, which blocks until a given number of
// waiters are pending:
//
//	fake := clock.Fake(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
//	go worker(fake)              // worker calls fake.After(...)
//	fake.WaitForTimers(1)        // wait for the registration
//	fake.Advance(5 * time.Second) // fire it deterministically
package clock
