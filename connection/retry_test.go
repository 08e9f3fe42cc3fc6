// Copyright 2026 The Beacon Authors
// SPDX-License-Identifier: Apache-2.0

package connection

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/beacon-foundation/beacon/lib/clock"
	"github.com/beacon-foundation/beacon/registry"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeChannel records ChangeInterest calls and blocks until failed or
// cancelled.
type fakeChannel struct {
	mu     sync.Mutex
	closed bool
	fail   chan error
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{fail: make(chan error, 1)}
}

func (c *fakeChannel) ChangeInterest(ctx context.Context, interest registry.Interest) error {
	select {
	case err := <-c.fail:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *fakeChannel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

// fakeFactory returns a queued result per dial and counts attempts.
type fakeFactory struct {
	mu    sync.Mutex
	calls int
	next  func(call int) (Channel, error)
}

func (f *fakeFactory) NewChannel() (Channel, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	next := f.next
	f.mu.Unlock()
	return next(call)
}

func (f *fakeFactory) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestEachDialFailureTriggersOneReconnect(t *testing.T) {
	clk := clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	factory := &fakeFactory{next: func(int) (Channel, error) {
		return nil, errors.New("connection refused")
	}}

	operation := func(ctx context.Context, channel Channel) error {
		t.Error("operation ran without a channel")
		return nil
	}

	retryable := NewRetryable(factory, operation, RetryConfig{}, clk, testLogger())
	if err := retryable.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer retryable.Shutdown()

	const failures = 5
	for i := 1; i <= failures; i++ {
		// The loop registers its backoff timer after each failed dial.
		clk.WaitForTimers(1)
		if got := factory.callCount(); got != i {
			t.Fatalf("after %d backoffs: %d dial attempts, want %d", i-1, got, i)
		}
		clk.Advance(time.Minute)
	}

	clk.WaitForTimers(1)
	if got := factory.callCount(); got != failures+1 {
		t.Errorf("dial attempts = %d, want %d", got, failures+1)
	}
}

func TestOperationRunsOncePerConnect(t *testing.T) {
	clk := clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	var channels []*fakeChannel
	var channelMu sync.Mutex
	factory := &fakeFactory{next: func(int) (Channel, error) {
		channel := newFakeChannel()
		channelMu.Lock()
		channels = append(channels, channel)
		channelMu.Unlock()
		return channel, nil
	}}

	var operations sync.Map
	operation := func(ctx context.Context, channel Channel) error {
		count, _ := operations.LoadOrStore(channel, new(int))
		*count.(*int)++
		return channel.ChangeInterest(ctx, registry.FullInterest())
	}

	retryable := NewRetryable(factory, operation, RetryConfig{}, clk, testLogger())
	if err := retryable.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer retryable.Shutdown()

	// Fail the stream twice; each failure produces exactly one new
	// channel with exactly one operation run.
	for round := 0; round < 2; round++ {
		waitFor(t, func() bool {
			channelMu.Lock()
			defer channelMu.Unlock()
			return len(channels) == round+1
		})
		channelMu.Lock()
		channel := channels[round]
		channelMu.Unlock()

		channel.fail <- errors.New("stream reset")
		clk.WaitForTimers(1)
		clk.Advance(time.Minute)
	}

	waitFor(t, func() bool {
		channelMu.Lock()
		defer channelMu.Unlock()
		return len(channels) == 3
	})

	channelMu.Lock()
	defer channelMu.Unlock()
	for i, channel := range channels {
		count, ok := operations.Load(channel)
		if !ok {
			t.Fatalf("channel %d never saw the operation", i)
		}
		if got := *count.(*int); got != 1 {
			t.Errorf("channel %d: operation ran %d times, want 1", i, got)
		}
	}
	for i, channel := range channels[:2] {
		channel.mu.Lock()
		closed := channel.closed
		channel.mu.Unlock()
		if !closed {
			t.Errorf("failed channel %d not closed", i)
		}
	}
}

func TestShutdownStopsActiveChannel(t *testing.T) {
	clk := clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	channel := newFakeChannel()
	factory := &fakeFactory{next: func(int) (Channel, error) {
		return channel, nil
	}}

	operation := func(ctx context.Context, ch Channel) error {
		return ch.ChangeInterest(ctx, registry.FullInterest())
	}

	retryable := NewRetryable(factory, operation, RetryConfig{}, clk, testLogger())
	if err := retryable.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Wait for the operation to be blocked on the live channel.
	waitFor(t, func() bool { return factory.callCount() == 1 })

	done := make(chan struct{})
	go func() {
		retryable.Shutdown()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Shutdown did not return")
	}

	channel.mu.Lock()
	closed := channel.closed
	channel.mu.Unlock()
	if !closed {
		t.Error("active channel not closed on Shutdown")
	}
	if err := retryable.Start(); !errors.Is(err, ErrClosed) {
		t.Errorf("Start after Shutdown = %v, want ErrClosed", err)
	}
}

func TestEventsReportLifecycle(t *testing.T) {
	clk := clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	channel := newFakeChannel()
	factory := &fakeFactory{next: func(int) (Channel, error) {
		return channel, nil
	}}
	operation := func(ctx context.Context, ch Channel) error {
		return ch.ChangeInterest(ctx, registry.FullInterest())
	}

	retryable := NewRetryable(factory, operation, RetryConfig{}, clk, testLogger())
	if err := retryable.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	expectEvent(t, retryable, StateConnecting)
	expectEvent(t, retryable, StateActive)

	retryable.Shutdown()

	// The stream ends with a closed event, then the channel closes.
	sawClosed := false
	for event := range retryable.Events() {
		if event.State == StateClosed {
			sawClosed = true
		}
	}
	if !sawClosed {
		t.Error("event stream ended without a closed event")
	}
}

func expectEvent(t *testing.T, retryable *Retryable, want State) {
	t.Helper()
	select {
	case event, ok := <-retryable.Events():
		if !ok {
			t.Fatalf("event stream closed waiting for %q", want)
		}
		if event.State != want {
			t.Fatalf("event state = %q, want %q", event.State, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %q event", want)
	}
}

// waitFor polls a condition until it holds or the test deadline of two
// seconds passes.
func waitFor(t *testing.T, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not reached within deadline")
}
