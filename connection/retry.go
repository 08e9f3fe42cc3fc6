// Copyright 2026 The Beacon Authors
// SPDX-License-Identifier: Apache-2.0

package connection

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/beacon-foundation/beacon/lib/clock"
)

// State labels a point in a Retryable's lifecycle.
type State string

const (
	// StateConnecting means a dial attempt is in progress.
	StateConnecting State = "connecting"

	// StateActive means a channel is up and the operation is running.
	StateActive State = "active"

	// StateRetrying means the last attempt failed and the next one is
	// waiting out the backoff delay.
	StateRetrying State = "retrying"

	// StateClosed means the Retryable has been shut down for good.
	StateClosed State = "closed"
)

// Event is one lifecycle transition, for logging and diagnostics.
type Event struct {
	State   State
	Attempt int
	Err     error
	Time    time.Time
}

// RetryConfig tunes the reconnect loop.
type RetryConfig struct {
	// InitialDelay is the backoff after the first failure. Doubles on
	// each consecutive failure. Default: 1 second.
	InitialDelay time.Duration

	// MaxDelay caps the backoff. Default: 30 seconds.
	MaxDelay time.Duration
}

// Retryable keeps a channel alive indefinitely. It dials through the
// factory, hands each fresh channel to the operation exactly once, and
// on any failure (dial or operation) waits out an exponential backoff
// and dials again. A successful connect resets the backoff.
type Retryable struct {
	factory   Factory
	operation Operation
	config    RetryConfig
	clk       clock.Clock
	logger    *slog.Logger

	events chan Event

	mu     sync.Mutex
	closed bool
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRetryable creates a reconnect loop. It does nothing until Start.
func NewRetryable(factory Factory, operation Operation, config RetryConfig, clk clock.Clock, logger *slog.Logger) *Retryable {
	if config.InitialDelay == 0 {
		config.InitialDelay = time.Second
	}
	if config.MaxDelay == 0 {
		config.MaxDelay = 30 * time.Second
	}
	return &Retryable{
		factory:   factory,
		operation: operation,
		config:    config,
		clk:       clk,
		logger:    logger,
		events:    make(chan Event, 32),
		done:      make(chan struct{}),
	}
}

// Start launches the reconnect loop. Calling Start on a shut-down
// Retryable returns ErrClosed.
func (r *Retryable) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}
	if r.cancel != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	go r.run(ctx)
	return nil
}

// Shutdown stops the loop, closes any active channel by cancelling the
// operation's context, and waits for the loop to exit. Idempotent.
func (r *Retryable) Shutdown() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		<-r.done
		return
	}
	r.closed = true
	cancel := r.cancel
	r.mu.Unlock()

	if cancel == nil {
		// Never started; nothing is running.
		close(r.done)
		return
	}
	cancel()
	<-r.done
}

// Events returns the lifecycle stream. The channel is closed when the
// loop exits. Events are dropped rather than queued when the consumer
// falls more than a buffer behind; they are diagnostics, not control
// flow.
func (r *Retryable) Events() <-chan Event {
	return r.events
}

func (r *Retryable) run(ctx context.Context) {
	defer close(r.done)
	defer close(r.events)
	defer r.emit(Event{State: StateClosed, Time: r.clk.Now()})

	delay := r.config.InitialDelay
	attempt := 0

	for {
		if ctx.Err() != nil {
			return
		}
		attempt++

		r.emit(Event{State: StateConnecting, Attempt: attempt, Time: r.clk.Now()})
		channel, err := r.factory.NewChannel()
		if err == nil {
			delay = r.config.InitialDelay
			r.emit(Event{State: StateActive, Attempt: attempt, Time: r.clk.Now()})

			err = r.operation(ctx, channel)
			channel.Close()
			if ctx.Err() != nil {
				return
			}
			r.logger.Warn("registry channel lost, reconnecting",
				"attempt", attempt,
				"error", err,
			)
		} else {
			if ctx.Err() != nil {
				return
			}
			r.logger.Warn("registry dial failed, retrying",
				"attempt", attempt,
				"delay", delay,
				"error", err,
			)
		}

		r.emit(Event{State: StateRetrying, Attempt: attempt, Err: err, Time: r.clk.Now()})
		select {
		case <-ctx.Done():
			return
		case <-r.clk.After(delay):
		}
		delay *= 2
		if delay > r.config.MaxDelay {
			delay = r.config.MaxDelay
		}
	}
}

func (r *Retryable) emit(event Event) {
	select {
	case r.events <- event:
	default:
	}
}
