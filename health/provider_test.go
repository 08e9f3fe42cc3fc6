// Copyright 2026 The Beacon Authors
// SPDX-License-Identifier: Apache-2.0

package health

import (
	"testing"
	"time"

	"github.com/beacon-foundation/beacon/lib/clock"
	"github.com/beacon-foundation/beacon/registry"
)

func receiveUpdate(t *testing.T, watch *Watch) StatusUpdate {
	t.Helper()
	select {
	case update, ok := <-watch.C():
		if !ok {
			t.Fatal("watch channel closed")
		}
		return update
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for status update")
	}
	return StatusUpdate{}
}

func TestWatchReplaysCurrentStatus(t *testing.T) {
	clk := clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	provider := NewProvider("interest-channel", clk)

	watch := provider.Watch()
	defer watch.Cancel()

	update := receiveUpdate(t, watch)
	if update.Status != registry.StatusStarting {
		t.Errorf("initial status = %q, want STARTING", update.Status)
	}
	if update.Subsystem != "interest-channel" {
		t.Errorf("subsystem = %q, want interest-channel", update.Subsystem)
	}
}

func TestMoveToNotifiesWatchers(t *testing.T) {
	clk := clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	provider := NewProvider("interest-channel", clk)

	watch := provider.Watch()
	defer watch.Cancel()
	receiveUpdate(t, watch) // STARTING replay

	clk.Advance(30 * time.Second)
	if !provider.MoveTo(registry.StatusUp) {
		t.Fatal("MoveTo(UP) from STARTING returned false")
	}

	update := receiveUpdate(t, watch)
	if update.Status != registry.StatusUp {
		t.Errorf("status = %q, want UP", update.Status)
	}
	if !update.Time.Equal(clk.Now()) {
		t.Errorf("transition time = %v, want %v", update.Time, clk.Now())
	}
	if provider.Current() != registry.StatusUp {
		t.Errorf("Current() = %q, want UP", provider.Current())
	}
}

func TestMoveToSameStatusIsNoOp(t *testing.T) {
	clk := clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	provider := NewProvider("interest-channel", clk)

	watch := provider.Watch()
	defer watch.Cancel()
	receiveUpdate(t, watch)

	if provider.MoveTo(registry.StatusStarting) {
		t.Error("MoveTo to the current status returned true")
	}

	select {
	case update := <-watch.C():
		t.Fatalf("unexpected update for no-op transition: %+v", update)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDownIsTerminal(t *testing.T) {
	clk := clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	provider := NewProvider("interest-channel", clk)

	provider.MoveTo(registry.StatusUp)
	provider.MoveTo(registry.StatusDown)

	if provider.MoveTo(registry.StatusUp) {
		t.Error("MoveTo out of DOWN returned true")
	}
	if provider.Current() != registry.StatusDown {
		t.Errorf("Current() = %q, want DOWN", provider.Current())
	}
}

func TestLateWatcherSeesLatestOnly(t *testing.T) {
	clk := clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	provider := NewProvider("interest-channel", clk)

	provider.MoveTo(registry.StatusUp)

	watch := provider.Watch()
	defer watch.Cancel()

	update := receiveUpdate(t, watch)
	if update.Status != registry.StatusUp {
		t.Errorf("late watcher got %q, want UP", update.Status)
	}

	select {
	case extra := <-watch.C():
		t.Fatalf("late watcher received history: %+v", extra)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCancelClosesWatch(t *testing.T) {
	clk := clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	provider := NewProvider("interest-channel", clk)

	watch := provider.Watch()
	receiveUpdate(t, watch)
	watch.Cancel()
	watch.Cancel() // idempotent

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-watch.C():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("watch channel not closed after Cancel")
		}
	}
}
