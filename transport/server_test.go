// Copyright 2026 The Beacon Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/beacon-foundation/beacon/connection"
	"github.com/beacon-foundation/beacon/interest"
	"github.com/beacon-foundation/beacon/lib/clock"
	"github.com/beacon-foundation/beacon/lib/codec"
	"github.com/beacon-foundation/beacon/registry"
	"github.com/beacon-foundation/beacon/replication"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startNode brings up a serving registry node on a loopback port and
// tears it down with the test.
func startNode(t *testing.T, name string) (*replication.PeerRegistry, *Server) {
	t.Helper()

	store := registry.NewStore(testLogger())
	node := replication.NewPeerRegistry(name, store,
		replication.NewStaticResolver(nil),
		replication.FanoutConfig{}, replication.Config{}, clock.Real(), testLogger())

	server, err := NewServer("127.0.0.1:0", node, testLogger())
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	serveDone := make(chan struct{})
	go func() {
		defer close(serveDone)
		server.Serve(ctx)
	}()

	node.OpenForTraffic(ctx, registry.InstanceInfo{
		ID:          name,
		Application: "beacon-registry",
		Address:     server.Address(),
	}, 0)

	t.Cleanup(func() {
		node.Shutdown()
		cancel()
		select {
		case <-serveDone:
		case <-time.After(5 * time.Second):
			t.Error("server did not drain on shutdown")
		}
	})
	return node, server
}

func waitFor(t *testing.T, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached within deadline")
}

func TestFetchSnapshotOverTCP(t *testing.T) {
	node, server := startNode(t, "node-a")
	node.Register(registry.InstanceInfo{ID: "billing-1", Application: "billing"})
	node.Register(registry.InstanceInfo{ID: "billing-2", Application: "billing"})

	client := NewPeerClient("node-a", server.Address())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	instances, err := client.FetchSnapshot(ctx)
	if err != nil {
		t.Fatalf("FetchSnapshot: %v", err)
	}
	// The node's own registration plus the two instances.
	if len(instances) != 3 {
		t.Fatalf("snapshot has %d instances, want 3", len(instances))
	}
	ids := map[string]bool{}
	for _, info := range instances {
		ids[info.ID] = true
	}
	if !ids["node-a"] || !ids["billing-1"] || !ids["billing-2"] {
		t.Errorf("snapshot ids = %v", ids)
	}
}

func TestReplicateOverTCP(t *testing.T) {
	node, server := startNode(t, "node-a")
	client := NewPeerClient("node-a", server.Address())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := client.Replicate(ctx, replication.Mutation{
		Kind: replication.KindRegister,
		Instance: registry.InstanceInfo{
			ID:          "checkout-1",
			Application: "checkout",
			Status:      registry.StatusUp,
			LastRenewal: time.Now(),
		},
		Origin: "node-b",
	})
	if err != nil {
		t.Fatalf("Replicate: %v", err)
	}

	info, ok := node.Store().Get("checkout-1")
	if !ok {
		t.Fatal("replicated instance not in store")
	}
	if info.Application != "checkout" {
		t.Errorf("application = %q, want checkout", info.Application)
	}

	// A mutation carrying this node's own origin is an echo and must
	// not re-apply.
	err = client.Replicate(ctx, replication.Mutation{
		Kind:     replication.KindCancel,
		Instance: registry.InstanceInfo{ID: "checkout-1"},
		Origin:   "node-a",
	})
	if err != nil {
		t.Fatalf("Replicate echo: %v", err)
	}
	if _, ok := node.Store().Get("checkout-1"); !ok {
		t.Error("own-origin cancel was applied")
	}
}

func TestSubscribeStreamMirrorsRegistry(t *testing.T) {
	node, server := startNode(t, "node-a")
	node.Register(registry.InstanceInfo{ID: "billing-1", Application: "billing"})

	mirror := registry.NewStore(testLogger())
	factory := NewChannelFactory(server.Address(), mirror, testLogger())
	client, err := interest.NewClient(mirror, factory, connection.RetryConfig{InitialDelay: 10 * time.Millisecond}, clock.Real(), testLogger())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer client.Shutdown()

	// The mirror warms up with the server's current dataset: the
	// node's own registration and billing-1.
	waitFor(t, func() bool { return client.Health().Current() == registry.StatusUp })
	if got := client.BootstrapCount(); got != 2 {
		t.Errorf("BootstrapCount = %d, want 2", got)
	}

	sub, err := client.ForInterest(registry.ApplicationInterest("billing"))
	if err != nil {
		t.Fatalf("ForInterest: %v", err)
	}
	defer sub.Cancel()

	// Incremental changes flow through: a registration...
	node.Register(registry.InstanceInfo{ID: "billing-2", Application: "billing"})
	waitFor(t, func() bool {
		_, ok := mirror.Get("billing-2")
		return ok
	})

	// ...and a cancellation.
	node.Cancel("billing-1")
	waitFor(t, func() bool {
		_, ok := mirror.Get("billing-1")
		return !ok
	})
}

func TestUnknownActionRejected(t *testing.T) {
	_, server := startNode(t, "node-a")

	conn, err := net.Dial("tcp", server.Address())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := codec.NewEncoder(conn).Encode(map[string]string{"action": "bogus"}); err != nil {
		t.Fatalf("encode: %v", err)
	}
	var response Response
	if err := codec.NewDecoder(conn).Decode(&response); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if response.OK {
		t.Error("unknown action accepted")
	}
	if response.Error == "" {
		t.Error("error response has no message")
	}
}
