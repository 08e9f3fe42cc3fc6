// Copyright 2026 The Beacon Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport carries the registry protocol over TCP. Requests
// and responses are CBOR values; CBOR is self-delimiting, so no
// framing layer is needed. Most actions are one request-response
// exchange per connection. The subscribe action is the exception: the
// server acknowledges it, then holds the connection open and streams
// change notifications until either side closes.
package transport

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"

	"github.com/beacon-foundation/beacon/lib/codec"
	"github.com/beacon-foundation/beacon/registry"
	"github.com/beacon-foundation/beacon/replication"
)

// Wire actions. Protocol constants — renaming breaks compatibility
// between nodes.
const (
	// ActionReplicate delivers one mutation from a peer node.
	ActionReplicate = "replicate"

	// ActionSnapshot returns the node's full dataset, compressed and
	// digest-protected.
	ActionSnapshot = "snapshot"

	// ActionSubscribe opens a change stream for an interest.
	ActionSubscribe = "subscribe"
)

// Response is the envelope for every request's reply.
type Response struct {
	OK    bool             `cbor:"ok"`
	Error string           `cbor:"error,omitempty"`
	Data  codec.RawMessage `cbor:"data,omitempty"`
}

type replicateRequest struct {
	Action   string               `cbor:"action"`
	Mutation replication.Mutation `cbor:"mutation"`
}

type snapshotRequest struct {
	Action string `cbor:"action"`
}

type subscribeRequest struct {
	Action   string            `cbor:"action"`
	Interest registry.Interest `cbor:"interest"`
}

// RemoteError is a failure reported by the remote node, as opposed to
// a transport failure reaching it.
type RemoteError struct {
	Action  string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote %s failed: %s", e.Action, e.Message)
}

// SnapshotPayload is the snapshot action's data field: the CBOR
// encoding of the instance list, zstd-compressed, with a keyed BLAKE3
// digest of the uncompressed bytes so a corrupted transfer is caught
// before it poisons a bootstrap merge.
type SnapshotPayload struct {
	Compressed []byte `cbor:"compressed"`
	RawSize    int    `cbor:"raw_size"`
	Digest     []byte `cbor:"digest"`
	Count      int    `cbor:"count"`
}

// snapshotDomainKey is the BLAKE3 keyed-hash domain for snapshot
// digests: the ASCII domain name zero-padded to 32 bytes.
var snapshotDomainKey = [32]byte{
	'b', 'e', 'a', 'c', 'o', 'n', '.', 's', 'n', 'a', 'p', 's', 'h', 'o', 't',
}

// snapshotEncoder and snapshotDecoder are reused across calls; both
// are safe for concurrent use.
var (
	snapshotEncoder *zstd.Encoder
	snapshotDecoder *zstd.Decoder
)

func init() {
	var err error
	snapshotEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("transport: zstd encoder initialization failed: " + err.Error())
	}
	snapshotDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("transport: zstd decoder initialization failed: " + err.Error())
	}
}

// EncodeSnapshot packs an instance list into a snapshot payload.
func EncodeSnapshot(instances []registry.InstanceInfo) (SnapshotPayload, error) {
	raw, err := codec.Marshal(instances)
	if err != nil {
		return SnapshotPayload{}, fmt.Errorf("encoding snapshot: %w", err)
	}
	return SnapshotPayload{
		Compressed: snapshotEncoder.EncodeAll(raw, nil),
		RawSize:    len(raw),
		Digest:     snapshotDigest(raw),
		Count:      len(instances),
	}, nil
}

// DecodeSnapshot unpacks and verifies a snapshot payload.
func DecodeSnapshot(payload SnapshotPayload) ([]registry.InstanceInfo, error) {
	raw, err := snapshotDecoder.DecodeAll(payload.Compressed, make([]byte, 0, payload.RawSize))
	if err != nil {
		return nil, fmt.Errorf("decompressing snapshot: %w", err)
	}
	if len(raw) != payload.RawSize {
		return nil, fmt.Errorf("snapshot is %d bytes, header says %d", len(raw), payload.RawSize)
	}
	if digest := snapshotDigest(raw); !equalDigests(digest, payload.Digest) {
		return nil, fmt.Errorf("snapshot digest mismatch")
	}

	var instances []registry.InstanceInfo
	if err := codec.Unmarshal(raw, &instances); err != nil {
		return nil, fmt.Errorf("decoding snapshot: %w", err)
	}
	if len(instances) != payload.Count {
		return nil, fmt.Errorf("snapshot has %d instances, header says %d", len(instances), payload.Count)
	}
	return instances, nil
}

func snapshotDigest(raw []byte) []byte {
	// NewKeyed only fails for a wrong key length, which the fixed-size
	// domain key rules out.
	hasher, err := blake3.NewKeyed(snapshotDomainKey[:])
	if err != nil {
		panic("transport: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(raw)
	return hasher.Sum(nil)
}

func equalDigests(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
