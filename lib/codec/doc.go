// Copyright 2026 The Beacon Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides Beacon's standard CBOR encoding configuration.
//
// All peer-to-peer traffic — replication calls, bootstrap snapshots,
// and subscription streams — is CBOR. This package holds the shared
// encoder and decoder modes so every package encodes identically
// without duplicating configuration. The encoder uses Core
// Deterministic Encoding (RFC 8949 §4.2): sorted map keys, smallest
// integer encoding, no indefinite-length items. The same logical value
// always produces identical bytes, which is what makes snapshot
// integrity digests meaningful.
//
// For buffer-oriented operations:
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// For stream-oriented operations (peer connections):
//
//	encoder := codec.NewEncoder(conn)
//	decoder := codec.NewDecoder(conn)
//
// Wire types use `json` struct tags: fxamacker/cbor reads json tags
// when cbor tags are absent, so one tag controls field naming for both
// the CBOR peer protocol and CLI --json output.
package codec
