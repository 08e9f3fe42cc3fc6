// Copyright 2026 The Beacon Authors
// SPDX-License-Identifier: Apache-2.0

package registry

// ChangeKind tags a ChangeNotification.
type ChangeKind string

const (
	// KindAdd means an instance appeared in the selected set.
	KindAdd ChangeKind = "add"

	// KindModify means an already-present instance changed.
	KindModify ChangeKind = "modify"

	// KindDelete means an instance left the selected set. The
	// notification carries the instance's last known state.
	KindDelete ChangeKind = "delete"

	// KindBufferSentinel marks the end of a subscription's initial
	// batch. It carries no instance and is delivered exactly once per
	// subscription; everything after it is incremental.
	KindBufferSentinel ChangeKind = "buffer-sentinel"
)

// ChangeNotification is one event on a registry change stream.
type ChangeNotification struct {
	Kind ChangeKind `json:"kind"`

	// Instance is the affected instance snapshot. Nil for the buffer
	// sentinel, set for every other kind.
	Instance *InstanceInfo `json:"instance,omitempty"`
}

// Added builds an add notification for the given instance.
func Added(info InstanceInfo) ChangeNotification {
	return ChangeNotification{Kind: KindAdd, Instance: &info}
}

// Modified builds a modify notification for the given instance.
func Modified(info InstanceInfo) ChangeNotification {
	return ChangeNotification{Kind: KindModify, Instance: &info}
}

// Deleted builds a delete notification carrying the instance's last
// known state.
func Deleted(info InstanceInfo) ChangeNotification {
	return ChangeNotification{Kind: KindDelete, Instance: &info}
}

// BufferSentinel builds the end-of-initial-batch marker.
func BufferSentinel() ChangeNotification {
	return ChangeNotification{Kind: KindBufferSentinel}
}

// IsSentinel reports whether this notification is the buffer sentinel.
func (n ChangeNotification) IsSentinel() bool {
	return n.Kind == KindBufferSentinel
}
