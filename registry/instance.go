// Copyright 2026 The Beacon Authors
// SPDX-License-Identifier: Apache-2.0

package registry

import "time"

// Status is the lifecycle state of a registered instance. The same
// values drive the health provider of subsystems that expose a
// readiness signal.
type Status string

const (
	// StatusStarting means the instance is initializing and not yet
	// ready for traffic.
	StatusStarting Status = "STARTING"

	// StatusUp means the instance is serving.
	StatusUp Status = "UP"

	// StatusDown means the instance is not serving. For health
	// providers this state is terminal.
	StatusDown Status = "DOWN"

	// StatusOutOfService means the instance was administratively
	// removed from rotation without deregistering.
	StatusOutOfService Status = "OUT_OF_SERVICE"

	// StatusUnknown is the zero-value placeholder for instances whose
	// state has not been reported.
	StatusUnknown Status = "UNKNOWN"
)

// InstanceInfo describes one registered service instance. Values are
// copied into and out of the store; callers never share memory with
// it.
type InstanceInfo struct {
	// ID uniquely identifies the instance within the registry.
	ID string `json:"id"`

	// Application is the service name the instance belongs to.
	Application string `json:"application"`

	// Address is the instance's network location (host:port).
	Address string `json:"address"`

	// VIPAddress is the logical address clients resolve through the
	// registry, shared by all instances of one service.
	VIPAddress string `json:"vip_address,omitempty"`

	// Status is the instance's reported lifecycle state.
	Status Status `json:"status"`

	// LeaseDuration is how long the registration stays valid without
	// a renewal. Non-positive means the lease never expires.
	LeaseDuration time.Duration `json:"lease_duration"`

	// LastRenewal is the time of registration or the most recent
	// lease renewal. Conflicting replicas of the same instance are
	// resolved last-writer-wins on this timestamp.
	LastRenewal time.Time `json:"last_renewal"`

	// Metadata holds arbitrary key-value pairs published with the
	// registration.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// LeaseExpired reports whether the instance's lease has lapsed at the
// given time. Instances with a non-positive LeaseDuration never
// expire.
func (i InstanceInfo) LeaseExpired(now time.Time) bool {
	if i.LeaseDuration <= 0 {
		return false
	}
	return now.Sub(i.LastRenewal) > i.LeaseDuration
}

// NewerThan reports whether this record is more recent than other,
// by renewal timestamp. Used for last-writer-wins merge during
// bootstrap and replication.
func (i InstanceInfo) NewerThan(other InstanceInfo) bool {
	return i.LastRenewal.After(other.LastRenewal)
}
