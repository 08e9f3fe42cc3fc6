// Copyright 2026 The Beacon Authors
// SPDX-License-Identifier: Apache-2.0

package registry

import "fmt"

// InterestKind selects the dimension an Interest filters on.
type InterestKind string

const (
	// InterestFull selects every registry entry.
	InterestFull InterestKind = "full"

	// InterestApplication selects entries of one application.
	InterestApplication InterestKind = "application"

	// InterestInstance selects a single instance by ID.
	InterestInstance InterestKind = "instance"

	// InterestVIP selects entries sharing a VIP address.
	InterestVIP InterestKind = "vip"
)

// Interest is an immutable query descriptor selecting a subset of
// registry entries. Two Interests are equal (==) when their
// descriptors are equal, regardless of how they were constructed.
type Interest struct {
	Kind  InterestKind `json:"kind"`
	Value string       `json:"value,omitempty"`
}

// FullInterest selects the entire registry.
func FullInterest() Interest {
	return Interest{Kind: InterestFull}
}

// ApplicationInterest selects instances of the named application.
func ApplicationInterest(application string) Interest {
	return Interest{Kind: InterestApplication, Value: application}
}

// InstanceInterest selects the single instance with the given ID.
func InstanceInterest(id string) Interest {
	return Interest{Kind: InterestInstance, Value: id}
}

// VIPInterest selects instances advertising the given VIP address.
func VIPInterest(vip string) Interest {
	return Interest{Kind: InterestVIP, Value: vip}
}

// Matches reports whether the instance satisfies this interest.
func (i Interest) Matches(info InstanceInfo) bool {
	switch i.Kind {
	case InterestFull:
		return true
	case InterestApplication:
		return info.Application == i.Value
	case InterestInstance:
		return info.ID == i.Value
	case InterestVIP:
		return info.VIPAddress == i.Value
	default:
		return false
	}
}

// String returns a compact descriptor form, e.g. "application(billing)".
func (i Interest) String() string {
	if i.Kind == InterestFull {
		return "full"
	}
	return fmt.Sprintf("%s(%s)", i.Kind, i.Value)
}
