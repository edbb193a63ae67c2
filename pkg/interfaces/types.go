// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package interfaces defines abstract interfaces for core system components.
// This package promotes loose coupling and testability by allowing
// dependency injection and easy mocking in tests.
package interfaces

import (
	"time"
)

// PowerState is the matrix global power flag as last reported by the device.
type PowerState int

const (
	// PowerUnknown means no successful status query or command has happened yet.
	PowerUnknown PowerState = iota
	// PowerOff means the matrix reported power 0.
	PowerOff
	// PowerOn means the matrix reported power 1.
	PowerOn
)

func (p PowerState) String() string {
	switch p {
	case PowerOn:
		return "on"
	case PowerOff:
		return "off"
	default:
		return "unknown"
	}
}

// ZoneState is the last-known routing of a single zone.
type ZoneState struct {
	ZoneID     int    // Physical output port, 1..8
	ZoneName   string // Configured zone name
	SourceID   int    // Physical input port, 1..8, or 0 when unknown
	SourceName string // Configured source name, "" when unknown
}

// DeviceState is a snapshot of the last-known matrix state. Mutated only by
// successful device commands or successful status queries, never inferred.
type DeviceState struct {
	Power     PowerState
	Zones     []ZoneState // Ordered by zone id
	Available bool
	UpdatedAt time.Time
}

// EventType identifies what a RouteEvent describes.
type EventType string

const (
	// EventRoute is emitted when a zone's active source changes.
	EventRoute EventType = "route"
	// EventPower is emitted when the matrix power state changes.
	EventPower EventType = "power"
	// EventAvailability is emitted when the matrix becomes reachable or
	// unreachable.
	EventAvailability EventType = "availability"
)

// RouteEvent describes a confirmed state change on the matrix. Events are only
// emitted after a device acknowledgement or a successful poll.
type RouteEvent struct {
	Type       EventType
	ZoneID     int    // Set for EventRoute
	ZoneName   string // Set for EventRoute
	SourceID   int    // Set for EventRoute
	SourceName string // Set for EventRoute
	Power      PowerState
	Available  bool
	Origin     string // "command" or "poll"
	Timestamp  time.Time
}
