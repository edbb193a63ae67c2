// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package interfaces

import (
	"context"
)

// ZoneRouter defines the human-facing routing surface: names in, device
// commands out, last-known state back.
type ZoneRouter interface {
	// Route switches the named zone to the named source. Unknown names fail
	// without contacting the device.
	Route(ctx context.Context, zoneName, sourceName string) error

	// Refresh polls the device and replaces the cached state
	Refresh(ctx context.Context) error

	// SetPower toggles the matrix global power state
	SetPower(ctx context.Context, on bool) error

	// State returns a snapshot of the last-known device state
	State() DeviceState

	// Events returns the channel carrying confirmed state changes
	Events() <-chan *RouteEvent

	// ZoneNames returns the configured zone names ordered by zone id
	ZoneNames() []string

	// SourceNames returns the configured source names ordered by source id
	SourceNames() []string

	// Close releases the events channel
	Close()
}

// EventRecorder defines the interface for persisting state-change events.
type EventRecorder interface {
	// WriteEvent records a single state-change event
	WriteEvent(ctx context.Context, event *RouteEvent) error

	// Flush ensures all pending writes are completed
	Flush()

	// Close gracefully shuts down the recorder
	Close()

	// Health checks if the backend is healthy
	Health(ctx context.Context) error
}
