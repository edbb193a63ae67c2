// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package interfaces

import (
	"context"
)

// MatrixStatus is the matrix global status as reported by "get status".
type MatrixStatus struct {
	Power PowerState
}

// OutputStatus is the per-output routing as reported by "get output status".
type OutputStatus struct {
	Names      []string // Device-side output names, index 0 is output port 1
	AllSources []int    // Input port routed to each output, index 0 is output port 1
}

// InputStatus is the input naming as reported by "get input status".
type InputStatus struct {
	Names []string // Device-side input names, index 0 is input port 1
}

// MatrixController defines the device-facing command surface of the matrix.
// Implementations must serialize command dispatch: one in-flight command at a
// time, each fully sent and acknowledged before the next begins.
type MatrixController interface {
	// SwitchZone routes input port sourceID to output port zoneID
	SwitchZone(ctx context.Context, zoneID, sourceID int) error

	// Status queries the global power state
	Status(ctx context.Context) (*MatrixStatus, error)

	// OutputStatus queries per-output routing and naming
	OutputStatus(ctx context.Context) (*OutputStatus, error)

	// InputStatus queries input naming
	InputStatus(ctx context.Context) (*InputStatus, error)

	// SetPower toggles the matrix global power state
	SetPower(ctx context.Context, on bool) error

	// Addr returns the device address the controller talks to
	Addr() string
}
