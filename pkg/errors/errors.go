// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package errors provides structured error types for the HDMI matrix bridge.
//
// This package defines custom error types that provide better error handling,
// inspection, and debugging capabilities compared to plain string errors.
//
// # Benefits of Structured Errors
//
//   - Type-safe error inspection with errors.As() and errors.Is()
//   - Context-rich error messages with operation and underlying error details
//   - Consistent error formatting across the application
//   - Better error wrapping and unwrapping support
//
// # Example Usage
//
//	err := errors.NewCommandError("video switch", errors.ErrDeviceUnreachable)
//	if errors.Is(err, errors.ErrDeviceUnreachable) {
//	    log.Printf("Matrix offline: %v", err)
//	}
package errors

import (
	"errors"
	"fmt"
)

// UnknownZoneError is returned when a route request names a zone that is not
// present in the configured zone table. The device is never contacted.
type UnknownZoneError struct {
	Name string // Requested zone name
}

func (e *UnknownZoneError) Error() string {
	return fmt.Sprintf("unknown zone %q", e.Name)
}

// NewUnknownZoneError creates a new unknown zone error.
func NewUnknownZoneError(name string) *UnknownZoneError {
	return &UnknownZoneError{Name: name}
}

// IsUnknownZoneError checks if an error is an UnknownZoneError.
func IsUnknownZoneError(err error) bool {
	var uz *UnknownZoneError
	return errors.As(err, &uz)
}

// UnknownSourceError is returned when a route request names a source that is
// not present in the configured source table. The device is never contacted.
type UnknownSourceError struct {
	Name string // Requested source name
}

func (e *UnknownSourceError) Error() string {
	return fmt.Sprintf("unknown source %q", e.Name)
}

// NewUnknownSourceError creates a new unknown source error.
func NewUnknownSourceError(name string) *UnknownSourceError {
	return &UnknownSourceError{Name: name}
}

// IsUnknownSourceError checks if an error is an UnknownSourceError.
func IsUnknownSourceError(err error) bool {
	var us *UnknownSourceError
	return errors.As(err, &us)
}

// CommandError represents a failed exchange with the matrix.
type CommandError struct {
	Op   string // Matrix command being performed (e.g. "video switch", "get status")
	Addr string // Device address (if applicable)
	Err  error  // Underlying error
}

func (e *CommandError) Error() string {
	if e.Addr != "" {
		return fmt.Sprintf("matrix %s (%s): %v", e.Op, e.Addr, e.Err)
	}
	if e.Err != nil {
		return fmt.Sprintf("matrix %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("matrix %s failed", e.Op)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// NewCommandError creates a new command error.
func NewCommandError(op string, addr string, err error) *CommandError {
	return &CommandError{Op: op, Addr: addr, Err: err}
}

// IsCommandError checks if an error is a CommandError.
func IsCommandError(err error) bool {
	var ce *CommandError
	return errors.As(err, &ce)
}

// ConfigError represents a configuration error.
type ConfigError struct {
	Field string // Configuration field that caused the error
	Value string // Invalid value (optional)
	Err   error  // Underlying error or description
}

func (e *ConfigError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("config error in field %q (value=%q): %v", e.Field, e.Value, e.Err)
	}
	if e.Err != nil {
		return fmt.Sprintf("config error in field %q: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("config error in field %q", e.Field)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// NewConfigError creates a new configuration error.
func NewConfigError(field string, value string, err error) *ConfigError {
	return &ConfigError{Field: field, Value: value, Err: err}
}

// IsConfigError checks if an error is a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// StorageError represents an error during event recording.
type StorageError struct {
	Op  string // Operation being performed (e.g. "write", "replay")
	Err error  // Underlying error
}

func (e *StorageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("storage %s failed", e.Op)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// NewStorageError creates a new storage error.
func NewStorageError(op string, err error) *StorageError {
	return &StorageError{Op: op, Err: err}
}

// IsStorageError checks if an error is a StorageError.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

// Sentinel errors for common conditions
var (
	// ErrDeviceUnreachable indicates the matrix could not be reached within
	// the bounded timeout
	ErrDeviceUnreachable = errors.New("device unreachable")

	// ErrDeviceFault indicates the matrix responded with a failure or a
	// garbled acknowledgement
	ErrDeviceFault = errors.New("device error")

	// ErrCircuitOpen indicates the device circuit breaker is open
	ErrCircuitOpen = errors.New("circuit breaker open")

	// ErrPollSkipped indicates a status poll was skipped because a command
	// was pending
	ErrPollSkipped = errors.New("poll skipped")

	// ErrInvalidConfig indicates invalid configuration
	ErrInvalidConfig = errors.New("invalid configuration")
)
