// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestUnknownZoneError(t *testing.T) {
	err := NewUnknownZoneError("Garage")

	// Test Error() method
	errMsg := err.Error()
	if !strings.Contains(errMsg, "unknown zone") || !strings.Contains(errMsg, "Garage") {
		t.Errorf("Error() = %q, want message containing 'unknown zone' and 'Garage'", errMsg)
	}

	// Test IsUnknownZoneError()
	if !IsUnknownZoneError(err) {
		t.Error("IsUnknownZoneError() should return true for UnknownZoneError")
	}
	if IsUnknownZoneError(fmt.Errorf("other")) {
		t.Error("IsUnknownZoneError() should return false for other errors")
	}

	// Test errors.As()
	var uz *UnknownZoneError
	if !errors.As(err, &uz) {
		t.Error("errors.As() should extract UnknownZoneError")
	}
	if uz.Name != "Garage" {
		t.Errorf("UnknownZoneError.Name = %q, want %q", uz.Name, "Garage")
	}
}

func TestUnknownSourceError(t *testing.T) {
	err := NewUnknownSourceError("Betamax")

	errMsg := err.Error()
	if !strings.Contains(errMsg, "unknown source") || !strings.Contains(errMsg, "Betamax") {
		t.Errorf("Error() = %q, want message containing 'unknown source' and 'Betamax'", errMsg)
	}

	if !IsUnknownSourceError(err) {
		t.Error("IsUnknownSourceError() should return true for UnknownSourceError")
	}
	if IsUnknownSourceError(NewUnknownZoneError("Garage")) {
		t.Error("IsUnknownSourceError() should return false for UnknownZoneError")
	}

	var us *UnknownSourceError
	if !errors.As(err, &us) {
		t.Error("errors.As() should extract UnknownSourceError")
	}
	if us.Name != "Betamax" {
		t.Errorf("UnknownSourceError.Name = %q, want %q", us.Name, "Betamax")
	}
}

func TestCommandError(t *testing.T) {
	baseErr := fmt.Errorf("connection timeout")
	err := NewCommandError("video switch", "192.168.1.50", baseErr)

	// Test Error() method
	errMsg := err.Error()
	if !strings.Contains(errMsg, "video switch") || !strings.Contains(errMsg, "192.168.1.50") {
		t.Errorf("Error() = %q, want message containing 'video switch' and '192.168.1.50'", errMsg)
	}

	// Test Unwrap()
	if !errors.Is(err, baseErr) {
		t.Error("errors.Is() should find wrapped error")
	}

	// Test IsCommandError()
	if !IsCommandError(err) {
		t.Error("IsCommandError() should return true for CommandError")
	}

	// Test errors.As()
	var ce *CommandError
	if !errors.As(err, &ce) {
		t.Error("errors.As() should extract CommandError")
	}
	if ce.Op != "video switch" {
		t.Errorf("CommandError.Op = %q, want %q", ce.Op, "video switch")
	}
	if ce.Addr != "192.168.1.50" {
		t.Errorf("CommandError.Addr = %q, want %q", ce.Addr, "192.168.1.50")
	}
}

func TestCommandError_SentinelChain(t *testing.T) {
	err := NewCommandError("get status", "matrix.local",
		fmt.Errorf("%w: %w", ErrDeviceUnreachable, ErrCircuitOpen))

	if !errors.Is(err, ErrDeviceUnreachable) {
		t.Error("errors.Is() should find ErrDeviceUnreachable through the chain")
	}
	if !errors.Is(err, ErrCircuitOpen) {
		t.Error("errors.Is() should find ErrCircuitOpen through the chain")
	}
	if errors.Is(err, ErrDeviceFault) {
		t.Error("errors.Is() should not report ErrDeviceFault")
	}
}

func TestConfigError(t *testing.T) {
	baseErr := fmt.Errorf("invalid format")
	err := NewConfigError("matrix.host", "not a host", baseErr)

	// Test Error() method
	errMsg := err.Error()
	if !strings.Contains(errMsg, "config") || !strings.Contains(errMsg, "matrix.host") {
		t.Errorf("Error() = %q, want message containing 'config' and 'matrix.host'", errMsg)
	}

	// Test IsConfigError()
	if !IsConfigError(err) {
		t.Error("IsConfigError() should return true for ConfigError")
	}

	// Test errors.As()
	var ce *ConfigError
	if !errors.As(err, &ce) {
		t.Error("errors.As() should extract ConfigError")
	}
	if ce.Field != "matrix.host" {
		t.Errorf("ConfigError.Field = %q, want %q", ce.Field, "matrix.host")
	}
}

func TestStorageError(t *testing.T) {
	baseErr := fmt.Errorf("disk full")
	err := NewStorageError("spool_write", baseErr)

	errMsg := err.Error()
	if !strings.Contains(errMsg, "storage") || !strings.Contains(errMsg, "spool_write") {
		t.Errorf("Error() = %q, want message containing 'storage' and 'spool_write'", errMsg)
	}

	if !errors.Is(err, baseErr) {
		t.Error("errors.Is() should find wrapped error")
	}
	if !IsStorageError(err) {
		t.Error("IsStorageError() should return true for StorageError")
	}

	var se *StorageError
	if !errors.As(err, &se) {
		t.Error("errors.As() should extract StorageError")
	}
	if se.Op != "spool_write" {
		t.Errorf("StorageError.Op = %q, want %q", se.Op, "spool_write")
	}
}

func TestSentinelErrors(t *testing.T) {
	sentinels := []error{
		ErrDeviceUnreachable,
		ErrDeviceFault,
		ErrCircuitOpen,
		ErrPollSkipped,
		ErrInvalidConfig,
	}

	for _, sentinel := range sentinels {
		if sentinel.Error() == "" {
			t.Error("sentinel error has empty message")
		}
		wrapped := fmt.Errorf("context: %w", sentinel)
		if !errors.Is(wrapped, sentinel) {
			t.Errorf("errors.Is() should match wrapped sentinel %v", sentinel)
		}
	}
}
