package ble

import (
	"errors"
	"fmt"
)

// Print and connection failures. Errors carrying detail wrap one of these,
// so callers should match with errors.Is.
var (
	ErrNotConnected     = errors.New("printer not connected")
	ErrJobInProgress    = errors.New("a print job is already in progress")
	ErrConnect          = errors.New("printer rejected the connection")
	ErrTimeout          = errors.New("printer did not become ready in time")
	ErrNoCharacteristic = errors.New("no writable characteristic found")
	ErrWriteFailed      = errors.New("write to printer failed")
)

// Client and backend errors.
var (
	ErrClosed             = errors.New("ble: client closed")
	ErrUnknownPeripheral  = errors.New("ble: unknown peripheral")
	ErrBackendUnsupported = errors.New("ble: backend not supported on this platform")
)

// wrapDetail attaches a hardware-reported cause to a sentinel. A nil cause
// returns the sentinel unchanged.
func wrapDetail(sentinel, cause error) error {
	if cause == nil {
		return sentinel
	}
	return fmt.Errorf("%w: %v", sentinel, cause)
}
