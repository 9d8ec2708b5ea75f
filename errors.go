// cngw
// Copyright (c) 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later
//
// This file is part of cngw.
//
// cngw is free software; you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation; either
// version 3 of the License, or (at your option) any later version.
//
// cngw is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with cngw; if not, write to the Free Software Foundation,
// Inc., 51 Franklin Street, Fifth Floor, Boston, MA  02110-1301, USA.

package cngw

import (
	"errors"
	"fmt"
	"io"
	"runtime"
	"syscall"
)

// Error categories for retry logic and upstream reporting
var (
	// Transport errors - potentially retryable
	ErrTransportTimeout = errors.New("transport timeout")
	ErrTransportWrite   = errors.New("transport write failed")
	ErrTransportRead    = errors.New("transport read failed")
	ErrTransportClosed  = errors.New("transport is closed")
	ErrQueueFull        = errors.New("queue full")

	// Framing errors - recovered locally by resynchronising
	ErrChecksumMismatch = errors.New("checksum mismatch")
	ErrFrameTruncated   = errors.New("frame truncated")
	ErrUnknownCommand   = errors.New("unknown command type")
	ErrInvalidResponse  = errors.New("invalid response format")

	// Authentication errors
	ErrAuthFailure   = errors.New("hmac authentication failed")
	ErrNotHandshaked = errors.New("mainboard handshake not established")
	ErrCoprocessor   = errors.New("coprocessor command failed")
	ErrTimeout       = errors.New("operation timed out")

	// OTA errors - surfaced at End, never retried automatically
	ErrSequence           = errors.New("ota sequence out of order")
	ErrSizeMismatch       = errors.New("ota byte count mismatch")
	ErrFlash              = errors.New("flash operation failed")
	ErrVersionRejected    = errors.New("firmware version rejected by policy")
	ErrOTAInProgress      = errors.New("ota transfer already in progress")
	ErrNoOTASession       = errors.New("no ota session active")
	ErrMainboardRejected  = errors.New("mainboard rejected firmware")
	ErrUnknownFirmwareMCU = errors.New("unknown firmware target")

	// Data errors - not retryable
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrDataTooLarge     = errors.New("data too large")
)

// ErrorType represents the category of error for retry logic
type ErrorType int

const (
	// ErrorTypeTransient indicates a potentially retryable error
	ErrorTypeTransient ErrorType = iota
	// ErrorTypePermanent indicates a non-retryable error
	ErrorTypePermanent
	// ErrorTypeTimeout indicates a timeout error (special handling)
	ErrorTypeTimeout
)

// TransportError wraps bus-level errors with additional context
type TransportError struct {
	Err       error     // Underlying error
	Op        string    // Operation that failed
	Port      string    // Bus or device identifier
	Type      ErrorType // Error category
	Retryable bool      // Whether the error is retryable
}

func (e *TransportError) Error() string {
	if e.Port != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Port, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// CoprocessorError reports a non-success status byte returned by the
// security coprocessor.
type CoprocessorError struct {
	Command string
	Opcode  byte
	Status  byte
}

func (e *CoprocessorError) Error() string {
	return fmt.Sprintf("%s (opcode 0x%02X) status 0x%02X (%s)",
		e.Command, e.Opcode, e.Status, coprocessorStatusMeaning(e.Status))
}

// Unwrap lets callers match on ErrCoprocessor and, for watchdog and
// communication failures, ErrTimeout.
func (e *CoprocessorError) Unwrap() []error {
	if e.Status == StatusWatchdog || e.Status == StatusCommError {
		return []error{ErrCoprocessor, ErrTimeout}
	}
	return []error{ErrCoprocessor}
}

// Coprocessor response status codes
const (
	StatusSuccess    byte = 0x00
	StatusMiscompare byte = 0x01
	StatusParse      byte = 0x03
	StatusECCFault   byte = 0x05
	StatusExecError  byte = 0x0F
	StatusWake       byte = 0x11
	StatusWatchdog   byte = 0xEE
	StatusCommError  byte = 0xFF
)

func coprocessorStatusMeaning(code byte) string {
	meanings := map[byte]string{
		StatusSuccess:    "success",
		StatusMiscompare: "checkmac or verify miscompare",
		StatusParse:      "parse error",
		StatusECCFault:   "ecc fault",
		StatusExecError:  "execution error",
		StatusWake:       "wake token",
		StatusWatchdog:   "watchdog about to expire",
		StatusCommError:  "crc or communication error",
	}
	if m, ok := meanings[code]; ok {
		return m
	}
	return "unknown status"
}

// IsRetryable returns true if the error is potentially retryable
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var te *TransportError
	if errors.As(err, &te) {
		return te.Retryable
	}

	var ce *CoprocessorError
	if errors.As(err, &ce) {
		return ce.Status == StatusWatchdog || ce.Status == StatusCommError
	}

	switch {
	case errors.Is(err, ErrTransportTimeout),
		errors.Is(err, ErrTransportRead),
		errors.Is(err, ErrTransportWrite),
		errors.Is(err, ErrChecksumMismatch),
		errors.Is(err, ErrFrameTruncated):
		return true
	default:
		return false
	}
}

// IsFatal returns true if the error indicates the bus is gone and the
// engine should stop rather than keep exchanging buffers.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	var te *TransportError
	if errors.As(err, &te) {
		return te.Type == ErrorTypePermanent
	}

	if isDeviceGoneError(err) {
		return true
	}

	switch {
	case errors.Is(err, ErrTransportClosed),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrClosedPipe):
		return true
	default:
		return false
	}
}

// Windows error codes for device disconnection detection.
// These are defined here because they're not available on non-Windows platforms.
const (
	errAccessDenied syscall.Errno = 5   // ERROR_ACCESS_DENIED
	errGenFailure   syscall.Errno = 31  // ERROR_GEN_FAILURE
	errNoSuchDevice syscall.Errno = 433 // ERROR_NO_SUCH_DEVICE
)

// isDeviceGoneError checks for OS-level errors indicating the bus device
// disappeared (USB serial adapter unplugged, spidev unbound).
func isDeviceGoneError(err error) bool {
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return false
	}

	//nolint:exhaustive // Only checking specific device-gone errors, not all errno values
	switch errno {
	case syscall.EIO, syscall.ENXIO, syscall.ENODEV:
		return true
	}

	if runtime.GOOS == "windows" {
		//nolint:exhaustive // Only checking specific device-gone errors, not all errno values
		switch errno {
		case errAccessDenied, errGenFailure, errNoSuchDevice:
			return true
		}
	}

	return false
}

// NewTransportError creates a standard transport error with consistent formatting
func NewTransportError(op, port string, err error, errType ErrorType) *TransportError {
	return &TransportError{
		Op:        op,
		Port:      port,
		Err:       err,
		Type:      errType,
		Retryable: errType == ErrorTypeTransient || errType == ErrorTypeTimeout,
	}
}

// NewTimeoutError creates a timeout error for transport operations
func NewTimeoutError(op, port string) *TransportError {
	return NewTransportError(op, port, ErrTransportTimeout, ErrorTypeTimeout)
}

// NewChecksumMismatchError creates a checksum mismatch error (transient)
func NewChecksumMismatchError(op, port string) *TransportError {
	return NewTransportError(op, port, ErrChecksumMismatch, ErrorTypeTransient)
}

// NewTransportWriteError creates a write error (transient)
func NewTransportWriteError(op, port string) *TransportError {
	return NewTransportError(op, port, ErrTransportWrite, ErrorTypeTransient)
}

// NewTransportReadError creates a read error (transient)
func NewTransportReadError(op, port string) *TransportError {
	return NewTransportError(op, port, ErrTransportRead, ErrorTypeTransient)
}

// NewInvalidResponseError creates an invalid response error (permanent)
func NewInvalidResponseError(op, port string) *TransportError {
	return NewTransportError(op, port, ErrInvalidResponse, ErrorTypePermanent)
}

// NewFlashError wraps a flash driver failure. Flash errors are never
// retried: a half-written staging partition is discarded at End.
func NewFlashError(op string, addr uint32, err error) error {
	return fmt.Errorf("%w: %s at 0x%08X: %w", ErrFlash, op, addr, err)
}
