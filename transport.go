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
	"context"
	"errors"
	"fmt"
)

// Link is the duplex channel to the mainboard. Every exchange clocks a full
// transmit buffer out while the same number of bytes is clocked in, the way an
// SPI slave sees the bus. This can be implemented by SPI, UART or mock backends.
type Link interface {
	// Transceive performs one blocking duplex exchange. len(rx) must equal len(tx).
	Transceive(ctx context.Context, tx, rx []byte) error

	// Close closes the link
	Close() error

	// Type returns the link type
	Type() LinkType

	// Port returns the bus or device identifier, for logs and errors
	Port() string
}

// LinkType represents the type of link backend
type LinkType string

const (
	// LinkSPI represents the production SPI bus.
	LinkSPI LinkType = "spi"
	// LinkUART represents a serial bench link carrying the same buffers.
	LinkUART LinkType = "uart"
	// LinkMock represents a mock link for testing
	LinkMock LinkType = "mock"
)

// LinkWithRetry wraps a Link and retries transient exchange failures.
type LinkWithRetry struct {
	link   Link
	config *RetryConfig
}

// NewLinkWithRetry creates a new link wrapper with retry logic
func NewLinkWithRetry(link Link, config *RetryConfig) *LinkWithRetry {
	if config == nil {
		config = DefaultRetryConfig()
	}
	return &LinkWithRetry{
		link:   link,
		config: config,
	}
}

// Transceive performs a duplex exchange with retry logic. The receive buffer
// is cleared before each attempt so a failed partial read never leaks into
// the next one.
func (l *LinkWithRetry) Transceive(ctx context.Context, tx, rx []byte) error {
	if len(tx) != len(rx) {
		return fmt.Errorf("%w: tx %d bytes, rx %d bytes", ErrInvalidParameter, len(tx), len(rx))
	}
	return RetryWithConfig(ctx, l.config, func() error {
		clear(rx)
		if err := l.link.Transceive(ctx, tx, rx); err != nil {
			return &TransportError{
				Op:        "Transceive",
				Port:      l.link.Port(),
				Err:       err,
				Type:      errorTypeOf(err),
				Retryable: IsRetryable(err),
			}
		}
		return nil
	})
}

// Close closes the underlying link
func (l *LinkWithRetry) Close() error {
	if err := l.link.Close(); err != nil {
		return fmt.Errorf("failed to close underlying link: %w", err)
	}
	return nil
}

// Type returns the underlying link type
func (l *LinkWithRetry) Type() LinkType {
	return l.link.Type()
}

// Port returns the underlying link port
func (l *LinkWithRetry) Port() string {
	return l.link.Port()
}

func errorTypeOf(err error) ErrorType {
	switch {
	case IsFatal(err):
		return ErrorTypePermanent
	case IsTimeout(err):
		return ErrorTypeTimeout
	default:
		return ErrorTypeTransient
	}
}

// IsTimeout reports whether err is a timeout of any layer.
func IsTimeout(err error) bool {
	var te *TransportError
	if errors.As(err, &te) && te.Type == ErrorTypeTimeout {
		return true
	}
	return errors.Is(err, ErrTransportTimeout) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, context.DeadlineExceeded)
}
