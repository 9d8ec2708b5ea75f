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

// Package uart provides a bench link to the mainboard through a USB serial
// bridge that clocks the SPI bus on the gateway's behalf.
//
// Every exchange is written as {sync, length, tx...} and the bridge answers
// with {sync, length, rx...} carrying the bytes it clocked in.
package uart

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	cngw "github.com/cencepower/cngw"
	"github.com/cencepower/cngw/internal/syncutil"
	"go.bug.st/serial"
)

const (
	syncByte      = 0x7E
	prefixLength  = 2
	defaultBaud   = 921600
	maxExchange   = 255
	exchangeLimit = 500 * time.Millisecond
)

// Link implements cngw.Link over a serial bridge.
type Link struct {
	port     serial.Port
	portName string
	timeout  time.Duration
	mu       syncutil.Mutex
}

// isWindows returns true if running on Windows
func isWindows() bool {
	return runtime.GOOS == "windows"
}

// getWindowsTimeout returns the per-read timeout; Windows serial drivers
// need more slack.
func getWindowsTimeout() time.Duration {
	if isWindows() {
		return 100 * time.Millisecond
	}
	return 50 * time.Millisecond
}

// New opens the bridge on portName.
func New(portName string) (*Link, error) {
	port, err := serial.Open(portName, &serial.Mode{
		BaudRate: defaultBaud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open UART port %s: %w", portName, err)
	}

	if err := port.SetReadTimeout(getWindowsTimeout()); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("failed to set UART read timeout: %w", err)
	}
	_ = port.ResetInputBuffer()

	return NewFromPort(port, portName), nil
}

// NewFromPort wraps an open serial port.
func NewFromPort(port serial.Port, name string) *Link {
	return &Link{port: port, portName: name, timeout: exchangeLimit}
}

// Transceive implements cngw.Link.
func (l *Link) Transceive(ctx context.Context, tx, rx []byte) error {
	if len(tx) != len(rx) {
		return fmt.Errorf("%w: tx %d bytes, rx %d bytes", cngw.ErrInvalidParameter, len(tx), len(rx))
	}
	if len(tx) > maxExchange {
		return cngw.NewTransportError("Transceive", l.portName, cngw.ErrDataTooLarge, cngw.ErrorTypePermanent)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.port == nil {
		return cngw.NewTransportError("Transceive", l.portName, cngw.ErrTransportClosed, cngw.ErrorTypePermanent)
	}

	out := make([]byte, 0, prefixLength+len(tx))
	out = append(out, syncByte, byte(len(tx)))
	out = append(out, tx...)
	n, err := l.port.Write(out)
	if err != nil {
		return cngw.NewTransportError("Transceive", l.portName, err, cngw.ErrorTypeTransient)
	}
	if n != len(out) {
		return cngw.NewTransportWriteError("Transceive", l.portName)
	}
	if err := l.drainWithRetry("exchange"); err != nil {
		return err
	}

	deadline := time.Now().Add(l.timeout)
	if err := l.readPrefix(ctx, deadline, len(rx)); err != nil {
		return err
	}
	return l.readFull(ctx, deadline, rx)
}

// readPrefix skips noise up to the sync byte and checks the length.
func (l *Link) readPrefix(ctx context.Context, deadline time.Time, want int) error {
	one := make([]byte, 1)
	for {
		if err := l.readFull(ctx, deadline, one); err != nil {
			return err
		}
		if one[0] != syncByte {
			continue
		}
		if err := l.readFull(ctx, deadline, one); err != nil {
			return err
		}
		if int(one[0]) != want {
			return fmt.Errorf("%w: bridge returned %d bytes, want %d",
				cngw.ErrInvalidResponse, one[0], want)
		}
		return nil
	}
}

// readFull fills buf, tolerating the short and empty reads a serial port
// returns on its read timeout.
func (l *Link) readFull(ctx context.Context, deadline time.Time, buf []byte) error {
	got := 0
	for got < len(buf) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if time.Now().After(deadline) {
			return cngw.NewTimeoutError("Transceive", l.portName)
		}
		n, err := l.port.Read(buf[got:])
		if err != nil {
			if isInterruptedSystemCall(err) {
				continue
			}
			return cngw.NewTransportError("Transceive", l.portName, err, cngw.ErrorTypeTransient)
		}
		got += n
	}
	return nil
}

// Close closes the port
func (l *Link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.port == nil {
		return nil
	}
	err := l.port.Close()
	l.port = nil
	if err != nil {
		return fmt.Errorf("UART close failed: %w", err)
	}
	return nil
}

// Type returns the link type
func (*Link) Type() cngw.LinkType {
	return cngw.LinkUART
}

// Port returns the serial port name
func (l *Link) Port() string {
	return l.portName
}

// isInterruptedSystemCall checks if an error is caused by an interrupted system call
func isInterruptedSystemCall(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "interrupted system call") ||
		strings.Contains(errStr, "eintr")
}

// drainWithRetry performs port drain with retry logic for interrupted system calls
func (l *Link) drainWithRetry(operation string) error {
	const maxRetries = 3
	baseDelay := 2 * time.Millisecond

	var lastErr error
	for attempt := range maxRetries {
		err := l.port.Drain()
		if err == nil {
			return nil
		}
		lastErr = err
		if !isInterruptedSystemCall(err) {
			break
		}
		time.Sleep(baseDelay * time.Duration(1<<attempt)) // 2ms, 4ms, 8ms
	}
	return fmt.Errorf("UART %s drain failed: %w", operation, errors.Join(cngw.ErrTransportWrite, lastErr))
}

var _ cngw.Link = (*Link)(nil)
