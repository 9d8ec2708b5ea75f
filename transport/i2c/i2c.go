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

// Package i2c provides the coprocessor bus over I2C
package i2c

import (
	"fmt"
	"strings"

	cngw "github.com/cencepower/cngw"
	"github.com/cencepower/cngw/coprocessor"
	"github.com/cencepower/cngw/internal/syncutil"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
)

const (
	// CoprocessorAddr is the ATECC508A 7-bit address.
	CoprocessorAddr = 0x60

	// The wake pulse is a write to the general call address at a clock slow
	// enough that the zero byte holds SDA low for the wake low time.
	wakeAddr = 0x00

	busSpeed = 400 * physic.KiloHertz

	traceDepth = 16
)

// Bus implements coprocessor.Bus on a periph.io I2C bus.
type Bus struct {
	bus     i2c.Bus
	closer  i2c.BusCloser // nil when the bus is owned by the caller
	dev     *i2c.Dev
	trace   *cngw.TraceBuffer
	busName string
	mu      syncutil.Mutex
}

// parseI2CPath extracts the bus path from a composite detection path.
// Accepts "/dev/i2c-1:0x60" (detection format) or "/dev/i2c-1" (bare bus).
func parseI2CPath(path string) string {
	bus, _, _ := strings.Cut(path, ":")
	return bus
}

// New opens busName and addresses the coprocessor on it.
func New(busName string) (*Bus, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph host: %w", err)
	}

	bc, err := i2creg.Open(parseI2CPath(busName))
	if err != nil {
		return nil, fmt.Errorf("failed to open I2C bus %s: %w", busName, err)
	}

	_ = bc.SetSpeed(busSpeed) // Ignore error, continue with default speed

	b := NewFromBus(bc, busName)
	b.closer = bc
	return b, nil
}

// NewFromBus wraps an already opened bus. Close does not close it.
func NewFromBus(bus i2c.Bus, name string) *Bus {
	return &Bus{
		bus:     bus,
		dev:     &i2c.Dev{Addr: CoprocessorAddr, Bus: bus},
		trace:   cngw.NewTraceBuffer("I2C", name, traceDepth),
		busName: name,
	}
}

// Wake sends the wake pulse. The chip never acknowledges the general call,
// so a NACK here is expected and ignored.
func (b *Bus) Wake() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.bus == nil {
		return cngw.NewTransportError("wake", b.busName, cngw.ErrTransportClosed, cngw.ErrorTypePermanent)
	}
	b.trace.RecordTX([]byte{0x00}, "wake")
	_ = b.bus.Tx(wakeAddr, []byte{0x00}, nil)
	return nil
}

// Write implements coprocessor.Bus.
func (b *Bus) Write(p []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.dev == nil {
		return cngw.NewTransportError("write", b.busName, cngw.ErrTransportClosed, cngw.ErrorTypePermanent)
	}
	b.trace.RecordTX(p, "")
	if err := b.dev.Tx(p, nil); err != nil {
		return b.trace.WrapError(cngw.NewTransportError("write", b.busName, err, cngw.ErrorTypeTransient))
	}
	return nil
}

// Read implements coprocessor.Bus. A busy chip NACKs its address, which is
// reported as a transient error so the client keeps polling.
func (b *Bus) Read(p []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.dev == nil {
		return cngw.NewTransportError("read", b.busName, cngw.ErrTransportClosed, cngw.ErrorTypePermanent)
	}
	if err := b.dev.Tx(nil, p); err != nil {
		return cngw.NewTransportError("read", b.busName, err, cngw.ErrorTypeTransient)
	}
	b.trace.RecordRX(p, "")
	return nil
}

// Close releases the bus file descriptor when New opened it.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var err error
	if b.closer != nil {
		err = b.closer.Close()
		b.closer = nil
	}
	b.bus = nil
	b.dev = nil
	if err != nil {
		return fmt.Errorf("failed to close I2C bus: %w", err)
	}
	return nil
}

// Port returns the bus name.
func (b *Bus) Port() string {
	return b.busName
}

// LastTrace returns the recent bus exchanges, for diagnostics after a failed
// coprocessor operation.
func (b *Bus) LastTrace() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return cngw.GetTrace(b.trace.WrapError(cngw.ErrTransportRead)).FormatTrace()
}

var _ coprocessor.Bus = (*Bus)(nil)
