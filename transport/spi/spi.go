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

// Package spi provides the mainboard link over SPI
package spi

import (
	"context"
	"fmt"
	"time"

	cngw "github.com/cencepower/cngw"
	"github.com/cencepower/cngw/internal/syncutil"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

const (
	// Default SPI settings
	defaultFreq = 2 * physic.MegaHertz
	defaultMode = spi.Mode0
	bitsPerWord = 8

	defaultReadyPoll = 10 * time.Millisecond
	traceDepth       = 8
)

// Option configures a Link.
type Option func(*Link)

// WithFrequency sets the SPI clock.
func WithFrequency(f physic.Frequency) Option {
	return func(l *Link) { l.freq = f }
}

// WithMode sets the SPI mode.
func WithMode(m spi.Mode) Option {
	return func(l *Link) { l.mode = m }
}

// WithReadyPin gates every exchange on a falling edge of the named GPIO,
// which the mainboard drives when it has clocked in its transmit buffer.
func WithReadyPin(name string) Option {
	return func(l *Link) { l.readyName = name }
}

// Link implements cngw.Link with one full-duplex SPI transaction per
// exchange.
type Link struct {
	port      spi.PortCloser
	conn      spi.Conn
	ready     gpio.PinIn
	trace     *cngw.TraceBuffer
	portName  string
	readyName string
	freq      physic.Frequency
	mode      spi.Mode
	readyPoll time.Duration
	mu        syncutil.Mutex
}

// New opens portName, for example "SPI0.0" or "/dev/spidev0.0".
func New(portName string, opts ...Option) (*Link, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph host: %w", err)
	}

	l := &Link{
		portName:  portName,
		freq:      defaultFreq,
		mode:      defaultMode,
		readyPoll: defaultReadyPoll,
	}
	for _, opt := range opts {
		opt(l)
	}

	port, err := spireg.Open(portName)
	if err != nil {
		return nil, fmt.Errorf("failed to open SPI port %s: %w", portName, err)
	}

	c, err := port.Connect(l.freq, l.mode, bitsPerWord)
	if err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("failed to connect SPI: %w", err)
	}

	if l.readyName != "" {
		pin := gpioreg.ByName(l.readyName)
		if pin == nil {
			_ = port.Close()
			return nil, fmt.Errorf("%w: ready pin %s not found", cngw.ErrInvalidParameter, l.readyName)
		}
		if err := pin.In(gpio.PullUp, gpio.FallingEdge); err != nil {
			_ = port.Close()
			return nil, fmt.Errorf("failed to configure ready pin %s: %w", l.readyName, err)
		}
		l.ready = pin
	}

	l.port = port
	l.conn = c
	l.trace = cngw.NewTraceBuffer("SPI", portName, traceDepth)
	return l, nil
}

// NewFromConn wraps an already connected SPI conn. ready may be nil.
func NewFromConn(c spi.Conn, name string, ready gpio.PinIn) *Link {
	return &Link{
		conn:      c,
		ready:     ready,
		portName:  name,
		readyPoll: defaultReadyPoll,
		trace:     cngw.NewTraceBuffer("SPI", name, traceDepth),
	}
}

// waitReady blocks until the ready pin falls or reads low.
func (l *Link) waitReady(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if l.ready.Read() == gpio.Low {
			return nil
		}
		if l.ready.WaitForEdge(l.readyPoll) {
			return nil
		}
	}
}

// Transceive implements cngw.Link.
//
//nolint:wrapcheck // WrapError intentionally wraps errors with trace data
func (l *Link) Transceive(ctx context.Context, tx, rx []byte) error {
	if len(tx) != len(rx) {
		return fmt.Errorf("%w: tx %d bytes, rx %d bytes", cngw.ErrInvalidParameter, len(tx), len(rx))
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn == nil {
		return cngw.NewTransportError("Transceive", l.portName, cngw.ErrTransportClosed, cngw.ErrorTypePermanent)
	}
	if l.ready != nil {
		if err := l.waitReady(ctx); err != nil {
			return err
		}
	}

	l.trace.RecordTX(tx, "")
	if err := l.conn.Tx(tx, rx); err != nil {
		l.trace.RecordTimeout(err.Error())
		return l.trace.WrapError(cngw.NewTransportError("Transceive", l.portName, err, cngw.ErrorTypeTransient))
	}
	l.trace.RecordRX(rx, "")
	return nil
}

// Close closes the port
func (l *Link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.conn = nil
	if l.port != nil {
		err := l.port.Close()
		l.port = nil
		if err != nil {
			return fmt.Errorf("SPI close failed: %w", err)
		}
	}
	return nil
}

// Type returns the link type
func (*Link) Type() cngw.LinkType {
	return cngw.LinkSPI
}

// Port returns the SPI port name
func (l *Link) Port() string {
	return l.portName
}

var _ cngw.Link = (*Link)(nil)
