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

package testing

import (
	"bytes"
	"context"
	"errors"
	"time"

	cngw "github.com/cencepower/cngw"
	"github.com/cencepower/cngw/internal/frame"
	"github.com/cencepower/cngw/internal/syncutil"
)

// ErrMainboardGone is returned by a closed VirtualMainboard.
var ErrMainboardGone = errors.New("virtual mainboard: link closed")

// GatewayFrame is one frame the gateway clocked out to the virtual mainboard.
type GatewayFrame struct {
	Timestamp time.Time
	Body      []byte
	Type      cngw.HeaderType
}

// Responder reacts to a gateway frame. Each returned buffer is clocked back
// to the gateway on a later exchange, one buffer per exchange, since the
// duplex link cannot answer within the exchange that carried the request.
type Responder func(f GatewayFrame) [][]byte

// VirtualMainboard implements cngw.Link and plays the mainboard side of the
// duplex exchange. Tests queue raw buffers for the gateway and inspect the
// frames the gateway sent back.
type VirtualMainboard struct {
	responder Responder
	failNext  error
	pending   [][]byte
	frames    []GatewayFrame
	exchanges int
	mu        syncutil.Mutex
	closed    bool
}

// NewVirtualMainboard returns an idle virtual mainboard.
func NewVirtualMainboard() *VirtualMainboard {
	return &VirtualMainboard{}
}

// OnFrame installs the responder called for every decoded gateway frame.
func (m *VirtualMainboard) OnFrame(r Responder) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responder = r
}

// Queue schedules raw buffers for the gateway, one per exchange.
func (m *VirtualMainboard) Queue(bufs ...[]byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range bufs {
		m.pending = append(m.pending, append([]byte(nil), b...))
	}
}

// QueueFrames packs frames back to back into a single exchange.
func (m *VirtualMainboard) QueueFrames(frames ...[]byte) {
	m.Queue(bytes.Join(frames, nil))
}

// FailNext makes the next exchange fail with err.
func (m *VirtualMainboard) FailNext(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = err
}

// Pending returns the number of buffers not yet clocked out.
func (m *VirtualMainboard) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Exchanges returns the number of completed exchanges.
func (m *VirtualMainboard) Exchanges() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.exchanges
}

// Frames returns a copy of the gateway frame log.
func (m *VirtualMainboard) Frames() []GatewayFrame {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]GatewayFrame(nil), m.frames...)
}

// FramesOf returns the logged gateway frames of type t.
func (m *VirtualMainboard) FramesOf(t cngw.HeaderType) []GatewayFrame {
	var out []GatewayFrame
	for _, f := range m.Frames() {
		if f.Type == t {
			out = append(out, f)
		}
	}
	return out
}

// HasFrame reports whether the gateway sent a frame of type t.
func (m *VirtualMainboard) HasFrame(t cngw.HeaderType) bool {
	return len(m.FramesOf(t)) > 0
}

// ClearFrames empties the gateway frame log.
func (m *VirtualMainboard) ClearFrames() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frames = nil
}

// WaitFrame polls until a gateway frame of type t satisfying match has been
// logged, or ctx ends.
func (m *VirtualMainboard) WaitFrame(ctx context.Context, t cngw.HeaderType, match func([]byte) bool) (GatewayFrame, error) {
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for {
		for _, f := range m.FramesOf(t) {
			if match == nil || match(f.Body) {
				return f, nil
			}
		}
		select {
		case <-ctx.Done():
			return GatewayFrame{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Transceive clocks the next pending buffer into rx and decodes the frames
// carried by tx.
func (m *VirtualMainboard) Transceive(ctx context.Context, tx, rx []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return cngw.NewTransportError("Transceive", m.Port(), ErrMainboardGone, cngw.ErrorTypePermanent)
	}
	if err := m.failNext; err != nil {
		m.failNext = nil
		m.mu.Unlock()
		return err
	}

	clear(rx)
	if len(m.pending) > 0 {
		copy(rx, m.pending[0])
		m.pending = m.pending[1:]
	}
	m.exchanges++
	responder := m.responder
	decoded := decodeFrames(tx)
	m.frames = append(m.frames, decoded...)
	m.mu.Unlock()

	if responder == nil {
		return nil
	}
	for _, f := range decoded {
		if replies := responder(f); len(replies) > 0 {
			m.Queue(replies...)
		}
	}
	return nil
}

// decodeFrames walks a gateway buffer. The gateway pads with zeros, which
// decode as a valid header of the invalid type and end the walk.
func decodeFrames(buf []byte) []GatewayFrame {
	var out []GatewayFrame
	now := time.Now()
	for off := 0; off+frame.HeaderSize <= len(buf); {
		h, err := frame.DecodeHeader(buf[off:])
		if err != nil {
			off++
			continue
		}
		if !h.Type.Valid() {
			break
		}
		start := off + frame.HeaderSize
		end := min(start+int(h.DataSize), len(buf))
		out = append(out, GatewayFrame{
			Type:      h.Type,
			Body:      append([]byte(nil), buf[start:end]...),
			Timestamp: now,
		})
		off = end
	}
	return out
}

// Close closes the link.
func (m *VirtualMainboard) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Type returns the link type.
func (*VirtualMainboard) Type() cngw.LinkType {
	return cngw.LinkMock
}

// Port returns a fixed identifier.
func (*VirtualMainboard) Port() string {
	return "virtual-mainboard"
}
