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

package ota

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cngw "github.com/cencepower/cngw"
	"github.com/cencepower/cngw/internal/frame"
	"github.com/cencepower/cngw/internal/syncutil"
	"github.com/cencepower/cngw/wire"
)

type sentFrame struct {
	body []byte
	cmd  uint8
}

// responder decides the mainboard's reply to each frame. attempt counts
// FileHeaderInfo frames and chunk counts chunks within the attempt.
type responder func(f sentFrame, attempt, chunk int) []wire.OTAStatusCode

// fakeMainboard receives OTA frames and answers through deliver.
type fakeMainboard struct {
	deliver func(wire.OTAStatusCode)
	respond responder
	frames  []sentFrame
	attempt int
	chunk   int
	mu      syncutil.Mutex
}

func (m *fakeMainboard) SendFrame(f []byte) error {
	h, err := frame.DecodeHeader(f)
	if err != nil {
		return err
	}
	if h.Type != cngw.HeaderOta {
		return errors.New("not an ota frame")
	}
	body := f[frame.HeaderSize:]
	if len(body) != int(h.DataSize) || !frame.ValidateBody(body) {
		return errors.New("bad ota body")
	}
	sf := sentFrame{cmd: body[0], body: append([]byte(nil), body...)}

	m.mu.Lock()
	m.frames = append(m.frames, sf)
	switch sf.cmd {
	case wire.OTACmdFileHeader:
		m.attempt++
		m.chunk = 0
	case wire.OTACmdBinaryData:
		m.chunk++
	}
	attempt, chunk := m.attempt, m.chunk
	m.mu.Unlock()

	if m.respond == nil {
		return nil
	}
	for _, s := range m.respond(sf, attempt, chunk) {
		m.deliver(s)
	}
	return nil
}

func (m *fakeMainboard) sent() []sentFrame {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentFrame(nil), m.frames...)
}

func (m *fakeMainboard) count(cmd uint8) int {
	n := 0
	for _, f := range m.sent() {
		if f.cmd == cmd {
			n++
		}
	}
	return n
}

// acceptAfter acks every frame and answers chunk number last with Success.
func acceptAfter(last int) responder {
	return func(f sentFrame, _, chunk int) []wire.OTAStatusCode {
		if f.cmd == wire.OTACmdBinaryData && chunk == last {
			return []wire.OTAStatusCode{wire.OTAStatusSuccess}
		}
		return []wire.OTAStatusCode{wire.OTAStatusAck}
	}
}

func testConfig() *Config {
	c := DefaultConfig()
	c.AckTimeout = 50 * time.Millisecond
	c.ConfigAckTimeout = 50 * time.Millisecond
	c.TransferTimeout = 2 * time.Second
	c.FinalStatusTimeout = 50 * time.Millisecond
	c.BundleDelay = 0
	return c
}

func newTransferFixture(config *Config, respond responder) (*Transfer, *fakeMainboard) {
	mb := &fakeMainboard{respond: respond}
	tr := NewTransfer(mb, nil, config)
	mb.deliver = func(s wire.OTAStatusCode) { tr.Deliver(s) }
	return tr, mb
}

func testImage(t *testing.T, typ wire.BinaryType, n int) *Image {
	t.Helper()
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i * 7)
	}
	return &Image{
		Target: Target{Name: NameCN, Type: typ, Version: cngw.NewFirmwareVersion(2, 6, 0, 0)},
		Size:   uint32(n - ImageTrailer), //nolint:gosec // small test sizes
		Data:   data,
		CRC:    0xCAFEF00D,
	}
}

func TestTransferSequence(t *testing.T) {
	t.Parallel()

	var phases []string
	config := testConfig()
	config.Progress = func(p Progress) { phases = append(phases, p.Phase) }
	tr, mb := newTransferFixture(config, acceptAfter(3))
	img := testImage(t, wire.BinaryCN, 300)

	require.NoError(t, tr.Run(context.Background(), img))
	assert.False(t, tr.Running())

	frames := mb.sent()
	require.Len(t, frames, 6)
	cmds := make([]uint8, len(frames))
	for i, f := range frames {
		cmds[i] = f.cmd
	}
	assert.Equal(t, []uint8{
		wire.OTACmdFileHeader, wire.OTACmdPackageHeader, wire.OTACmdCryptoInfo,
		wire.OTACmdBinaryData, wire.OTACmdBinaryData, wire.OTACmdBinaryData,
	}, cmds)

	var fh wire.OTAFileHeader
	require.NoError(t, wire.Unmarshal(frames[0].body, &fh))
	assert.Equal(t, cngw.NewFirmwareVersion(2, 5, 19, 0), fh.DistRelease)
	assert.Equal(t, uint8(1), fh.BinaryCount)

	var ph wire.OTAPackageHeader
	require.NoError(t, wire.Unmarshal(frames[1].body, &ph))
	assert.Equal(t, wire.BinaryCN, ph.Type)
	assert.Equal(t, img.Target.Version, ph.Version)
	assert.Equal(t, uint32(150), ph.Size)
	assert.Equal(t, uint32(0xCAFEF00D), ph.ImageCRC)

	var ci wire.OTACryptoInfo
	require.NoError(t, wire.Unmarshal(frames[2].body, &ci))
	assert.Equal(t, wire.OTACryptoInfo{Command: wire.OTACmdCryptoInfo, CRC: ci.CRC}, ci)

	var streamed []byte
	for _, f := range frames[3:] {
		streamed = append(streamed, f.body[1:len(f.body)-1]...)
	}
	assert.Equal(t, img.Data, streamed)
	assert.Len(t, frames[5].body, 44+2, "short final chunk")

	require.NotEmpty(t, phases)
	assert.Equal(t, PhaseHeaders, phases[0])
	assert.Equal(t, PhaseComplete, phases[len(phases)-1])
}

func TestTransferRestartStatus(t *testing.T) {
	t.Parallel()

	accept := acceptAfter(2)
	tr, mb := newTransferFixture(testConfig(), func(f sentFrame, attempt, chunk int) []wire.OTAStatusCode {
		if attempt == 1 && f.cmd == wire.OTACmdBinaryData {
			return []wire.OTAStatusCode{wire.OTAStatusRestart}
		}
		return accept(f, attempt, chunk)
	})

	require.NoError(t, tr.Run(context.Background(), testImage(t, wire.BinaryCN, 200)))
	assert.Equal(t, 2, mb.count(wire.OTACmdFileHeader))
	assert.Equal(t, 3, mb.count(wire.OTACmdBinaryData))
}

func TestTransferAckTimeoutRestarts(t *testing.T) {
	t.Parallel()

	accept := acceptAfter(2)
	tr, mb := newTransferFixture(testConfig(), func(f sentFrame, attempt, chunk int) []wire.OTAStatusCode {
		if attempt == 1 && f.cmd == wire.OTACmdPackageHeader {
			return nil
		}
		return accept(f, attempt, chunk)
	})

	require.NoError(t, tr.Run(context.Background(), testImage(t, wire.BinaryCN, 200)))
	assert.Equal(t, 2, mb.count(wire.OTACmdFileHeader))
	assert.Equal(t, 1, mb.count(wire.OTACmdCryptoInfo))
}

func TestTransferErrorStatusAdvances(t *testing.T) {
	t.Parallel()

	accept := acceptAfter(2)
	tr, mb := newTransferFixture(testConfig(), func(f sentFrame, attempt, chunk int) []wire.OTAStatusCode {
		if f.cmd == wire.OTACmdCryptoInfo {
			return []wire.OTAStatusCode{wire.OTAStatusError}
		}
		return accept(f, attempt, chunk)
	})

	require.NoError(t, tr.Run(context.Background(), testImage(t, wire.BinaryCN, 200)))
	assert.Equal(t, 1, mb.count(wire.OTACmdFileHeader))
}

func TestTransferGivesUp(t *testing.T) {
	t.Parallel()

	config := testConfig()
	config.TransferTimeout = 200 * time.Millisecond
	tr, mb := newTransferFixture(config, nil)

	err := tr.Run(context.Background(), testImage(t, wire.BinaryCN, 200))
	require.ErrorIs(t, err, cngw.ErrTimeout)
	assert.GreaterOrEqual(t, mb.count(wire.OTACmdFileHeader), 2, "restarted after each missing ack")
	assert.Zero(t, mb.count(wire.OTACmdBinaryData))
}

func TestTransferFinalStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		wantErr error
		name    string
		final   []wire.OTAStatusCode
	}{
		{name: "success", final: []wire.OTAStatusCode{wire.OTAStatusSuccess}},
		{name: "ack then success", final: []wire.OTAStatusCode{wire.OTAStatusAck, wire.OTAStatusSuccess}},
		{name: "error", final: []wire.OTAStatusCode{wire.OTAStatusError}, wantErr: cngw.ErrMainboardRejected},
		{name: "silence", wantErr: cngw.ErrTimeout},
		{name: "ack only", final: []wire.OTAStatusCode{wire.OTAStatusAck}, wantErr: cngw.ErrTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tr, _ := newTransferFixture(testConfig(), func(f sentFrame, _, chunk int) []wire.OTAStatusCode {
				if f.cmd == wire.OTACmdBinaryData && chunk == 2 {
					return tt.final
				}
				return []wire.OTAStatusCode{wire.OTAStatusAck}
			})
			err := tr.Run(context.Background(), testImage(t, wire.BinaryCN, 200))
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestTransferEarlySuccess(t *testing.T) {
	t.Parallel()

	tr, _ := newTransferFixture(testConfig(), func(f sentFrame, _, chunk int) []wire.OTAStatusCode {
		switch {
		case f.cmd == wire.OTACmdBinaryData && chunk == 1:
			return []wire.OTAStatusCode{wire.OTAStatusSuccess, wire.OTAStatusAck}
		case f.cmd == wire.OTACmdBinaryData:
			return nil
		default:
			return []wire.OTAStatusCode{wire.OTAStatusAck}
		}
	})
	require.NoError(t, tr.Run(context.Background(), testImage(t, wire.BinaryCN, 200)))
}

func TestBundleLimit(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		target wire.BinaryType
		sent   int
		want   int
	}{
		{name: "cn warm up", target: wire.BinaryCN, sent: 3, want: 0},
		{name: "cn bundled", target: wire.BinaryCN, sent: 4, want: 7},
		{name: "dr warm up", target: wire.BinaryDR, sent: 4, want: 0},
		{name: "dr bundled", target: wire.BinaryDR, sent: 5, want: 6},
		{name: "sw never", target: wire.BinarySW, sent: 100, want: 0},
		{name: "config never", target: wire.BinaryConfig, sent: 100, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, bundleLimit(tt.target, tt.sent))
		})
	}
}

func TestTransferBundlesChunks(t *testing.T) {
	t.Parallel()

	// Chunks 4 to 9 get no Ack and only bundling carries the transfer past them.
	acked := map[int]bool{1: true, 2: true, 3: true, 10: true}
	respond := func(f sentFrame, _, chunk int) []wire.OTAStatusCode {
		switch {
		case f.cmd != wire.OTACmdBinaryData:
			return []wire.OTAStatusCode{wire.OTAStatusAck}
		case chunk == 11:
			return []wire.OTAStatusCode{wire.OTAStatusSuccess}
		case acked[chunk]:
			return []wire.OTAStatusCode{wire.OTAStatusAck}
		default:
			return nil
		}
	}
	img := testImage(t, wire.BinaryCN, 11*wire.OTAChunkSize)

	img.Bundle = true
	tr, mb := newTransferFixture(testConfig(), respond)
	require.NoError(t, tr.Run(context.Background(), img))
	assert.Equal(t, 1, mb.count(wire.OTACmdFileHeader))
	assert.Equal(t, 11, mb.count(wire.OTACmdBinaryData))

	img.Bundle = false
	config := testConfig()
	config.TransferTimeout = 300 * time.Millisecond
	tr, _ = newTransferFixture(config, respond)
	require.ErrorIs(t, tr.Run(context.Background(), img), cngw.ErrTimeout)
}

type faultyQueue struct{}

func (faultyQueue) QueueError() bool { return true }

func TestTransferQueueFault(t *testing.T) {
	t.Parallel()

	mb := &fakeMainboard{}
	tr := NewTransfer(mb, faultyQueue{}, testConfig())

	err := tr.Run(context.Background(), testImage(t, wire.BinaryCN, 200))
	require.ErrorIs(t, err, cngw.ErrQueueFull)
	assert.Empty(t, mb.sent())
}

func TestTransferSingleFlight(t *testing.T) {
	t.Parallel()

	tr, _ := newTransferFixture(testConfig(), nil)
	assert.False(t, tr.Deliver(wire.OTAStatusAck), "nothing running")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tr.Run(ctx, testImage(t, wire.BinaryCN, 200)) }()

	require.Eventually(t, tr.Running, time.Second, time.Millisecond)
	require.ErrorIs(t, tr.Run(context.Background(), testImage(t, wire.BinaryCN, 200)), cngw.ErrOTAInProgress)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
	assert.False(t, tr.Running())
}

func TestTransferChunksCoverImage(t *testing.T) {
	t.Parallel()

	tr, mb := newTransferFixture(testConfig(), acceptAfter(2))
	img := testImage(t, wire.BinaryCN, 2*wire.OTAChunkSize)
	require.NoError(t, tr.Run(context.Background(), img))

	var chunks [][]byte
	for _, f := range mb.sent() {
		if f.cmd == wire.OTACmdBinaryData {
			chunks = append(chunks, f.body[1:len(f.body)-1])
		}
	}
	require.Len(t, chunks, 2)
	assert.True(t, bytes.Equal(img.Data, append(chunks[0], chunks[1]...)))
}
