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

package handshake

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cngw "github.com/cencepower/cngw"
	"github.com/cencepower/cngw/boardinfo"
	"github.com/cencepower/cngw/coprocessor"
	"github.com/cencepower/cngw/internal/syncutil"
	testutil "github.com/cencepower/cngw/internal/testing"
	"github.com/cencepower/cngw/wire"
)

var (
	chipSerial   = [9]byte{0x01, 0x23, 0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF, 0xEE}
	handshakeKey = [32]byte{
		0x10, 0x11, 0x12, 0x13, 0x14, 0x15, 0x16, 0x17, 0x18, 0x19, 0x1A, 0x1B, 0x1C, 0x1D, 0x1E, 0x1F,
		0x20, 0x21, 0x22, 0x23, 0x24, 0x25, 0x26, 0x27, 0x28, 0x29, 0x2A, 0x2B, 0x2C, 0x2D, 0x2E, 0x2F,
	}
)

type sentLog struct {
	msgs []wire.Message
	mu   syncutil.Mutex
}

func (s *sentLog) Send(m wire.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, m)
	return nil
}

func (s *sentLog) last(t *testing.T) wire.Message {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.msgs)
	return s.msgs[len(s.msgs)-1]
}

type fixture struct {
	session *Session
	chip    *testutil.VirtualCoprocessor
	sent    *sentLog
	board   *boardinfo.Store
	rec     *testutil.Recorder
}

func newFixture(t *testing.T, config *Config) *fixture {
	t.Helper()
	chip := testutil.NewVirtualCoprocessor(chipSerial, coprocessor.AuthKey(), handshakeKey)
	client := coprocessor.New(chip, &coprocessor.Config{
		Receive: &cngw.RetryConfig{MaxAttempts: 5, RetryAll: true, BackoffMultiplier: 1},
	})
	if config == nil {
		config = DefaultConfig()
		config.RestartDelay = 0
	}
	f := &fixture{chip: chip, sent: &sentLog{}, board: boardinfo.NewStore(), rec: testutil.NewRecorder()}
	f.session = NewSession(client, f.sent, f.board, nil, config, f.rec.Collaborators())
	return f
}

// signedCN1 builds a CN1 the way the mainboard does, keyed with key.
func signedCN1(t *testing.T, key [32]byte) *wire.CN1 {
	t.Helper()
	cn1 := &wire.CN1{Command: wire.HandshakeCN1, Cabinet: 0x0207}
	copy(cn1.Serial[:], "CN0000001")
	for i := range cn1.Challenge {
		cn1.Challenge[i] = byte(i * 3)
	}
	body, err := wire.Body(cn1)
	require.NoError(t, err)
	cn1.HMAC = testutil.HMACDigest(key, body[:wire.CN1SignedLength])
	return cn1
}

func signedCN2(t *testing.T, key [32]byte) *wire.CN2 {
	t.Helper()
	cn2 := &wire.CN2{Command: wire.HandshakeCN2, Status: wire.HandshakeSuccess}
	body, err := wire.Body(cn2)
	require.NoError(t, err)
	cn2.HMAC = testutil.HMACDigest(key, body[:wire.HandshakeAckSignedLength])
	return cn2
}

func TestHandleCN1Success(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	cn1 := signedCN1(t, handshakeKey)

	require.NoError(t, f.session.HandleCN1(context.Background(), cn1))
	assert.Equal(t, PhaseGW1Sent, f.session.Phase())
	assert.Equal(t, 0, f.session.Attempts())
	assert.Equal(t, cn1.Challenge, f.session.LastChallenge())
	assert.Equal(t, uint16(0x0207), f.board.Snapshot().Cabinet)
	assert.True(t, f.rec.HasLED(cngw.LEDConnStage01, cngw.LEDTargetCN))

	gw1, ok := f.sent.last(t).(*wire.GW1)
	require.True(t, ok)
	assert.Equal(t, wire.HandshakeGW1, gw1.Command)
	assert.Equal(t, wire.HandshakeSuccess, gw1.Status)
	assert.Equal(t, cngw.GatewaySerial, gw1.Serial)
	assert.Equal(t, cngw.GatewayFirmware, gw1.Firmware)

	// The challenge response is the chip's MAC response block, count byte first.
	mac := testutil.MACDigest(handshakeKey, cn1.Challenge, chipSerial)
	assert.Equal(t, byte(35), gw1.ChallengeResponse[0])
	assert.Equal(t, mac[:31], gw1.ChallengeResponse[1:])

	body, err := wire.Body(gw1)
	require.NoError(t, err)
	assert.Equal(t, testutil.HMACDigest(handshakeKey, body[:wire.GW1SignedLength]), gw1.HMAC)
}

func TestHandleCN1BadHMAC(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	var wrongKey [32]byte
	cn1 := signedCN1(t, wrongKey)

	err := f.session.HandleCN1(context.Background(), cn1)
	require.ErrorIs(t, err, cngw.ErrAuthFailure)
	assert.Equal(t, 1, f.session.Attempts())
	assert.Equal(t, PhaseIdle, f.session.Phase())

	// The partial GW1 still goes out, signed, with no identity in it.
	gw1, ok := f.sent.last(t).(*wire.GW1)
	require.True(t, ok)
	assert.Equal(t, wire.HandshakeFailed, gw1.Status)
	assert.Equal(t, [9]byte{}, gw1.Serial)
	assert.Equal(t, cngw.FirmwareVersion{}, gw1.Firmware)
	assert.Equal(t, [32]byte{}, gw1.ChallengeResponse)
	body, err := wire.Body(gw1)
	require.NoError(t, err)
	assert.Equal(t, testutil.HMACDigest(handshakeKey, body[:wire.GW1SignedLength]), gw1.HMAC)
}

func TestHandleCN1ToleratesTruncatedHMACTail(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	cn1 := signedCN1(t, handshakeKey)
	cn1.HMAC[30] ^= 0xFF
	cn1.HMAC[31] = 0

	require.NoError(t, f.session.HandleCN1(context.Background(), cn1))

	cn1 = signedCN1(t, handshakeKey)
	cn1.HMAC[29] ^= 0x01
	require.ErrorIs(t, f.session.HandleCN1(context.Background(), cn1), cngw.ErrAuthFailure)
}

func TestFullHandshake(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	ctx := context.Background()

	require.NoError(t, f.session.HandleCN1(ctx, signedCN1(t, handshakeKey)))
	require.NoError(t, f.session.HandleCN2(ctx, signedCN2(t, handshakeKey)))
	assert.Equal(t, PhaseEstablished, f.session.Phase())
	assert.True(t, f.rec.HasLED(cngw.LEDConnStage02, cngw.LEDTargetCN))

	gw2, ok := f.sent.last(t).(*wire.GW2)
	require.True(t, ok)
	assert.Equal(t, wire.HandshakeGW2, gw2.Command)
	assert.Equal(t, wire.HandshakeSuccess, gw2.Status)
	assert.Equal(t, testutil.HMACDigest(handshakeKey, []byte{wire.HandshakeGW2, wire.HandshakeSuccess}), gw2.HMAC)
}

func TestCN2ResetsAttempts(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	ctx := context.Background()
	var wrongKey [32]byte

	for range 3 {
		_ = f.session.HandleCN2(ctx, signedCN2(t, wrongKey))
	}
	assert.Equal(t, 3, f.session.Attempts())
	assert.Equal(t, PhaseIdle, f.session.Phase())
	gw2, ok := f.sent.last(t).(*wire.GW2)
	require.True(t, ok)
	assert.Equal(t, wire.HandshakeSuccess, gw2.Status)
	assert.Equal(t, testutil.HMACDigest(handshakeKey, []byte{wire.HandshakeGW2, wire.HandshakeSuccess}), gw2.HMAC)

	require.NoError(t, f.session.HandleCN2(ctx, signedCN2(t, handshakeKey)))
	assert.Equal(t, 0, f.session.Attempts())
}

func TestFailureCeilingForcesRestart(t *testing.T) {
	t.Parallel()

	config := DefaultConfig()
	config.MaxFailures = 2
	config.RestartDelay = 0
	f := newFixture(t, config)
	ctx := context.Background()
	var wrongKey [32]byte

	for range 3 {
		require.ErrorIs(t, f.session.HandleCN1(ctx, signedCN1(t, wrongKey)), cngw.ErrAuthFailure)
	}
	assert.Empty(t, f.rec.Restarts())
	sent := len(f.sent.msgs)

	// Past the ceiling the next frame restarts without touching the chip.
	hmacs := f.chip.CommandCount(0x11)
	err := f.session.HandleCN1(ctx, signedCN1(t, handshakeKey))
	require.ErrorIs(t, err, cngw.ErrAuthFailure)
	assert.Len(t, f.rec.Restarts(), 1)
	assert.True(t, f.rec.HasLED(cngw.LEDError, cngw.LEDTargetGen))
	assert.Equal(t, hmacs, f.chip.CommandCount(0x11))
	assert.Len(t, f.sent.msgs, sent)
}

type brokenAuth struct {
	validateErr error
	hmacErr     error
}

func (b brokenAuth) ValidateHMAC(context.Context, []byte, uint8, []byte) (bool, error) {
	return b.validateErr == nil, b.validateErr
}

func (brokenAuth) ChallengeMAC(context.Context, [32]byte, uint8) ([32]byte, error) {
	return [32]byte{}, errors.New("mac unavailable")
}

func (b brokenAuth) HMAC(context.Context, []byte, uint8) ([32]byte, error) {
	return [32]byte{}, b.hmacErr
}

func TestCoprocessorErrors(t *testing.T) {
	t.Parallel()

	busErr := cngw.NewTimeoutError("Read", "i2c")

	tests := []struct {
		name     string
		auth     brokenAuth
		wantSent bool
	}{
		{name: "validate fails", auth: brokenAuth{validateErr: busErr}, wantSent: true},
		{name: "challenge fails", auth: brokenAuth{}, wantSent: true},
		{name: "signing fails", auth: brokenAuth{validateErr: busErr, hmacErr: busErr}, wantSent: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			sent := &sentLog{}
			config := DefaultConfig()
			s := NewSession(tt.auth, sent, boardinfo.NewStore(), nil, config, cngw.Collaborators{})

			err := s.HandleCN1(context.Background(), &wire.CN1{Command: wire.HandshakeCN1})
			require.Error(t, err)
			assert.Equal(t, tt.wantSent, len(sent.msgs) == 1)
			if tt.wantSent {
				gw1, ok := sent.msgs[0].(*wire.GW1)
				require.True(t, ok)
				assert.Equal(t, wire.HandshakeFailed, gw1.Status)
				assert.Equal(t, 1, s.Attempts())
			}
		})
	}
}

func TestCN1StartsWatchdog(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	wd := NewWatchdog(f.board, nil, &Config{AvailabilityPeriod: time.Hour, MaxMissedWindows: 5}, f.rec.Collaborators())
	f.session.watchdog = wd
	f.board.SetDevice(cngw.MCUCN, boardinfo.Device{Present: true})

	require.NoError(t, f.session.HandleCN1(context.Background(), signedCN1(t, handshakeKey)))
	assert.True(t, wd.Running())
	assert.False(t, f.board.HandshakeComplete(), "a CN1 restarts pairing")
	assert.True(t, f.rec.HasLED(cngw.LEDConnPending, cngw.LEDTargetCN))

	f.session.MarkEstablished()
	assert.False(t, wd.Running())
	assert.Equal(t, PhaseEstablished, f.session.Phase())
}

func TestPhaseString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "gw1-sent", PhaseGW1Sent.String())
	assert.Equal(t, "phase(9)", Phase(9).String())
}
