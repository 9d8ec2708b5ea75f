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

package coprocessor

import (
	"context"
	"crypto/sha256"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cngw "github.com/cencepower/cngw"
	"github.com/cencepower/cngw/internal/frame"
	testutil "github.com/cencepower/cngw/internal/testing"
)

var testSerial = [SerialLength]byte{0x01, 0x23, 0x45, 0x67, 0x89, 0xAB, 0xCD, 0xEF, 0xEE}

func testHandshakeKey() [32]byte {
	var k [32]byte
	for i := range k {
		k[i] = byte(i * 7)
	}
	return k
}

func newTestClient(t *testing.T) (*Client, *testutil.VirtualCoprocessor) {
	t.Helper()
	chip := testutil.NewVirtualCoprocessor(testSerial, AuthKey(), testHandshakeKey())
	client := New(chip, &Config{
		Receive: &cngw.RetryConfig{MaxAttempts: 5, RetryAll: true, BackoffMultiplier: 1},
	})
	return client, chip
}

func TestEncodePacket(t *testing.T) {
	t.Parallel()

	var value [32]byte
	value[0] = 0xAA
	pkt := encodePacket(command{opcode: OpNonce, param1: nonceModePassthrough, data: value[:]})

	require.Len(t, pkt, 1+packetOverhead+32)
	assert.Equal(t, []byte{wordCommand, 39, OpNonce, 0x03, 0x00, 0x00, 0xAA}, pkt[:7])
	assert.True(t, frame.CheckCRC16Chip(pkt[1:]))
}

func TestZoneAddress(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		zone   byte
		slot   uint16
		block  uint8
		offset uint8
		want   uint16
	}{
		{name: "config word 0", zone: ZoneConfig, want: 0x0000},
		{name: "config word 3", zone: ZoneConfig, offset: 3, want: 0x0003},
		{name: "config block 2", zone: ZoneConfig, block: 2, offset: 1, want: 0x0011},
		{name: "otp block 1", zone: ZoneOTP, block: 1, want: 0x0008},
		{name: "data slot 3", zone: ZoneData, slot: 3, want: 0x0018},
		{name: "data slot 8 block 1", zone: ZoneData, slot: 8, block: 1, offset: 2, want: 0x0142},
		{name: "offset masked", zone: ZoneConfig, offset: 9, want: 0x0001},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, zoneAddress(tt.zone, tt.slot, tt.block, tt.offset))
		})
	}
}

func TestWake(t *testing.T) {
	t.Parallel()

	client, chip := newTestClient(t)
	require.NoError(t, client.Wake(context.Background()))
	assert.Equal(t, 1, chip.Wakes)

	chip.CorruptNext = true
	err := client.Wake(context.Background())
	require.ErrorIs(t, err, cngw.ErrChecksumMismatch)
}

func TestSerial(t *testing.T) {
	t.Parallel()

	client, chip := newTestClient(t)
	sn, err := client.Serial(context.Background())
	require.NoError(t, err)
	assert.Equal(t, testSerial, sn)
	assert.Equal(t, 3, chip.CommandCount(OpRead))
	// each command is followed by idle
	assert.Equal(t, 3, chip.Idles)
}

func TestReadRejectsOddLengths(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t)
	_, err := client.Read(context.Background(), ZoneConfig, 0, 0, 0, 8)
	require.ErrorIs(t, err, cngw.ErrInvalidParameter)
}

func TestReadBlock(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t)
	block, err := client.Read(context.Background(), ZoneConfig, 0, 0, 0, 32)
	require.NoError(t, err)
	require.Len(t, block, 32)
	assert.Equal(t, testSerial[0:4], block[0:4])
	assert.Equal(t, testSerial[4:8], block[8:12])
}

func TestNonceRandom(t *testing.T) {
	t.Parallel()

	client, chip := newTestClient(t)
	var salt [saltLength]byte
	salt[0] = 0x55

	got, err := client.NonceRandom(context.Background(), salt)
	require.NoError(t, err)

	h := sha256.New()
	h.Write(chip.Random[:])
	h.Write(salt[:])
	h.Write([]byte{0x16, 0x00, 0x00})
	assert.Equal(t, h.Sum(nil), got[:])
}

func TestHMAC(t *testing.T) {
	t.Parallel()

	client, chip := newTestClient(t)
	msg := []byte("gateway handshake body")

	got, err := client.HMAC(context.Background(), msg, HandshakeKeySlot)
	require.NoError(t, err)
	assert.Equal(t, testutil.HMACDigest(testHandshakeKey(), msg), got)

	assert.Equal(t, 1, chip.CommandCount(OpCheckMac))
	assert.Equal(t, 2, chip.CommandCount(OpNonce))
	assert.Equal(t, 1, chip.CommandCount(OpHMAC))
	assert.Equal(t, 1, chip.Sleeps)
}

func TestValidateHMAC(t *testing.T) {
	t.Parallel()

	msg := []byte{0x02, 0x01}
	good := testutil.HMACDigest(testHandshakeKey(), msg)

	tests := []struct {
		mutate func(h []byte)
		name   string
		want   bool
	}{
		{name: "exact", mutate: func([]byte) {}, want: true},
		{name: "last two bytes differ", mutate: func(h []byte) { h[30] ^= 0xFF; h[31] ^= 0xFF }, want: true},
		{name: "byte 29 differs", mutate: func(h []byte) { h[29] ^= 0x01 }, want: false},
		{name: "first byte differs", mutate: func(h []byte) { h[0] ^= 0x80 }, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			client, _ := newTestClient(t)
			expected := good
			tt.mutate(expected[:])

			ok, err := client.ValidateHMAC(context.Background(), msg, HandshakeKeySlot, expected[:])
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestValidateHMACShortExpected(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t)
	_, err := client.ValidateHMAC(context.Background(), []byte{1}, HandshakeKeySlot, make([]byte, 10))
	require.ErrorIs(t, err, cngw.ErrInvalidParameter)
}

func TestChallengeMAC(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t)
	var challenge [32]byte
	for i := range challenge {
		challenge[i] = byte(255 - i)
	}

	got, err := client.ChallengeMAC(context.Background(), challenge, HandshakeKeySlot)
	require.NoError(t, err)

	mac := testutil.MACDigest(testHandshakeKey(), challenge, testSerial)
	assert.Equal(t, byte(blockResponseLength), got[0])
	assert.Equal(t, mac[:31], got[1:])
}

func TestAuthorizeWrongKey(t *testing.T) {
	t.Parallel()

	var wrong [32]byte
	chip := testutil.NewVirtualCoprocessor(testSerial, wrong, testHandshakeKey())
	client := New(chip, &Config{Receive: &cngw.RetryConfig{MaxAttempts: 2, RetryAll: true}})

	err := client.AuthorizeMAC(context.Background())
	require.ErrorIs(t, err, cngw.ErrCoprocessor)

	var ce *cngw.CoprocessorError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, OpCheckMac, ce.Opcode)
	assert.Equal(t, cngw.StatusMiscompare, ce.Status)
}

func TestReceiveRetries(t *testing.T) {
	t.Parallel()

	t.Run("busy then ready", func(t *testing.T) {
		t.Parallel()
		client, chip := newTestClient(t)
		chip.BusyReads = 3
		_, err := client.Random(context.Background())
		require.NoError(t, err)
	})

	t.Run("never ready", func(t *testing.T) {
		t.Parallel()
		client, chip := newTestClient(t)
		chip.BusyReads = 50
		_, err := client.Random(context.Background())
		require.ErrorIs(t, err, cngw.ErrTimeout)
		assert.True(t, cngw.IsTimeout(err))
	})
}

func TestCommandFailureStatus(t *testing.T) {
	t.Parallel()

	client, chip := newTestClient(t)
	chip.FailOpcode = OpHMAC
	chip.FailStatus = cngw.StatusExecError

	_, err := client.HMAC(context.Background(), []byte("x"), HandshakeKeySlot)
	var ce *cngw.CoprocessorError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, cngw.StatusExecError, ce.Status)
	assert.Equal(t, 1, chip.Sleeps, "sleep is sent even when the command fails")
}

func TestCorruptResponse(t *testing.T) {
	t.Parallel()

	client, chip := newTestClient(t)
	chip.CorruptOpcode = OpWrite

	err := client.Write(context.Background(), ZoneData, 0, 0, 0, make([]byte, 4))
	require.ErrorIs(t, err, cngw.ErrChecksumMismatch)

	chip.CorruptOpcode = 0
	require.NoError(t, client.Write(context.Background(), ZoneData, 0, 0, 0, make([]byte, 4)))
}

func TestConcurrentHMAC(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t)
	msgs := [][]byte{[]byte("a"), []byte("bb"), []byte("ccc"), []byte("dddd")}

	var wg sync.WaitGroup
	results := make([][32]byte, len(msgs))
	errs := make([]error, len(msgs))
	for i, m := range msgs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = client.HMAC(context.Background(), m, HandshakeKeySlot)
		}()
	}
	wg.Wait()

	for i, m := range msgs {
		require.NoError(t, errs[i])
		assert.Equal(t, testutil.HMACDigest(testHandshakeKey(), m), results[i])
	}
}
