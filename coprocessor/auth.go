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
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"

	cngw "github.com/cencepower/cngw"
)

// NonceRandom asks the chip for a random number and derives the TempKey the
// chip now holds: SHA-256 over the random output, the salt, the Nonce opcode
// and two zero mode bytes.
func (c *Client) NonceRandom(ctx context.Context, salt [saltLength]byte) ([digestLength]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nonceRandom(ctx, salt)
}

func (c *Client) nonceRandom(ctx context.Context, salt [saltLength]byte) ([digestLength]byte, error) {
	rsp, err := c.execute(ctx, command{
		name:    "nonce",
		opcode:  OpNonce,
		param1:  nonceModeRandom,
		data:    salt[:],
		delay:   c.config.ExecDelay,
		respLen: blockResponseLength,
	})
	if err != nil {
		return [digestLength]byte{}, err
	}
	return nonceDigest(rsp[1:1+blockLength], salt), nil
}

func nonceDigest(random []byte, salt [saltLength]byte) [digestLength]byte {
	h := sha256.New()
	h.Write(random)
	h.Write(salt[:])
	h.Write([]byte{OpNonce, nonceModeRandom, 0x00})
	var out [digestLength]byte
	copy(out[:], h.Sum(nil))
	return out
}

// AuthKey returns the unscrambled CheckMac key. Provisioning writes it to
// AuthKeySlot.
func AuthKey() [digestLength]byte {
	var k [digestLength]byte
	for i, b := range authKeyScrambled {
		k[i] = b ^ authKeyMask
	}
	return k
}

// CheckMacDigest reproduces the digest the chip computes for a CheckMac in
// TempKey mode: the key, TempKey, and the other-data bytes interleaved with
// zero padding and serial number bytes.
func CheckMacDigest(key, tempKey [digestLength]byte, other [otherLength]byte, serial [SerialLength]byte) [digestLength]byte {
	h := sha256.New()
	h.Write(key[:])
	h.Write(tempKey[:])
	h.Write(other[0:4])
	h.Write(make([]byte, 8))
	h.Write(other[4:7])
	h.Write(serial[8:9])
	h.Write(other[7:11])
	h.Write(serial[0:2])
	h.Write(other[11:13])
	var out [digestLength]byte
	copy(out[:], h.Sum(nil))
	return out
}

// AuthorizeMAC unlocks slots gated on a prior successful CheckMac.
func (c *Client) AuthorizeMAC(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authorizeMAC(ctx)
}

func (c *Client) authorizeMAC(ctx context.Context) error {
	serial, err := c.serial(ctx)
	if err != nil {
		return fmt.Errorf("authorize: %w", err)
	}
	tempKey, err := c.nonceRandom(ctx, [saltLength]byte{})
	if err != nil {
		return fmt.Errorf("authorize: %w", err)
	}

	var other [otherLength]byte
	digest := CheckMacDigest(AuthKey(), tempKey, other, serial)

	data := make([]byte, 0, blockLength+digestLength+otherLength)
	data = append(data, make([]byte, blockLength)...) // challenge, unused in TempKey mode
	data = append(data, digest[:]...)
	data = append(data, other[:]...)

	_, err = c.execute(ctx, command{
		name:    "checkmac",
		opcode:  OpCheckMac,
		param1:  checkMacModeTempKey,
		param2:  uint16(AuthKeySlot),
		data:    data,
		delay:   c.config.ExecDelay,
		respLen: statusLength,
	})
	if err != nil {
		return fmt.Errorf("authorize: %w", err)
	}
	return nil
}

// NoncePassthrough loads value into TempKey unchanged.
func (c *Client) NoncePassthrough(ctx context.Context, value [digestLength]byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.noncePassthrough(ctx, value)
}

func (c *Client) noncePassthrough(ctx context.Context, value [digestLength]byte) error {
	_, err := c.execute(ctx, command{
		name:    "nonce passthrough",
		opcode:  OpNonce,
		param1:  nonceModePassthrough,
		data:    value[:],
		delay:   c.config.ExecDelay,
		respLen: statusLength,
	})
	return err
}

// HMAC hashes msg locally, loads the digest into TempKey and has the chip
// compute an HMAC over it with the key in slot.
func (c *Client) HMAC(ctx context.Context, msg []byte, slot uint8) ([digestLength]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.sleepQuietly()
	return c.hmac(ctx, msg, slot)
}

func (c *Client) hmac(ctx context.Context, msg []byte, slot uint8) ([digestLength]byte, error) {
	var out [digestLength]byte

	digest := sha256.Sum256(msg)
	if err := c.authorizeMAC(ctx); err != nil {
		return out, err
	}
	if err := c.noncePassthrough(ctx, digest); err != nil {
		return out, fmt.Errorf("hmac: %w", err)
	}

	rsp, err := c.execute(ctx, command{
		name:    "hmac",
		opcode:  OpHMAC,
		param1:  hmacModeTempKey,
		param2:  uint16(slot),
		delay:   c.config.HMACDelay,
		respLen: blockResponseLength,
	})
	if err != nil {
		return out, fmt.Errorf("hmac: %w", err)
	}
	copy(out[:], rsp[1:])
	return out, nil
}

// ValidateHMAC recomputes the HMAC of msg and compares it to expected.
// Only the first HMACCompareLength bytes are compared: the mainboard
// truncates the tail on one handshake leg.
func (c *Client) ValidateHMAC(ctx context.Context, msg []byte, slot uint8, expected []byte) (bool, error) {
	if len(expected) < HMACCompareLength {
		return false, fmt.Errorf("%w: expected hmac of %d bytes", cngw.ErrInvalidParameter, len(expected))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.sleepQuietly()

	got, err := c.hmac(ctx, msg, slot)
	if err != nil {
		return false, err
	}
	return MatchHMAC(got[:], expected), nil
}

// MatchHMAC compares the first HMACCompareLength bytes of two HMACs.
func MatchHMAC(a, b []byte) bool {
	if len(a) < HMACCompareLength || len(b) < HMACCompareLength {
		return false
	}
	return bytes.Equal(a[:HMACCompareLength], b[:HMACCompareLength])
}

// ChallengeMAC answers a mainboard challenge with a MAC from the key in
// slot. The returned bytes start at the response count byte, which is what
// the mainboard expects in GW1.
func (c *Client) ChallengeMAC(ctx context.Context, challenge [blockLength]byte, slot uint8) ([digestLength]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.sleepQuietly()

	var out [digestLength]byte
	if err := c.authorizeMAC(ctx); err != nil {
		return out, err
	}
	rsp, err := c.execute(ctx, command{
		name:    "mac",
		opcode:  OpMAC,
		param1:  macModeChallenge,
		param2:  uint16(slot),
		data:    challenge[:],
		delay:   c.config.ExecDelay,
		respLen: blockResponseLength,
	})
	if err != nil {
		return out, fmt.Errorf("challenge mac: %w", err)
	}
	copy(out[:], rsp[:digestLength])
	return out, nil
}

func (c *Client) sleepQuietly() {
	if err := c.sleep(); err != nil {
		l := cngw.Logger("coprocessor")
		l.Debug().Err(err).Msg("sleep failed")
	}
}
