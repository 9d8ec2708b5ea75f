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
	"fmt"

	cngw "github.com/cencepower/cngw"
)

// SerialLength is the size of the chip serial number.
const SerialLength = 9

// zoneAddress computes param2 for Read and Write. Config and OTP zones are
// addressed by block and word offset; data zones also carry the slot.
func zoneAddress(zone byte, slot uint16, block, offset uint8) uint16 {
	if zone&0x03 == ZoneData {
		return slot<<3 | uint16(offset&0x07) | uint16(block)<<8
	}
	return uint16(block)<<3 | uint16(offset&0x07)
}

func zoneParam(zone byte, length int) (byte, error) {
	switch length {
	case wordLength:
		return zone, nil
	case blockLength:
		return zone | zoneReadLarge, nil
	default:
		return 0, fmt.Errorf("%w: zone access of %d bytes", cngw.ErrInvalidParameter, length)
	}
}

// Read reads a 4 or 32 byte unit from a zone.
func (c *Client) Read(ctx context.Context, zone byte, slot uint16, block, offset uint8, length int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.read(ctx, zone, slot, block, offset, length)
}

func (c *Client) read(ctx context.Context, zone byte, slot uint16, block, offset uint8, length int) ([]byte, error) {
	p1, err := zoneParam(zone, length)
	if err != nil {
		return nil, err
	}
	rsp, err := c.execute(ctx, command{
		name:    "read",
		opcode:  OpRead,
		param1:  p1,
		param2:  zoneAddress(zone, slot, block, offset),
		delay:   c.config.ExecDelay,
		respLen: length + 3,
	})
	if err != nil {
		return nil, err
	}
	out := make([]byte, length)
	copy(out, rsp[1:])
	return out, nil
}

// Write writes a 4 or 32 byte unit to a zone.
func (c *Client) Write(ctx context.Context, zone byte, slot uint16, block, offset uint8, data []byte) error {
	p1, err := zoneParam(zone, len(data))
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	_, err = c.execute(ctx, command{
		name:    "write",
		opcode:  OpWrite,
		param1:  p1,
		param2:  zoneAddress(zone, slot, block, offset),
		data:    data,
		delay:   c.config.ExecDelay,
		respLen: statusLength,
	})
	return err
}

// Serial returns the chip's 9-byte serial number, which is spread over
// config zone words 0, 2 and 3.
func (c *Client) Serial(ctx context.Context) ([SerialLength]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serial(ctx)
}

func (c *Client) serial(ctx context.Context) ([SerialLength]byte, error) {
	var sn [SerialLength]byte

	w0, err := c.read(ctx, ZoneConfig, 0, 0, 0, wordLength)
	if err != nil {
		return sn, fmt.Errorf("read serial word 0: %w", err)
	}
	w2, err := c.read(ctx, ZoneConfig, 0, 0, 2, wordLength)
	if err != nil {
		return sn, fmt.Errorf("read serial word 2: %w", err)
	}
	w3, err := c.read(ctx, ZoneConfig, 0, 0, 3, wordLength)
	if err != nil {
		return sn, fmt.Errorf("read serial word 3: %w", err)
	}

	copy(sn[0:4], w0)
	copy(sn[4:8], w2)
	sn[8] = w3[0]
	return sn, nil
}

// Random returns 32 random bytes from the chip.
func (c *Client) Random(ctx context.Context) ([blockLength]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out [blockLength]byte
	rsp, err := c.execute(ctx, command{
		name:    "random",
		opcode:  OpRandom,
		param1:  randomModeSeedUpdate,
		delay:   c.config.ExecDelay,
		respLen: blockResponseLength,
	})
	if err != nil {
		return out, err
	}
	copy(out[:], rsp[1:])
	return out, nil
}
