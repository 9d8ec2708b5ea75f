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

// Package coprocessor drives the ATECC508A security chip that authenticates
// the mainboard. The chip is reached through a Bus; the client owns command
// packet framing, the CRC16 response check and the wake, idle and sleep
// power states.
package coprocessor

import (
	"context"
	"fmt"
	"time"

	cngw "github.com/cencepower/cngw"
	"github.com/cencepower/cngw/internal/frame"
	"github.com/cencepower/cngw/internal/syncutil"
)

// Bus is the raw byte channel to the chip. Implementations perform one bus
// transaction per call.
type Bus interface {
	// Wake holds the data line low long enough to wake the chip.
	Wake() error
	// Write sends p, word address byte first.
	Write(p []byte) error
	// Read fills p. A chip still executing a command does not acknowledge,
	// which surfaces here as an error.
	Read(p []byte) error
}

// Config holds client timing.
type Config struct {
	// Receive is the response polling profile.
	Receive *cngw.RetryConfig
	// ExecDelay is waited after sending most commands.
	ExecDelay time.Duration
	// HMACDelay is waited after sending an HMAC command.
	HMACDelay time.Duration
	// WakeDelay is waited between the wake pulse and reading the token.
	WakeDelay time.Duration
}

// DefaultConfig returns the timing used against real hardware.
func DefaultConfig() *Config {
	return &Config{
		Receive:   cngw.CoprocessorReceiveRetryConfig(),
		ExecDelay: cngw.CoprocessorExecDelay,
		HMACDelay: cngw.CoprocessorHMACDelay,
		WakeDelay: cngw.CoprocessorWakeDelay,
	}
}

// Client is safe for concurrent use. Every public operation holds the bus
// for its full sequence of commands so chip state such as TempKey is never
// interleaved between callers.
type Client struct {
	bus    Bus
	config *Config
	mu     syncutil.Mutex
}

// New creates a client on bus. A nil config uses DefaultConfig.
func New(bus Bus, config *Config) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Receive == nil {
		config.Receive = cngw.CoprocessorReceiveRetryConfig()
	}
	return &Client{bus: bus, config: config}
}

type command struct {
	name    string
	data    []byte
	delay   time.Duration
	respLen int
	param2  uint16
	opcode  byte
	param1  byte
}

// Wake wakes the chip and checks its wake token.
func (c *Client) Wake(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.wake(ctx)
}

// Idle puts the chip in idle mode, keeping TempKey.
func (c *Client) Idle() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.idle()
}

// Sleep puts the chip to sleep, clearing volatile state.
func (c *Client) Sleep() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sleep()
}

func (c *Client) wake(ctx context.Context) error {
	if err := c.bus.Wake(); err != nil {
		return cngw.NewTransportError("wake", "", err, cngw.ErrorTypeTransient)
	}
	if err := cngw.SleepCtx(ctx, c.config.WakeDelay); err != nil {
		return err
	}

	rsp := make([]byte, wakeLength)
	if err := c.bus.Read(rsp); err != nil {
		return cngw.NewTransportError("wake", "", err, cngw.ErrorTypeTransient)
	}
	if !frame.CheckCRC16Chip(rsp) {
		return cngw.NewChecksumMismatchError("wake", "")
	}
	if rsp[0] != wakeLength || rsp[1] != wakeToken {
		return &cngw.CoprocessorError{Command: "wake", Status: rsp[1]}
	}
	return nil
}

func (c *Client) idle() error {
	if err := c.bus.Write([]byte{wordIdle}); err != nil {
		return fmt.Errorf("coprocessor idle: %w", err)
	}
	return nil
}

func (c *Client) sleep() error {
	if err := c.bus.Write([]byte{wordSleep}); err != nil {
		return fmt.Errorf("coprocessor sleep: %w", err)
	}
	return nil
}

// encodePacket builds {word address, count, opcode, param1, param2, data, crc16}.
func encodePacket(cmd command) []byte {
	body := make([]byte, 0, packetOverhead+len(cmd.data))
	body = append(body,
		byte(packetOverhead+len(cmd.data)),
		cmd.opcode,
		cmd.param1,
		byte(cmd.param2),
		byte(cmd.param2>>8),
	)
	body = append(body, cmd.data...)
	body = frame.AppendCRC16Chip(body)
	return append([]byte{wordCommand}, body...)
}

// send wakes the chip and writes one command packet.
func (c *Client) send(ctx context.Context, cmd command) error {
	if err := c.wake(ctx); err != nil {
		return err
	}
	if err := c.bus.Write(encodePacket(cmd)); err != nil {
		return cngw.NewTransportError(cmd.name, "", err, cngw.ErrorTypeTransient)
	}
	return nil
}

// receive reads n bytes in bus-sized chunks, polling each chunk until the
// chip acknowledges or the receive profile gives up.
func (c *Client) receive(ctx context.Context, name string, n int) ([]byte, error) {
	rsp := make([]byte, n)
	for off := 0; off < n; off += readChunk {
		chunk := rsp[off:min(off+readChunk, n)]
		err := cngw.RetryWithConfig(ctx, c.config.Receive, func() error {
			return c.bus.Read(chunk)
		})
		if err != nil {
			return nil, fmt.Errorf("%s: %w after %d reads: %w",
				name, cngw.ErrTimeout, c.config.Receive.MaxAttempts, err)
		}
	}
	return rsp, nil
}

// execute runs one command and returns the validated response, count byte
// included and CRC stripped. A status-only response to a command that
// expects data is reported as a CoprocessorError.
func (c *Client) execute(ctx context.Context, cmd command) ([]byte, error) {
	logger := cngw.Logger("coprocessor")

	if err := c.send(ctx, cmd); err != nil {
		return nil, err
	}
	if err := cngw.SleepCtx(ctx, cmd.delay); err != nil {
		return nil, err
	}

	rsp, err := c.receive(ctx, cmd.name, cmd.respLen)
	if idleErr := c.idle(); idleErr != nil {
		logger.Debug().Err(idleErr).Str("cmd", cmd.name).Msg("idle after response failed")
	}
	if err != nil {
		return nil, err
	}

	count := int(rsp[0])
	if count < statusLength || count > len(rsp) {
		return nil, fmt.Errorf("%s: %w: count byte %d", cmd.name, cngw.ErrInvalidResponse, rsp[0])
	}
	rsp = rsp[:count]
	if !frame.CheckCRC16Chip(rsp) {
		return nil, cngw.NewChecksumMismatchError(cmd.name, "")
	}
	if count == statusLength && (cmd.respLen != statusLength || rsp[1] != cngw.StatusSuccess) {
		return nil, &cngw.CoprocessorError{Command: cmd.name, Opcode: cmd.opcode, Status: rsp[1]}
	}
	if count != cmd.respLen {
		return nil, fmt.Errorf("%s: %w: %d bytes, want %d", cmd.name, cngw.ErrInvalidResponse, count, cmd.respLen)
	}

	logger.Trace().Str("cmd", cmd.name).Hex("rsp", rsp).Msg("coprocessor response")
	return rsp[:count-2], nil
}
