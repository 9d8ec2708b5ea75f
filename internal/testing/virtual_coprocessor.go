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
	"crypto/hmac"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/cencepower/cngw/internal/frame"
	"github.com/cencepower/cngw/internal/syncutil"
)

// Coprocessor opcodes and word addresses understood by VirtualCoprocessor.
const (
	chipWordSleep   = 0x01
	chipWordIdle    = 0x02
	chipWordCommand = 0x03

	chipOpCheckMac = 0x28
	chipOpHMAC     = 0x11
	chipOpMAC      = 0x08
	chipOpNonce    = 0x16
	chipOpRandom   = 0x1B
	chipOpRead     = 0x02
	chipOpWrite    = 0x12

	chipStatusSuccess    = 0x00
	chipStatusMiscompare = 0x01
	chipStatusParse      = 0x03
	chipStatusExecError  = 0x0F
	chipStatusCommError  = 0xFF

	chipAuthSlot = 2
)

// ErrChipNoAck is returned by VirtualCoprocessor reads while it is busy or
// has nothing to send.
var ErrChipNoAck = errors.New("virtual coprocessor: no ack")

// VirtualCoprocessor models an ATECC508A at the packet level. It checks
// command CRCs, keeps TempKey across commands, and answers HMAC and MAC
// with HMACDigest and MACDigest so tests can predict the results.
type VirtualCoprocessor struct {
	Keys     map[uint8][32]byte
	pending  []byte
	Commands []byte

	Serial    [9]byte
	Random    [32]byte
	tempKey   [32]byte
	mu        syncutil.Mutex
	BusyReads int
	busyLeft  int
	Wakes     int
	Idles     int
	Sleeps    int

	// FailOpcode, when non-zero, makes that opcode answer FailStatus.
	FailOpcode byte
	FailStatus byte

	tempKeyValid bool
	awake        bool
	responding   bool
	// CorruptNext flips a CRC bit in the next response, wake token included.
	CorruptNext bool
	// CorruptOpcode flips a CRC bit in responses to that opcode.
	CorruptOpcode byte
}

// NewVirtualCoprocessor returns a chip with the given serial, the CheckMac
// authorisation key in slot 2 and handshake key in slot 3.
func NewVirtualCoprocessor(serial [9]byte, authKey, handshakeKey [32]byte) *VirtualCoprocessor {
	v := &VirtualCoprocessor{
		Serial: serial,
		Keys: map[uint8][32]byte{
			chipAuthSlot: authKey,
			3:            handshakeKey,
		},
	}
	for i := range v.Random {
		v.Random[i] = byte(0xA0 + i)
	}
	return v
}

// HMACDigest is the virtual chip's HMAC: HMAC-SHA256 keyed by the slot key
// over SHA-256(msg), the value loaded into TempKey by passthrough.
func HMACDigest(key [32]byte, msg []byte) [32]byte {
	digest := sha256.Sum256(msg)
	m := hmac.New(sha256.New, key[:])
	m.Write(digest[:])
	var out [32]byte
	copy(out[:], m.Sum(nil))
	return out
}

// MACDigest is the virtual chip's MAC over a challenge.
func MACDigest(key, challenge [32]byte, serial [9]byte) [32]byte {
	h := sha256.New()
	h.Write(key[:])
	h.Write(challenge[:])
	h.Write(serial[:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Wake implements the coprocessor bus.
func (v *VirtualCoprocessor) Wake() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.Wakes++
	v.awake = true
	v.pending = v.finish([]byte{0x04, 0x11})
	return nil
}

// Write implements the coprocessor bus.
func (v *VirtualCoprocessor) Write(p []byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if len(p) == 0 {
		return errors.New("virtual coprocessor: empty write")
	}
	switch p[0] {
	case chipWordSleep:
		v.Sleeps++
		v.awake = false
		v.tempKeyValid = false
		v.pending = nil
		v.responding = false
		return nil
	case chipWordIdle:
		v.Idles++
		v.awake = false
		v.pending = nil
		v.responding = false
		return nil
	case chipWordCommand:
		if !v.awake {
			return ErrChipNoAck
		}
	default:
		return fmt.Errorf("virtual coprocessor: word address 0x%02X", p[0])
	}

	pkt := p[1:]
	if len(pkt) < 7 || int(pkt[0]) != len(pkt) {
		v.status(chipStatusParse)
		return nil
	}
	if !frame.CheckCRC16Chip(pkt) {
		v.status(chipStatusCommError)
		return nil
	}

	opcode, p1 := pkt[1], pkt[2]
	p2 := uint16(pkt[3]) | uint16(pkt[4])<<8
	data := pkt[5 : len(pkt)-2]
	v.Commands = append(v.Commands, opcode)
	v.busyLeft = v.BusyReads
	v.responding = false

	if v.FailOpcode != 0 && opcode == v.FailOpcode {
		v.status(v.FailStatus)
		return nil
	}
	v.dispatch(opcode, p1, p2, data)
	if v.CorruptOpcode != 0 && opcode == v.CorruptOpcode && len(v.pending) > 0 {
		v.pending[len(v.pending)-1] ^= 0x01
	}
	return nil
}

// Read implements the coprocessor bus.
func (v *VirtualCoprocessor) Read(p []byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.busyLeft > 0 {
		v.busyLeft--
		return ErrChipNoAck
	}
	if len(v.pending) == 0 && !v.responding {
		return ErrChipNoAck
	}
	n := copy(p, v.pending)
	for i := n; i < len(p); i++ {
		p[i] = 0xFF
	}
	v.pending = v.pending[n:]
	return nil
}

// CommandCount returns how many times opcode was executed.
func (v *VirtualCoprocessor) CommandCount(opcode byte) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	n := 0
	for _, c := range v.Commands {
		if c == opcode {
			n++
		}
	}
	return n
}

func (v *VirtualCoprocessor) dispatch(opcode, p1 byte, p2 uint16, data []byte) {
	switch opcode {
	case chipOpRead:
		v.read(p1, p2)
	case chipOpWrite:
		v.status(chipStatusSuccess)
	case chipOpRandom:
		v.respond(v.Random[:])
	case chipOpNonce:
		v.nonce(p1, data)
	case chipOpCheckMac:
		v.checkMac(data)
	case chipOpHMAC:
		if !v.tempKeyValid {
			v.status(chipStatusExecError)
			return
		}
		v.tempKeyValid = false
		key := v.Keys[uint8(p2)]
		m := hmac.New(sha256.New, key[:])
		m.Write(v.tempKey[:])
		v.respond(m.Sum(nil))
	case chipOpMAC:
		if len(data) != 32 {
			v.status(chipStatusParse)
			return
		}
		var challenge [32]byte
		copy(challenge[:], data)
		mac := MACDigest(v.Keys[uint8(p2)], challenge, v.Serial)
		v.respond(mac[:])
	default:
		v.status(chipStatusParse)
	}
}

func (v *VirtualCoprocessor) configZone() []byte {
	zone := make([]byte, 128)
	copy(zone[0:4], v.Serial[0:4])
	zone[4], zone[5], zone[6], zone[7] = 0x00, 0x00, 0x50, 0x00
	copy(zone[8:12], v.Serial[4:8])
	zone[12] = v.Serial[8]
	return zone
}

func (v *VirtualCoprocessor) read(p1 byte, addr uint16) {
	length := 4
	if p1&0x80 != 0 {
		length = 32
	}
	if p1&0x03 != 0 {
		v.respond(make([]byte, length))
		return
	}
	start := int(addr) * 4
	zone := v.configZone()
	if start+length > len(zone) {
		v.status(chipStatusParse)
		return
	}
	v.respond(zone[start : start+length])
}

func (v *VirtualCoprocessor) nonce(mode byte, data []byte) {
	switch mode {
	case 0x00, 0x01:
		if len(data) != 20 {
			v.status(chipStatusParse)
			return
		}
		h := sha256.New()
		h.Write(v.Random[:])
		h.Write(data)
		h.Write([]byte{chipOpNonce, mode, 0x00})
		copy(v.tempKey[:], h.Sum(nil))
		v.tempKeyValid = true
		v.respond(v.Random[:])
	case 0x03:
		if len(data) != 32 {
			v.status(chipStatusParse)
			return
		}
		copy(v.tempKey[:], data)
		v.tempKeyValid = true
		v.status(chipStatusSuccess)
	default:
		v.status(chipStatusParse)
	}
}

func (v *VirtualCoprocessor) checkMac(data []byte) {
	if len(data) != 77 || !v.tempKeyValid {
		v.status(chipStatusParse)
		return
	}
	key := v.Keys[chipAuthSlot]
	other := data[64:77]

	h := sha256.New()
	h.Write(key[:])
	h.Write(v.tempKey[:])
	h.Write(other[0:4])
	h.Write(make([]byte, 8))
	h.Write(other[4:7])
	h.Write(v.Serial[8:9])
	h.Write(other[7:11])
	h.Write(v.Serial[0:2])
	h.Write(other[11:13])
	want := h.Sum(nil)

	v.tempKeyValid = false
	if !hmac.Equal(want, data[32:64]) {
		v.status(chipStatusMiscompare)
		return
	}
	v.status(chipStatusSuccess)
}

func (v *VirtualCoprocessor) respond(data []byte) {
	out := make([]byte, 0, len(data)+3)
	out = append(out, byte(len(data)+3))
	out = append(out, data...)
	v.pending = v.finish(out)
}

func (v *VirtualCoprocessor) status(code byte) {
	v.pending = v.finish([]byte{0x04, code})
}

func (v *VirtualCoprocessor) finish(out []byte) []byte {
	out = frame.AppendCRC16Chip(out)
	v.responding = true
	if v.CorruptNext {
		v.CorruptNext = false
		out[len(out)-1] ^= 0x01
	}
	return out
}
