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

// Word address bytes that prefix every bus write.
const (
	wordReset   byte = 0x00
	wordSleep   byte = 0x01
	wordIdle    byte = 0x02
	wordCommand byte = 0x03
)

// Opcodes
const (
	OpCheckMac byte = 0x28
	OpGenDig   byte = 0x15
	OpGenKey   byte = 0x40
	OpHMAC     byte = 0x11
	OpLock     byte = 0x17
	OpMAC      byte = 0x08
	OpNonce    byte = 0x16
	OpRandom   byte = 0x1B
	OpRead     byte = 0x02
	OpWrite    byte = 0x12
	OpSHA      byte = 0x47
)

// Zones
const (
	ZoneConfig byte = 0x00
	ZoneOTP    byte = 0x01
	ZoneData   byte = 0x02

	zoneReadLarge byte = 0x80
)

// Command modes
const (
	nonceModeRandom      byte = 0x00
	nonceModePassthrough byte = 0x03
	checkMacModeTempKey  byte = 0x01
	hmacModeTempKey      byte = 0x04
	macModeChallenge     byte = 0x40
	randomModeSeedUpdate byte = 0x00
)

// Packet and response sizes
const (
	packetOverhead = 7  // count, opcode, param1, param2 (2), crc (2)
	readChunk      = 32 // largest single bus read
	wakeLength     = 4
	statusLength   = 4
	blockLength    = 32
	wordLength     = 4
	digestLength   = 32
	saltLength     = 20
	otherLength    = 13

	// count byte, 32 data bytes, crc
	blockResponseLength = blockLength + 3
)

// Default key slots
const (
	// HandshakeKeySlot holds the key shared with the mainboard.
	HandshakeKeySlot uint8 = 3
	// AuthKeySlot is the slot CheckMac authorises against.
	AuthKeySlot uint8 = 2
)

// HMACCompareLength is how many leading bytes of an HMAC the mainboard
// protocol compares. The last two bytes are truncated on one handshake leg.
const HMACCompareLength = 30

// Wake acknowledgement status byte.
const wakeToken byte = 0x11

// authKeyMask unscrambles the stored authorisation key.
const authKeyMask byte = 0xA3

// authKeyScrambled is the CheckMac authorisation key, XOR-scrambled with
// authKeyMask.
var authKeyScrambled = [digestLength]byte{
	0x69, 0xF6, 0x0F, 0x46, 0xD0, 0xF4, 0x02, 0xB7,
	0x8E, 0x25, 0x2C, 0x20, 0x94, 0x3C, 0xFF, 0xAC,
	0x1F, 0x03, 0x73, 0x7B, 0x99, 0x43, 0x2F, 0xA5,
	0x84, 0x68, 0xBD, 0x68, 0x64, 0xA4, 0x1F, 0x1F,
}
