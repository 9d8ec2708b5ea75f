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

package frame

import "github.com/snksoft/crc"

// The three checksums below are deliberately distinct. The mainboard and the
// coprocessor firmware cannot change, so each must stay bit-exact.

// crc8Params is CRC-8 with polynomial 0x07, MSB first. The initial value is
// supplied per call as a seed.
var crc8Params = &crc.Parameters{
	Width:      8,
	Polynomial: 0x07,
	ReflectIn:  false,
	ReflectOut: false,
	Init:       0x00,
	FinalXor:   0x00,
}

// crc16ChipParams matches the coprocessor's framing CRC: polynomial 0x8005,
// data bits consumed LSB first into an MSB-first register, result not
// reflected.
var crc16ChipParams = &crc.Parameters{
	Width:      16,
	Polynomial: 0x8005,
	ReflectIn:  true,
	ReflectOut: false,
	Init:       0x0000,
	FinalXor:   0x0000,
}

// crc32ImageParams is the mainboard bootloader's image CRC, computed the way
// the STM32 hardware CRC unit does over 32-bit words.
var crc32ImageParams = &crc.Parameters{
	Width:      32,
	Polynomial: 0x04C11DB7,
	ReflectIn:  false,
	ReflectOut: false,
	Init:       0xFFFFFFFF,
	FinalXor:   0x00000000,
}

var (
	crc8Table      = crc.NewTable(crc8Params)
	crc16ChipTable = crc.NewTable(crc16ChipParams)
	crc32Table     = crc.NewTable(crc32ImageParams)
)

// CRC32ImageInit is the initial accumulator for CRC32Image.
const CRC32ImageInit uint32 = 0xFFFFFFFF

// CRC8 computes the application frame CRC over data starting from seed.
// Header and message CRCs both use seed 0.
func CRC8(seed byte, data []byte) byte {
	return uint8(crc8Table.CRC(crc8Table.UpdateCrc(uint64(seed), data)))
}

// CRC16Chip computes the coprocessor framing CRC.
func CRC16Chip(data []byte) uint16 {
	return uint16(crc16ChipTable.CRC(crc16ChipTable.UpdateCrc(crc16ChipTable.InitCrc(), data)))
}

// AppendCRC16Chip appends the little-endian CRC16 of data to data.
func AppendCRC16Chip(data []byte) []byte {
	sum := CRC16Chip(data)
	return append(data, byte(sum), byte(sum>>8))
}

// CheckCRC16Chip validates a coprocessor response whose last two bytes are
// the little-endian CRC16 of everything before them.
func CheckCRC16Chip(resp []byte) bool {
	if len(resp) < 3 {
		return false
	}
	n := len(resp) - 2
	sum := CRC16Chip(resp[:n])
	return resp[n] == byte(sum) && resp[n+1] == byte(sum>>8)
}

// CRC32Image folds data into the running image CRC acc. Pass CRC32ImageInit
// for the first block and the previous result for each following block.
// Data is consumed as little-endian 32-bit words, most significant byte
// first; a trailing partial word is ignored, so block lengths should be
// multiples of four.
func CRC32Image(acc uint32, data []byte) uint32 {
	var word [4]byte
	cur := uint64(acc)
	for i := 0; i+4 <= len(data); i += 4 {
		word[0], word[1], word[2], word[3] = data[i+3], data[i+2], data[i+1], data[i]
		cur = crc32Table.UpdateCrc(cur, word[:])
	}
	return uint32(crc32Table.CRC(cur))
}
