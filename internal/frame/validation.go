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

import (
	"encoding/binary"
	"fmt"

	cngw "github.com/cencepower/cngw"
)

// Header is the decoded message prologue. DataSize is the length of the
// message body that follows, including its trailing checksum byte when the
// message type carries one.
type Header struct {
	Type     cngw.HeaderType
	DataSize uint16
	CRC      uint8
}

// EncodeHeader builds a header for a body of size bytes.
func EncodeHeader(t cngw.HeaderType, size int) [HeaderSize]byte {
	var h [HeaderSize]byte
	h[0] = byte(t)
	binary.BigEndian.PutUint16(h[1:3], uint16(size)) //nolint:gosec // bodies never exceed a transfer
	h[headerCRCOffset] = CRC8(MessageCRCSeed, h[:headerCRCOffset])
	return h
}

// DecodeHeader reads and validates the header at the start of buf. A short
// buffer yields ErrFrameTruncated and a bad checksum ErrChecksumMismatch;
// neither is fatal, callers resynchronize and keep scanning.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, fmt.Errorf("%w: %d of %d header bytes", cngw.ErrFrameTruncated, len(buf), HeaderSize)
	}
	h := Header{
		Type:     cngw.HeaderType(buf[0]),
		DataSize: binary.BigEndian.Uint16(buf[1:3]),
		CRC:      buf[headerCRCOffset],
	}
	if want := CRC8(MessageCRCSeed, buf[:headerCRCOffset]); want != h.CRC {
		return h, fmt.Errorf("%w: header crc 0x%02X, want 0x%02X", cngw.ErrChecksumMismatch, h.CRC, want)
	}
	return h, nil
}

// SealBody writes the CRC8 of body[:len-1] into the last byte of body.
func SealBody(body []byte) {
	if len(body) == 0 {
		return
	}
	n := len(body) - 1
	body[n] = CRC8(MessageCRCSeed, body[:n])
}

// ValidateBody reports whether the last byte of body is the CRC8 of the
// bytes before it.
func ValidateBody(body []byte) bool {
	if len(body) == 0 {
		return false
	}
	n := len(body) - 1
	return CRC8(MessageCRCSeed, body[:n]) == body[n]
}

// Build prepends a header to body and returns the complete frame.
func Build(t cngw.HeaderType, body []byte) []byte {
	h := EncodeHeader(t, len(body))
	out := make([]byte, 0, HeaderSize+len(body))
	out = append(out, h[:]...)
	return append(out, body...)
}
