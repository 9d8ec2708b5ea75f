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

// Package wire holds the typed message bodies exchanged with the mainboard
// and the codec that frames them.
package wire

import (
	"bytes"
	"fmt"

	"github.com/lunixbochs/struc"

	cngw "github.com/cencepower/cngw"
	"github.com/cencepower/cngw/internal/frame"
)

// Message is a fixed-layout body carried under one header command type.
type Message interface {
	HeaderType() cngw.HeaderType
}

type uncheckedMessage interface {
	unchecked()
}

// HasCRC reports whether m ends with a message CRC8.
func HasCRC(m Message) bool {
	_, ok := m.(uncheckedMessage)
	return !ok
}

// Body packs m. For checked messages the trailing CRC byte is sealed.
func Body(m Message) ([]byte, error) {
	var buf bytes.Buffer
	if err := struc.Pack(&buf, m); err != nil {
		return nil, fmt.Errorf("pack %T: %w", m, err)
	}
	body := buf.Bytes()
	if HasCRC(m) {
		frame.SealBody(body)
	}
	return body, nil
}

// Encode packs m and prepends its header.
func Encode(m Message) ([]byte, error) {
	body, err := Body(m)
	if err != nil {
		return nil, err
	}
	return frame.Build(m.HeaderType(), body), nil
}

// MustEncode is Encode for messages whose layout is known to pack. It panics
// on error.
func MustEncode(m Message) []byte {
	b, err := Encode(m)
	if err != nil {
		panic(err)
	}
	return b
}

// Unmarshal decodes body into m. body must hold at least Size(m) bytes;
// trailing bytes are ignored. The message CRC is not checked here, callers
// that need it use frame.ValidateBody on the exact body slice.
func Unmarshal(body []byte, m Message) error {
	n, err := Size(m)
	if err != nil {
		return err
	}
	if len(body) < n {
		return fmt.Errorf("%w: %T needs %d bytes, have %d", cngw.ErrFrameTruncated, m, n, len(body))
	}
	if err := struc.Unpack(bytes.NewReader(body[:n]), m); err != nil {
		return fmt.Errorf("unpack %T: %w", m, err)
	}
	return nil
}

// Size returns the packed body size of m.
func Size(m Message) (int, error) {
	n, err := struc.Sizeof(m)
	if err != nil {
		return 0, fmt.Errorf("sizeof %T: %w", m, err)
	}
	return n, nil
}

// FrameSize returns the header plus body size of m.
func FrameSize(m Message) int {
	n, err := Size(m)
	if err != nil {
		return 0
	}
	return frame.HeaderSize + n
}

// EncodeOTAChunk frames one BinaryData chunk. The final chunk of an image
// is usually short, so the body is sized to data rather than to the fixed
// OTABinaryData layout.
func EncodeOTAChunk(data []byte) ([]byte, error) {
	if len(data) == 0 || len(data) > OTAChunkSize {
		return nil, fmt.Errorf("%w: ota chunk of %d bytes", cngw.ErrInvalidParameter, len(data))
	}
	body := make([]byte, 0, len(data)+2)
	body = append(body, OTACmdBinaryData)
	body = append(body, data...)
	body = append(body, 0)
	frame.SealBody(body)
	return frame.Build(cngw.HeaderOta, body), nil
}

// PackOTAPacket encodes an upstream OTA data packet.
func PackOTAPacket(seq uint8, data []byte) ([]byte, error) {
	if len(data) > 0xFFFF {
		return nil, fmt.Errorf("%w: ota packet of %d bytes", cngw.ErrDataTooLarge, len(data))
	}
	p := OTAPacket{Type: OTAPacketData, Seq: seq, Data: data}
	var buf bytes.Buffer
	if err := struc.Pack(&buf, &p); err != nil {
		return nil, fmt.Errorf("pack ota packet: %w", err)
	}
	return buf.Bytes(), nil
}

// OTAPacketHeaderSize is the fixed prefix of an upstream OTA data packet.
const OTAPacketHeaderSize = 4

// UnpackOTAPacket decodes an upstream OTA data packet. The declared size
// must match the bytes present.
func UnpackOTAPacket(raw []byte) (*OTAPacket, error) {
	if len(raw) < OTAPacketHeaderSize {
		return nil, fmt.Errorf("%w: ota packet of %d bytes", cngw.ErrFrameTruncated, len(raw))
	}
	declared := int(raw[2]) | int(raw[3])<<8
	if declared != len(raw)-OTAPacketHeaderSize {
		return nil, fmt.Errorf("%w: ota packet declares %d data bytes, carries %d",
			cngw.ErrInvalidResponse, declared, len(raw)-OTAPacketHeaderSize)
	}
	var p OTAPacket
	if err := struc.Unpack(bytes.NewReader(raw), &p); err != nil {
		return nil, fmt.Errorf("unpack ota packet: %w", err)
	}
	if p.Type != OTAPacketData {
		return nil, fmt.Errorf("%w: ota packet type %d", cngw.ErrInvalidResponse, p.Type)
	}
	return &p, nil
}
