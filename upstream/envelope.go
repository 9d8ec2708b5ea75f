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

// Package upstream connects the engine to the cloud side: publishers for
// outcome reports, a websocket client that carries them, and the command
// reader that feeds OTA sessions.
//
// Every websocket message is a binary CBOR array [type, payload], with
// integer-keyed payload maps.
package upstream

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/cencepower/cngw/boardinfo"
)

// MessageType tags an envelope.
type MessageType uint8

// Message types
const (
	MsgPublish      MessageType = 0x01 // gateway -> cloud
	MsgChannelInfo  MessageType = 0x02 // gateway -> cloud
	MsgOTABegin     MessageType = 0x10 // cloud -> gateway
	MsgOTAData      MessageType = 0x11 // cloud -> gateway
	MsgOTAEnd       MessageType = 0x12 // cloud -> gateway
	MsgConfigReload MessageType = 0x13 // cloud -> gateway
)

func (t MessageType) String() string {
	switch t {
	case MsgPublish:
		return "publish"
	case MsgChannelInfo:
		return "channel-info"
	case MsgOTABegin:
		return "ota-begin"
	case MsgOTAData:
		return "ota-data"
	case MsgOTAEnd:
		return "ota-end"
	case MsgConfigReload:
		return "config-reload"
	default:
		return fmt.Sprintf("message(0x%02X)", uint8(t))
	}
}

// ErrMalformed is returned for envelopes that do not decode.
var ErrMalformed = errors.New("malformed upstream message")

// Envelope is the outer [type, payload] array.
type Envelope struct {
	_       struct{} `cbor:",toarray"`
	Type    MessageType
	Payload cbor.RawMessage
}

// PublishRecord is the payload of MsgPublish.
type PublishRecord struct {
	Text  string `cbor:"3,keyasint"`
	Time  int64  `cbor:"4,keyasint"`
	Code  int    `cbor:"1,keyasint"`
	Value int    `cbor:"2,keyasint"`
}

// OTABegin opens an OTA session.
type OTABegin struct {
	Name string `cbor:"1,keyasint"`
	Size uint32 `cbor:"2,keyasint"`
}

// OTAData carries one raw OTA data packet, as framed by wire.PackOTAPacket.
type OTAData struct {
	Packet []byte `cbor:"1,keyasint"`
}

// OTAEnd closes the session with the number of packets sent.
type OTAEnd struct {
	Count uint32 `cbor:"1,keyasint"`
}

// ChannelEntry is one valid channel in a MsgChannelInfo reply.
type ChannelEntry struct {
	Cabinet    uint8  `cbor:"1,keyasint"`
	Type       uint8  `cbor:"2,keyasint"`
	Target     uint8  `cbor:"3,keyasint"`
	StatusMask uint32 `cbor:"4,keyasint,omitempty"`
	Brightness uint16 `cbor:"5,keyasint,omitempty"`
}

// ChannelInfo answers the mainboard's GetAllChannelInfo query.
type ChannelInfo struct {
	Channels []ChannelEntry `cbor:"2,keyasint"`
	Cabinet  uint16         `cbor:"1,keyasint"`
}

// NewChannelInfo collects every target with a valid status or attribute.
func NewChannelInfo(info *boardinfo.BoardInfo) ChannelInfo {
	out := ChannelInfo{Cabinet: info.Cabinet}
	for i := range info.ChannelStatus {
		st, attr := info.ChannelStatus[i], info.ChannelAttribute[i]
		if !st.Valid && !attr.Valid {
			continue
		}
		e := ChannelEntry{Target: uint8(i)} //nolint:gosec // table has 256 entries
		if st.Valid {
			e.Cabinet, e.Type = st.Address.Cabinet, st.Address.Type
			e.StatusMask = st.StatusMask
		}
		if attr.Valid {
			e.Cabinet, e.Type = attr.Address.Cabinet, attr.Address.Type
			e.Brightness = attr.Value
		}
		out.Channels = append(out.Channels, e)
	}
	return out
}

// Encode wraps payload in an envelope of type t.
func Encode(t MessageType, payload any) ([]byte, error) {
	raw, err := cbor.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", t, err)
	}
	data, err := cbor.Marshal(Envelope{Type: t, Payload: raw})
	if err != nil {
		return nil, fmt.Errorf("encode %s envelope: %w", t, err)
	}
	return data, nil
}

// Decode splits an envelope. The payload is left raw for DecodePayload.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if len(data) == 0 {
		return env, fmt.Errorf("%w: empty", ErrMalformed)
	}
	if err := cbor.Unmarshal(data, &env); err != nil {
		return env, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return env, nil
}

// DecodePayload unpacks the payload of env into v.
func DecodePayload(env Envelope, v any) error {
	if err := cbor.Unmarshal(env.Payload, v); err != nil {
		return fmt.Errorf("%w: %s payload: %w", ErrMalformed, env.Type, err)
	}
	return nil
}
