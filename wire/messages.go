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

package wire

import (
	"bytes"

	cngw "github.com/cencepower/cngw"
)

// Body sizes, including the trailing CRC8 where the message has one.
const (
	QuerySize            = 2
	ActionSize           = 9
	ControlSize          = 4
	DirectControlSize    = 11
	StatusAttributeSize  = 8
	StatusChannelSize    = 9
	DeviceUpdateSize     = 49
	DeviceRemoveSize     = 3
	CN1Size              = 76
	HandshakeAckSize     = 34
	GW1Size              = 93
	LogSize              = 140
	ChannelStatusSize    = 3
	ConfigRequestSize    = 3
	ConfigMessageSize    = 63
	OTAStatusSize        = 3
	OTAFileHeaderSize    = 9
	OTAPackageHeaderSize = 17
	OTACryptoInfoSize    = 130
	OTABinaryDataSize    = 130
)

// Field lengths
const (
	SerialLength    = 9
	ChallengeLength = 32
	HMACLength      = 32
	GitHashLength   = 20
	LogTextLength   = 129
	ConfigBodySize  = 60
	OTAChunkSize    = 128
)

// HMAC coverage of the handshake bodies.
const (
	CN1SignedLength          = CN1Size - HMACLength
	HandshakeAckSignedLength = HandshakeAckSize - HMACLength
	GW1SignedLength          = GW1Size - HMACLength
)

// Address targets a channel, group or scene on a cabinet.
type Address struct {
	Cabinet uint8
	Type    uint8
	Target  uint8
}

// Query asks the gateway for a snapshot (GetAllChannelInfo) or acknowledges
// a backward frame.
type Query struct {
	Command uint8
	CRC     uint8
}

// Action drives a lighting output. Params packs fade unit, fade time and
// level; see ActionParams.
type Action struct {
	Command uint8
	Address Address
	Params  uint32 `struc:"uint32,little"`
	CRC     uint8
}

// ActionParams packs the action parameter word: fade unit in bits 0-1, fade
// time in bits 2-12 and level in bits 13-24.
func ActionParams(fadeUnit uint8, fadeTime, level uint16) uint32 {
	return uint32(fadeUnit&0x03) | uint32(fadeTime&0x07FF)<<2 | uint32(level&0x0FFF)<<13
}

// Control sets the log level of one MCU.
type Control struct {
	Command uint8
	Level   uint8
	MCU     cngw.MCU
	CRC     uint8
}

// DirectControl carries low-level commands and their acknowledgements.
type DirectControl struct {
	Command   uint8
	TargetMCU cngw.MCU
	U8Value   uint8
	U16Value  uint16 `struc:"uint16,little"`
	IntValue  uint32 `struc:"uint32,little"`
	Result    uint8
	CRC       uint8
}

// StatusAttribute reports a channel attribute change.
type StatusAttribute struct {
	Command   uint8
	Address   Address
	Attribute uint8
	Value     uint16 `struc:"uint16,little"`
	CRC       uint8
}

// StatusChannel reports a channel's fault mask.
type StatusChannel struct {
	Command    uint8
	Address    Address
	StatusMask uint32 `struc:"uint32,little"`
	CRC        uint8
}

// DeviceUpdate announces an MCU and its versions.
type DeviceUpdate struct {
	Command     uint8
	MCU         cngw.MCU
	Serial      [SerialLength]byte
	Model       uint8
	GitHash     [GitHashLength]byte
	Hardware    cngw.HardwareVersion
	Bootloader  cngw.FirmwareVersion
	Application cngw.FirmwareVersion
	CRC         uint8
}

// DeviceRemove announces an MCU going away.
type DeviceRemove struct {
	Command uint8
	MCU     cngw.MCU
	CRC     uint8
}

// CN1 opens a handshake. HMAC covers the first CN1SignedLength bytes.
type CN1 struct {
	Command   uint8
	Serial    [SerialLength]byte
	Cabinet   uint16 `struc:"uint16,little"`
	Challenge [ChallengeLength]byte
	HMAC      [HMACLength]byte
}

// CN2 closes a handshake. HMAC covers command and status.
type CN2 struct {
	Command uint8
	Status  uint8
	HMAC    [HMACLength]byte
}

// GW2 answers CN2 with the same layout.
type GW2 CN2

// GW1 answers CN1. On failure only command, status and HMAC are populated.
type GW1 struct {
	Command           uint8
	Status            uint8
	Serial            [SerialLength]byte
	Model             uint16 `struc:"uint16,little"`
	Firmware          cngw.FirmwareVersion
	Bootloader        cngw.FirmwareVersion
	Reserved          uint32 `struc:"uint32,little"`
	ChallengeResponse [ChallengeLength]byte
	HMAC              [HMACLength]byte
}

// Log is a mainboard log line. Text is NUL terminated and its last byte is
// reserved for a checksum the gateway does not verify.
type Log struct {
	Command  uint8
	Serial   [SerialLength]byte
	Severity uint8
	Text     [LogTextLength]byte
}

// Message returns the log text up to the first NUL.
func (l *Log) Message() string {
	text := l.Text[:LogTextLength-1]
	if i := bytes.IndexByte(text, 0); i >= 0 {
		text = text[:i]
	}
	return string(text)
}

// ChannelStatus is the Configuration frame both sides use to signal
// configuration progress.
type ChannelStatus struct {
	Command ConfigCommand
	Status  ConfigStatus
	CRC     uint8
}

// ConfigRequest asks for one configuration record.
type ConfigRequest struct {
	Command ConfigCommand
	Slot    uint8
	CRC     uint8
}

// ConfigMessage carries one configuration record.
type ConfigMessage struct {
	Command ConfigCommand
	Slot    uint8
	Body    [ConfigBodySize]byte
	CRC     uint8
}

// OTAStatus is the mainboard's response to each OTA frame.
type OTAStatus struct {
	Command uint8
	Status  OTAStatusCode
	CRC     uint8
}

// OTAFileHeader opens a mainboard transfer.
type OTAFileHeader struct {
	Command     uint8
	DistRelease cngw.FirmwareVersion
	BinaryCount uint8
	CRC         uint8
}

// OTAPackageHeader describes the image that follows.
type OTAPackageHeader struct {
	Command  uint8
	Type     BinaryType
	Version  cngw.FirmwareVersion
	Size     uint32 `struc:"uint32,little"`
	ImageCRC uint32 `struc:"uint32,little"`
	CRC      uint8
}

// OTACryptoInfo carries signature material. The mainboard bootloaders in
// the field accept it zeroed.
type OTACryptoInfo struct {
	Command uint8
	ECDSA   [64]byte
	Random  [32]byte
	Padding [32]byte
	CRC     uint8
}

// OTABinaryData carries one image chunk.
type OTABinaryData struct {
	Command uint8
	Data    [OTAChunkSize]byte
	CRC     uint8
}

// OTAPacket is the upstream OTA data packet. Size is derived from Data when
// packing.
type OTAPacket struct {
	Type uint8
	Seq  uint8
	Size uint16 `struc:"uint16,little,sizeof=Data"`
	Data []byte
}

// HeaderType implementations

func (*Query) HeaderType() cngw.HeaderType            { return cngw.HeaderQuery }
func (*Action) HeaderType() cngw.HeaderType           { return cngw.HeaderAction }
func (*Control) HeaderType() cngw.HeaderType          { return cngw.HeaderControl }
func (*DirectControl) HeaderType() cngw.HeaderType    { return cngw.HeaderDirectControl }
func (*StatusAttribute) HeaderType() cngw.HeaderType  { return cngw.HeaderStatusUpdate }
func (*StatusChannel) HeaderType() cngw.HeaderType    { return cngw.HeaderStatusUpdate }
func (*DeviceUpdate) HeaderType() cngw.HeaderType     { return cngw.HeaderDeviceReport }
func (*DeviceRemove) HeaderType() cngw.HeaderType     { return cngw.HeaderDeviceReport }
func (*CN1) HeaderType() cngw.HeaderType              { return cngw.HeaderHandshakeCommand }
func (*CN2) HeaderType() cngw.HeaderType              { return cngw.HeaderHandshakeCommand }
func (*GW1) HeaderType() cngw.HeaderType              { return cngw.HeaderHandshakeResponse }
func (*GW2) HeaderType() cngw.HeaderType              { return cngw.HeaderHandshakeResponse }
func (*Log) HeaderType() cngw.HeaderType              { return cngw.HeaderLog }
func (*ChannelStatus) HeaderType() cngw.HeaderType    { return cngw.HeaderConfiguration }
func (*ConfigRequest) HeaderType() cngw.HeaderType    { return cngw.HeaderConfigurationRequest }
func (*ConfigMessage) HeaderType() cngw.HeaderType    { return cngw.HeaderConfigMessage }
func (*OTAStatus) HeaderType() cngw.HeaderType        { return cngw.HeaderOta }
func (*OTAFileHeader) HeaderType() cngw.HeaderType    { return cngw.HeaderOta }
func (*OTAPackageHeader) HeaderType() cngw.HeaderType { return cngw.HeaderOta }
func (*OTACryptoInfo) HeaderType() cngw.HeaderType    { return cngw.HeaderOta }
func (*OTABinaryData) HeaderType() cngw.HeaderType    { return cngw.HeaderOta }

// Handshake and log bodies carry no trailing CRC8.

func (*CN1) unchecked() {}
func (*CN2) unchecked() {}
func (*GW1) unchecked() {}
func (*GW2) unchecked() {}
func (*Log) unchecked() {}
