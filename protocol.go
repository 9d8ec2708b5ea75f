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

// Package cngw is the gateway side of the CNGW mainboard protocol: shared
// types, the error taxonomy, retry policy, logging and the collaborator
// interfaces used by the engine and its state machines.
package cngw

import "fmt"

// Link buffer sizing
const (
	// TransferSize is the fixed size of one duplex SPI exchange.
	TransferSize = 134
	// LogFrameSize is the largest frame the mainboard emits (Log frames).
	LogFrameSize = 144
	// QueueLength bounds the inbound and outbound frame queues.
	QueueLength = 200
)

// HeaderType identifies the message carried by a frame.
type HeaderType uint8

// Header command types
const (
	HeaderInvalid              HeaderType = 0x00
	HeaderAction               HeaderType = 0x01
	HeaderQuery                HeaderType = 0x02
	HeaderConfiguration        HeaderType = 0x03
	HeaderConfigurationRequest HeaderType = 0x04
	HeaderConfigMessage        HeaderType = 0x05
	HeaderHandshakeCommand     HeaderType = 0x06
	HeaderHandshakeResponse    HeaderType = 0x07
	HeaderFirmwareUpdate       HeaderType = 0x08
	HeaderStatusUpdate         HeaderType = 0x09
	HeaderLog                  HeaderType = 0x0A
	HeaderOta                  HeaderType = 0x0B
	HeaderDeviceReport         HeaderType = 0x0C
	HeaderControl              HeaderType = 0x0D
	HeaderDirectControl        HeaderType = 0x0E
	headerEndMarker            HeaderType = 0x0F
)

// Valid reports whether t is a known command type.
func (t HeaderType) Valid() bool {
	return t > HeaderInvalid && t < headerEndMarker
}

func (t HeaderType) String() string {
	names := map[HeaderType]string{
		HeaderAction:               "Action",
		HeaderQuery:                "Query",
		HeaderConfiguration:        "Configuration",
		HeaderConfigurationRequest: "ConfigurationRequest",
		HeaderConfigMessage:        "ConfigMessage",
		HeaderHandshakeCommand:     "HandshakeCommand",
		HeaderHandshakeResponse:    "HandshakeResponse",
		HeaderFirmwareUpdate:       "FirmwareUpdate",
		HeaderStatusUpdate:         "StatusUpdate",
		HeaderLog:                  "Log",
		HeaderOta:                  "Ota",
		HeaderDeviceReport:         "DeviceReport",
		HeaderControl:              "Control",
		HeaderDirectControl:        "DirectControl",
	}
	if n, ok := names[t]; ok {
		return n
	}
	return fmt.Sprintf("HeaderType(0x%02X)", uint8(t))
}

// MCU identifies a processor on the mainboard side of the link.
type MCU uint8

// MCU identifiers as used in DeviceReport, Control and DirectControl frames
const (
	MCUCN  MCU = 0
	MCUSW  MCU = 1
	MCUGW  MCU = 2
	MCUDR0 MCU = 3
	MCUDR7 MCU = 10
)

// DriverCount is the number of driver MCUs tracked per mainboard.
const DriverCount = int(MCUDR7-MCUDR0) + 1

func (m MCU) String() string {
	switch {
	case m == MCUCN:
		return "cn"
	case m == MCUSW:
		return "sw"
	case m == MCUGW:
		return "gw"
	case m >= MCUDR0 && m <= MCUDR7:
		return fmt.Sprintf("dr%d", m-MCUDR0)
	default:
		return fmt.Sprintf("mcu(%d)", uint8(m))
	}
}

// FirmwareVersion is the 6-byte version record used on the wire. The low 29
// bits of Build carry the CI number and the top three bits the branch.
type FirmwareVersion struct {
	Major uint8
	Minor uint8
	Build uint32 `struc:"uint32,little"`
}

const (
	ciMask      = 0x1FFFFFFF
	branchShift = 29
)

// NewFirmwareVersion packs a version from its parts.
func NewFirmwareVersion(major, minor uint8, ci uint32, branch uint8) FirmwareVersion {
	return FirmwareVersion{
		Major: major,
		Minor: minor,
		Build: (ci & ciMask) | uint32(branch&0x07)<<branchShift,
	}
}

// CI returns the CI build number.
func (v FirmwareVersion) CI() uint32 { return v.Build & ciMask }

// Branch returns the branch identifier.
func (v FirmwareVersion) Branch() uint8 { return uint8(v.Build >> branchShift) }

func (v FirmwareVersion) String() string {
	return fmt.Sprintf("%d.%d.%d-%d", v.Major, v.Minor, v.CI(), v.Branch())
}

// HardwareVersion is the 4-byte hardware revision record.
type HardwareVersion struct {
	Major uint8
	Minor uint8
	CI    uint16 `struc:"uint16,little"`
}

func (v HardwareVersion) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.CI)
}

// Gateway identity reported in GW1 after a successful CN1.
var (
	GatewayFirmware   = NewFirmwareVersion(2, 5, 0, 0)
	GatewayBootloader = FirmwareVersion{}
	GatewaySerial     = [9]byte{'0', '0', '0', '0', '0', '0', '0', '0', '0'}
)

// Gateway build identity, reported by the CLI.
var (
	GatewayHardwareVersion = HardwareVersion{Major: 0, Minor: 31, CI: 1}
	GatewayAppVersion      = NewFirmwareVersion(1, 1, 15, 0)
)
