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

// Query commands
const (
	QueryBackwardFrame     uint8 = 0x02
	QueryGetAllChannelInfo uint8 = 0x03
)

// Action commands
const (
	ActionNoAction    uint8 = 0x00
	ActionOnFull      uint8 = 0x01
	ActionOnAtLevel   uint8 = 0x02
	ActionOff         uint8 = 0x03
	ActionScene       uint8 = 0x04
	ActionDelayOff    uint8 = 0x0A
	ActionOnLastLevel uint8 = 0x0B
	ActionUp          uint8 = 0x0C
	ActionDown        uint8 = 0x0D
	ActionToggleOnOff uint8 = 0x0E
)

// Fade units for Action parameters
const (
	FadeMilliseconds uint8 = 0x00
	FadeSeconds      uint8 = 0x01
	FadeMinutes      uint8 = 0x02
)

// ControlLog sets the log level of a mainboard MCU.
const ControlLog uint8 = 0x01

// Direct control commands and results
const (
	DirectControlResponse        uint8 = 0x01
	DirectControlResponseSuccess uint8 = 0x02
	DirectControlResponseFail    uint8 = 0x03
	DirectControlRestart         uint8 = 0x04
	DirectControlReadFlash       uint8 = 0x05
	DirectControlDriverCurrent   uint8 = 0x06

	DirectControlError   uint8 = 0x00
	DirectControlSuccess uint8 = 0x01
)

// Status update commands
const (
	StatusUpdateAttribute uint8 = 0x01
	StatusUpdateChannel   uint8 = 0x02
)

// AttributeBrightness is the only channel attribute the mainboard reports.
const AttributeBrightness uint8 = 0x01

// Device report commands
const (
	DeviceReportUpdate uint8 = 0x01
	DeviceReportRemove uint8 = 0x02
)

// Handshake commands and statuses
const (
	HandshakeCN1 uint8 = 0x01
	HandshakeCN2 uint8 = 0x02
	HandshakeGW2 uint8 = 0x03
	HandshakeGW1 uint8 = 0x04

	HandshakeSuccess uint8 = 0x01
	HandshakeFailed  uint8 = 0x02
)

// Log message kinds
const (
	LogErrCode uint8 = 0x01
	LogString  uint8 = 0x02
)

// ConfigCommand selects a configuration category.
type ConfigCommand uint8

// Configuration commands
const (
	ConfigInvalid        ConfigCommand = 0x00
	ConfigChannelEntry   ConfigCommand = 0x01
	ConfigChannelStatus  ConfigCommand = 0x02
	ConfigInfoDriver     ConfigCommand = 0x03
	ConfigWiredSwitch    ConfigCommand = 0x04
	ConfigWirelessSwitch ConfigCommand = 0x05
	ConfigSensor         ConfigCommand = 0x06
	ConfigGeneralInfo    ConfigCommand = 0x07
)

func (c ConfigCommand) String() string {
	switch c {
	case ConfigChannelEntry:
		return "ChannelEntry"
	case ConfigChannelStatus:
		return "ChannelStatus"
	case ConfigInfoDriver:
		return "InfoDriver"
	case ConfigWiredSwitch:
		return "WiredSwitch"
	case ConfigWirelessSwitch:
		return "WirelessSwitch"
	case ConfigSensor:
		return "Sensor"
	case ConfigGeneralInfo:
		return "GeneralInfo"
	default:
		return "Invalid"
	}
}

// ConfigStatus is the state carried by a ChannelStatus configuration frame.
type ConfigStatus uint8

// Configuration statuses
const (
	ConfigStatusInvalid    ConfigStatus = 0x00
	ConfigStatusDone       ConfigStatus = 0x01
	ConfigStatusGetNextMsg ConfigStatus = 0x02
	ConfigStatusRestart    ConfigStatus = 0x03
	ConfigStatusChange     ConfigStatus = 0x04
)

func (s ConfigStatus) String() string {
	switch s {
	case ConfigStatusDone:
		return "Done"
	case ConfigStatusGetNextMsg:
		return "GetNextMsg"
	case ConfigStatusRestart:
		return "Restart"
	case ConfigStatusChange:
		return "ConfigChange"
	default:
		return "Invalid"
	}
}

// OTA commands
const (
	OTACmdFileHeader    uint8 = 0x01
	OTACmdPackageHeader uint8 = 0x02
	OTACmdCryptoInfo    uint8 = 0x03
	OTACmdBinaryData    uint8 = 0x04
	OTACmdStatus        uint8 = 0x05
)

// OTAStatusCode is the mainboard's verdict on the last OTA frame.
type OTAStatusCode uint8

// OTA statuses
const (
	OTAStatusError   OTAStatusCode = 0x00
	OTAStatusSuccess OTAStatusCode = 0x01
	OTAStatusRestart OTAStatusCode = 0x02
	OTAStatusAck     OTAStatusCode = 0x03
)

func (s OTAStatusCode) String() string {
	switch s {
	case OTAStatusError:
		return "Error"
	case OTAStatusSuccess:
		return "Success"
	case OTAStatusRestart:
		return "Restart"
	case OTAStatusAck:
		return "Ack"
	default:
		return "Unknown"
	}
}

// BinaryType identifies the image carried by an OTA transfer.
type BinaryType uint8

// Binary types
const (
	BinaryInvalid BinaryType = 0
	BinaryConfig  BinaryType = 1
	BinaryCN      BinaryType = 2
	BinarySW      BinaryType = 3
	BinaryDR      BinaryType = 4
	BinaryGW      BinaryType = 5
)

func (b BinaryType) String() string {
	names := [...]string{"invalid", "config", "cn_mcu", "sw_mcu", "dr_mcu", "gw_mcu"}
	if int(b) < len(names) {
		return names[b]
	}
	return "invalid"
}

// OTAPacketData tags an upstream OTA data packet.
const OTAPacketData uint8 = 1
