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

package handshake

import (
	"time"

	cngw "github.com/cencepower/cngw"
	"github.com/cencepower/cngw/coprocessor"
	"github.com/cencepower/cngw/wire"
)

// Identity is what the gateway reports about itself in a successful GW1.
type Identity struct {
	Serial     [wire.SerialLength]byte
	Firmware   cngw.FirmwareVersion
	Bootloader cngw.FirmwareVersion
	Model      uint16
}

// Config holds handshake and availability watchdog options
type Config struct {
	Identity Identity
	// KeySlot is the coprocessor slot holding the shared handshake key.
	KeySlot uint8
	// MaxFailures is the number of failed HMAC validations tolerated. The
	// next handshake frame after the ceiling forces a restart.
	MaxFailures int
	// AvailabilityPeriod is the watchdog period.
	AvailabilityPeriod time.Duration
	// MaxMissedWindows is the number of watchdog periods without an
	// established handshake tolerated once the mainboard has tried one.
	MaxMissedWindows int
	// RestartDelay is the pause between signalling an error and restarting.
	RestartDelay time.Duration
	// ResetPulse is how long the gateway-online line is held high when the
	// watchdog asks the mainboard to start over.
	ResetPulse time.Duration
}

// DefaultConfig returns the default handshake configuration
func DefaultConfig() *Config {
	return &Config{
		Identity: Identity{
			Serial:     cngw.GatewaySerial,
			Firmware:   cngw.GatewayFirmware,
			Bootloader: cngw.GatewayBootloader,
		},
		KeySlot:            coprocessor.HandshakeKeySlot,
		MaxFailures:        cngw.MaxHMACFailures,
		AvailabilityPeriod: cngw.AvailabilityCheckPeriod,
		MaxMissedWindows:   cngw.MaxMissedHandshakeWindows,
		RestartDelay:       cngw.ErrorRestartDelay,
		ResetPulse:         time.Second,
	}
}
