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

// Package boardinfo holds the gateway's view of the mainboard: per-MCU
// identity records, channel status tables and the configuration records
// copied by the poller.
//
// A Store has a single writer, the protocol dispatcher. Every other
// component reads through Snapshot, which returns an independent copy.
package boardinfo

import (
	"bytes"
	"fmt"

	"github.com/lunixbochs/struc"

	cngw "github.com/cencepower/cngw"
	"github.com/cencepower/cngw/internal/syncutil"
	"github.com/cencepower/cngw/wire"
)

// Configuration table dimensions
const (
	DriverSlots          = 8
	DriverPartitions     = 5
	DriverRequests       = DriverSlots * DriverPartitions
	WiredSwitchSlots     = 32
	WirelessSwitchSlots  = 128
	SensorSlots          = 32
	channelTableCapacity = 256
)

// Record is one raw configuration record.
type Record [wire.ConfigBodySize]byte

// Device is the identity an MCU reports in a DeviceReport Update.
type Device struct {
	Serial      [wire.SerialLength]byte
	GitHash     [wire.GitHashLength]byte
	Hardware    cngw.HardwareVersion
	Bootloader  cngw.FirmwareVersion
	Application cngw.FirmwareVersion
	Model       uint8
	Present     bool
}

// DeviceFromUpdate converts a DeviceReport Update body.
func DeviceFromUpdate(u *wire.DeviceUpdate) Device {
	return Device{
		Serial:      u.Serial,
		GitHash:     u.GitHash,
		Hardware:    u.Hardware,
		Bootloader:  u.Bootloader,
		Application: u.Application,
		Model:       u.Model,
		Present:     true,
	}
}

// ChannelStatus is the latest fault mask reported for a channel target.
type ChannelStatus struct {
	Address    wire.Address
	StatusMask uint32
	Valid      bool
}

// ChannelAttribute is the latest attribute value reported for a target.
type ChannelAttribute struct {
	Address   wire.Address
	Attribute uint8
	Value     uint16
	Valid     bool
}

// GeneralInfo is the GeneralInfo configuration record. The mainboard lays it
// out with natural alignment, hence the pad byte before the cabinet number.
type GeneralInfo struct {
	Serial          [wire.SerialLength]byte
	DaliCount       uint8
	SlotCount       uint8
	WiredCount      uint8
	WirelessCount   uint8
	Pad             uint8
	Cabinet         uint16 `struc:"uint16,little"`
	FlashProgrammed uint8
	SWVersion       cngw.FirmwareVersion
	SWBootloader    cngw.FirmwareVersion
	SWHandshake     uint8
}

// BoardInfo is the aggregated mainboard state.
type BoardInfo struct {
	General           GeneralInfo
	CN                Device
	SW                Device
	Drivers           [cngw.DriverCount]Device
	ChannelStatus     [channelTableCapacity]ChannelStatus
	ChannelAttribute  [channelTableCapacity]ChannelAttribute
	DriverConfig      [DriverSlots][DriverPartitions]Record
	WiredSwitches     [WiredSwitchSlots]Record
	WirelessSwitches  [WirelessSwitchSlots]Record
	Sensors           [SensorSlots]Record
	Cabinet           uint16
	HandshakeComplete bool
	GeneralValid      bool
}

// Firmware returns the application version reported by mcu.
func (b *BoardInfo) Firmware(mcu cngw.MCU) (cngw.FirmwareVersion, bool) {
	switch {
	case mcu == cngw.MCUCN:
		return b.CN.Application, b.CN.Present
	case mcu == cngw.MCUSW:
		return b.SW.Application, b.SW.Present
	case mcu >= cngw.MCUDR0 && mcu <= cngw.MCUDR7:
		d := b.Drivers[mcu-cngw.MCUDR0]
		return d.Application, d.Present
	default:
		return cngw.FirmwareVersion{}, false
	}
}

// Store guards a BoardInfo.
type Store struct {
	info BoardInfo
	mu   syncutil.RWMutex
}

// NewStore returns a zeroed store.
func NewStore() *Store {
	return &Store{}
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() BoardInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.info
}

// Update applies fn under the write lock. Only the dispatcher calls it.
func (s *Store) Update(fn func(*BoardInfo)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.info)
}

// HandshakeComplete reports whether the CN MCU has announced itself.
func (s *Store) HandshakeComplete() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.info.HandshakeComplete
}

// ResetHandshake clears the handshake flag. A CN1 means the mainboard has
// started over.
func (s *Store) ResetHandshake() {
	s.Update(func(b *BoardInfo) { b.HandshakeComplete = false })
}

// SetCabinet records the cabinet number from CN1.
func (s *Store) SetCabinet(cabinet uint16) {
	s.Update(func(b *BoardInfo) { b.Cabinet = cabinet })
}

// SetDevice stores a DeviceReport Update. CN is MCU 0, SW 1, the gateway's
// own id 2 is ignored and drivers follow from 3. Reports whether the record
// was stored.
func (s *Store) SetDevice(mcu cngw.MCU, d Device) bool {
	stored := true
	s.Update(func(b *BoardInfo) {
		switch {
		case mcu == cngw.MCUCN:
			b.CN = d
			b.HandshakeComplete = true
		case mcu == cngw.MCUSW:
			b.SW = d
		case mcu >= cngw.MCUDR0 && mcu <= cngw.MCUDR7:
			b.Drivers[mcu-cngw.MCUDR0] = d
		default:
			stored = false
		}
	})
	return stored
}

// RemoveDevice clears the record named by a DeviceReport Remove. The
// mainboard numbers drivers from 2 in this message, one lower than in
// Update; the offset is kept as it arrives on the wire.
func (s *Store) RemoveDevice(mcu cngw.MCU) bool {
	removed := true
	s.Update(func(b *BoardInfo) {
		switch {
		case mcu == cngw.MCUCN:
			b.CN = Device{}
			b.HandshakeComplete = false
		case mcu == cngw.MCUSW:
			b.SW = Device{}
		case int(mcu)-2 < cngw.DriverCount:
			b.Drivers[mcu-2] = Device{}
		default:
			removed = false
		}
	})
	return removed
}

// SetChannelStatus stores a channel status report keyed by target.
func (s *Store) SetChannelStatus(addr wire.Address, mask uint32) {
	s.Update(func(b *BoardInfo) {
		b.ChannelStatus[addr.Target] = ChannelStatus{Address: addr, StatusMask: mask, Valid: true}
	})
}

// SetChannelAttribute stores a channel attribute report keyed by target.
func (s *Store) SetChannelAttribute(addr wire.Address, attribute uint8, value uint16) {
	s.Update(func(b *BoardInfo) {
		b.ChannelAttribute[addr.Target] = ChannelAttribute{
			Address: addr, Attribute: attribute, Value: value, Valid: true,
		}
	})
}

// StoreConfig files a configuration record by category and slot.
func (s *Store) StoreConfig(cmd wire.ConfigCommand, slot uint8, body Record) error {
	var general GeneralInfo
	if cmd == wire.ConfigGeneralInfo {
		if err := struc.Unpack(bytes.NewReader(body[:]), &general); err != nil {
			return fmt.Errorf("decode general info: %w", err)
		}
	}

	var err error
	s.Update(func(b *BoardInfo) {
		switch cmd {
		case wire.ConfigGeneralInfo:
			b.General = general
			b.GeneralValid = true
		case wire.ConfigInfoDriver:
			if int(slot) >= DriverRequests {
				err = slotError(cmd, slot)
				return
			}
			b.DriverConfig[slot/DriverPartitions][slot%DriverPartitions] = body
		case wire.ConfigWiredSwitch:
			if int(slot) >= WiredSwitchSlots {
				err = slotError(cmd, slot)
				return
			}
			b.WiredSwitches[slot] = body
		case wire.ConfigWirelessSwitch:
			if int(slot) >= WirelessSwitchSlots {
				err = slotError(cmd, slot)
				return
			}
			b.WirelessSwitches[slot] = body
		case wire.ConfigSensor:
			if int(slot) >= SensorSlots {
				err = slotError(cmd, slot)
				return
			}
			b.Sensors[slot] = body
		default:
			err = fmt.Errorf("%w: config command %s", cngw.ErrInvalidParameter, cmd)
		}
	})
	return err
}

func slotError(cmd wire.ConfigCommand, slot uint8) error {
	return fmt.Errorf("%w: %s slot %d", cngw.ErrInvalidParameter, cmd, slot)
}
