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

package ota

import (
	"fmt"
	"strconv"
	"strings"

	cngw "github.com/cencepower/cngw"
	"github.com/cencepower/cngw/wire"
)

// Image name classes announced in Begin
const (
	NameCN     = "cense_cn_mcu"
	NameSW     = "cense_sw_mcu"
	NameDR     = "cense_dr_mcu"
	NameConfig = "cense_config"
)

// Target is the image named by a Begin request.
type Target struct {
	Name    string
	Type    wire.BinaryType
	Version cngw.FirmwareVersion
}

// ParseTarget splits "<name>-v<major>.<minor>.<ci>.<branch>." into its class
// and version. The trailing dot is optional.
func ParseTarget(s string) (Target, error) {
	name, rest, ok := strings.Cut(s, "-")
	if !ok || name == "" || !strings.HasPrefix(rest, "v") {
		return Target{}, fmt.Errorf("%w: image name %q", cngw.ErrInvalidParameter, s)
	}
	parts := strings.Split(strings.TrimSuffix(rest[1:], "."), ".")
	if len(parts) < 4 {
		return Target{}, fmt.Errorf("%w: image version %q", cngw.ErrInvalidParameter, rest)
	}

	var nums [4]uint64
	bits := [4]int{8, 8, 29, 3}
	for i := range nums {
		n, err := strconv.ParseUint(parts[i], 10, bits[i])
		if err != nil {
			return Target{}, fmt.Errorf("%w: image version %q: %w", cngw.ErrInvalidParameter, rest, err)
		}
		nums[i] = n
	}

	t := Target{
		Name: name,
		Version: cngw.NewFirmwareVersion(uint8(nums[0]), uint8(nums[1]),
			uint32(nums[2]), uint8(nums[3])),
	}
	switch name {
	case NameCN:
		t.Type = wire.BinaryCN
	case NameSW:
		t.Type = wire.BinarySW
	case NameDR:
		t.Type = wire.BinaryDR
	case NameConfig:
		t.Type = wire.BinaryConfig
	default:
		return t, fmt.Errorf("%w: %q", cngw.ErrUnknownFirmwareMCU, name)
	}
	return t, nil
}

// String renders the target the way Begin names it.
func (t Target) String() string {
	v := t.Version
	return fmt.Sprintf("%s-v%d.%d.%d.%d.", t.Name, v.Major, v.Minor, v.CI(), v.Branch())
}

// comparedMCU returns the MCU whose running version gates t, if any.
// Driver images and config blobs are flashed without a comparison.
func (t Target) comparedMCU() (cngw.MCU, bool) {
	switch t.Type {
	case wire.BinaryCN:
		return cngw.MCUCN, true
	case wire.BinarySW:
		return cngw.MCUSW, true
	default:
		return 0, false
	}
}

// CheckVersion applies the upgrade policy: a greater major wins, an equal
// major falls through to minor, and an equal minor to ci, where allowSame
// decides whether an equal ci is accepted. The branch never takes part.
func CheckVersion(incoming, current cngw.FirmwareVersion, allowSame bool) error {
	switch {
	case incoming.Major > current.Major:
		return nil
	case incoming.Major < current.Major:
	case incoming.Minor > current.Minor:
		return nil
	case incoming.Minor < current.Minor:
	case incoming.CI() > current.CI():
		return nil
	case incoming.CI() == current.CI() && allowSame:
		return nil
	}
	return fmt.Errorf("%w: incoming %s, running %s", cngw.ErrVersionRejected, incoming, current)
}
