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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cngw "github.com/cencepower/cngw"
	"github.com/cencepower/cngw/wire"
)

func TestParseTarget(t *testing.T) {
	t.Parallel()

	tests := []struct {
		wantErr error
		name    string
		in      string
		typ     wire.BinaryType
		version cngw.FirmwareVersion
	}{
		{
			name: "cn", in: "cense_cn_mcu-v2.6.0.0.",
			typ: wire.BinaryCN, version: cngw.NewFirmwareVersion(2, 6, 0, 0),
		},
		{
			name: "sw without trailing dot", in: "cense_sw_mcu-v1.2.345.1",
			typ: wire.BinarySW, version: cngw.NewFirmwareVersion(1, 2, 345, 1),
		},
		{
			name: "dr", in: "cense_dr_mcu-v3.0.7.2.",
			typ: wire.BinaryDR, version: cngw.NewFirmwareVersion(3, 0, 7, 2),
		},
		{
			name: "config", in: "cense_config-v0.0.1.0.",
			typ: wire.BinaryConfig, version: cngw.NewFirmwareVersion(0, 0, 1, 0),
		},
		{name: "unknown class", in: "cense_gw-v1.0.0.0.", wantErr: cngw.ErrUnknownFirmwareMCU},
		{name: "no separator", in: "cense_cn_mcu", wantErr: cngw.ErrInvalidParameter},
		{name: "missing v", in: "cense_cn_mcu-2.6.0.0.", wantErr: cngw.ErrInvalidParameter},
		{name: "short version", in: "cense_cn_mcu-v2.6.", wantErr: cngw.ErrInvalidParameter},
		{name: "major overflow", in: "cense_cn_mcu-v256.0.0.0.", wantErr: cngw.ErrInvalidParameter},
		{name: "branch overflow", in: "cense_cn_mcu-v2.6.0.8.", wantErr: cngw.ErrInvalidParameter},
		{name: "not a number", in: "cense_cn_mcu-v2.x.0.0.", wantErr: cngw.ErrInvalidParameter},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseTarget(tt.in)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.typ, got.Type)
			assert.Equal(t, tt.version, got.Version)
		})
	}
}

func TestTargetString(t *testing.T) {
	t.Parallel()

	got, err := ParseTarget("cense_cn_mcu-v2.6.12.3.")
	require.NoError(t, err)
	assert.Equal(t, "cense_cn_mcu-v2.6.12.3.", got.String())
}

func TestCheckVersion(t *testing.T) {
	t.Parallel()

	running := cngw.NewFirmwareVersion(2, 5, 19, 0)
	tests := []struct {
		name      string
		incoming  cngw.FirmwareVersion
		allowSame bool
		accept    bool
	}{
		{name: "greater minor", incoming: cngw.NewFirmwareVersion(2, 6, 0, 0), accept: true},
		{name: "older ci", incoming: cngw.NewFirmwareVersion(2, 5, 18, 0)},
		{name: "greater major", incoming: cngw.NewFirmwareVersion(3, 0, 0, 0), accept: true},
		{name: "lower major", incoming: cngw.NewFirmwareVersion(1, 9, 99, 0)},
		{name: "lower minor", incoming: cngw.NewFirmwareVersion(2, 4, 99, 0)},
		{name: "greater ci", incoming: cngw.NewFirmwareVersion(2, 5, 20, 0), accept: true},
		{name: "same refused", incoming: running},
		{name: "same allowed", incoming: running, allowSame: true, accept: true},
		{name: "older allowed flag", incoming: cngw.NewFirmwareVersion(2, 5, 18, 0), allowSame: true},
		{name: "branch ignored", incoming: cngw.NewFirmwareVersion(2, 5, 19, 3)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := CheckVersion(tt.incoming, running, tt.allowSame)
			if tt.accept {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, cngw.ErrVersionRejected)
			}
		})
	}
}
