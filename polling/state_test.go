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

package polling

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cencepower/cngw/wire"
)

func TestNext_CategoryBoundaries(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		from   Step
		want   Step
		wantOK bool
	}{
		{"general info to drivers", Step{wire.ConfigGeneralInfo, 0}, Step{wire.ConfigInfoDriver, 0}, true},
		{"within drivers", Step{wire.ConfigInfoDriver, 4}, Step{wire.ConfigInfoDriver, 5}, true},
		{"drivers to wired", Step{wire.ConfigInfoDriver, 39}, Step{wire.ConfigWiredSwitch, 0}, true},
		{"wired to wireless", Step{wire.ConfigWiredSwitch, 31}, Step{wire.ConfigWirelessSwitch, 0}, true},
		{"wireless to sensors", Step{wire.ConfigWirelessSwitch, 127}, Step{wire.ConfigSensor, 0}, true},
		{"last sensor", Step{wire.ConfigSensor, 31}, Step{}, false},
		{"not part of the walk", Step{wire.ConfigChannelStatus, 0}, Step{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := Next(tt.from)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNext_VisitsEveryStepOnce(t *testing.T) {
	t.Parallel()

	seen := map[Step]bool{}
	step, ok := FirstStep(), true
	for i := 0; ok; i++ {
		require.False(t, seen[step], "step %s visited twice", step)
		require.Equal(t, i, Index(step))
		seen[step] = true
		step, ok = Next(step)
	}
	assert.Len(t, seen, TotalSteps())
	assert.Equal(t, 233, TotalSteps())
}

func TestIndex_OutOfRange(t *testing.T) {
	t.Parallel()

	assert.Equal(t, -1, Index(Step{wire.ConfigSensor, 32}))
	assert.Equal(t, -1, Index(Step{wire.ConfigGeneralInfo, 1}))
	assert.Equal(t, -1, Index(Step{wire.ConfigChannelEntry, 0}))
}
