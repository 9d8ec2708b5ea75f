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

package status

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"

	cngw "github.com/cencepower/cngw"
	"github.com/cencepower/cngw/internal/syncutil"
)

// levelPin records every level written to it.
type levelPin struct {
	*gpiotest.Pin
	levels []gpio.Level
	mu     syncutil.Mutex
}

func newLevelPin(name string) *levelPin {
	return &levelPin{Pin: &gpiotest.Pin{N: name, L: gpio.Low}}
}

func (p *levelPin) Out(l gpio.Level) error {
	p.mu.Lock()
	p.levels = append(p.levels, l)
	p.mu.Unlock()
	return p.Pin.Out(l)
}

func (p *levelPin) history() []gpio.Level {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]gpio.Level(nil), p.levels...)
}

func (p *levelPin) last() (gpio.Level, bool) {
	h := p.history()
	if len(h) == 0 {
		return gpio.Low, false
	}
	return h[len(h)-1], true
}

func newNotifier() (*GPIONotifier, map[cngw.LEDTarget]*levelPin) {
	pins := map[cngw.LEDTarget]*levelPin{
		cngw.LEDTargetGen:  newLevelPin("GEN"),
		cngw.LEDTargetCN:   newLevelPin("CN"),
		cngw.LEDTargetComm: newLevelPin("COMM"),
	}
	out := make(map[cngw.LEDTarget]gpio.PinOut, len(pins))
	for t, p := range pins {
		out[t] = p
	}
	return NewGPIONotifier(out), pins
}

func TestGPIONotifier_Steady(t *testing.T) {
	t.Parallel()
	n, pins := newNotifier()
	defer n.Close()

	n.Notify(cngw.LEDIdle, cngw.LEDTargetCN)

	l, ok := pins[cngw.LEDTargetCN].last()
	require.True(t, ok)
	assert.Equal(t, gpio.High, l)
	assert.Empty(t, pins[cngw.LEDTargetGen].history())
}

func TestGPIONotifier_BlinkThenOff(t *testing.T) {
	t.Parallel()
	n, pins := newNotifier()
	cn := pins[cngw.LEDTargetCN]

	n.Notify(cngw.LEDBusy, cngw.LEDTargetCN)
	require.Eventually(t, func() bool {
		h := cn.history()
		return len(h) >= 3 && h[0] == gpio.High && h[1] == gpio.Low
	}, 3*time.Second, 5*time.Millisecond)

	n.Notify(cngw.LEDAllOff, cngw.LEDTargetGen)
	l, _ := cn.last()
	assert.Equal(t, gpio.Low, l)

	settled := len(cn.history())
	time.Sleep(600 * time.Millisecond)
	assert.Len(t, cn.history(), settled, "blinker stopped")
}

func TestGPIONotifier_Targets(t *testing.T) {
	t.Parallel()

	t.Run("all", func(t *testing.T) {
		t.Parallel()
		n, pins := newNotifier()
		defer n.Close()

		n.Notify(cngw.LEDIdle, cngw.LEDTargetAll)
		for target, p := range pins {
			l, ok := p.last()
			require.True(t, ok, target.String())
			assert.Equal(t, gpio.High, l, target.String())
		}
	})

	t.Run("ignored", func(t *testing.T) {
		t.Parallel()
		n, pins := newNotifier()
		defer n.Close()

		n.Notify(cngw.LEDNoAction, cngw.LEDTargetAll)
		n.Notify(cngw.LEDIdle, cngw.LEDTargetNone)
		n.Notify(cngw.LEDIdle, cngw.LEDTarget(42))
		for _, p := range pins {
			assert.Empty(t, p.history())
		}
	})
}

func TestGPIONotifier_ReplacesBlinker(t *testing.T) {
	t.Parallel()
	n, pins := newNotifier()
	defer n.Close()

	n.Notify(cngw.LEDFWUpdate, cngw.LEDTargetComm)
	n.Notify(cngw.LEDIdle, cngw.LEDTargetComm)

	settled := pins[cngw.LEDTargetComm].history()
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, settled, pins[cngw.LEDTargetComm].history())
	assert.Equal(t, gpio.High, settled[len(settled)-1])
}

func TestPatterns_CoverTasks(t *testing.T) {
	t.Parallel()
	for task := cngw.LEDFWUpdatePrePrep; task <= cngw.LEDConnStage02; task++ {
		p, ok := Patterns[task]
		require.True(t, ok, task.String())
		assert.Positive(t, p.On, task.String())
	}
}

func TestResetLine_Pulse(t *testing.T) {
	t.Parallel()

	t.Run("completes", func(t *testing.T) {
		t.Parallel()
		pin := newLevelPin("ONLINE")
		line := NewResetLine(pin)

		start := time.Now()
		require.NoError(t, line.Pulse(context.Background(), 20*time.Millisecond))
		assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
		assert.Equal(t, []gpio.Level{gpio.High, gpio.Low}, pin.history())
	})

	t.Run("cancelled still releases", func(t *testing.T) {
		t.Parallel()
		pin := newLevelPin("ONLINE")
		line := NewResetLine(pin)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		require.ErrorIs(t, line.Pulse(ctx, time.Hour), context.Canceled)
		assert.Equal(t, []gpio.Level{gpio.High, gpio.Low}, pin.history())
	})
}
