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

// Package status drives the gateway's indicators: the status LEDs and the
// gateway-online line the mainboard watches.
package status

import (
	"time"

	"github.com/rs/zerolog"

	cngw "github.com/cencepower/cngw"
)

// Pattern is how an LED shows a task. A zero Off time means steady.
type Pattern struct {
	On  time.Duration
	Off time.Duration
}

// Blinks reports whether the pattern toggles.
func (p Pattern) Blinks() bool { return p.Off > 0 }

// Patterns maps each task to its pattern. AllOff and NoAction are handled
// by the notifiers directly.
var Patterns = map[cngw.LEDTask]Pattern{
	cngw.LEDIdle:            {On: time.Second},
	cngw.LEDBusy:            {On: 250 * time.Millisecond, Off: 250 * time.Millisecond},
	cngw.LEDConnPending:     {On: 500 * time.Millisecond, Off: 500 * time.Millisecond},
	cngw.LEDConnStage01:     {On: 100 * time.Millisecond, Off: 400 * time.Millisecond},
	cngw.LEDConnStage02:     {On: 400 * time.Millisecond, Off: 100 * time.Millisecond},
	cngw.LEDFWUpdatePrePrep: {On: 200 * time.Millisecond, Off: 800 * time.Millisecond},
	cngw.LEDFWUpdate:        {On: 100 * time.Millisecond, Off: 100 * time.Millisecond},
	cngw.LEDError:           {On: 50 * time.Millisecond, Off: 150 * time.Millisecond},
}

// LogNotifier records LED requests in the log, for hosts without LEDs.
type LogNotifier struct {
	log zerolog.Logger
}

// NewLogNotifier returns a log-only notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{log: cngw.Logger("led")}
}

// Notify logs the request.
func (n *LogNotifier) Notify(task cngw.LEDTask, target cngw.LEDTarget) {
	if task == cngw.LEDNoAction {
		return
	}
	n.log.Debug().Stringer("task", task).Stringer("target", target).Msg("led")
}
