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
	"errors"
	"fmt"

	"github.com/cencepower/cngw/boardinfo"
	"github.com/cencepower/cngw/wire"
)

// Outcome is how a walk ended.
type Outcome int

// Walk outcomes
const (
	OutcomeNone Outcome = iota
	OutcomeComplete
	OutcomeTimeout
	OutcomeStopped
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNone:
		return "none"
	case OutcomeComplete:
		return "complete"
	case OutcomeTimeout:
		return "timeout"
	case OutcomeStopped:
		return "stopped"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// ErrAlreadyRunning is returned by Start while a walk is in progress.
var ErrAlreadyRunning = errors.New("configuration poller already running")

// Step is one configuration request.
type Step struct {
	Command wire.ConfigCommand
	Slot    uint8
}

func (s Step) String() string {
	return fmt.Sprintf("%s[%d]", s.Command, s.Slot)
}

type category struct {
	command wire.ConfigCommand
	slots   int
}

// walk is the category order. Driver slots are requested once per
// partition, five per bay.
var walk = [...]category{
	{wire.ConfigGeneralInfo, 1},
	{wire.ConfigInfoDriver, boardinfo.DriverRequests},
	{wire.ConfigWiredSwitch, boardinfo.WiredSwitchSlots},
	{wire.ConfigWirelessSwitch, boardinfo.WirelessSwitchSlots},
	{wire.ConfigSensor, boardinfo.SensorSlots},
}

// TotalSteps is the number of requests in a complete walk.
func TotalSteps() int {
	n := 0
	for _, c := range walk {
		n += c.slots
	}
	return n
}

// FirstStep is where every walk starts.
func FirstStep() Step {
	return Step{Command: walk[0].command}
}

// Next returns the step after s. ok is false once s was the last sensor slot
// or s is not part of the walk.
func Next(s Step) (next Step, ok bool) {
	for i, c := range walk {
		if c.command != s.Command {
			continue
		}
		if int(s.Slot)+1 < c.slots {
			return Step{Command: c.command, Slot: s.Slot + 1}, true
		}
		if i+1 < len(walk) {
			return Step{Command: walk[i+1].command}, true
		}
		return Step{}, false
	}
	return Step{}, false
}

// Index returns the position of s in the walk, or -1.
func Index(s Step) int {
	base := 0
	for _, c := range walk {
		if c.command == s.Command {
			if int(s.Slot) >= c.slots {
				return -1
			}
			return base + int(s.Slot)
		}
		base += c.slots
	}
	return -1
}
