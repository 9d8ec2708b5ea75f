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

package cngw

import "fmt"

// PublishCode classifies an upstream report.
type PublishCode int

// Upstream publish codes
const (
	PublishCritical PublishCode = 60
	PublishInfo     PublishCode = 64
	PublishError    PublishCode = 65
)

// Upstream messages shared between components.
const (
	MsgBeginOTA           = "Begin OTA"
	MsgConnected          = "CONNECTED TO CENCE!"
	MsgConfigCopied       = "All configurations successfully copied"
	MsgConfigTimeout      = "configuration request loop timeout"
	MsgTaskRunning        = "The task is already running!"
	MsgHandshakeFailed    = "Failed Proper Handshake With Mainboard"
	MsgMainboardPowerFail = "Mainboard Power Failure"
	MsgOTASuccess         = "OTA Successful"
	MsgOTAFailed          = "OTA Failed"
)

// Publisher reports outcomes upstream. Publishing is best effort: an
// implementation must not block for long and its failures never affect
// protocol state.
type Publisher interface {
	Publish(code PublishCode, value int, text string)
}

// PublisherFunc adapts a function to the Publisher interface.
type PublisherFunc func(code PublishCode, value int, text string)

// Publish calls f.
func (f PublisherFunc) Publish(code PublishCode, value int, text string) { f(code, value, text) }

// LEDTask is the status indication requested from the LED collaborator.
type LEDTask uint8

// LED tasks
const (
	LEDNoAction LEDTask = iota
	LEDAllOff
	LEDFWUpdatePrePrep
	LEDFWUpdate
	LEDConnPending
	LEDIdle
	LEDBusy
	LEDError
	LEDConnStage01
	LEDConnStage02
)

func (t LEDTask) String() string {
	names := [...]string{
		"NoAction", "AllOff", "FWUpdatePrePrep", "FWUpdate", "ConnPending",
		"Idle", "Busy", "Error", "ConnStage01", "ConnStage02",
	}
	if int(t) < len(names) {
		return names[t]
	}
	return fmt.Sprintf("LEDTask(%d)", uint8(t))
}

// LEDTarget selects which indicator a task applies to.
type LEDTarget uint8

// LED targets
const (
	LEDTargetNone LEDTarget = iota
	LEDTargetGen
	LEDTargetCN
	LEDTargetComm
	LEDTargetAll
)

func (t LEDTarget) String() string {
	names := [...]string{"None", "Gen", "CN", "Comm", "All"}
	if int(t) < len(names) {
		return names[t]
	}
	return fmt.Sprintf("LEDTarget(%d)", uint8(t))
}

// Notifier drives the status LEDs. Fire and forget.
type Notifier interface {
	Notify(task LEDTask, target LEDTarget)
}

// Restarter restarts the gateway. Implementations may not return.
type Restarter interface {
	Restart(reason string)
}

// Collaborators bundles the external interfaces the engine calls out to.
// Nil fields are replaced with logging no-ops by Normalize.
type Collaborators struct {
	Publisher Publisher
	Notifier  Notifier
	Restarter Restarter
}

// Normalize fills nil collaborators with no-op implementations.
func (c Collaborators) Normalize() Collaborators {
	if c.Publisher == nil {
		c.Publisher = nopPublisher{}
	}
	if c.Notifier == nil {
		c.Notifier = nopNotifier{}
	}
	if c.Restarter == nil {
		c.Restarter = nopRestarter{}
	}
	return c
}

type nopPublisher struct{}

func (nopPublisher) Publish(code PublishCode, value int, text string) {
	l := Logger("publish")
	l.Debug().Int("code", int(code)).Int("value", value).Msg(text)
}

type nopNotifier struct{}

func (nopNotifier) Notify(task LEDTask, target LEDTarget) {
	l := Logger("led")
	l.Debug().Stringer("task", task).Stringer("target", target).Msg("led notify")
}

type nopRestarter struct{}

func (nopRestarter) Restart(reason string) {
	l := Logger("restart")
	l.Warn().Str("reason", reason).Msg("restart requested but no restarter configured")
}
