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

package testing

import (
	"time"

	cngw "github.com/cencepower/cngw"
	"github.com/cencepower/cngw/internal/syncutil"
)

// Published is one recorded upstream report.
type Published struct {
	Text  string
	Code  cngw.PublishCode
	Value int
}

// LEDCall is one recorded LED notification.
type LEDCall struct {
	Task   cngw.LEDTask
	Target cngw.LEDTarget
}

// Recorder implements every collaborator interface and records the calls.
type Recorder struct {
	restarted chan string
	published []Published
	leds      []LEDCall
	restarts  []string
	mu        syncutil.Mutex
}

// NewRecorder returns an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{restarted: make(chan string, 16)}
}

// Collaborators returns the recorder in all three roles.
func (r *Recorder) Collaborators() cngw.Collaborators {
	return cngw.Collaborators{Publisher: r, Notifier: r, Restarter: r}
}

// Publish records an upstream report.
func (r *Recorder) Publish(code cngw.PublishCode, value int, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.published = append(r.published, Published{Code: code, Value: value, Text: text})
}

// Notify records an LED notification.
func (r *Recorder) Notify(task cngw.LEDTask, target cngw.LEDTarget) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leds = append(r.leds, LEDCall{Task: task, Target: target})
}

// Restart records a restart request.
func (r *Recorder) Restart(reason string) {
	r.mu.Lock()
	r.restarts = append(r.restarts, reason)
	r.mu.Unlock()
	select {
	case r.restarted <- reason:
	default:
	}
}

// Published returns the recorded reports.
func (r *Recorder) Published() []Published {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Published(nil), r.published...)
}

// HasPublished reports whether text was published with code.
func (r *Recorder) HasPublished(code cngw.PublishCode, text string) bool {
	for _, p := range r.Published() {
		if p.Code == code && p.Text == text {
			return true
		}
	}
	return false
}

// LEDs returns the recorded LED notifications.
func (r *Recorder) LEDs() []LEDCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]LEDCall(nil), r.leds...)
}

// HasLED reports whether task was requested on target.
func (r *Recorder) HasLED(task cngw.LEDTask, target cngw.LEDTarget) bool {
	for _, c := range r.LEDs() {
		if c.Task == task && c.Target == target {
			return true
		}
	}
	return false
}

// Restarts returns the recorded restart reasons.
func (r *Recorder) Restarts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.restarts...)
}

// WaitRestart waits up to d for a restart request.
func (r *Recorder) WaitRestart(d time.Duration) (string, bool) {
	select {
	case reason := <-r.restarted:
		return reason, true
	case <-time.After(d):
		return "", false
	}
}
