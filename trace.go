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

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// TraceDirection indicates the direction of wire data
type TraceDirection string

const (
	// TraceTX indicates data sent by the gateway
	TraceTX TraceDirection = "TX"
	// TraceRX indicates data received by the gateway
	TraceRX TraceDirection = "RX"
)

const traceHexLimit = 32

// TraceEntry is one recorded bus transfer. Frame is the header type when the
// buffer starts with one; Idle entries stand for Repeat consecutive all-zero
// buffers.
type TraceEntry struct {
	Timestamp time.Time
	Direction TraceDirection
	Note      string
	Data      []byte
	Frame     HeaderType
	Repeat    int
	Idle      bool
}

func (e TraceEntry) describe() string {
	var sb strings.Builder
	if e.Idle {
		_, _ = fmt.Fprintf(&sb, "idle x%d (%d bytes)", e.Repeat, len(e.Data))
	} else {
		_, _ = sb.WriteString(formatHexBytes(e.Data))
		if e.Frame.Valid() {
			_, _ = fmt.Fprintf(&sb, " [%s]", e.Frame)
		}
	}
	if e.Note != "" {
		_, _ = fmt.Fprintf(&sb, " (%s)", e.Note)
	}
	return sb.String()
}

// String formats a trace entry for display
func (e TraceEntry) String() string {
	return fmt.Sprintf("[%s] %s: %s", e.Timestamp.Format("15:04:05.000"), e.Direction, e.describe())
}

// TraceableError carries the last bus transfers that led to an error.
//
//	if te := cngw.GetTrace(err); te != nil {
//	    log.Debug().Msg(te.FormatTrace())
//	}
type TraceableError struct {
	Err       error
	Transport string
	Port      string
	Trace     []TraceEntry
}

func (e *TraceableError) Error() string {
	return e.Err.Error()
}

func (e *TraceableError) Unwrap() error {
	return e.Err
}

// FormatTrace renders the trace one transfer per line.
func (e *TraceableError) FormatTrace() string {
	if len(e.Trace) == 0 {
		return fmt.Sprintf("[%s:%s] (no trace data)", e.Transport, e.Port)
	}

	var sb strings.Builder
	_, _ = fmt.Fprintf(&sb, "[%s:%s] Wire trace (%d entries):\n", e.Transport, e.Port, len(e.Trace))
	for _, entry := range e.Trace {
		arrow := ">"
		if entry.Direction == TraceRX {
			arrow = "<"
		}
		_, _ = fmt.Fprintf(&sb, "  %s %s\n", arrow, entry.describe())
	}
	return sb.String()
}

func formatHexBytes(data []byte) string {
	if len(data) == 0 {
		return "(empty)"
	}
	limit := min(len(data), traceHexLimit)
	parts := make([]string, limit)
	for i := range limit {
		parts[i] = fmt.Sprintf("%02X", data[i])
	}
	out := strings.Join(parts, " ")
	if len(data) > limit {
		out += fmt.Sprintf(" ... (%d bytes total)", len(data))
	}
	return out
}

// TraceBuffer keeps the most recent transfers of one bus. The SPI link
// clocks a zero buffer whenever neither side has a frame, so idle transfers
// in the same direction are folded into a single counted entry instead of
// pushing real traffic out of the ring.
type TraceBuffer struct {
	now       func() time.Time
	transport string
	port      string
	entries   []TraceEntry
	maxSize   int
}

// NewTraceBuffer creates a trace ring holding maxSize entries (16 if <= 0).
func NewTraceBuffer(transport, port string, maxSize int) *TraceBuffer {
	if maxSize <= 0 {
		maxSize = 16
	}
	return &TraceBuffer{
		entries:   make([]TraceEntry, 0, maxSize),
		maxSize:   maxSize,
		transport: transport,
		port:      port,
		now:       time.Now,
	}
}

// RecordTX records bytes written to the bus
func (tb *TraceBuffer) RecordTX(data []byte, note string) {
	tb.record(TraceTX, data, note)
}

// RecordRX records bytes read from the bus
func (tb *TraceBuffer) RecordRX(data []byte, note string) {
	tb.record(TraceRX, data, note)
}

// RecordTimeout records a transfer that never completed.
func (tb *TraceBuffer) RecordTimeout(note string) {
	tb.record(TraceRX, nil, "TIMEOUT: "+note)
}

func (tb *TraceBuffer) record(dir TraceDirection, data []byte, note string) {
	idle := note == "" && len(data) > 0 && allZero(data)
	if idle {
		if n := len(tb.entries); n > 0 {
			last := &tb.entries[n-1]
			if last.Idle && last.Direction == dir && len(last.Data) == len(data) {
				last.Repeat++
				last.Timestamp = tb.now()
				return
			}
		}
	}

	entry := TraceEntry{
		Direction: dir,
		Data:      append([]byte(nil), data...),
		Timestamp: tb.now(),
		Note:      note,
		Idle:      idle,
	}
	if idle {
		entry.Repeat = 1
	} else if len(data) > 0 {
		entry.Frame = HeaderType(data[0])
	}

	if len(tb.entries) >= tb.maxSize {
		copy(tb.entries, tb.entries[1:])
		tb.entries[len(tb.entries)-1] = entry
		return
	}
	tb.entries = append(tb.entries, entry)
}

// WrapError attaches a snapshot of the trace to err. Returns nil if err is nil.
func (tb *TraceBuffer) WrapError(err error) error {
	if err == nil {
		return nil
	}
	return &TraceableError{
		Err:       err,
		Trace:     append([]TraceEntry(nil), tb.entries...),
		Transport: tb.transport,
		Port:      tb.port,
	}
}

// Clear resets the trace buffer
func (tb *TraceBuffer) Clear() {
	tb.entries = tb.entries[:0]
}

// GetTrace extracts trace data from an error, returning nil if not present
func GetTrace(err error) *TraceableError {
	var te *TraceableError
	if errors.As(err, &te) {
		return te
	}
	return nil
}

func allZero(data []byte) bool {
	for _, b := range data {
		if b != 0 {
			return false
		}
	}
	return true
}
