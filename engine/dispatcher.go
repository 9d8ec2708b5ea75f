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

package engine

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/rs/zerolog"

	cngw "github.com/cencepower/cngw"
	"github.com/cencepower/cngw/boardinfo"
	"github.com/cencepower/cngw/internal/frame"
	"github.com/cencepower/cngw/wire"
)

// Handshake is the pairing state machine fed by the dispatcher.
type Handshake interface {
	HandleCN1(ctx context.Context, cn1 *wire.CN1) error
	HandleCN2(ctx context.Context, cn2 *wire.CN2) error
	MarkEstablished()
}

// OTA receives the mainboard's transfer statuses.
type OTA interface {
	Status(s wire.OTAStatusCode)
	Transferring() bool
}

// ConfigSync receives configuration records and channel statuses.
type ConfigSync interface {
	Deliver(msg *wire.ConfigMessage) bool
	HandleStatus(ctx context.Context, status wire.ConfigStatus) error
}

// Handlers are the dispatcher's destinations. Board is required; nil
// handlers drop their frames after consuming them.
type Handlers struct {
	Board     *boardinfo.Store
	Handshake Handshake
	OTA       OTA
	Config    ConfigSync
	// Flush empties the outbound queue once the mainboard has announced its
	// CN MCU. Anything queued before that was addressed to a peer that has
	// since restarted.
	Flush func() int
	// Query asks for a GetAllChannelInfo snapshot to be answered.
	Query func()
}

// DispatchStats counts what the frame walker has seen.
type DispatchStats struct {
	Frames         int64 // frames handled
	Resyncs        int64 // single-byte advances over bad headers
	ChecksumErrors int64 // message CRC failures
	Unknown        int64 // valid headers of an unknown type
	Ignored        int64 // handshake frames dropped during an OTA transfer
}

// Dispatcher walks inbound buffers and routes each frame. It runs on the
// process loop, which makes it the only writer of the board-info store.
type Dispatcher struct {
	h       Handlers
	collab  cngw.Collaborators
	log     zerolog.Logger
	mbLog   zerolog.Logger
	verbose bool

	frames         int64
	resyncs        int64
	checksumErrors int64
	unknown        int64
	ignored        int64
}

// NewDispatcher creates a dispatcher over h.
func NewDispatcher(h Handlers, collab cngw.Collaborators, verbose bool) *Dispatcher {
	return &Dispatcher{
		h:       h,
		collab:  collab.Normalize(),
		log:     cngw.Logger("dispatcher"),
		mbLog:   cngw.Logger("mainboard"),
		verbose: verbose,
	}
}

// Stats returns a copy of the counters.
func (d *Dispatcher) Stats() DispatchStats {
	return DispatchStats{
		Frames:         atomic.LoadInt64(&d.frames),
		Resyncs:        atomic.LoadInt64(&d.resyncs),
		ChecksumErrors: atomic.LoadInt64(&d.checksumErrors),
		Unknown:        atomic.LoadInt64(&d.unknown),
		Ignored:        atomic.LoadInt64(&d.ignored),
	}
}

// Process walks buf frame by frame until it is consumed.
func (d *Dispatcher) Process(ctx context.Context, buf []byte) {
	for off := 0; off < len(buf); {
		off += d.ParseOneFrame(ctx, buf[off:])
	}
}

// ParseOneFrame handles the frame at the start of buf and returns the number
// of bytes consumed, always at least one. Fewer bytes than a header consume
// the rest of the buffer. A bad header, a failed message checksum or an
// unknown command consumes a single byte so the walk can find the next
// frame at any alignment.
func (d *Dispatcher) ParseOneFrame(ctx context.Context, buf []byte) int {
	if len(buf) < frame.HeaderSize {
		return len(buf)
	}
	h, err := frame.DecodeHeader(buf)
	if err != nil {
		atomic.AddInt64(&d.resyncs, 1)
		return 1
	}
	if d.verbose {
		d.log.Debug().Stringer("type", h.Type).Uint16("size", h.DataSize).Msg("frame header")
	}

	var n int
	switch h.Type {
	case cngw.HeaderQuery:
		n = d.query(buf)
	case cngw.HeaderStatusUpdate:
		n = d.statusUpdate(buf)
	case cngw.HeaderOta:
		n = d.otaStatus(buf)
	case cngw.HeaderLog:
		n = d.logFrame(buf)
	case cngw.HeaderConfigMessage:
		n = d.configMessage(buf)
	case cngw.HeaderConfiguration:
		n = d.configuration(ctx, buf)
	case cngw.HeaderDeviceReport:
		n = d.deviceReport(buf)
	case cngw.HeaderHandshakeCommand:
		n = d.handshake(ctx, buf)
	case cngw.HeaderDirectControl:
		n = d.directControl(buf)
	default:
		// Zero padding decodes as a valid header of the invalid type.
		if h.Type != cngw.HeaderInvalid {
			atomic.AddInt64(&d.unknown, 1)
		}
		return 1
	}
	if n == 0 {
		return 1
	}
	atomic.AddInt64(&d.frames, 1)
	return n
}

// command returns the first body byte, which selects the variant.
func command(buf []byte) (uint8, bool) {
	if len(buf) <= frame.HeaderSize {
		return 0, false
	}
	return buf[frame.HeaderSize], true
}

// decode unpacks a frame whose body is size bytes. Checked messages must be
// complete and pass their CRC8. Unchecked ones may be cut off by the end of
// the exchange; the missing tail reads as zeros. Returns the bytes consumed,
// zero on failure.
func (d *Dispatcher) decode(buf []byte, size int, m wire.Message, checked bool) int {
	n := frame.HeaderSize + size
	consumed := n
	if len(buf) < n {
		if checked {
			atomic.AddInt64(&d.checksumErrors, 1)
			return 0
		}
		consumed = len(buf)
		padded := make([]byte, n)
		copy(padded, buf)
		buf = padded
	}
	body := buf[frame.HeaderSize:n]
	if checked && !frame.ValidateBody(body) {
		atomic.AddInt64(&d.checksumErrors, 1)
		return 0
	}
	if err := wire.Unmarshal(body, m); err != nil {
		d.log.Warn().Err(err).Msg("frame decode failed")
		return 0
	}
	return consumed
}

func (d *Dispatcher) query(buf []byte) int {
	cmd, _ := command(buf)
	if cmd != wire.QueryBackwardFrame && cmd != wire.QueryGetAllChannelInfo {
		return 0
	}
	var q wire.Query
	n := d.decode(buf, wire.QuerySize, &q, true)
	if n == 0 {
		return 0
	}
	if q.Command == wire.QueryGetAllChannelInfo {
		d.log.Debug().Msg("mainboard asked for all channel info")
		if d.h.Query != nil {
			d.h.Query()
		}
		return n
	}
	d.log.Debug().Msg("backward frame query")
	return n
}

func (d *Dispatcher) statusUpdate(buf []byte) int {
	cmd, _ := command(buf)
	switch cmd {
	case wire.StatusUpdateChannel:
		var s wire.StatusChannel
		n := d.decode(buf, wire.StatusChannelSize, &s, true)
		if n > 0 {
			d.h.Board.SetChannelStatus(s.Address, s.StatusMask)
		}
		return n
	case wire.StatusUpdateAttribute:
		var a wire.StatusAttribute
		n := d.decode(buf, wire.StatusAttributeSize, &a, true)
		if n > 0 {
			d.h.Board.SetChannelAttribute(a.Address, a.Attribute, a.Value)
		}
		return n
	default:
		return 0
	}
}

// otaStatus forwards a transfer status. The mainboard does not seal these.
func (d *Dispatcher) otaStatus(buf []byte) int {
	var s wire.OTAStatus
	n := d.decode(buf, wire.OTAStatusSize, &s, false)
	if n == 0 {
		return 0
	}
	if s.Status == wire.OTAStatusRestart {
		d.log.Error().Msg("mainboard asked for the ota transfer to restart")
	}
	if d.h.OTA != nil {
		d.h.OTA.Status(s.Status)
	}
	return n
}

// logFrame forwards a mainboard log line. Log frames are longer than one
// exchange, so the tail of the text is routinely missing.
func (d *Dispatcher) logFrame(buf []byte) int {
	var l wire.Log
	n := d.decode(buf, wire.LogSize, &l, false)
	if n == 0 {
		return 0
	}
	if l.Severity == 0 {
		return n
	}
	kind := "string"
	if l.Command == wire.LogErrCode {
		kind = "errcode"
	}
	d.mbLog.WithLevel(logLevel(l.Severity)).
		Str("kind", kind).
		Str("serial", serialString(l.Serial[:])).
		Msg(l.Message())
	return n
}

// logLevel maps the mainboard severity scale onto zerolog.
func logLevel(severity uint8) zerolog.Level {
	switch severity {
	case 1:
		return zerolog.ErrorLevel
	case 2:
		return zerolog.WarnLevel
	case 3:
		return zerolog.InfoLevel
	case 4:
		return zerolog.DebugLevel
	case 5:
		return zerolog.TraceLevel
	default:
		return zerolog.NoLevel
	}
}

func serialString(b []byte) string {
	for i, c := range b {
		if c < 0x20 || c > 0x7E {
			return string(b[:i])
		}
	}
	return string(b)
}

func (d *Dispatcher) configMessage(buf []byte) int {
	var m wire.ConfigMessage
	n := d.decode(buf, wire.ConfigMessageSize, &m, true)
	if n == 0 {
		return 0
	}
	if d.h.Config != nil {
		d.h.Config.Deliver(&m)
	}
	return n
}

// configuration handles the unsealed channel status frame.
func (d *Dispatcher) configuration(ctx context.Context, buf []byte) int {
	var s wire.ChannelStatus
	n := d.decode(buf, wire.ChannelStatusSize, &s, false)
	if n == 0 {
		return 0
	}
	if s.Command != wire.ConfigChannelStatus {
		d.log.Debug().Stringer("command", s.Command).Msg("configuration frame ignored")
		return n
	}
	if d.h.Config == nil {
		return n
	}
	if err := d.h.Config.HandleStatus(ctx, s.Status); err != nil && !errors.Is(err, context.Canceled) {
		d.log.Warn().Err(err).Stringer("status", s.Status).Msg("configuration status not handled")
	}
	return n
}

func (d *Dispatcher) deviceReport(buf []byte) int {
	cmd, _ := command(buf)
	switch cmd {
	case wire.DeviceReportUpdate:
		var u wire.DeviceUpdate
		n := d.decode(buf, wire.DeviceUpdateSize, &u, true)
		if n > 0 {
			d.deviceUpdate(&u)
		}
		return n
	case wire.DeviceReportRemove:
		var r wire.DeviceRemove
		n := d.decode(buf, wire.DeviceRemoveSize, &r, true)
		if n > 0 && !d.h.Board.RemoveDevice(r.MCU) {
			d.log.Warn().Stringer("mcu", r.MCU).Msg("device remove for unknown mcu")
		}
		return n
	default:
		return 0
	}
}

func (d *Dispatcher) deviceUpdate(u *wire.DeviceUpdate) {
	if u.MCU == cngw.MCUGW {
		return
	}
	if !d.h.Board.SetDevice(u.MCU, boardinfo.DeviceFromUpdate(u)) {
		d.log.Warn().Stringer("mcu", u.MCU).Msg("device update for unknown mcu")
		return
	}
	d.log.Info().Stringer("mcu", u.MCU).Stringer("firmware", u.Application).Msg("device reported")
	if u.MCU != cngw.MCUCN {
		return
	}

	if d.h.Flush != nil {
		if dropped := d.h.Flush(); dropped > 0 {
			d.log.Debug().Int("dropped", dropped).Msg("outbound queue flushed")
		}
	}
	d.collab.Notifier.Notify(cngw.LEDIdle, cngw.LEDTargetCN)
	if d.h.Handshake != nil {
		d.h.Handshake.MarkEstablished()
	}
	d.log.Info().Msg(cngw.MsgConnected)
	d.collab.Publisher.Publish(cngw.PublishInfo, 0, cngw.MsgConnected)
}

// handshake routes CN1 and CN2. While an OTA image is being pushed the
// mainboard's bootloader owns the link and handshake frames are dropped.
func (d *Dispatcher) handshake(ctx context.Context, buf []byte) int {
	cmd, _ := command(buf)
	var size int
	switch cmd {
	case wire.HandshakeCN1:
		size = wire.CN1Size
	case wire.HandshakeCN2:
		size = wire.HandshakeAckSize
	default:
		return 0
	}
	if d.h.OTA != nil && d.h.OTA.Transferring() {
		atomic.AddInt64(&d.ignored, 1)
		return min(frame.HeaderSize+size, len(buf))
	}

	var err error
	n := 0
	switch cmd {
	case wire.HandshakeCN1:
		var cn1 wire.CN1
		if n = d.decode(buf, size, &cn1, false); n > 0 && d.h.Handshake != nil {
			err = d.h.Handshake.HandleCN1(ctx, &cn1)
		}
	case wire.HandshakeCN2:
		var cn2 wire.CN2
		if n = d.decode(buf, size, &cn2, false); n > 0 && d.h.Handshake != nil {
			err = d.h.Handshake.HandleCN2(ctx, &cn2)
		}
	}
	if err != nil {
		d.log.Warn().Err(err).Uint8("command", cmd).Msg("handshake step failed")
	}
	return n
}

func (d *Dispatcher) directControl(buf []byte) int {
	var dc wire.DirectControl
	n := d.decode(buf, wire.DirectControlSize, &dc, true)
	if n == 0 {
		return 0
	}
	ev := d.log.Info()
	switch dc.Result {
	case wire.DirectControlSuccess:
		ev = ev.Str("result", "success")
	case wire.DirectControlError:
		ev = d.log.Warn().Str("result", "error")
	default:
		ev = ev.Uint8("result", dc.Result)
	}
	ev.Uint8("command", dc.Command).Stringer("mcu", dc.TargetMCU).Msg("direct control acknowledged")
	return n
}
