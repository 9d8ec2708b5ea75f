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
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	cngw "github.com/cencepower/cngw"
	"github.com/cencepower/cngw/wire"
)

// Progress phases
const (
	PhaseHeaders   = "headers"
	PhaseSending   = "sending"
	PhaseFinishing = "finishing"
	PhaseComplete  = "complete"
)

// Progress describes a running mainboard transfer.
type Progress struct {
	Phase       string
	Chunk       int
	TotalChunks int
	BytesSent   int
	Restarts    int
	Percentage  float64
	ElapsedTime time.Duration
}

// ProgressCallback receives transfer progress. It runs on the transfer
// goroutine and must return quickly.
type ProgressCallback func(Progress)

// FrameSender queues a complete frame for the mainboard.
type FrameSender interface {
	SendFrame(frame []byte) error
}

// QueueHealth exposes the transport's sticky inbound queue fault. A
// transfer cannot trust its Acks once inbound frames have been dropped.
type QueueHealth interface {
	QueueError() bool
}

// Image is a staged image ready to be sent to the mainboard.
type Image struct {
	Target Target
	// Size is the image size announced in PackageHeaderInfo.
	Size uint32
	// Data is what gets chunked: the image plus its trailer.
	Data []byte
	CRC  uint32
	// Bundle sends several chunks per Ack, for older CN firmware.
	Bundle bool
}

var errRestartTransfer = errors.New("mainboard requested transfer restart")

// Transfer pushes staged images to the mainboard. Run blocks for the whole
// transfer and is meant for its own goroutine; the dispatcher feeds the
// mainboard's OTA status frames in through Deliver.
type Transfer struct {
	sender   FrameSender
	health   QueueHealth
	config   *Config
	statuses chan wire.OTAStatusCode
	log      zerolog.Logger
	running  atomic.Bool
	accepted bool
}

// NewTransfer creates a transfer task. health may be nil.
func NewTransfer(sender FrameSender, health QueueHealth, config *Config) *Transfer {
	if config == nil {
		config = DefaultConfig()
	}
	return &Transfer{
		sender:   sender,
		health:   health,
		config:   config,
		statuses: make(chan wire.OTAStatusCode, 8),
		log:      cngw.Logger("ota-transfer"),
	}
}

// Running reports whether a transfer is in progress.
func (t *Transfer) Running() bool {
	return t.running.Load()
}

// Deliver hands an OTA status from the mainboard to the running transfer.
// Statuses arriving while nothing runs, or faster than they are consumed,
// are dropped.
func (t *Transfer) Deliver(status wire.OTAStatusCode) bool {
	if !t.Running() {
		t.log.Debug().Stringer("status", status).Msg("ota status with no transfer running")
		return false
	}
	select {
	case t.statuses <- status:
		return true
	default:
		t.log.Warn().Stringer("status", status).Msg("ota status mailbox full, dropping")
		return false
	}
}

// Run sends img and waits for the mainboard's verdict. A missing Ack or a
// Restart status starts the sequence over from FileHeaderInfo until
// TransferTimeout expires.
func (t *Transfer) Run(ctx context.Context, img *Image) error {
	if !t.running.CompareAndSwap(false, true) {
		return cngw.ErrOTAInProgress
	}
	defer t.running.Store(false)

	ctx, cancel := context.WithTimeout(ctx, t.config.TransferTimeout)
	defer cancel()

	start := time.Now()
	for restarts := 0; ; restarts++ {
		t.drain()
		t.accepted = false
		err := t.attempt(ctx, img, start, restarts)
		switch {
		case err == nil:
			t.report(Progress{
				Phase: PhaseComplete, Percentage: 100, Restarts: restarts,
				BytesSent: len(img.Data), ElapsedTime: time.Since(start),
			})
			return nil
		case errors.Is(err, errRestartTransfer):
			t.log.Warn().Int("restarts", restarts+1).Msg("restarting mainboard transfer")
		case errors.Is(err, context.DeadlineExceeded):
			return fmt.Errorf("%w: mainboard transfer exceeded %s", cngw.ErrTimeout, t.config.TransferTimeout)
		default:
			return err
		}
	}
}

func (t *Transfer) attempt(ctx context.Context, img *Image, start time.Time, restarts int) error {
	ackTimeout := t.config.ackTimeout(img.Target.Type)
	headers := []wire.Message{
		&wire.OTAFileHeader{
			Command:     wire.OTACmdFileHeader,
			DistRelease: t.config.DistRelease,
			BinaryCount: 1,
		},
		&wire.OTAPackageHeader{
			Command:  wire.OTACmdPackageHeader,
			Type:     img.Target.Type,
			Version:  img.Target.Version,
			Size:     img.Size,
			ImageCRC: img.CRC,
		},
		&wire.OTACryptoInfo{Command: wire.OTACmdCryptoInfo},
	}

	t.report(Progress{Phase: PhaseHeaders, Restarts: restarts, ElapsedTime: time.Since(start)})
	for _, m := range headers {
		f, err := wire.Encode(m)
		if err != nil {
			return err
		}
		if err := t.send(f); err != nil {
			return err
		}
		if err := t.waitAck(ctx, ackTimeout); err != nil {
			return err
		}
	}

	total := (len(img.Data) + wire.OTAChunkSize - 1) / wire.OTAChunkSize
	unacked := 0
	for i := 0; i < total; i++ {
		end := min((i+1)*wire.OTAChunkSize, len(img.Data))
		f, err := wire.EncodeOTAChunk(img.Data[i*wire.OTAChunkSize : end])
		if err != nil {
			return err
		}
		if err := t.send(f); err != nil {
			return err
		}

		sent := i + 1
		if sent%100 == 0 || sent == total {
			t.log.Debug().Int("chunk", sent).Int("total", total).Msg("ota chunk sent")
		}
		t.report(Progress{
			Phase:       PhaseSending,
			Chunk:       sent,
			TotalChunks: total,
			BytesSent:   end,
			Restarts:    restarts,
			Percentage:  float64(sent) / float64(total) * 100,
			ElapsedTime: time.Since(start),
		})
		if sent == total {
			break
		}

		if img.Bundle {
			unacked++
			acked, err := t.ackPending()
			if err != nil {
				return err
			}
			if acked {
				unacked = 0
				continue
			}
			if limit := bundleLimit(img.Target.Type, sent); unacked < limit {
				if err := cngw.SleepCtx(ctx, t.config.BundleDelay); err != nil {
					return err
				}
				continue
			}
		}
		if err := t.waitAck(ctx, ackTimeout); err != nil {
			return err
		}
		unacked = 0
	}

	t.report(Progress{
		Phase: PhaseFinishing, Chunk: total, TotalChunks: total, BytesSent: len(img.Data),
		Restarts: restarts, Percentage: 100, ElapsedTime: time.Since(start),
	})
	return t.awaitAcceptance(ctx)
}

// bundleLimit is how many chunks may be in flight for a target once sent
// chunks have gone out. Zero means every chunk waits for its Ack.
func bundleLimit(target wire.BinaryType, sent int) int {
	switch {
	case target == wire.BinaryDR && sent > 4:
		return 6
	case target == wire.BinaryCN && sent > 3:
		return 7
	default:
		return 0
	}
}

func (t *Transfer) send(f []byte) error {
	if t.health != nil && t.health.QueueError() {
		return fmt.Errorf("%w: inbound frames dropped during transfer", cngw.ErrQueueFull)
	}
	if err := t.sender.SendFrame(f); err != nil {
		return fmt.Errorf("queue ota frame: %w", err)
	}
	return nil
}

// waitAck blocks until the mainboard asks for the next frame. An Error
// status advances too: the mainboard reports it for frames it has already
// discarded and then expects the sequence to continue.
func (t *Transfer) waitAck(ctx context.Context, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return fmt.Errorf("%w: no ack within %s", errRestartTransfer, timeout)
		case s := <-t.statuses:
			switch s {
			case wire.OTAStatusAck:
				return nil
			case wire.OTAStatusRestart:
				return errRestartTransfer
			case wire.OTAStatusSuccess:
				t.accepted = true
			default:
				t.log.Warn().Stringer("status", s).Msg("mainboard reported ota error, continuing")
				return nil
			}
		}
	}
}

// ackPending consumes queued statuses without blocking and reports whether
// any of them released the next frame.
func (t *Transfer) ackPending() (bool, error) {
	got := false
	for {
		select {
		case s := <-t.statuses:
			switch s {
			case wire.OTAStatusRestart:
				return false, errRestartTransfer
			case wire.OTAStatusSuccess:
				t.accepted = true
			default:
				got = true
			}
		default:
			return got, nil
		}
	}
}

func (t *Transfer) awaitAcceptance(ctx context.Context) error {
	if t.accepted {
		return nil
	}
	timer := time.NewTimer(t.config.FinalStatusTimeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return fmt.Errorf("%w: no final status from mainboard", cngw.ErrTimeout)
		case s := <-t.statuses:
			switch s {
			case wire.OTAStatusSuccess:
				return nil
			case wire.OTAStatusAck:
			default:
				return fmt.Errorf("%w: final status %s", cngw.ErrMainboardRejected, s)
			}
		}
	}
}

func (t *Transfer) drain() {
	for {
		select {
		case <-t.statuses:
		default:
			return
		}
	}
}

func (t *Transfer) report(p Progress) {
	if t.config.Progress != nil {
		t.config.Progress(p)
	}
}
