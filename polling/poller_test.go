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
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cngw "github.com/cencepower/cngw"
	"github.com/cencepower/cngw/boardinfo"
	testutil "github.com/cencepower/cngw/internal/testing"
	"github.com/cencepower/cngw/wire"
)

// mainboard answers configuration requests by calling Deliver, as the
// dispatcher would. answer decides whether the n-th request gets a reply.
type mainboard struct {
	poller *Poller
	answer func(n int, req *wire.ConfigRequest) bool
	sent   []wire.Message
	mu     sync.Mutex
}

func (m *mainboard) Send(msg wire.Message) error {
	m.mu.Lock()
	m.sent = append(m.sent, msg)
	n := len(m.sent)
	m.mu.Unlock()

	req, ok := msg.(*wire.ConfigRequest)
	if !ok || m.poller == nil {
		return nil
	}
	if m.answer != nil && !m.answer(n, req) {
		return nil
	}
	m.poller.Deliver(record(req.Command, req.Slot))
	return nil
}

func (m *mainboard) requests() []wire.ConfigRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []wire.ConfigRequest
	for _, msg := range m.sent {
		if req, ok := msg.(*wire.ConfigRequest); ok {
			out = append(out, *req)
		}
	}
	return out
}

func (m *mainboard) messages() []wire.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]wire.Message(nil), m.sent...)
}

func record(cmd wire.ConfigCommand, slot uint8) *wire.ConfigMessage {
	msg := &wire.ConfigMessage{Command: cmd, Slot: slot}
	msg.Body[0] = byte(cmd)
	msg.Body[1] = slot
	msg.Body[59] = 0xA5
	return msg
}

func testConfig() *Config {
	return &Config{
		Tick:           time.Millisecond,
		ResendInterval: 20 * time.Millisecond,
		SessionTimeout: 5 * time.Second,
		VerboseTimeout: 10 * time.Second,
	}
}

func newPollerFixture(t *testing.T, config *Config) (*Poller, *mainboard, *boardinfo.Store, *testutil.Recorder) {
	t.Helper()
	mb := &mainboard{}
	board := boardinfo.NewStore()
	rec := testutil.NewRecorder()
	p := NewPoller(mb, board, config, rec.Collaborators())
	mb.poller = p
	t.Cleanup(p.Stop)
	return p, mb, board, rec
}

func waitStopped(t *testing.T, p *Poller) {
	t.Helper()
	require.Eventually(t, func() bool { return !p.Running() }, 5*time.Second, time.Millisecond)
}

func TestPoller_CompleteWalk(t *testing.T) {
	t.Parallel()
	p, mb, board, rec := newPollerFixture(t, testConfig())

	require.NoError(t, p.Start(context.Background()))
	waitStopped(t, p)

	assert.Equal(t, OutcomeComplete, p.Outcome())
	assert.True(t, rec.HasPublished(cngw.PublishInfo, cngw.MsgConfigCopied))
	assert.True(t, rec.HasLED(cngw.LEDBusy, cngw.LEDTargetCN))
	assert.True(t, rec.HasLED(cngw.LEDIdle, cngw.LEDTargetCN))
	assert.False(t, rec.HasLED(cngw.LEDError, cngw.LEDTargetCN))

	reqs := mb.requests()
	require.Len(t, reqs, TotalSteps())
	step := FirstStep()
	for i, req := range reqs {
		assert.Equal(t, step, Step{req.Command, req.Slot}, "request %d", i)
		step, _ = Next(step)
	}

	snap := board.Snapshot()
	assert.True(t, snap.GeneralValid)
	assert.Equal(t, byte(wire.ConfigInfoDriver), snap.DriverConfig[7][4][0])
	assert.Equal(t, uint8(39), snap.DriverConfig[7][4][1])
	assert.Equal(t, uint8(31), snap.WiredSwitches[31][1])
	assert.Equal(t, uint8(127), snap.WirelessSwitches[127][1])
	assert.Equal(t, byte(0xA5), snap.Sensors[31][59])

	m := p.Metrics()
	assert.Equal(t, int64(1), m.Walks)
	assert.Equal(t, int64(TotalSteps()), m.Records)
	assert.Zero(t, m.Resends)
}

func TestPoller_ResendsUnansweredRequest(t *testing.T) {
	t.Parallel()
	p, mb, _, _ := newPollerFixture(t, testConfig())
	mb.answer = func(n int, req *wire.ConfigRequest) bool {
		// The first two attempts at the first driver partition go unanswered.
		if req.Command == wire.ConfigInfoDriver && req.Slot == 0 {
			return countRequests(mb, *req) > 2
		}
		return true
	}

	require.NoError(t, p.Start(context.Background()))
	waitStopped(t, p)

	assert.Equal(t, OutcomeComplete, p.Outcome())
	assert.Equal(t, 3, countRequests(mb, wire.ConfigRequest{Command: wire.ConfigInfoDriver}))
	assert.Equal(t, int64(2), p.Metrics().Resends)
}

func countRequests(mb *mainboard, want wire.ConfigRequest) int {
	n := 0
	for _, req := range mb.requests() {
		if req.Command == want.Command && req.Slot == want.Slot {
			n++
		}
	}
	return n
}

func TestPoller_SessionTimeout(t *testing.T) {
	t.Parallel()
	config := testConfig()
	config.SessionTimeout = 80 * time.Millisecond
	p, mb, _, rec := newPollerFixture(t, config)
	mb.answer = func(int, *wire.ConfigRequest) bool { return false }

	require.NoError(t, p.Start(context.Background()))
	waitStopped(t, p)

	assert.Equal(t, OutcomeTimeout, p.Outcome())
	assert.True(t, rec.HasPublished(cngw.PublishError, cngw.MsgConfigTimeout))
	assert.True(t, rec.HasLED(cngw.LEDError, cngw.LEDTargetCN))
	assert.Equal(t, FirstStep(), p.Position())
	assert.Greater(t, p.Metrics().Resends, int64(0))

	for _, req := range mb.requests() {
		assert.Equal(t, wire.ConfigGeneralInfo, req.Command)
	}

	// A timed out walk has to be started again by the caller.
	config.SessionTimeout = testConfig().SessionTimeout
	mb.answer = nil
	require.NoError(t, p.Start(context.Background()))
	waitStopped(t, p)
	assert.Equal(t, OutcomeComplete, p.Outcome())
}

func TestConfig_Timeout(t *testing.T) {
	t.Parallel()

	c := DefaultConfig()
	assert.Equal(t, 18*time.Second, c.timeout())
	c.Verbose = true
	assert.Equal(t, 78*time.Second, c.timeout())
}

func TestPoller_StartWhileRunning(t *testing.T) {
	t.Parallel()
	p, mb, _, rec := newPollerFixture(t, testConfig())
	mb.answer = func(int, *wire.ConfigRequest) bool { return false }

	require.NoError(t, p.Start(context.Background()))
	err := p.Start(context.Background())
	require.ErrorIs(t, err, ErrAlreadyRunning)
	assert.True(t, rec.HasPublished(cngw.PublishError, cngw.MsgTaskRunning))

	p.Stop()
	assert.False(t, p.Running())
	assert.Equal(t, OutcomeStopped, p.Outcome())
}

func TestPoller_StaleRecordDoesNotAdvance(t *testing.T) {
	t.Parallel()
	p, mb, board, _ := newPollerFixture(t, testConfig())
	mb.answer = func(int, *wire.ConfigRequest) bool { return false }

	require.NoError(t, p.Start(context.Background()))
	require.True(t, p.Deliver(record(wire.ConfigGeneralInfo, 0)))
	require.Equal(t, Step{wire.ConfigInfoDriver, 0}, p.Position())

	// A late duplicate of the previous record and a record from further on
	// are both stored but leave the walk where it is.
	assert.False(t, p.Deliver(record(wire.ConfigGeneralInfo, 0)))
	assert.False(t, p.Deliver(record(wire.ConfigSensor, 3)))
	assert.Equal(t, Step{wire.ConfigInfoDriver, 0}, p.Position())
	assert.Equal(t, uint8(3), board.Snapshot().Sensors[3][1])
	assert.Equal(t, int64(2), p.Metrics().Ignored)

	assert.True(t, p.Deliver(record(wire.ConfigInfoDriver, 0)))
	assert.Equal(t, Step{wire.ConfigInfoDriver, 1}, p.Position())
}

func TestPoller_RejectsOutOfRangeSlot(t *testing.T) {
	t.Parallel()
	p, mb, _, _ := newPollerFixture(t, testConfig())
	mb.answer = func(int, *wire.ConfigRequest) bool { return false }

	require.NoError(t, p.Start(context.Background()))
	assert.False(t, p.Deliver(record(wire.ConfigWiredSwitch, 200)))
	assert.Equal(t, int64(1), p.Metrics().Ignored)
	assert.Zero(t, p.Metrics().Records)
}

func TestPoller_DropsRecordsOutsideWalk(t *testing.T) {
	t.Parallel()
	p, _, board, _ := newPollerFixture(t, testConfig())

	assert.False(t, p.Deliver(record(wire.ConfigSensor, 0)))
	assert.Equal(t, boardinfo.Record{}, board.Snapshot().Sensors[0])
}

func TestPoller_ContextCancelEndsWalk(t *testing.T) {
	t.Parallel()
	p, mb, _, rec := newPollerFixture(t, testConfig())
	mb.answer = func(int, *wire.ConfigRequest) bool { return false }

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, p.Start(ctx))
	cancel()
	waitStopped(t, p)

	assert.Equal(t, OutcomeStopped, p.Outcome())
	assert.True(t, rec.HasLED(cngw.LEDIdle, cngw.LEDTargetCN))
	assert.False(t, rec.HasPublished(cngw.PublishError, cngw.MsgConfigTimeout))
}

func TestPoller_HandleStatus(t *testing.T) {
	t.Parallel()

	t.Run("done starts a walk", func(t *testing.T) {
		t.Parallel()
		p, _, _, rec := newPollerFixture(t, testConfig())
		require.NoError(t, p.HandleStatus(context.Background(), wire.ConfigStatusDone))
		waitStopped(t, p)
		assert.True(t, rec.HasPublished(cngw.PublishInfo, cngw.MsgConfigCopied))
	})

	t.Run("config change asks for the next message", func(t *testing.T) {
		t.Parallel()
		p, mb, _, _ := newPollerFixture(t, testConfig())
		require.NoError(t, p.HandleStatus(context.Background(), wire.ConfigStatusChange))
		msgs := mb.messages()
		require.Len(t, msgs, 1)
		assert.Equal(t, &wire.ChannelStatus{
			Command: wire.ConfigChannelStatus,
			Status:  wire.ConfigStatusGetNextMsg,
		}, msgs[0])
		assert.False(t, p.Running())
	})

	t.Run("restart", func(t *testing.T) {
		t.Parallel()
		p, _, _, rec := newPollerFixture(t, testConfig())
		require.NoError(t, p.HandleStatus(context.Background(), wire.ConfigStatusRestart))
		assert.Len(t, rec.Restarts(), 1)
	})

	t.Run("restart abandoned on cancel", func(t *testing.T) {
		t.Parallel()
		config := testConfig()
		config.RestartDelay = time.Hour
		p, _, _, rec := newPollerFixture(t, config)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := p.HandleStatus(ctx, wire.ConfigStatusRestart)
		assert.True(t, errors.Is(err, context.Canceled))
		assert.Empty(t, rec.Restarts())
	})

	t.Run("invalid is ignored", func(t *testing.T) {
		t.Parallel()
		p, mb, _, _ := newPollerFixture(t, testConfig())
		require.NoError(t, p.HandleStatus(context.Background(), wire.ConfigStatusInvalid))
		assert.Empty(t, mb.messages())
		assert.False(t, p.Running())
	})
}

type failingSender struct{}

func (failingSender) Send(wire.Message) error { return cngw.ErrQueueFull }

func TestPoller_QueueFullIsRetried(t *testing.T) {
	t.Parallel()
	config := testConfig()
	config.SessionTimeout = 60 * time.Millisecond
	rec := testutil.NewRecorder()
	p := NewPoller(failingSender{}, boardinfo.NewStore(), config, rec.Collaborators())

	require.NoError(t, p.Start(context.Background()))
	waitStopped(t, p)

	assert.Equal(t, OutcomeTimeout, p.Outcome())
	assert.Zero(t, p.Metrics().Requests)
	assert.Greater(t, p.Metrics().Resends, int64(0))
}
