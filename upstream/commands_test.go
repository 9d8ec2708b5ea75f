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

package upstream

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cngw "github.com/cencepower/cngw"
	"github.com/cencepower/cngw/internal/syncutil"
	testutil "github.com/cencepower/cngw/internal/testing"
)

type fakeOTA struct {
	beginErr error
	dataErr  error
	endErr   error
	result   chan error
	begun    []OTABegin
	packets  [][]byte
	ended    []uint32
	mu       syncutil.Mutex
}

func newFakeOTA() *fakeOTA {
	return &fakeOTA{result: make(chan error, 1)}
}

func (f *fakeOTA) Begin(name string, size uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.begun = append(f.begun, OTABegin{Name: name, Size: size})
	return f.beginErr
}

func (f *fakeOTA) Data(raw []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.packets = append(f.packets, raw)
	return f.dataErr
}

func (f *fakeOTA) EndAsync(ctx context.Context, count uint32) (<-chan error, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ended = append(f.ended, count)
	if f.endErr != nil {
		return nil, f.endErr
	}
	if ctx.Done() != nil {
		return nil, errors.New("end must not be cancellable")
	}
	return f.result, nil
}

func (f *fakeOTA) snapshot() (begun []OTABegin, packets [][]byte, ended []uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]OTABegin(nil), f.begun...), append([][]byte(nil), f.packets...), append([]uint32(nil), f.ended...)
}

type fakeStarter struct {
	err    error
	starts int
}

func (f *fakeStarter) Start(context.Context) error {
	f.starts++
	return f.err
}

func envelope(t *testing.T, typ MessageType, payload any) Envelope {
	t.Helper()
	data, err := Encode(typ, payload)
	require.NoError(t, err)
	env, err := Decode(data)
	require.NoError(t, err)
	return env
}

func TestCommandHandler_OTASession(t *testing.T) {
	t.Parallel()
	ota := newFakeOTA()
	rec := testutil.NewRecorder()
	h := NewCommandHandler(ota, nil, rec)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, h.Handle(ctx, envelope(t, MsgOTABegin, OTABegin{Name: "cense_sw_mcu-v1.3.0.0.", Size: 6})))
	require.NoError(t, h.Handle(ctx, envelope(t, MsgOTAData, OTAData{Packet: []byte{1, 0, 6, 0, 1, 2, 3, 4, 5, 6}})))
	require.NoError(t, h.Handle(ctx, envelope(t, MsgOTAEnd, OTAEnd{Count: 1})))

	ota.result <- nil
	h.Wait()

	begun, packets, ended := ota.snapshot()
	assert.Equal(t, []OTABegin{{Name: "cense_sw_mcu-v1.3.0.0.", Size: 6}}, begun)
	require.Len(t, packets, 1)
	assert.Equal(t, []uint32{1}, ended)
	assert.Empty(t, rec.Published())
}

func TestCommandHandler_RejectionsArePublished(t *testing.T) {
	t.Parallel()

	tests := []struct {
		setup func(*fakeOTA)
		env   func(*testing.T) Envelope
		want  error
		name  string
	}{
		{
			name:  "begin refused",
			setup: func(f *fakeOTA) { f.beginErr = cngw.ErrVersionRejected },
			env: func(t *testing.T) Envelope {
				return envelope(t, MsgOTABegin, OTABegin{Name: "cense_cn_mcu-v2.5.18.0.", Size: 10})
			},
			want: cngw.ErrVersionRejected,
		},
		{
			name:  "data without session",
			setup: func(f *fakeOTA) { f.dataErr = cngw.ErrNoOTASession },
			env:   func(t *testing.T) Envelope { return envelope(t, MsgOTAData, OTAData{Packet: []byte{1}}) },
			want:  cngw.ErrNoOTASession,
		},
		{
			name:  "end incomplete",
			setup: func(f *fakeOTA) { f.endErr = cngw.ErrSequence },
			env:   func(t *testing.T) Envelope { return envelope(t, MsgOTAEnd, OTAEnd{Count: 3}) },
			want:  cngw.ErrSequence,
		},
		{
			name:  "malformed payload",
			setup: func(*fakeOTA) {},
			env:   func(t *testing.T) Envelope { return envelope(t, MsgOTABegin, []int{1, 2}) },
			want:  ErrMalformed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ota := newFakeOTA()
			tt.setup(ota)
			rec := testutil.NewRecorder()
			h := NewCommandHandler(ota, nil, rec)

			err := h.Handle(context.Background(), tt.env(t))
			require.ErrorIs(t, err, tt.want)
			assert.True(t, rec.HasPublished(cngw.PublishError, err.Error()))
		})
	}
}

func TestCommandHandler_ConfigReload(t *testing.T) {
	t.Parallel()
	starter := &fakeStarter{}
	h := NewCommandHandler(newFakeOTA(), starter, nil)

	require.NoError(t, h.Handle(context.Background(), envelope(t, MsgConfigReload, nil)))
	assert.Equal(t, 1, starter.starts)

	noConfig := NewCommandHandler(newFakeOTA(), nil, nil)
	require.ErrorIs(t, noConfig.Handle(context.Background(), envelope(t, MsgConfigReload, nil)), ErrUnsupported)
}

func TestCommandHandler_Unsupported(t *testing.T) {
	t.Parallel()
	h := NewCommandHandler(newFakeOTA(), nil, nil)

	err := h.Handle(context.Background(), envelope(t, MsgPublish, PublishRecord{}))
	require.ErrorIs(t, err, ErrUnsupported)
}
