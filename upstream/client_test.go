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
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cngw "github.com/cencepower/cngw"
	"github.com/cencepower/cngw/boardinfo"
	"github.com/cencepower/cngw/wire"
)

// cloud is a websocket server standing in for the upstream service.
type cloud struct {
	server   *httptest.Server
	conns    chan *websocket.Conn
	auth     chan string
	upgrader websocket.Upgrader
}

func newCloud(t *testing.T) *cloud {
	t.Helper()
	c := &cloud{conns: make(chan *websocket.Conn, 1), auth: make(chan string, 1)}
	c.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := c.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		c.auth <- r.Header.Get("Authorization")
		c.conns <- conn
	}))
	t.Cleanup(c.server.Close)
	return c
}

func (c *cloud) url() string {
	return "ws" + strings.TrimPrefix(c.server.URL, "http")
}

func (c *cloud) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-c.conns:
		t.Cleanup(func() { _ = conn.Close() })
		return conn
	case <-time.After(5 * time.Second):
		t.Fatal("no upstream connection")
		return nil
	}
}

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	mt, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.BinaryMessage, mt)
	env, err := Decode(data)
	require.NoError(t, err)
	return env
}

func dial(t *testing.T, c *cloud, config *Config) *Client {
	t.Helper()
	if config == nil {
		config = DefaultConfig()
	}
	config.URL = c.url()
	client, err := Dial(context.Background(), config)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestClient_Publish(t *testing.T) {
	t.Parallel()
	c := newCloud(t)
	config := DefaultConfig()
	config.Username, config.Password = "gw", "secret"
	config.Clock = func() time.Time { return time.Unix(1_700_000_000, 0) }
	client := dial(t, c, config)
	server := c.accept(t)
	assert.Equal(t, "Basic Z3c6c2VjcmV0", <-c.auth)

	client.Publish(cngw.PublishInfo, 12000, cngw.MsgOTASuccess)

	env := readEnvelope(t, server)
	require.Equal(t, MsgPublish, env.Type)
	var rec PublishRecord
	require.NoError(t, DecodePayload(env, &rec))
	assert.Equal(t, PublishRecord{
		Code: int(cngw.PublishInfo), Value: 12000, Text: cngw.MsgOTASuccess, Time: 1_700_000_000,
	}, rec)
}

func TestClient_DeadlineIgnoresReportClock(t *testing.T) {
	t.Parallel()
	config := DefaultConfig()
	config.Clock = func() time.Time { return time.Unix(0, 0) }
	c := &Client{config: config, now: config.Clock}

	assert.True(t, c.deadline().After(time.Now()))

	config.WriteTimeout = 0
	assert.True(t, c.deadline().IsZero())
}

func TestClient_RespondQuery(t *testing.T) {
	t.Parallel()
	c := newCloud(t)
	client := dial(t, c, nil)
	server := c.accept(t)

	store := boardinfo.NewStore()
	store.SetChannelStatus(wire.Address{Cabinet: 1, Type: 1, Target: 9}, 0x1)
	client.RespondQuery(store.Snapshot())

	env := readEnvelope(t, server)
	require.Equal(t, MsgChannelInfo, env.Type)
	var info ChannelInfo
	require.NoError(t, DecodePayload(env, &info))
	require.Len(t, info.Channels, 1)
	assert.Equal(t, uint8(9), info.Channels[0].Target)
}

func TestClient_ReadLoopRoutesCommands(t *testing.T) {
	t.Parallel()
	c := newCloud(t)
	client := dial(t, c, nil)
	server := c.accept(t)

	ota := newFakeOTA()
	h := NewCommandHandler(ota, nil, client)
	ctx, cancel := context.WithCancel(context.Background())
	loopErr := make(chan error, 1)
	go func() { loopErr <- client.ReadLoop(ctx, h) }()

	begin, err := Encode(MsgOTABegin, OTABegin{Name: "cense_dr_mcu-v1.0.0.0.", Size: 1000})
	require.NoError(t, err)
	require.NoError(t, server.WriteMessage(websocket.TextMessage, []byte("ignored")))
	require.NoError(t, server.WriteMessage(websocket.BinaryMessage, []byte{0xFF}))
	require.NoError(t, server.WriteMessage(websocket.BinaryMessage, begin))

	require.Eventually(t, func() bool {
		begun, _, _ := ota.snapshot()
		return len(begun) == 1
	}, 5*time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-loopErr:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("read loop did not stop")
	}
}

func TestClient_RejectionReachesCloud(t *testing.T) {
	t.Parallel()
	c := newCloud(t)
	client := dial(t, c, nil)
	server := c.accept(t)

	ota := newFakeOTA()
	ota.beginErr = cngw.ErrNotHandshaked
	h := NewCommandHandler(ota, nil, client)
	go func() { _ = client.ReadLoop(context.Background(), h) }()

	begin, err := Encode(MsgOTABegin, OTABegin{Name: "cense_cn_mcu-v2.6.0.0.", Size: 10})
	require.NoError(t, err)
	require.NoError(t, server.WriteMessage(websocket.BinaryMessage, begin))

	env := readEnvelope(t, server)
	require.Equal(t, MsgPublish, env.Type)
	var rec PublishRecord
	require.NoError(t, DecodePayload(env, &rec))
	assert.Equal(t, int(cngw.PublishError), rec.Code)
	assert.Equal(t, cngw.ErrNotHandshaked.Error(), rec.Text)
}

func TestClient_CloseEndsReadLoop(t *testing.T) {
	t.Parallel()
	c := newCloud(t)
	client := dial(t, c, nil)
	c.accept(t)

	loopErr := make(chan error, 1)
	go func() { loopErr <- client.ReadLoop(context.Background(), NewCommandHandler(newFakeOTA(), nil, nil)) }()

	require.NoError(t, client.Close())
	select {
	case err := <-loopErr:
		require.ErrorIs(t, err, ErrClientClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("read loop did not stop")
	}

	// Reports after Close are discarded quietly.
	client.Publish(cngw.PublishInfo, 0, "late")
	assert.Zero(t, client.Dropped())
}

func TestDial_RejectsScheme(t *testing.T) {
	t.Parallel()
	_, err := Dial(context.Background(), &Config{URL: "http://example.invalid/ws"})
	require.ErrorIs(t, err, cngw.ErrInvalidParameter)
}

func TestDial_Reconnect(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		status   int
		wantHits int32
		wantOK   bool
	}{
		{"server busy then accepts", http.StatusServiceUnavailable, 3, true},
		{"login refused", http.StatusUnauthorized, 1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var hits atomic.Int32
			var upgrader websocket.Upgrader
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if hits.Add(1) < 3 || tt.status == http.StatusUnauthorized {
					w.WriteHeader(tt.status)
					return
				}
				conn, err := upgrader.Upgrade(w, r, nil)
				if err == nil {
					_ = conn.Close()
				}
			}))
			t.Cleanup(server.Close)

			config := DefaultConfig()
			config.URL = "ws" + strings.TrimPrefix(server.URL, "http")
			config.Reconnect = &cngw.RetryConfig{MaxAttempts: 5, InitialBackoff: time.Millisecond, BackoffMultiplier: 1}
			client, err := Dial(context.Background(), config)
			if tt.wantOK {
				require.NoError(t, err)
				_ = client.Close()
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "HTTP 401")
			}
			assert.Equal(t, tt.wantHits, hits.Load())
		})
	}
}
