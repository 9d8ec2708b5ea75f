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
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	cngw "github.com/cencepower/cngw"
	"github.com/cencepower/cngw/boardinfo"
)

// ErrClientClosed is returned by ReadLoop after Close.
var ErrClientClosed = errors.New("upstream client closed")

// Config holds websocket client options
type Config struct {
	URL      string
	Username string
	Password string
	// SkipTLSVerify disables certificate checks for wss:// URLs.
	SkipTLSVerify bool
	// HandshakeTimeout bounds the websocket opening handshake.
	HandshakeTimeout time.Duration
	// WriteTimeout bounds each outgoing message.
	WriteTimeout time.Duration
	// PingInterval keeps idle connections alive. Zero disables pings.
	PingInterval time.Duration
	// Outbox is the number of messages buffered for the writer. Reports
	// past it are dropped.
	Outbox int
	// Reconnect paces dial attempts. Nil dials once.
	Reconnect *cngw.RetryConfig
	// Clock stamps published reports. Nil uses time.Now. Write deadlines
	// always use the wall clock.
	Clock func() time.Time
}

// DefaultConfig returns the default client configuration
func DefaultConfig() *Config {
	return &Config{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		PingInterval:     30 * time.Second,
		Outbox:           64,
		Reconnect:        cngw.UpstreamReconnectRetryConfig(),
	}
}

// Client is a websocket connection to the cloud. It publishes reports,
// answers channel info queries and reads OTA commands. All writes go
// through one writer goroutine; Publish never blocks.
type Client struct {
	conn      *websocket.Conn
	config    *Config
	outbox    chan []byte
	done      chan struct{}
	now       func() time.Time
	log       zerolog.Logger
	wg        sync.WaitGroup
	closeOnce sync.Once
	dropped   int64
	closed    atomic.Bool
}

// Dial opens the websocket named by config.URL, with HTTP basic auth when
// a username is set.
func Dial(ctx context.Context, config *Config) (*Client, error) {
	if config == nil {
		config = DefaultConfig()
	}
	u, err := url.Parse(config.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: upstream url: %w", cngw.ErrInvalidParameter, err)
	}
	switch u.Scheme {
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("%w: unsupported upstream scheme %q", cngw.ErrInvalidParameter, u.Scheme)
	}

	dialer := websocket.Dialer{HandshakeTimeout: config.HandshakeTimeout}
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: config.SkipTLSVerify, //nolint:gosec // operator opt-in for bench servers
		}
	}
	headers := http.Header{}
	if config.Username != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(config.Username + ":" + config.Password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	var conn *websocket.Conn
	attempt := func() error {
		c, err := dialOnce(ctx, &dialer, config.URL, headers)
		if err != nil {
			return err
		}
		conn = c
		return nil
	}
	if config.Reconnect == nil {
		err = attempt()
	} else {
		err = cngw.RetryWithConfig(ctx, config.Reconnect, attempt)
	}
	if err != nil {
		return nil, err
	}
	return NewClient(conn, config), nil
}

// dialOnce makes one attempt. Network failures and server errors are
// retryable, a refused login is not.
func dialOnce(ctx context.Context, dialer *websocket.Dialer, rawURL string, headers http.Header) (*websocket.Conn, error) {
	conn, resp, err := dialer.DialContext(ctx, rawURL, headers)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err == nil {
		return conn, nil
	}
	if resp == nil {
		return nil, cngw.NewTransportError("dial", rawURL,
			fmt.Errorf("upstream connection failed: %w", err), cngw.ErrorTypeTransient)
	}
	errType := cngw.ErrorTypeTransient
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		errType = cngw.ErrorTypePermanent
	}
	return nil, cngw.NewTransportError("dial", rawURL,
		fmt.Errorf("upstream connection failed (HTTP %d): %w", resp.StatusCode, err), errType)
}

// NewClient wraps an open connection and starts its writer.
func NewClient(conn *websocket.Conn, config *Config) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	outbox := config.Outbox
	if outbox <= 0 {
		outbox = DefaultConfig().Outbox
	}
	now := config.Clock
	if now == nil {
		now = time.Now
	}
	c := &Client{
		conn:   conn,
		config: config,
		outbox: make(chan []byte, outbox),
		done:   make(chan struct{}),
		now:    now,
		log:    cngw.Logger("upstream"),
	}
	c.wg.Add(1)
	go c.writer()
	return c
}

// Publish queues a report for the cloud.
func (c *Client) Publish(code cngw.PublishCode, value int, text string) {
	data, err := Encode(MsgPublish, PublishRecord{
		Code:  int(code),
		Value: value,
		Text:  text,
		Time:  c.now().Unix(),
	})
	if err != nil {
		c.log.Error().Err(err).Msg("publish encode failed")
		return
	}
	c.enqueue(data)
}

// RespondQuery sends the channel table in answer to GetAllChannelInfo.
func (c *Client) RespondQuery(info boardinfo.BoardInfo) {
	data, err := Encode(MsgChannelInfo, NewChannelInfo(&info))
	if err != nil {
		c.log.Error().Err(err).Msg("channel info encode failed")
		return
	}
	c.enqueue(data)
}

// Dropped returns the number of messages lost to a full outbox.
func (c *Client) Dropped() int64 {
	return atomic.LoadInt64(&c.dropped)
}

func (c *Client) enqueue(data []byte) {
	if c.closed.Load() {
		return
	}
	select {
	case c.outbox <- data:
	default:
		atomic.AddInt64(&c.dropped, 1)
		c.log.Warn().Msg("upstream outbox full, message dropped")
	}
}

func (c *Client) writer() {
	defer c.wg.Done()
	var ping <-chan time.Time
	if c.config.PingInterval > 0 {
		ticker := time.NewTicker(c.config.PingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case <-c.done:
			return
		case data := <-c.outbox:
			_ = c.conn.SetWriteDeadline(c.deadline())
			if err := c.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				c.log.Warn().Err(err).Msg("upstream write failed")
			}
		case <-ping:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, c.deadline()); err != nil {
				c.log.Debug().Err(err).Msg("upstream ping failed")
			}
		}
	}
}

func (c *Client) deadline() time.Time {
	if c.config.WriteTimeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(c.config.WriteTimeout)
}

// ReadLoop reads commands until the connection fails, ctx ends or Close
// is called, passing each one to h. Non-binary and malformed messages are
// logged and skipped.
func (c *Client) ReadLoop(ctx context.Context, h *CommandHandler) error {
	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if c.closed.Load() {
				return ErrClientClosed
			}
			return fmt.Errorf("upstream read: %w", err)
		}
		if messageType != websocket.BinaryMessage {
			continue
		}
		env, err := Decode(data)
		if err != nil {
			c.log.Warn().Err(err).Int("bytes", len(data)).Msg("upstream message dropped")
			continue
		}
		if err := h.Handle(ctx, env); err != nil {
			c.log.Warn().Err(err).Stringer("type", env.Type).Msg("upstream command failed")
		}
	}
}

// Close stops the writer and closes the connection.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.done)
		c.wg.Wait()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		err = c.conn.Close()
	})
	return err
}
