/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package session is the agent side of a relay push session. A Client keeps one websocket open to the
// relay hub, reconnects with exponential backoff and rejoins every group it was asked to join.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hyperledger/aries-framework-go/component/log"
	"nhooyr.io/websocket"

	"github.com/didrelay/didcomm-relay/pkg/didcomm/transport"
	"github.com/didrelay/didcomm-relay/pkg/didcomm/transport/hub"
	"github.com/didrelay/didcomm-relay/pkg/doc/did"
)

const (
	defaultInitialInterval = time.Second
	defaultMaxInterval     = 30 * time.Second
	defaultReadLimit       = 1 << 20
	defaultWriteTimeout    = 10 * time.Second
	defaultStableAfter     = 10 * time.Second
)

var logger = log.New("didcomm-relay/transport/session")

// ErrNotConnected is returned when a frame cannot be sent because no session is open. The group is
// still remembered and joined on the next connect.
var ErrNotConnected = errors.New("session not connected")

// Client is a reconnecting push session.
type Client struct {
	url     string
	handler transport.InboundMessageHandler

	mu     sync.Mutex
	conn   *websocket.Conn
	groups map[string]struct{}

	newBackOff   func() backoff.BackOff
	dialOpts     *websocket.DialOptions
	readLimit    int64
	writeTimeout time.Duration
	stableAfter  time.Duration
}

// Opt configures a Client.
type Opt func(c *Client)

// WithBackOff replaces the reconnect policy.
func WithBackOff(f func() backoff.BackOff) Opt {
	return func(c *Client) {
		c.newBackOff = f
	}
}

// WithDialOptions sets the websocket dial options, e.g. headers or a custom http client.
func WithDialOptions(opts *websocket.DialOptions) Opt {
	return func(c *Client) {
		c.dialOpts = opts
	}
}

// WithStableAfter sets how long a session must stay open before a drop no longer counts against the
// reconnect backoff.
func WithStableAfter(d time.Duration) Opt {
	return func(c *Client) {
		c.stableAfter = d
	}
}

// WithReadLimit sets the largest frame accepted from the hub.
func WithReadLimit(n int64) Opt {
	return func(c *Client) {
		c.readLimit = n
	}
}

// New returns a client for the hub at url. Call Run to open the session.
func New(url string, handler transport.InboundMessageHandler, opts ...Opt) (*Client, error) {
	if url == "" {
		return nil, errors.New("hub url is required")
	}

	if handler == nil {
		return nil, errors.New("message handler is required")
	}

	c := &Client{
		url:          url,
		handler:      handler,
		groups:       make(map[string]struct{}),
		newBackOff:   defaultBackOff,
		readLimit:    defaultReadLimit,
		writeTimeout: defaultWriteTimeout,
		stableAfter:  defaultStableAfter,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = defaultInitialInterval
	b.Multiplier = 2
	b.MaxInterval = defaultMaxInterval
	b.MaxElapsedTime = 0

	return b
}

// Run keeps the session open until ctx is done. It returns the context error.
//
// Every failed dial and every dropped session waits for the next backoff interval. The backoff is reset
// only after a session delivered an envelope or stayed open for the stable period.
func (c *Client) Run(ctx context.Context) error {
	b := c.newBackOff()
	b.Reset()

	for {
		conn, err := c.dial(ctx)
		if err == nil {
			opened := time.Now()

			var delivered bool

			delivered, err = c.serve(ctx, conn)

			c.mu.Lock()
			c.conn = nil
			c.mu.Unlock()

			if ctx.Err() != nil {
				_ = conn.Close(websocket.StatusNormalClosure, "") //nolint:errcheck

				return ctx.Err()
			}

			if delivered || time.Since(opened) >= c.stableAfter {
				b.Reset()
			}
		} else if ctx.Err() != nil {
			return ctx.Err()
		}

		wait := b.NextBackOff()
		if wait == backoff.Stop {
			return fmt.Errorf("session to %s: giving up: %w", c.url, err)
		}

		logger.Warnf("session to %s unavailable, reconnecting in %s: %v", c.url, wait, err)

		t := time.NewTimer(wait)

		select {
		case <-ctx.Done():
			t.Stop()

			return ctx.Err()
		case <-t.C:
		}
	}
}

// JoinGroup subscribes the session to envelopes addressed to id. Groups survive reconnects.
func (c *Client) JoinGroup(ctx context.Context, id string) error {
	id = did.Normalize(id)
	if !did.IsValid(id) {
		return fmt.Errorf("join group: %w", did.ErrInvalidDID)
	}

	c.mu.Lock()
	c.groups[id] = struct{}{}
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}

	return c.write(ctx, conn, &hub.Frame{Type: hub.FrameJoin, DID: id})
}

// LeaveGroup stops envelopes addressed to id.
func (c *Client) LeaveGroup(ctx context.Context, id string) error {
	id = did.Normalize(id)

	c.mu.Lock()
	delete(c.groups, id)
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}

	return c.write(ctx, conn, &hub.Frame{Type: hub.FrameLeave, DID: id})
}

// Connected reports whether a session is currently open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.conn != nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := websocket.Dial(ctx, c.url, c.dialOpts) //nolint:bodyclose
	if err != nil {
		return nil, err
	}

	conn.SetReadLimit(c.readLimit)

	if err := c.rejoin(ctx, conn); err != nil {
		_ = conn.Close(websocket.StatusInternalError, "rejoin failed") //nolint:errcheck

		return nil, err
	}

	logger.Infof("session to %s open", c.url)

	return conn, nil
}

func (c *Client) rejoin(ctx context.Context, conn *websocket.Conn) error {
	c.mu.Lock()
	c.conn = conn

	groups := make([]string, 0, len(c.groups))
	for g := range c.groups {
		groups = append(groups, g)
	}
	c.mu.Unlock()

	for _, g := range groups {
		if err := c.write(ctx, conn, &hub.Frame{Type: hub.FrameJoin, DID: g}); err != nil {
			c.mu.Lock()
			c.conn = nil
			c.mu.Unlock()

			return fmt.Errorf("rejoin %s: %w", g, err)
		}
	}

	return nil
}

// serve reads frames until the session fails. It reports whether any envelope was pushed.
func (c *Client) serve(ctx context.Context, conn *websocket.Conn) (bool, error) {
	delivered := false

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return delivered, err
		}

		f := &hub.Frame{}
		if err := json.Unmarshal(data, f); err != nil {
			logger.Warnf("malformed frame from hub: %v", err)

			continue
		}

		switch f.Type {
		case hub.FrameMessage:
			delivered = true

			if err := c.handle(ctx, f.Payload); err != nil {
				logger.Warnf("handle pushed envelope: %v", err)
			}
		case hub.FrameJoined:
			logger.Debugf("joined group %s", f.DID)
		case hub.FrameLeft:
			logger.Debugf("left group %s", f.DID)
		case hub.FrameError:
			logger.Warnf("hub error: %s", f.Error)
		default:
			logger.Debugf("ignoring frame type %q", f.Type)
		}
	}
}

func (c *Client) handle(ctx context.Context, payload []byte) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("handler panicked: %v", p)
		}
	}()

	return c.handler(ctx, payload)
}

func (c *Client) write(ctx context.Context, conn *websocket.Conn, f *hub.Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, c.writeTimeout)
	defer cancel()

	return conn.Write(ctx, websocket.MessageText, data)
}
