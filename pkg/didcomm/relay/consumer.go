/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/didrelay/didcomm-relay/internal/metrics"
	"github.com/didrelay/didcomm-relay/pkg/didcomm/envelope"
	"github.com/didrelay/didcomm-relay/pkg/didcomm/transport/broker"
)

const (
	defaultInitialInterval = time.Second
	defaultMaxInterval     = 30 * time.Second
)

// Consumer reads a broker topic and hands every envelope to a Handler.
type Consumer struct {
	broker     broker.Broker
	topic      string
	handler    Handler
	newBackOff func() backoff.BackOff
	maxRetries uint64
	metrics    *metrics.Relay
}

// ConsumerOpt configures a Consumer.
type ConsumerOpt func(c *Consumer)

// WithTopic sets the topic to read.
func WithTopic(topic string) ConsumerOpt {
	return func(c *Consumer) {
		c.topic = topic
	}
}

// WithMaxRetries bounds consecutive reconnect attempts. Zero retries forever.
func WithMaxRetries(n uint64) ConsumerOpt {
	return func(c *Consumer) {
		c.maxRetries = n
	}
}

// WithBackOff replaces the reconnect policy.
func WithBackOff(f func() backoff.BackOff) ConsumerOpt {
	return func(c *Consumer) {
		c.newBackOff = f
	}
}

// WithConsumerMetrics records consumed envelopes.
func WithConsumerMetrics(m *metrics.Relay) ConsumerOpt {
	return func(c *Consumer) {
		c.metrics = m
	}
}

// NewConsumer returns a consumer of broker.DefaultTopic unless WithTopic is given.
func NewConsumer(b broker.Broker, handler Handler, opts ...ConsumerOpt) (*Consumer, error) {
	if b == nil {
		return nil, errors.New("broker is required")
	}

	if handler == nil {
		return nil, errors.New("handler is required")
	}

	c := &Consumer{
		broker:     b,
		topic:      broker.DefaultTopic,
		handler:    handler,
		newBackOff: DefaultBackOff,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// DefaultBackOff is exponential from one second, doubling, capped at thirty seconds, never giving up.
func DefaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = defaultInitialInterval
	b.Multiplier = 2
	b.MaxInterval = defaultMaxInterval
	b.MaxElapsedTime = 0

	return b
}

// Run consumes until ctx is done and returns the context error. Broker failures close the subscription
// and reconnect with backoff; Run gives up only when the retry limit is reached or the broker is closed.
func (c *Consumer) Run(ctx context.Context) error {
	var b backoff.BackOff = c.newBackOff()
	if c.maxRetries > 0 {
		b = backoff.WithMaxRetries(b, c.maxRetries)
	}

	b = backoff.WithContext(b, ctx)
	b.Reset()

	for {
		progressed, err := c.consume(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if errors.Is(err, broker.ErrClosed) {
			return err
		}

		if progressed {
			b.Reset()
		}

		wait := b.NextBackOff()
		if wait == backoff.Stop {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			return fmt.Errorf("consume %s: giving up after %d retries: %w", c.topic, c.maxRetries, err)
		}

		logger.Warnf("consume %s failed, reconnecting in %s: %v", c.topic, wait, err)

		t := time.NewTimer(wait)

		select {
		case <-ctx.Done():
			t.Stop()

			return ctx.Err()
		case <-t.C:
		}
	}
}

// consume runs one subscription until it fails. It reports whether any record was handled.
func (c *Consumer) consume(ctx context.Context) (bool, error) {
	sub, err := c.broker.Subscribe(ctx, c.topic)
	if err != nil {
		return false, fmt.Errorf("subscribe: %w", err)
	}

	defer func() {
		if e := sub.Close(); e != nil {
			logger.Debugf("close subscription to %s: %v", c.topic, e)
		}
	}()

	progressed := false

	for {
		records, err := sub.Next(ctx)
		if err != nil {
			return progressed, err
		}

		for _, r := range records {
			progressed = true

			c.handle(ctx, r)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, r broker.Record) {
	defer func() {
		if p := recover(); p != nil {
			logger.Errorf("handler panicked on record %s: %v", r.ID, p)
		}
	}()

	c.metrics.Consumed()

	env, err := envelope.Parse(r.Value)
	if err != nil {
		logger.Warnf("skipping record %s: %v", r.ID, err)

		return
	}

	if err := c.handler(ctx, env); err != nil {
		logger.Warnf("handle envelope %s: %v", env.ID, err)
	}
}
