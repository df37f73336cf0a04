/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package redis implements broker.Broker on Redis Streams.
//
// Every topic is a stream. Records are appended with XADD (trimmed to an approximate maximum length)
// and read with blocking XREAD calls. The read position is tracked in the broker so a new subscription
// continues where the previous one stopped.
package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hyperledger/aries-framework-go/component/log"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/didrelay/didcomm-relay/pkg/didcomm/transport/broker"
)

const (
	fieldKey   = "key"
	fieldValue = "value"

	defaultMaxLen    = 10000
	defaultBatchSize = 100
	defaultBlock     = time.Second

	streamStart = "0-0"
)

var logger = log.New("didcomm-relay/transport/broker/redis")

// Broker publishes to and reads from Redis Streams.
type Broker struct {
	client    redis.UniversalClient
	maxLen    int64
	batchSize int64
	block     time.Duration

	mu      sync.Mutex
	cursors map[string]string
}

// Opt configures a Broker.
type Opt func(b *Broker)

// WithMaxLen sets the approximate number of records kept per stream.
func WithMaxLen(n int64) Opt {
	return func(b *Broker) {
		b.maxLen = n
	}
}

// WithBlock sets how long one XREAD call blocks waiting for records.
func WithBlock(d time.Duration) Opt {
	return func(b *Broker) {
		b.block = d
	}
}

// New returns a broker using client.
func New(client redis.UniversalClient, opts ...Opt) *Broker {
	b := &Broker{
		client:    client,
		maxLen:    defaultMaxLen,
		batchSize: defaultBatchSize,
		block:     defaultBlock,
		cursors:   make(map[string]string),
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// Dial connects to the Redis server at url (redis://[user:password@]host:port/db).
func Dial(ctx context.Context, url string, opts ...Opt) (*Broker, error) {
	o, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}

	client := redis.NewClient(o)

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close() //nolint:errcheck

		return nil, errors.Wrapf(err, "ping redis at %s", o.Addr)
	}

	return New(client, opts...), nil
}

// Publish appends a record to the topic stream.
func (b *Broker) Publish(ctx context.Context, topic, key string, value []byte) error {
	err := b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: topic,
		MaxLen: b.maxLen,
		Approx: true,
		Values: map[string]interface{}{fieldKey: key, fieldValue: value},
	}).Err()
	if err != nil {
		return errors.Wrapf(err, "xadd %s", topic)
	}

	return nil
}

// Subscribe opens a subscription on the topic stream.
func (b *Broker) Subscribe(ctx context.Context, topic string) (broker.Subscription, error) {
	b.mu.Lock()
	cursor, ok := b.cursors[topic]
	b.mu.Unlock()

	if !ok {
		// pin the current end of the stream so records published between reads are not skipped
		last, err := b.client.XRevRangeN(ctx, topic, "+", "-", 1).Result()
		if err != nil {
			return nil, errors.Wrapf(err, "read tail of %s", topic)
		}

		cursor = streamStart
		if len(last) > 0 {
			cursor = last[0].ID
		}

		b.setCursor(topic, cursor)
	}

	return &subscription{broker: b, topic: topic, done: make(chan struct{})}, nil
}

func (b *Broker) cursor(topic string) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.cursors[topic]
}

func (b *Broker) setCursor(topic, id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.cursors[topic] = id
}

// Close closes the underlying client.
func (b *Broker) Close() error {
	return b.client.Close()
}

type subscription struct {
	broker    *Broker
	topic     string
	closeOnce sync.Once
	done      chan struct{}
}

func (s *subscription) Next(ctx context.Context) ([]broker.Record, error) {
	select {
	case <-s.done:
		return nil, broker.ErrClosed
	default:
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// unblock the read when the subscription is closed
	go func() {
		select {
		case <-s.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	streams, err := s.broker.client.XRead(ctx, &redis.XReadArgs{
		Streams: []string{s.topic, s.broker.cursor(s.topic)},
		Count:   s.broker.batchSize,
		Block:   s.broker.block,
	}).Result()

	switch {
	case errors.Is(err, redis.Nil):
		return nil, nil
	case err != nil:
		select {
		case <-s.done:
			return nil, broker.ErrClosed
		default:
		}

		return nil, errors.Wrapf(err, "xread %s", s.topic)
	}

	var records []broker.Record

	for _, stream := range streams {
		for _, msg := range stream.Messages {
			s.broker.setCursor(s.topic, msg.ID)

			rec, err := toRecord(msg)
			if err != nil {
				logger.Warnf("skipping stream entry: %v", err)

				continue
			}

			records = append(records, rec)
		}
	}

	return records, nil
}

func (s *subscription) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
	})

	return nil
}

func toRecord(msg redis.XMessage) (broker.Record, error) {
	key, _ := msg.Values[fieldKey].(string)

	value, ok := msg.Values[fieldValue].(string)
	if !ok {
		return broker.Record{}, fmt.Errorf("stream entry %s has no %q field", msg.ID, fieldValue)
	}

	return broker.Record{ID: msg.ID, Key: key, Value: []byte(value)}, nil
}
