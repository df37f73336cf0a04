/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package mem is an in-process broker. Records are kept for the lifetime of the broker.
package mem

import (
	"context"
	"strconv"
	"sync"

	"github.com/didrelay/didcomm-relay/pkg/didcomm/transport/broker"
)

const defaultBatchSize = 100

type topicLog struct {
	records []broker.Record
	// closed and replaced on every append
	notify chan struct{}
	// resume position for the next subscription
	cursor    int
	cursorSet bool
}

// Broker is an in-memory implementation of broker.Broker.
type Broker struct {
	mu        sync.Mutex
	topics    map[string]*topicLog
	closed    bool
	done      chan struct{}
	batchSize int
	replay    bool
}

// Opt configures a Broker.
type Opt func(b *Broker)

// WithReplay makes the first subscription of a topic start at the beginning of the log.
func WithReplay() Opt {
	return func(b *Broker) {
		b.replay = true
	}
}

// WithBatchSize limits the number of records returned by one Next call.
func WithBatchSize(n int) Opt {
	return func(b *Broker) {
		b.batchSize = n
	}
}

// New returns an empty broker.
func New(opts ...Opt) *Broker {
	b := &Broker{
		topics:    make(map[string]*topicLog),
		done:      make(chan struct{}),
		batchSize: defaultBatchSize,
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

func (b *Broker) topic(name string) *topicLog {
	t, ok := b.topics[name]
	if !ok {
		t = &topicLog{notify: make(chan struct{})}
		b.topics[name] = t
	}

	return t
}

// Publish appends a record to topic.
func (b *Broker) Publish(ctx context.Context, topic, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return broker.ErrClosed
	}

	t := b.topic(topic)

	t.records = append(t.records, broker.Record{
		ID:    strconv.Itoa(len(t.records)),
		Key:   key,
		Value: append([]byte(nil), value...),
	})

	close(t.notify)
	t.notify = make(chan struct{})

	return nil
}

// Subscribe opens a subscription on topic.
func (b *Broker) Subscribe(ctx context.Context, topic string) (broker.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, broker.ErrClosed
	}

	t := b.topic(topic)

	if !t.cursorSet {
		t.cursorSet = true

		if !b.replay {
			t.cursor = len(t.records)
		}
	}

	return &subscription{broker: b, topic: topic, closed: make(chan struct{})}, nil
}

// Len returns the number of records published on topic.
func (b *Broker) Len(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if t, ok := b.topics[topic]; ok {
		return len(t.records)
	}

	return 0
}

// Close closes the broker and wakes every blocked subscription.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.closed {
		b.closed = true
		close(b.done)
	}

	return nil
}

type subscription struct {
	broker    *Broker
	topic     string
	closeOnce sync.Once
	closed    chan struct{}
}

func (s *subscription) Next(ctx context.Context) ([]broker.Record, error) {
	for {
		b := s.broker

		b.mu.Lock()

		if b.closed {
			b.mu.Unlock()

			return nil, broker.ErrClosed
		}

		t := b.topic(s.topic)

		if t.cursor < len(t.records) {
			end := t.cursor + b.batchSize
			if end > len(t.records) {
				end = len(t.records)
			}

			batch := append([]broker.Record(nil), t.records[t.cursor:end]...)
			t.cursor = end

			b.mu.Unlock()

			return batch, nil
		}

		notify := t.notify

		b.mu.Unlock()

		select {
		case <-notify:
		case <-s.closed:
			return nil, broker.ErrClosed
		case <-b.done:
			return nil, broker.ErrClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (s *subscription) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
	})

	return nil
}
