/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package broker

import (
	"context"
	"sync"

	"github.com/didrelay/didcomm-relay/pkg/didcomm/transport/broker"
)

// MockBroker mock broker.
type MockBroker struct {
	PublishErr    error
	PublishFunc   func(ctx context.Context, topic, key string, value []byte) error
	SubscribeFunc func(ctx context.Context, topic string) (broker.Subscription, error)
	CloseErr      error

	mu         sync.Mutex
	published  []broker.Record
	subscribed int
}

// Publish records the value or fails with PublishErr.
func (m *MockBroker) Publish(ctx context.Context, topic, key string, value []byte) error {
	if m.PublishFunc != nil {
		if err := m.PublishFunc(ctx, topic, key, value); err != nil {
			return err
		}
	}

	if m.PublishErr != nil {
		return m.PublishErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.published = append(m.published, broker.Record{Key: key, Value: value})

	return nil
}

// Subscribe calls SubscribeFunc. Without one it returns a subscription that blocks until ctx is done.
func (m *MockBroker) Subscribe(ctx context.Context, topic string) (broker.Subscription, error) {
	m.mu.Lock()
	m.subscribed++
	m.mu.Unlock()

	if m.SubscribeFunc != nil {
		return m.SubscribeFunc(ctx, topic)
	}

	return &MockSubscription{}, nil
}

// Close returns CloseErr.
func (m *MockBroker) Close() error {
	return m.CloseErr
}

// Published returns the records published so far.
func (m *MockBroker) Published() []broker.Record {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]broker.Record(nil), m.published...)
}

// Subscriptions returns the number of Subscribe calls.
func (m *MockBroker) Subscriptions() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.subscribed
}

// MockSubscription mock subscription.
type MockSubscription struct {
	NextFunc func(ctx context.Context) ([]broker.Record, error)
	CloseErr error

	mu     sync.Mutex
	closed bool
}

// Next calls NextFunc or blocks until ctx is done.
func (s *MockSubscription) Next(ctx context.Context) ([]broker.Record, error) {
	if s.NextFunc != nil {
		return s.NextFunc(ctx)
	}

	<-ctx.Done()

	return nil, ctx.Err()
}

// Close marks the subscription closed.
func (s *MockSubscription) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true

	return s.CloseErr
}

// Closed reports whether Close was called.
func (s *MockSubscription) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.closed
}
