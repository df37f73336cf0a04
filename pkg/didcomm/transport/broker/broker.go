/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package broker defines the durable, replayable log the relay publishes envelopes to.
package broker

import (
	"context"
	"errors"
)

// DefaultTopic is the topic envelopes are published on.
const DefaultTopic = "didcomm-messages"

// ErrClosed is returned by operations on a closed broker or subscription.
var ErrClosed = errors.New("broker closed")

// Record is one entry of a topic.
type Record struct {
	// ID is the broker-assigned position of the record.
	ID    string
	Key   string
	Value []byte
}

// Subscription reads records of one topic in publish order.
type Subscription interface {
	// Next blocks until at least one record is available, the context is done or the subscription is
	// closed. An empty batch with a nil error is allowed and means the caller should poll again.
	Next(ctx context.Context) ([]Record, error)
	Close() error
}

// Broker is a durable topic log.
type Broker interface {
	Publish(ctx context.Context, topic, key string, value []byte) error
	// Subscribe opens a subscription. A broker resumes a topic after the last record delivered to its
	// previous subscription on that topic; the first subscription starts at the end of the log.
	Subscribe(ctx context.Context, topic string) (Subscription, error)
	Close() error
}
