/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package relay

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/didrelay/didcomm-relay/pkg/didcomm/envelope"
	"github.com/didrelay/didcomm-relay/pkg/didcomm/transport/broker"
)

// Producer publishes envelopes to a broker topic keyed by envelope id.
type Producer struct {
	broker broker.Broker
	topic  string
}

// NewProducer returns a producer for topic. An empty topic selects broker.DefaultTopic.
func NewProducer(b broker.Broker, topic string) *Producer {
	if topic == "" {
		topic = broker.DefaultTopic
	}

	return &Producer{broker: b, topic: topic}
}

// Produce publishes env.
func (p *Producer) Produce(ctx context.Context, env *envelope.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope %s: %w", env.ID, err)
	}

	if err := p.broker.Publish(ctx, p.topic, env.ID, data); err != nil {
		logger.Warnf("publish envelope %s to %s failed: %v", env.ID, p.topic, err)

		return fmt.Errorf("publish envelope %s: %w", env.ID, err)
	}

	logger.Debugf("published envelope %s to %s", env.ID, p.topic)

	return nil
}
