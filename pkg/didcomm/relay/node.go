/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bluele/gcache"

	"github.com/didrelay/didcomm-relay/internal/metrics"
	"github.com/didrelay/didcomm-relay/pkg/didcomm/envelope"
)

const (
	defaultFanOutCacheSize = 10000
	defaultFanOutTTL       = 10 * time.Minute
)

// Result describes how an envelope was relayed.
type Result struct {
	MessageID string
	// Published is true when the broker accepted the envelope.
	Published bool
	// Delivered is the number of sessions the direct path wrote to.
	Delivered int
}

// Node is a relay node. It is safe for concurrent use.
type Node struct {
	producer *Producer
	hub      Broadcaster
	fanned   gcache.Cache
	metrics  *metrics.Relay
}

// NodeOpt configures a Node.
type NodeOpt func(n *nodeOpts)

type nodeOpts struct {
	cacheSize int
	cacheTTL  time.Duration
	metrics   *metrics.Relay
}

// WithFanOutCache sizes the cache of envelope ids already pushed to local sessions.
func WithFanOutCache(size int, ttl time.Duration) NodeOpt {
	return func(o *nodeOpts) {
		o.cacheSize = size
		o.cacheTTL = ttl
	}
}

// WithMetrics records relay activity.
func WithMetrics(m *metrics.Relay) NodeOpt {
	return func(o *nodeOpts) {
		o.metrics = m
	}
}

// NewNode returns a node publishing through producer and broadcasting through hub.
func NewNode(producer *Producer, hub Broadcaster, opts ...NodeOpt) (*Node, error) {
	if producer == nil {
		return nil, errors.New("producer is required")
	}

	if hub == nil {
		return nil, errors.New("hub is required")
	}

	o := &nodeOpts{cacheSize: defaultFanOutCacheSize, cacheTTL: defaultFanOutTTL}
	for _, opt := range opts {
		opt(o)
	}

	return &Node{
		producer: producer,
		hub:      hub,
		fanned:   gcache.New(o.cacheSize).LRU().Expiration(o.cacheTTL).Build(),
		metrics:  o.metrics,
	}, nil
}

// Relay validates env and hands it to the broker and to local sessions concurrently. It succeeds when
// at least one path accepted the envelope and returns an error wrapping ErrDeliveryFailed otherwise.
func (n *Node) Relay(ctx context.Context, env *envelope.Envelope) (*Result, error) {
	if err := envelope.Validate(env).Err(); err != nil {
		return nil, err
	}

	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope %s: %w", env.ID, err)
	}

	// claim the id before broadcasting so the consumer does not push it a second time
	n.markFannedOut(env.ID)

	var (
		wg                  sync.WaitGroup
		publishErr, pushErr error
		delivered           int
	)

	wg.Add(2)

	go func() {
		defer wg.Done()

		publishErr = n.producer.Produce(ctx, env)
	}()

	go func() {
		defer wg.Done()

		delivered, pushErr = n.broadcast(ctx, env, data)
	}()

	wg.Wait()

	n.record(metrics.PathBroker, publishErr)
	n.record(metrics.PathDirect, pushErr)

	if pushErr != nil {
		n.fanned.Remove(env.ID)
	}

	if publishErr != nil && pushErr != nil {
		return nil, fmt.Errorf("%w: envelope %s: broker: %v; direct: %v", ErrDeliveryFailed, env.ID, publishErr,
			pushErr)
	}

	logger.Debugf("relayed envelope %s published=%t sessions=%d", env.ID, publishErr == nil, delivered)

	return &Result{MessageID: env.ID, Published: publishErr == nil, Delivered: delivered}, nil
}

// Deliver relays env in-process.
func (n *Node) Deliver(ctx context.Context, env *envelope.Envelope) error {
	_, err := n.Relay(ctx, env)

	return err
}

// FanOut pushes a consumed envelope to local sessions unless this node already did.
func (n *Node) FanOut(ctx context.Context, env *envelope.Envelope) error {
	if n.fanned.Has(env.ID) {
		n.metrics.Duplicate()
		logger.Debugf("envelope %s already fanned out", env.ID)

		return nil
	}

	if err := envelope.Validate(env).Err(); err != nil {
		return err
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope %s: %w", env.ID, err)
	}

	n.markFannedOut(env.ID)

	if _, err := n.broadcast(ctx, env, data); err != nil {
		n.fanned.Remove(env.ID)

		return err
	}

	return nil
}

func (n *Node) broadcast(ctx context.Context, env *envelope.Envelope, data []byte) (int, error) {
	var (
		total int
		errs  []error
	)

	for _, to := range env.To {
		reached, err := n.hub.BroadcastToGroup(ctx, to, data)
		if err != nil {
			errs = append(errs, fmt.Errorf("broadcast to %s: %w", to, err))

			continue
		}

		total += reached
	}

	n.metrics.Delivered(total)

	if len(errs) == len(env.To) {
		return 0, errors.Join(errs...)
	}

	for _, err := range errs {
		logger.Warnf("envelope %s: %v", env.ID, err)
	}

	return total, nil
}

func (n *Node) markFannedOut(id string) {
	if err := n.fanned.Set(id, struct{}{}); err != nil {
		logger.Warnf("cache envelope id %s: %v", id, err)
	}
}

func (n *Node) record(path string, err error) {
	if err != nil {
		n.metrics.Failed(path)

		return
	}

	n.metrics.Accepted(path)
}
