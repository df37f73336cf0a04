/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package inbound accepts envelopes addressed to the local agent. An envelope is stored in the inbox at
// most once, and only after its signature verified and its body decrypted.
package inbound

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hyperledger/aries-framework-go/component/log"

	"github.com/didrelay/didcomm-relay/pkg/didcomm/envelope"
	"github.com/didrelay/didcomm-relay/pkg/didcomm/transport"
	"github.com/didrelay/didcomm-relay/pkg/doc/did"
	"github.com/didrelay/didcomm-relay/pkg/store/inbox"
)

var logger = log.New("didcomm-relay/dispatcher/inbound")

// Outcome is what happened to a dispatched envelope.
type Outcome int

const (
	// Delivered means the message was stored in the inbox.
	Delivered Outcome = iota
	// Invalid means the envelope is structurally malformed.
	Invalid
	// NotAddressed means the local DID is not a recipient.
	NotAddressed
	// Duplicate means the envelope id was already delivered.
	Duplicate
	// BadSignature means signature verification failed.
	BadSignature
	// Undecryptable means the body could not be decrypted.
	Undecryptable
)

func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case Invalid:
		return "invalid"
	case NotAddressed:
		return "not addressed"
	case Duplicate:
		return "duplicate"
	case BadSignature:
		return "bad signature"
	case Undecryptable:
		return "undecryptable"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Verifier checks envelope signatures.
type Verifier interface {
	VerifyEnvelope(env *envelope.Envelope) bool
}

// Decrypter opens envelope bodies encrypted for the local DID.
type Decrypter interface {
	Decrypt(env *envelope.Envelope) ([]byte, error)
}

// Inbox stores delivered messages.
type Inbox interface {
	Add(msg *inbox.ReceivedMessage) error
	List() ([]*inbox.ReceivedMessage, error)
}

// Hook observes every delivered message. Hooks run after the message is stored, outside any lock.
type Hook func(ctx context.Context, msg *inbox.ReceivedMessage)

// Dispatcher delivers envelopes for one local DID. It is safe for concurrent use.
type Dispatcher struct {
	localDID  string
	verifier  Verifier
	decrypter Decrypter
	inbox     Inbox
	hooks     []Hook
	now       func() time.Time

	// guards seen, inFlight and inbox writes
	mu       sync.Mutex
	seen     map[string]struct{}
	inFlight map[string]chan struct{}
}

// Opt configures a Dispatcher.
type Opt func(d *Dispatcher)

// WithHook registers a hook for delivered messages.
func WithHook(h Hook) Opt {
	return func(d *Dispatcher) {
		d.hooks = append(d.hooks, h)
	}
}

// WithClock sets the clock used for received_at.
func WithClock(now func() time.Time) Opt {
	return func(d *Dispatcher) {
		d.now = now
	}
}

// New returns a dispatcher for localDID. Ids of messages already in the inbox count as seen.
func New(localDID string, verifier Verifier, decrypter Decrypter, store Inbox, opts ...Opt) (*Dispatcher, error) {
	localDID = did.Normalize(localDID)
	if !did.IsValid(localDID) {
		return nil, fmt.Errorf("local did: %w: %q", did.ErrInvalidDID, localDID)
	}

	if verifier == nil || decrypter == nil || store == nil {
		return nil, errors.New("verifier, decrypter and inbox are required")
	}

	d := &Dispatcher{
		localDID:  localDID,
		verifier:  verifier,
		decrypter: decrypter,
		inbox:     store,
		now:       time.Now,
		seen:      make(map[string]struct{}),
		inFlight:  make(map[string]chan struct{}),
	}

	for _, opt := range opts {
		opt(d)
	}

	stored, err := store.List()
	if err != nil {
		return nil, fmt.Errorf("load inbox: %w", err)
	}

	for _, m := range stored {
		d.seen[m.ID] = struct{}{}
	}

	return d, nil
}

// HandlerFunc returns the dispatcher as a transport.InboundMessageHandler.
func (d *Dispatcher) HandlerFunc() transport.InboundMessageHandler {
	return func(ctx context.Context, payload []byte) error {
		env, err := envelope.Parse(payload)
		if err != nil {
			return err
		}

		outcome, err := d.Dispatch(ctx, env)
		if err != nil {
			return err
		}

		logger.Debugf("envelope %s: %s", env.ID, outcome)

		return nil
	}
}

// Dispatch runs env through routing, deduplication, verification and decryption and stores the result.
// Discarded envelopes are reported through the Outcome with a nil error; errors are reserved for inbox
// failures and cancellation.
func (d *Dispatcher) Dispatch(ctx context.Context, env *envelope.Envelope) (Outcome, error) {
	if err := envelope.Validate(env).Err(); err != nil {
		logger.Warnf("discarding envelope: %v", err)

		return Invalid, nil
	}

	if !env.IsAddressedTo(d.localDID) {
		logger.Debugf("envelope %s is not addressed to %s", env.ID, d.localDID)

		return NotAddressed, nil
	}

	claimed, err := d.claim(ctx, env.ID)
	if err != nil {
		return 0, err
	}

	if !claimed {
		return Duplicate, nil
	}

	msg, outcome := d.open(env)
	if outcome != Delivered {
		d.release(env.ID, false)

		return outcome, nil
	}

	stored, err := d.store(env.ID, msg)
	if err != nil {
		return 0, err
	}

	if !stored {
		return Duplicate, nil
	}

	logger.Infof("received %s %s from %s", env.Type, env.ID, env.From)

	for _, h := range d.hooks {
		h(ctx, msg)
	}

	return Delivered, nil
}

// Seen reports whether id was delivered.
func (d *Dispatcher) Seen(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, ok := d.seen[id]

	return ok
}

// claim makes the caller the only one processing id. It waits for a concurrent attempt at the same id
// and returns false once id is delivered.
func (d *Dispatcher) claim(ctx context.Context, id string) (bool, error) {
	for {
		d.mu.Lock()

		if _, ok := d.seen[id]; ok {
			d.mu.Unlock()

			return false, nil
		}

		wait, busy := d.inFlight[id]
		if !busy {
			d.inFlight[id] = make(chan struct{})
			d.mu.Unlock()

			return true, nil
		}

		d.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
}

func (d *Dispatcher) release(id string, delivered bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.releaseLocked(id, delivered)
}

func (d *Dispatcher) releaseLocked(id string, delivered bool) {
	if delivered {
		d.seen[id] = struct{}{}
	}

	if ch, ok := d.inFlight[id]; ok {
		delete(d.inFlight, id)
		close(ch)
	}
}

func (d *Dispatcher) open(env *envelope.Envelope) (*inbox.ReceivedMessage, Outcome) {
	if !d.verifier.VerifyEnvelope(env) {
		logger.Warnf("discarding envelope %s from %s: signature verification failed", env.ID, env.From)

		return nil, BadSignature
	}

	body, err := d.decrypter.Decrypt(env)
	if err != nil {
		logger.Warnf("discarding envelope %s from %s: %v", env.ID, env.From, err)

		return nil, Undecryptable
	}

	if !json.Valid(body) {
		logger.Warnf("discarding envelope %s from %s: decrypted body is not JSON", env.ID, env.From)

		return nil, Undecryptable
	}

	return &inbox.ReceivedMessage{
		ID:          env.ID,
		Type:        env.Type,
		From:        env.From,
		To:          append([]string(nil), env.To...),
		CreatedTime: env.CreatedTime,
		Thid:        env.Thid,
		Body:        body,
		ReceivedAt:  d.now().UTC().Format(time.RFC3339),
	}, Delivered
}

// store adds msg to the inbox and marks id seen. It returns false when the inbox already held id.
func (d *Dispatcher) store(id string, msg *inbox.ReceivedMessage) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	err := d.inbox.Add(msg)
	if errors.Is(err, inbox.ErrMessageExists) {
		d.releaseLocked(id, true)

		return false, nil
	}

	if err != nil {
		d.releaseLocked(id, false)

		return false, fmt.Errorf("store message %s: %w", id, err)
	}

	d.releaseLocked(id, true)

	return true, nil
}
