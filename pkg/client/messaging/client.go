/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hyperledger/aries-framework-go/component/log"
	"github.com/mitchellh/mapstructure"

	"github.com/didrelay/didcomm-relay/pkg/didcomm/dispatcher/inbound"
	"github.com/didrelay/didcomm-relay/pkg/didcomm/envelope"
	"github.com/didrelay/didcomm-relay/pkg/doc/did"
	"github.com/didrelay/didcomm-relay/pkg/store/inbox"
)

const defaultAckTimeout = 30 * time.Second

const (
	errMsgDestinationMissing = "missing message destination"
	errMsgNotApprovalRequest = "message %s is not an approval request"
)

var logger = log.New("didcomm-relay/client/messaging")

// Builder builds signed and encrypted envelopes.
type Builder interface {
	Build(ctx context.Context, req *envelope.Request) (*envelope.Envelope, error)
}

// Outbound hands envelopes to a relay, in-process or over HTTP.
type Outbound interface {
	Deliver(ctx context.Context, env *envelope.Envelope) error
}

// Inbox holds received messages.
type Inbox interface {
	List() ([]*inbox.ReceivedMessage, error)
	MarkAsRead(id string) error
	UnreadCount() (int, error)
}

// provider contains dependencies for the message client.
type provider interface {
	LocalDID() string
	EnvelopeBuilder() Builder
	Outbound() Outbound
	Inbox() Inbox
}

// Notifier represents a notification dispatcher.
type Notifier interface {
	Notify(topic string, message []byte) error
}

// SendResult is returned for every accepted envelope.
type SendResult struct {
	Success   bool   `json:"success"`
	MessageID string `json:"messageId"`
}

// Client enable access to messaging features.
type Client struct {
	localDID string
	builder  Builder
	outbound Outbound
	inbox    Inbox
	notifier Notifier
	now      func() time.Time

	ackTimeout time.Duration
	acks       sync.WaitGroup

	mu       sync.RWMutex
	services []*msgService
}

// Opt configures a Client.
type Opt func(c *Client)

// WithClock sets the clock used for ack and response timestamps.
func WithClock(now func() time.Time) Opt {
	return func(c *Client) {
		c.now = now
	}
}

// WithAckTimeout bounds each acknowledgement sent by AutoAck.
func WithAckTimeout(d time.Duration) Opt {
	return func(c *Client) {
		c.ackTimeout = d
	}
}

// New return new instance of message client. notifier may be nil when no message services are registered.
func New(ctx provider, notifier Notifier, opts ...Opt) (*Client, error) {
	localDID := did.Normalize(ctx.LocalDID())
	if !did.IsValid(localDID) {
		return nil, fmt.Errorf("local did: %w: %q", did.ErrInvalidDID, ctx.LocalDID())
	}

	if ctx.EnvelopeBuilder() == nil || ctx.Outbound() == nil || ctx.Inbox() == nil {
		return nil, errors.New("envelope builder, outbound and inbox are required")
	}

	c := &Client{
		localDID: localDID,
		builder:  ctx.EnvelopeBuilder(),
		outbound: ctx.Outbound(),
		inbox:    ctx.Inbox(),
		notifier: notifier,
		now:      time.Now,

		ackTimeout: defaultAckTimeout,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// LocalDID returns the DID messages are sent from.
func (c *Client) LocalDID() string {
	return c.localDID
}

// SendMessage sends a basic message. A string body becomes the message text; any other body is sent as is.
func (c *Client) SendMessage(ctx context.Context, to, body interface{}) (*SendResult, error) {
	if text, ok := body.(string); ok {
		body = &envelope.BasicMessageBody{Text: text}
	}

	return c.Send(ctx, &envelope.Request{
		Type: envelope.BasicMessageType,
		To:   to,
		Body: body,
	})
}

// Send builds an envelope from req and hands it to the relay. The sender is always the local DID.
func (c *Client) Send(ctx context.Context, req *envelope.Request) (*SendResult, error) {
	if req == nil || isEmptyDestination(req.To) {
		return nil, errors.New(errMsgDestinationMissing)
	}

	r := *req
	r.From = c.localDID

	env, err := c.builder.Build(ctx, &r)
	if err != nil {
		return nil, fmt.Errorf("build envelope: %w", err)
	}

	if err := c.outbound.Deliver(ctx, env); err != nil {
		return nil, fmt.Errorf("send envelope %s: %w", env.ID, err)
	}

	logger.Debugf("sent %s %s to %v", env.Type, env.ID, []string(env.To))

	return &SendResult{Success: true, MessageID: env.ID}, nil
}

// SendAck acknowledges a received message to its sender.
func (c *Client) SendAck(ctx context.Context, received *inbox.ReceivedMessage) (*SendResult, error) {
	return c.Send(ctx, &envelope.Request{
		Type: envelope.AckType,
		To:   received.From,
		Thid: received.ID,
		Body: &envelope.AckBody{
			Status:     envelope.AckStatusReceived,
			ReceivedAt: c.timestamp(),
		},
	})
}

// SendApprovalRequest asks to for an approval of requestType.
func (c *Client) SendApprovalRequest(ctx context.Context, to interface{}, requestType string,
	requestData map[string]interface{}) (*SendResult, error) {
	if requestType == "" {
		return nil, errors.New("request type is required")
	}

	return c.Send(ctx, &envelope.Request{
		Type: envelope.ApprovalRequestType,
		To:   to,
		Body: &envelope.ApprovalRequestBody{RequestType: requestType, RequestData: requestData},
	})
}

// SendApprovalResponse answers a received approval request.
func (c *Client) SendApprovalResponse(ctx context.Context, request *inbox.ReceivedMessage, approved bool,
	reason string) (*SendResult, error) {
	if request.Type != envelope.ApprovalRequestType {
		return nil, fmt.Errorf(errMsgNotApprovalRequest, request.ID)
	}

	body := &envelope.ApprovalRequestBody{}
	if err := DecodeBody(request, body); err != nil {
		return nil, fmt.Errorf(errMsgNotApprovalRequest+": %w", request.ID, err)
	}

	if body.RequestType == "" {
		return nil, fmt.Errorf(errMsgNotApprovalRequest+": missing request_type", request.ID)
	}

	return c.Send(ctx, &envelope.Request{
		Type: envelope.ApprovalResponseType,
		To:   request.From,
		Thid: request.ID,
		Body: &envelope.ApprovalResponseBody{
			Approved:    approved,
			Reason:      reason,
			RespondedAt: c.timestamp(),
		},
	})
}

// GetMessages returns received messages in arrival order.
func (c *Client) GetMessages() ([]*inbox.ReceivedMessage, error) {
	return c.inbox.List()
}

// MarkAsRead marks a received message read.
func (c *Client) MarkAsRead(id string) error {
	return c.inbox.MarkAsRead(id)
}

// UnreadCount returns the number of unread messages.
func (c *Client) UnreadCount() (int, error) {
	return c.inbox.UnreadCount()
}

// AutoAck returns a dispatcher hook acknowledging every received basic message. The ack is sent in
// the background so the hook never blocks the caller of Dispatch on the outbound round trip.
func (c *Client) AutoAck() inbound.Hook {
	return func(ctx context.Context, msg *inbox.ReceivedMessage) {
		if msg.Type != envelope.BasicMessageType {
			return
		}

		ackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.ackTimeout)

		c.acks.Add(1)

		go func() {
			defer c.acks.Done()
			defer cancel()

			if _, err := c.SendAck(ackCtx, msg); err != nil {
				logger.Warnf("auto ack for %s failed: %v", msg.ID, err)
			}
		}()
	}
}

// WaitAcks blocks until every acknowledgement started by AutoAck has finished.
func (c *Client) WaitAcks() {
	c.acks.Wait()
}

// DecodeBody decodes the body of a received message into out, a pointer to one of the envelope body types.
func DecodeBody(msg *inbox.ReceivedMessage, out interface{}) error {
	raw := map[string]interface{}{}
	if err := json.Unmarshal(msg.Body, &raw); err != nil {
		return fmt.Errorf("body is not a JSON object: %w", err)
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		ErrorUnused: false,
		Result:      out,
		TagName:     "mapstructure",
	})
	if err != nil {
		return err
	}

	return decoder.Decode(raw)
}

func (c *Client) timestamp() string {
	return c.now().UTC().Format(time.RFC3339)
}

func isEmptyDestination(to interface{}) bool {
	switch v := to.(type) {
	case nil:
		return true
	case string:
		return did.Normalize(v) == ""
	case []string:
		return len(v) == 0
	case []interface{}:
		return len(v) == 0
	default:
		return false
	}
}
