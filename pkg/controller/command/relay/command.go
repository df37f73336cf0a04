/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package relay

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/hyperledger/aries-framework-go/component/log"

	"github.com/didrelay/didcomm-relay/internal/logutil"
	"github.com/didrelay/didcomm-relay/internal/metrics"
	"github.com/didrelay/didcomm-relay/pkg/controller/command"
	"github.com/didrelay/didcomm-relay/pkg/controller/internal/cmdutil"
	"github.com/didrelay/didcomm-relay/pkg/didcomm/envelope"
	"github.com/didrelay/didcomm-relay/pkg/didcomm/relay"
)

var logger = log.New("didcomm-relay/controller/relay")

// constants for the relay controller.
const (
	// command name.
	CommandName = "relay"

	// command methods.
	SendEnvelopeCommandMethod = "SendEnvelope"
	HealthCheckCommandMethod  = "HealthCheck"

	// log constants.
	messageID     = "messageID"
	successString = "success"

	errMsgBodyEmpty   = "empty envelope"
	errMsgRateLimited = "rate limit exceeded for sender %s"

	// envelopes larger than this are rejected before parsing.
	maxEnvelopeSize = 1 << 20

	defaultTimeout = 30 * time.Second
)

// Error codes.
const (
	// InvalidRequestErrorCode is for envelopes failing structural validation.
	InvalidRequestErrorCode = command.Code(iota + command.Relay)

	// RateLimitedErrorCode is for senders exceeding the configured rate.
	RateLimitedErrorCode

	// DeliveryErrorCode is for envelopes neither the broker nor the hub accepted.
	DeliveryErrorCode
)

// Relayer hands an envelope to the broker and to local sessions.
type Relayer interface {
	Relay(ctx context.Context, env *envelope.Envelope) (*relay.Result, error)
}

// Limiter decides whether a sender may relay another envelope.
type Limiter interface {
	Allow(key string, now time.Time) bool
}

// SessionCounter reports how many sessions are connected to the node.
type SessionCounter interface {
	SessionCount() int
}

// Command contains basic command operations provided by the relay controller command.
type Command struct {
	relayer  Relayer
	limiter  Limiter
	sessions SessionCounter
	metrics  *metrics.Relay
	timeout  time.Duration
	now      func() time.Time
}

// Opt configures a Command.
type Opt func(c *Command)

// WithLimiter enables per-sender rate limiting.
func WithLimiter(l Limiter) Opt {
	return func(c *Command) {
		c.limiter = l
	}
}

// WithSessionCounter reports connected sessions in health checks.
func WithSessionCounter(s SessionCounter) Opt {
	return func(c *Command) {
		c.sessions = s
	}
}

// WithMetrics records rejected envelopes.
func WithMetrics(m *metrics.Relay) Opt {
	return func(c *Command) {
		c.metrics = m
	}
}

// WithTimeout bounds how long one envelope may take to relay.
func WithTimeout(d time.Duration) Opt {
	return func(c *Command) {
		c.timeout = d
	}
}

// WithClock sets the clock used for rate limiting.
func WithClock(now func() time.Time) Opt {
	return func(c *Command) {
		c.now = now
	}
}

// New returns new relay controller command instance.
func New(relayer Relayer, opts ...Opt) (*Command, error) {
	if relayer == nil {
		return nil, errors.New("relayer is required")
	}

	c := &Command{relayer: relayer, timeout: defaultTimeout, now: time.Now}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// GetHandlers returns list of all commands supported by this controller command.
func (c *Command) GetHandlers() []command.Handler {
	return []command.Handler{
		cmdutil.NewCommandHandler(CommandName, SendEnvelopeCommandMethod, c.SendEnvelope),
		cmdutil.NewCommandHandler(CommandName, HealthCheckCommandMethod, c.HealthCheck),
	}
}

// SendEnvelope validates an envelope and relays it.
func (c *Command) SendEnvelope(rw io.Writer, req io.Reader) command.Error {
	data, err := io.ReadAll(io.LimitReader(req, maxEnvelopeSize+1))
	if err != nil {
		logutil.LogInfo(logger, CommandName, SendEnvelopeCommandMethod, err.Error())
		return c.reject(metrics.ReasonInvalid, command.NewValidationError(InvalidRequestErrorCode, err))
	}

	if len(bytes.TrimSpace(data)) == 0 {
		logutil.LogDebug(logger, CommandName, SendEnvelopeCommandMethod, errMsgBodyEmpty)
		return c.reject(metrics.ReasonInvalid,
			command.NewValidationError(InvalidRequestErrorCode, errors.New(errMsgBodyEmpty)))
	}

	if len(data) > maxEnvelopeSize {
		err = fmt.Errorf("%w: larger than %d bytes", envelope.ErrInvalidEnvelope, maxEnvelopeSize)
		logutil.LogInfo(logger, CommandName, SendEnvelopeCommandMethod, err.Error())

		return c.reject(metrics.ReasonInvalid, command.NewValidationError(InvalidRequestErrorCode, err))
	}

	env, err := envelope.Parse(data)
	if err == nil {
		err = envelope.Validate(env).Err()
	}

	if err != nil {
		logutil.LogInfo(logger, CommandName, SendEnvelopeCommandMethod, err.Error())
		return c.reject(metrics.ReasonInvalid, command.NewValidationError(InvalidRequestErrorCode, err))
	}

	if c.limiter != nil && !c.limiter.Allow(env.From, c.now()) {
		logutil.LogWarn(logger, CommandName, SendEnvelopeCommandMethod, "rate limited",
			logutil.CreateKeyValueString("from", env.From))

		return c.reject(metrics.ReasonRateLimited,
			command.NewExecuteError(RateLimitedErrorCode, fmt.Errorf(errMsgRateLimited, env.From)))
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	res, err := c.relayer.Relay(ctx, env)
	if err != nil {
		logutil.LogError(logger, CommandName, SendEnvelopeCommandMethod, err.Error(),
			logutil.CreateKeyValueString(messageID, env.ID))

		if errors.Is(err, envelope.ErrInvalidEnvelope) {
			return c.reject(metrics.ReasonInvalid, command.NewValidationError(InvalidRequestErrorCode, err))
		}

		return c.reject(metrics.ReasonUndeliverable, command.NewExecuteError(DeliveryErrorCode, err))
	}

	command.WriteNillableResponse(rw, &SendEnvelopeResponse{Success: true, MessageID: res.MessageID}, logger)

	logutil.LogDebug(logger, CommandName, SendEnvelopeCommandMethod, successString,
		logutil.CreateKeyValueString(messageID, res.MessageID))

	return nil
}

// HealthCheck reports that the node is serving.
func (c *Command) HealthCheck(rw io.Writer, _ io.Reader) command.Error {
	resp := &HealthCheckResponse{Status: "success"}
	if c.sessions != nil {
		resp.Sessions = c.sessions.SessionCount()
	}

	command.WriteNillableResponse(rw, resp, logger)

	return nil
}

func (c *Command) reject(reason string, err command.Error) command.Error {
	c.metrics.Rejected(reason)

	return err
}
