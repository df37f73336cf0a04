/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package http posts envelopes to a relay over HTTP.
package http

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hyperledger/aries-framework-go/component/log"
	"github.com/pkg/errors"

	"github.com/didrelay/didcomm-relay/pkg/didcomm/envelope"
	"github.com/didrelay/didcomm-relay/pkg/didcomm/transport"
)

// SendPath is the relay endpoint envelopes are posted to.
const SendPath = "/api/SendDidCommMessage"

const (
	defaultTimeout = 30 * time.Second
	maxErrorBody   = 4096
)

var logger = log.New("didcomm-relay/transport/http")

// outboundCommHTTPOpts holds options for the HTTP relay client.
type outboundCommHTTPOpts struct {
	client *http.Client
}

// OutboundHTTPOpt is an outbound HTTP transport option.
type OutboundHTTPOpt func(opts *outboundCommHTTPOpts)

// WithOutboundHTTPClient option is for creating an Outbound HTTP transport using an http.Client instance.
func WithOutboundHTTPClient(client *http.Client) OutboundHTTPOpt {
	return func(opts *outboundCommHTTPOpts) {
		opts.client = client
	}
}

// WithOutboundTimeout option is for creating an Outbound HTTP transport using a client timeout value.
func WithOutboundTimeout(timeout time.Duration) OutboundHTTPOpt {
	return func(opts *outboundCommHTTPOpts) {
		opts.client.Timeout = timeout
	}
}

// WithOutboundTLSConfig option is for creating an Outbound HTTP transport using a tls.Config instance.
func WithOutboundTLSConfig(tlsConfig *tls.Config) OutboundHTTPOpt {
	return func(opts *outboundCommHTTPOpts) {
		opts.client = &http.Client{
			Timeout: defaultTimeout,
			Transport: &http.Transport{
				TLSClientConfig: tlsConfig,
			},
		}
	}
}

type sendResponse struct {
	Success   bool   `json:"success"`
	MessageID string `json:"messageId"`
}

type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// OutboundHTTPClient delivers envelopes to a single relay.
type OutboundHTTPClient struct {
	client *http.Client
	url    string
}

// NewOutbound creates a relay client for relayURL, the base URL of the relay REST API.
func NewOutbound(relayURL string, opts ...OutboundHTTPOpt) (*OutboundHTTPClient, error) {
	if relayURL == "" {
		return nil, errors.New("relay url is required")
	}

	clOpts := &outboundCommHTTPOpts{client: &http.Client{Timeout: defaultTimeout}}
	for _, opt := range opts {
		opt(clOpts)
	}

	if clOpts.client == nil {
		return nil, errors.New("can't create an outbound transport without an HTTP client")
	}

	return &OutboundHTTPClient{
		client: clOpts.client,
		url:    strings.TrimSuffix(relayURL, "/") + SendPath,
	}, nil
}

// Deliver posts env to the relay. It succeeds when the relay accepted the envelope on at least one
// delivery path.
func (cs *OutboundHTTPClient) Deliver(ctx context.Context, env *envelope.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return errors.Wrap(err, "marshal envelope")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cs.url, bytes.NewReader(data))
	if err != nil {
		return errors.Wrap(err, "create relay request")
	}

	req.Header.Set("Content-Type", transport.MediaTypeEnvelope)

	resp, err := cs.client.Do(req)
	if err != nil {
		logger.Errorf("HTTP Transport - Error posting envelope %s to relay at [%s]: %v", env.ID, cs.url, err)

		return errors.Wrapf(err, "post envelope to %s", cs.url)
	}

	defer func() {
		if e := resp.Body.Close(); e != nil {
			logger.Errorf("HTTP Transport - Error closing response body: %v", e)
		}
	}()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return errors.Errorf("relay at [%s] rejected envelope %s: %s%s", cs.url, env.ID, resp.Status,
			errorDetail(resp.Body))
	}

	result := &sendResponse{}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return errors.Wrap(err, "decode relay response")
	}

	if !result.Success {
		return errors.Errorf("relay at [%s] did not accept envelope %s", cs.url, env.ID)
	}

	logger.Debugf("relay accepted envelope %s", result.MessageID)

	return nil
}

func errorDetail(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, maxErrorBody))
	if err != nil || len(data) == 0 {
		return ""
	}

	e := &errorResponse{}
	if err := json.Unmarshal(data, e); err == nil && e.Message != "" {
		return ": " + e.Message
	}

	return ": " + strings.TrimSpace(string(data))
}
