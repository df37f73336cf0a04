/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package webnotifier

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	webhookRetries       = 3
	webhookRetryInterval = 500 * time.Millisecond
)

// HTTPNotifier posts notifications to webhook subscribers.
type HTTPNotifier struct {
	urls       []string
	client     *http.Client
	newBackOff func() backoff.BackOff
}

// HTTPOpt configures an HTTPNotifier.
type HTTPOpt func(n *HTTPNotifier)

// WithWebhookBackOff replaces the retry policy of a single webhook post.
func WithWebhookBackOff(f func() backoff.BackOff) HTTPOpt {
	return func(n *HTTPNotifier) {
		n.newBackOff = f
	}
}

// NewHTTPNotifier returns a notifier for webhookURLs. Connection failures and 5xx answers are retried;
// any other status is final.
func NewHTTPNotifier(webhookURLs []string, opts ...HTTPOpt) *HTTPNotifier {
	n := &HTTPNotifier{
		urls:   webhookURLs,
		client: &http.Client{Timeout: notificationSendTimeout},
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = webhookRetryInterval

			return backoff.WithMaxRetries(b, webhookRetries)
		},
	}

	for _, opt := range opts {
		opt(n)
	}

	return n
}

// Notify posts the topic message to every webhook URL as is; the topic is only part of the body.
// Failures of all webhooks are joined.
func (n *HTTPNotifier) Notify(topic string, message []byte) error {
	if topic == "" {
		return errors.New(emptyTopicErrMsg)
	}

	if len(message) == 0 {
		return errors.New(emptyMessageErrMsg)
	}

	topicMsg, err := PrepareTopicMessage(topic, message)
	if err != nil {
		return fmt.Errorf(failedToCreateErrMsg, err)
	}

	var allErrs error

	for _, webhookURL := range n.urls {
		destination := webhookURL

		err := backoff.RetryNotify(
			func() error { return n.post(destination, topicMsg) },
			n.newBackOff(),
			func(err error, wait time.Duration) {
				logger.Debugf("webhook %s failed, retrying in %s: %v", destination, wait, err)
			})

		allErrs = appendError(allErrs, err)
	}

	return allErrs
}

func (n *HTTPNotifier) post(destination string, message []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), notificationSendTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, destination, bytes.NewReader(message))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("failed to create new http post request for %s: %w", destination, err))
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post notification to %s: %w", destination, err)
	}

	if e := resp.Body.Close(); e != nil {
		logger.Warnf("failed to close webhook response body: %v", e)
	}

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated ||
		resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusNoContent:
		logger.Debugf("notification sent to %s", destination)

		return nil
	case resp.StatusCode >= http.StatusInternalServerError:
		return fmt.Errorf("notification was sent to %s, but %s was received", destination, resp.Status)
	default:
		return backoff.Permanent(
			fmt.Errorf("notification was sent to %s, but %s was received", destination, resp.Status))
	}
}
