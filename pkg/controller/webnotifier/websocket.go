/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package webnotifier

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"nhooyr.io/websocket"

	"github.com/didrelay/didcomm-relay/internal/wsorigin"
	"github.com/didrelay/didcomm-relay/pkg/controller/internal/cmdutil"
	"github.com/didrelay/didcomm-relay/pkg/controller/rest"
)

// WSNotifier pushes notifications to every subscribed websocket client.
type WSNotifier struct {
	mu          sync.RWMutex
	subscribers map[*websocket.Conn]struct{}

	path           string
	originPatterns []string
}

// WSOpt configures a WSNotifier.
type WSOpt func(n *WSNotifier)

// WithOriginPatterns restricts the origins allowed to subscribe. Without patterns any origin is accepted.
func WithOriginPatterns(patterns ...string) WSOpt {
	return func(n *WSNotifier) {
		n.originPatterns = patterns
	}
}

// NewWSNotifier creates a notifier accepting subscriptions on path.
func NewWSNotifier(path string, opts ...WSOpt) *WSNotifier {
	n := &WSNotifier{
		subscribers: make(map[*websocket.Conn]struct{}),
		path:        path,
	}

	for _, opt := range opts {
		opt(n)
	}

	return n
}

// ConnCount returns the number of subscribed clients.
func (n *WSNotifier) ConnCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()

	return len(n.subscribers)
}

// Notify writes the topic message to every subscriber. Write failures are joined; a client that
// cannot be written to is left for its reader to drop.
func (n *WSNotifier) Notify(topic string, message []byte) error {
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

	for _, conn := range n.snapshot() {
		allErrs = appendError(allErrs, write(conn, topicMsg))
	}

	return allErrs
}

func (n *WSNotifier) snapshot() []*websocket.Conn {
	n.mu.RLock()
	defer n.mu.RUnlock()

	conns := make([]*websocket.Conn, 0, len(n.subscribers))
	for conn := range n.subscribers {
		conns = append(conns, conn)
	}

	return conns
}

func write(conn *websocket.Conn, message []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), notificationSendTimeout)
	defer cancel()

	return conn.Write(ctx, websocket.MessageText, message)
}

func (n *WSNotifier) subscribe(w http.ResponseWriter, r *http.Request) {
	if err := wsorigin.Check(r, n.originPatterns); err != nil {
		logger.Infof("notification subscriber rejected: %v", err)
		http.Error(w, err.Error(), http.StatusForbidden)

		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		logger.Infof("notification subscriber rejected: %v", err)

		return
	}

	n.mu.Lock()
	n.subscribers[conn] = struct{}{}
	n.mu.Unlock()

	logger.Debugf("notification subscriber connected")

	defer n.unsubscribe(conn)

	// subscribers only listen; the first frame or a close ends the subscription
	_, _, err = conn.Reader(r.Context())
	if err != nil && websocket.CloseStatus(err) != websocket.StatusNormalClosure {
		logger.Infof("notification subscriber read failed: %v", err)
	}

	if err == nil {
		_ = conn.Close(websocket.StatusPolicyViolation, "subscribers must not send messages") //nolint:errcheck

		return
	}

	_ = conn.Close(websocket.StatusNormalClosure, "") //nolint:errcheck
}

func (n *WSNotifier) unsubscribe(conn *websocket.Conn) {
	n.mu.Lock()
	delete(n.subscribers, conn)
	n.mu.Unlock()

	logger.Debugf("notification subscriber dropped")
}

// GetRESTHandlers returns the subscription endpoint.
func (n *WSNotifier) GetRESTHandlers() []rest.Handler {
	return []rest.Handler{
		cmdutil.NewHTTPHandler(n.path, http.MethodGet, n.subscribe),
	}
}
