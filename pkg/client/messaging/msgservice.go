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

	"github.com/didrelay/didcomm-relay/pkg/didcomm/dispatcher/inbound"
	"github.com/didrelay/didcomm-relay/pkg/store/inbox"
)

const (
	errMsgSvcHandleFailed = "failed to handle inbound : %w"
	errTopicNotFound      = "failed to get topic to send notification"
)

// ErrServiceExists is returned when a message service name is registered twice.
var ErrServiceExists = errors.New("message service already registered")

// handleFunc converts incoming message to topic bytes to be sent.
type handleFunc func(msg *inbox.ReceivedMessage, myDID string) ([]byte, error)

// newMessageService returns new message service instance.
func newMessageService(name, msgType string, notifier Notifier) *msgService {
	return &msgService{
		name:        name,
		msgType:     msgType,
		notifier:    notifier,
		topicHandle: genericHandleFunc(),
	}
}

// msgService forwards received messages of one type to the notifier under its name.
type msgService struct {
	name        string
	msgType     string
	notifier    Notifier
	topicHandle handleFunc
}

func (m *msgService) Name() string {
	return m.name
}

// Accept matches the message type. A service without a type accepts every message.
func (m *msgService) Accept(msgType string) bool {
	return m.msgType == "" || m.msgType == msgType
}

func (m *msgService) HandleInbound(msg *inbox.ReceivedMessage, myDID string) error {
	if m.name == "" || m.topicHandle == nil {
		return errors.New(errTopicNotFound)
	}

	bytes, err := m.topicHandle(msg, myDID)
	if err != nil {
		return fmt.Errorf(errMsgSvcHandleFailed, err)
	}

	return m.notifier.Notify(m.name, bytes)
}

// genericHandleFunc handle function for converting incoming messages to generic topic.
func genericHandleFunc() handleFunc {
	return func(msg *inbox.ReceivedMessage, myDID string) ([]byte, error) {
		topic := struct {
			Message  *inbox.ReceivedMessage `json:"message"`
			MyDID    string                 `json:"mydid"`
			TheirDID string                 `json:"theirdid"`
		}{
			msg,
			myDID,
			msg.From,
		}

		return json.Marshal(topic)
	}
}

// RegisterService notifies name for every received message of msgType. An empty msgType matches all messages.
func (c *Client) RegisterService(name, msgType string) error {
	if name == "" {
		return errors.New("service name is required")
	}

	if c.notifier == nil {
		return errors.New("no notifier configured")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, svc := range c.services {
		if svc.Name() == name {
			return fmt.Errorf("%w: %s", ErrServiceExists, name)
		}
	}

	c.services = append(c.services, newMessageService(name, msgType, c.notifier))

	return nil
}

// UnregisterService unregisters given message service.
func (c *Client) UnregisterService(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, svc := range c.services {
		if svc.Name() == name {
			c.services = append(c.services[:i], c.services[i+1:]...)

			return nil
		}
	}

	return fmt.Errorf("message service %s not found", name)
}

// Services returns list of registered service names.
func (c *Client) Services() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := []string{}
	for _, svc := range c.services {
		names = append(names, svc.Name())
	}

	return names
}

// NotifyHook returns a dispatcher hook handing received messages to the registered message services.
func (c *Client) NotifyHook() inbound.Hook {
	return func(_ context.Context, msg *inbox.ReceivedMessage) {
		c.mu.RLock()
		services := append([]*msgService(nil), c.services...)
		c.mu.RUnlock()

		for _, svc := range services {
			if !svc.Accept(msg.Type) {
				continue
			}

			if err := svc.HandleInbound(msg, c.localDID); err != nil {
				logger.Warnf("message service %s: %v", svc.Name(), err)
			}
		}
	}
}
