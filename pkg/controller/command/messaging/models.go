/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package messaging

import (
	"encoding/json"

	"github.com/didrelay/didcomm-relay/pkg/store/inbox"
)

// RegisterMsgSvcArgs contains parameters for registering a message service to message handler.
type RegisterMsgSvcArgs struct {
	// Name of the message service.
	Name string `json:"name"`

	// Acceptance criteria for message service based on message type. Empty accepts every message.
	Type string `json:"type"`
}

// UnregisterMsgSvcArgs contains parameters for unregistering a message service from message handler.
type UnregisterMsgSvcArgs struct {
	// Name of the message service to be unregistered.
	Name string `json:"name"`
}

// RegisteredServicesResponse is response for getting list of all registered services.
type RegisteredServicesResponse struct {
	// Registered service names
	Names []string `json:"names"`
}

// SendNewMessageArgs contains parameters for sending a basic message.
type SendNewMessageArgs struct {
	// Recipient DID or list of DIDs.
	To interface{} `json:"to"`

	// Message text or a JSON object sent as the body.
	Body json.RawMessage `json:"body"`
}

// SendMessageResponse is the result of sending a message.
type SendMessageResponse struct {
	Success   bool   `json:"success"`
	MessageID string `json:"messageId"`
}

// MessagesResponse lists received messages.
type MessagesResponse struct {
	Messages []*inbox.ReceivedMessage `json:"messages"`
	Unread   int                      `json:"unread"`
}

// MessageIDArgs names a received message.
type MessageIDArgs struct {
	ID string `json:"id"`
}

// ApprovalRequestArgs contains parameters for requesting an approval.
type ApprovalRequestArgs struct {
	To          interface{}            `json:"to"`
	RequestType string                 `json:"request_type"`
	RequestData map[string]interface{} `json:"request_data"`
}

// ApprovalResponseArgs answers a received approval request.
type ApprovalResponseArgs struct {
	ID       string `json:"id"`
	Approved bool   `json:"approved"`
	Reason   string `json:"reason,omitempty"`
}
