/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/hyperledger/aries-framework-go/component/log"

	"github.com/didrelay/didcomm-relay/internal/logutil"
	"github.com/didrelay/didcomm-relay/pkg/client/messaging"
	"github.com/didrelay/didcomm-relay/pkg/controller/command"
	"github.com/didrelay/didcomm-relay/pkg/controller/internal/cmdutil"
	"github.com/didrelay/didcomm-relay/pkg/store/inbox"
)

var logger = log.New("didcomm-relay/controller/messaging")

const (
	// CommandName is the name of the agent messaging command.
	CommandName = "messaging"

	errMsgSvcNameRequired    = "service name is required"
	errMsgBodyEmpty          = "empty message body"
	errMsgDestinationMissing = "missing message destination"
	errMsgIDEmpty            = "empty message ID"
	errMsgRequestTypeEmpty   = "empty request type"

	RegisteredServicesCommandMethod       = "Services"
	RegisterMessageServiceCommandMethod   = "RegisterService"
	UnregisterMessageServiceCommandMethod = "UnregisterService"
	SendNewMessageCommandMethod           = "Send"
	MessagesCommandMethod                 = "Messages"
	MarkAsReadCommandMethod               = "MarkAsRead"
	SendApprovalRequestCommandMethod      = "SendApprovalRequest"
	SendApprovalResponseCommandMethod     = "SendApprovalResponse"

	messageID     = "messageID"
	successString = "success"

	// upper bound for one relay round trip
	defaultTimeout = 20 * time.Second
)

const (
	// InvalidRequestErrorCode rejects malformed or incomplete requests.
	InvalidRequestErrorCode = command.Code(iota + command.Messaging)

	// RegisterMsgSvcError reports a service that could not be registered.
	RegisterMsgSvcError

	// UnregisterMsgSvcError reports an unknown service name.
	UnregisterMsgSvcError

	// SendMsgError reports a message the relay did not accept.
	SendMsgError

	// GetMessagesError is for failures while reading the inbox.
	GetMessagesError

	// MarkAsReadError is for failures while marking a message as read.
	MarkAsReadError

	// MessageNotFoundError is for unknown message ids.
	MessageNotFoundError
)

// Messenger is the agent side of messaging.
type Messenger interface {
	SendMessage(ctx context.Context, to, body interface{}) (*messaging.SendResult, error)
	SendApprovalRequest(ctx context.Context, to interface{}, requestType string,
		requestData map[string]interface{}) (*messaging.SendResult, error)
	SendApprovalResponse(ctx context.Context, request *inbox.ReceivedMessage, approved bool,
		reason string) (*messaging.SendResult, error)
	GetMessages() ([]*inbox.ReceivedMessage, error)
	MarkAsRead(id string) error
	UnreadCount() (int, error)
	RegisterService(name, msgType string) error
	UnregisterService(name string) error
	Services() []string
}

// Command exposes the agent messaging operations as controller commands.
type Command struct {
	msgClient Messenger
	timeout   time.Duration
}

// New creates the messaging command.
func New(msgClient Messenger) (*Command, error) {
	if msgClient == nil {
		return nil, errors.New("message client is required")
	}

	return &Command{msgClient: msgClient, timeout: defaultTimeout}, nil
}

// GetHandlers lists the messaging command methods.
func (o *Command) GetHandlers() []command.Handler {
	return []command.Handler{
		cmdutil.NewCommandHandler(CommandName, RegisteredServicesCommandMethod, o.Services),
		cmdutil.NewCommandHandler(CommandName, RegisterMessageServiceCommandMethod, o.RegisterService),
		cmdutil.NewCommandHandler(CommandName, UnregisterMessageServiceCommandMethod, o.UnregisterService),
		cmdutil.NewCommandHandler(CommandName, SendNewMessageCommandMethod, o.Send),
		cmdutil.NewCommandHandler(CommandName, MessagesCommandMethod, o.Messages),
		cmdutil.NewCommandHandler(CommandName, MarkAsReadCommandMethod, o.MarkAsRead),
		cmdutil.NewCommandHandler(CommandName, SendApprovalRequestCommandMethod, o.SendApprovalRequest),
		cmdutil.NewCommandHandler(CommandName, SendApprovalResponseCommandMethod, o.SendApprovalResponse),
	}
}

// RegisterService routes inbound messages of a type to a named service.
func (o *Command) RegisterService(rw io.Writer, req io.Reader) command.Error {
	var request RegisterMsgSvcArgs

	err := json.NewDecoder(req).Decode(&request)
	if err != nil {
		logutil.LogInfo(logger, CommandName, RegisterMessageServiceCommandMethod, err.Error())
		return command.NewValidationError(InvalidRequestErrorCode, err)
	}

	if request.Name == "" {
		logutil.LogDebug(logger, CommandName, RegisterMessageServiceCommandMethod, errMsgSvcNameRequired)
		return command.NewValidationError(InvalidRequestErrorCode, errors.New(errMsgSvcNameRequired))
	}

	err = o.msgClient.RegisterService(request.Name, request.Type)
	if err != nil {
		logutil.LogError(logger, CommandName, RegisterMessageServiceCommandMethod, err.Error(),
			logutil.CreateKeyValueString("name", request.Name),
			logutil.CreateKeyValueString("type", request.Type))

		return command.NewExecuteError(RegisterMsgSvcError, err)
	}

	logutil.LogDebug(logger, CommandName, RegisterMessageServiceCommandMethod, successString,
		logutil.CreateKeyValueString("name", request.Name))

	return nil
}

// UnregisterService removes a named service.
func (o *Command) UnregisterService(rw io.Writer, req io.Reader) command.Error {
	var request UnregisterMsgSvcArgs

	err := json.NewDecoder(req).Decode(&request)
	if err != nil {
		logutil.LogInfo(logger, CommandName, UnregisterMessageServiceCommandMethod, err.Error())
		return command.NewValidationError(InvalidRequestErrorCode, err)
	}

	if request.Name == "" {
		logutil.LogDebug(logger, CommandName, UnregisterMessageServiceCommandMethod, errMsgSvcNameRequired)
		return command.NewValidationError(InvalidRequestErrorCode, errors.New(errMsgSvcNameRequired))
	}

	err = o.msgClient.UnregisterService(request.Name)
	if err != nil {
		logutil.LogError(logger, CommandName, UnregisterMessageServiceCommandMethod, err.Error(),
			logutil.CreateKeyValueString("name", request.Name))

		return command.NewExecuteError(UnregisterMsgSvcError, err)
	}

	logutil.LogDebug(logger, CommandName, UnregisterMessageServiceCommandMethod, successString,
		logutil.CreateKeyValueString("name", request.Name))

	return nil
}

// Services lists the registered service names.
func (o *Command) Services(rw io.Writer, req io.Reader) command.Error {
	command.WriteNillableResponse(rw, RegisteredServicesResponse{Names: o.msgClient.Services()}, logger)

	logutil.LogDebug(logger, CommandName, RegisteredServicesCommandMethod, successString)

	return nil
}

// Send sends a basic message to the DIDs provided.
func (o *Command) Send(rw io.Writer, req io.Reader) command.Error {
	var request SendNewMessageArgs

	err := json.NewDecoder(req).Decode(&request)
	if err != nil {
		logutil.LogInfo(logger, CommandName, SendNewMessageCommandMethod, err.Error())
		return command.NewValidationError(InvalidRequestErrorCode, err)
	}

	if request.To == nil || request.To == "" {
		logutil.LogDebug(logger, CommandName, SendNewMessageCommandMethod, errMsgDestinationMissing)
		return command.NewValidationError(InvalidRequestErrorCode, errors.New(errMsgDestinationMissing))
	}

	body, err := messageBody(request.Body)
	if err != nil {
		logutil.LogDebug(logger, CommandName, SendNewMessageCommandMethod, err.Error())
		return command.NewValidationError(InvalidRequestErrorCode, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
	defer cancel()

	res, err := o.msgClient.SendMessage(ctx, request.To, body)
	if err != nil {
		logutil.LogError(logger, CommandName, SendNewMessageCommandMethod, err.Error())

		return command.NewExecuteError(SendMsgError, err)
	}

	writeSendResult(rw, res)

	logutil.LogDebug(logger, CommandName, SendNewMessageCommandMethod, successString,
		logutil.CreateKeyValueString(messageID, res.MessageID))

	return nil
}

// Messages returns received messages with the unread count.
func (o *Command) Messages(rw io.Writer, req io.Reader) command.Error {
	msgs, err := o.msgClient.GetMessages()
	if err != nil {
		logutil.LogError(logger, CommandName, MessagesCommandMethod, err.Error())
		return command.NewExecuteError(GetMessagesError, err)
	}

	unread, err := o.msgClient.UnreadCount()
	if err != nil {
		logutil.LogError(logger, CommandName, MessagesCommandMethod, err.Error())
		return command.NewExecuteError(GetMessagesError, err)
	}

	if msgs == nil {
		msgs = []*inbox.ReceivedMessage{}
	}

	command.WriteNillableResponse(rw, &MessagesResponse{Messages: msgs, Unread: unread}, logger)

	logutil.LogDebug(logger, CommandName, MessagesCommandMethod, successString)

	return nil
}

// MarkAsRead marks a received message as read.
func (o *Command) MarkAsRead(rw io.Writer, req io.Reader) command.Error {
	var request MessageIDArgs

	err := json.NewDecoder(req).Decode(&request)
	if err != nil {
		logutil.LogInfo(logger, CommandName, MarkAsReadCommandMethod, err.Error())
		return command.NewValidationError(InvalidRequestErrorCode, err)
	}

	if request.ID == "" {
		logutil.LogDebug(logger, CommandName, MarkAsReadCommandMethod, errMsgIDEmpty)
		return command.NewValidationError(InvalidRequestErrorCode, errors.New(errMsgIDEmpty))
	}

	err = o.msgClient.MarkAsRead(request.ID)
	if err != nil {
		logutil.LogError(logger, CommandName, MarkAsReadCommandMethod, err.Error(),
			logutil.CreateKeyValueString(messageID, request.ID))

		if errors.Is(err, inbox.ErrMessageNotFound) {
			return command.NewValidationError(MessageNotFoundError, err)
		}

		return command.NewExecuteError(MarkAsReadError, err)
	}

	command.WriteNillableResponse(rw, nil, logger)

	logutil.LogDebug(logger, CommandName, MarkAsReadCommandMethod, successString,
		logutil.CreateKeyValueString(messageID, request.ID))

	return nil
}

// SendApprovalRequest asks the recipients to approve an action.
func (o *Command) SendApprovalRequest(rw io.Writer, req io.Reader) command.Error {
	var request ApprovalRequestArgs

	err := json.NewDecoder(req).Decode(&request)
	if err != nil {
		logutil.LogInfo(logger, CommandName, SendApprovalRequestCommandMethod, err.Error())
		return command.NewValidationError(InvalidRequestErrorCode, err)
	}

	if request.To == nil || request.To == "" {
		logutil.LogDebug(logger, CommandName, SendApprovalRequestCommandMethod, errMsgDestinationMissing)
		return command.NewValidationError(InvalidRequestErrorCode, errors.New(errMsgDestinationMissing))
	}

	if request.RequestType == "" {
		logutil.LogDebug(logger, CommandName, SendApprovalRequestCommandMethod, errMsgRequestTypeEmpty)
		return command.NewValidationError(InvalidRequestErrorCode, errors.New(errMsgRequestTypeEmpty))
	}

	ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
	defer cancel()

	res, err := o.msgClient.SendApprovalRequest(ctx, request.To, request.RequestType, request.RequestData)
	if err != nil {
		logutil.LogError(logger, CommandName, SendApprovalRequestCommandMethod, err.Error())

		return command.NewExecuteError(SendMsgError, err)
	}

	writeSendResult(rw, res)

	logutil.LogDebug(logger, CommandName, SendApprovalRequestCommandMethod, successString,
		logutil.CreateKeyValueString(messageID, res.MessageID))

	return nil
}

// SendApprovalResponse answers a received approval request.
func (o *Command) SendApprovalResponse(rw io.Writer, req io.Reader) command.Error {
	var request ApprovalResponseArgs

	err := json.NewDecoder(req).Decode(&request)
	if err != nil {
		logutil.LogInfo(logger, CommandName, SendApprovalResponseCommandMethod, err.Error())
		return command.NewValidationError(InvalidRequestErrorCode, err)
	}

	if request.ID == "" {
		logutil.LogDebug(logger, CommandName, SendApprovalResponseCommandMethod, errMsgIDEmpty)
		return command.NewValidationError(InvalidRequestErrorCode, errors.New(errMsgIDEmpty))
	}

	received, cmdErr := o.findMessage(request.ID)
	if cmdErr != nil {
		logutil.LogInfo(logger, CommandName, SendApprovalResponseCommandMethod, cmdErr.Error(),
			logutil.CreateKeyValueString(messageID, request.ID))

		return cmdErr
	}

	ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
	defer cancel()

	res, err := o.msgClient.SendApprovalResponse(ctx, received, request.Approved, request.Reason)
	if err != nil {
		logutil.LogError(logger, CommandName, SendApprovalResponseCommandMethod, err.Error(),
			logutil.CreateKeyValueString(messageID, request.ID))

		return command.NewExecuteError(SendMsgError, err)
	}

	writeSendResult(rw, res)

	logutil.LogDebug(logger, CommandName, SendApprovalResponseCommandMethod, successString,
		logutil.CreateKeyValueString(messageID, res.MessageID))

	return nil
}

func (o *Command) findMessage(id string) (*inbox.ReceivedMessage, command.Error) {
	msgs, err := o.msgClient.GetMessages()
	if err != nil {
		return nil, command.NewExecuteError(GetMessagesError, err)
	}

	for _, m := range msgs {
		if m.ID == id {
			return m, nil
		}
	}

	return nil, command.NewValidationError(MessageNotFoundError, fmt.Errorf("%w: %s", inbox.ErrMessageNotFound, id))
}

// messageBody turns a JSON string into message text and keeps JSON objects as they are.
func messageBody(raw json.RawMessage) (interface{}, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, errors.New(errMsgBodyEmpty)
	}

	switch raw[0] {
	case '"':
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			return nil, err
		}

		if text == "" {
			return nil, errors.New(errMsgBodyEmpty)
		}

		return text, nil
	case '{':
		return raw, nil
	default:
		return nil, errors.New("message body must be a string or a JSON object")
	}
}

func writeSendResult(rw io.Writer, res *messaging.SendResult) {
	command.WriteNillableResponse(rw, &SendMessageResponse{Success: res.Success, MessageID: res.MessageID}, logger)
}
