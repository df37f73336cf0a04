/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package messaging

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/didrelay/didcomm-relay/pkg/controller/command"
	msgcmd "github.com/didrelay/didcomm-relay/pkg/controller/command/messaging"
	"github.com/didrelay/didcomm-relay/pkg/controller/internal/cmdutil"
	"github.com/didrelay/didcomm-relay/pkg/controller/rest"
)

// constants for messaging operations.
const (
	MsgOperationID           = "/messages"
	SendNewMessage           = MsgOperationID + "/send"
	GetMessages              = MsgOperationID
	MarkAsRead               = MsgOperationID + "/{id}/read"
	SendApprovalRequest      = MsgOperationID + "/approval-request"
	SendApprovalResponse     = MsgOperationID + "/{id}/approval-response"
	MsgServiceOperationID    = "/message"
	RegisteredServices       = MsgServiceOperationID + "/services"
	RegisterMsgService       = MsgServiceOperationID + "/register-service"
	UnregisterMsgService     = MsgServiceOperationID + "/unregister-service"
	idPathVariable           = "id"
	errMsgReadApprovalParams = "failed to read approval response"
)

type messagingCommand interface {
	Services(rw io.Writer, req io.Reader) command.Error
	RegisterService(rw io.Writer, req io.Reader) command.Error
	UnregisterService(rw io.Writer, req io.Reader) command.Error
	Send(rw io.Writer, req io.Reader) command.Error
	Messages(rw io.Writer, req io.Reader) command.Error
	MarkAsRead(rw io.Writer, req io.Reader) command.Error
	SendApprovalRequest(rw io.Writer, req io.Reader) command.Error
	SendApprovalResponse(rw io.Writer, req io.Reader) command.Error
}

// Operation contains basic common operations provided by controller REST API.
type Operation struct {
	handlers []rest.Handler
	command  messagingCommand
}

// New returns new messaging rest client protocol instance.
func New(msgClient msgcmd.Messenger) (*Operation, error) {
	msgcommand, err := msgcmd.New(msgClient)
	if err != nil {
		return nil, err
	}

	o := &Operation{command: msgcommand}
	o.registerHandler()

	return o, nil
}

// GetRESTHandlers get all controller API handler available for this protocol service.
func (o *Operation) GetRESTHandlers() []rest.Handler {
	return o.handlers
}

// registerHandler register handlers to be exposed from this protocol service as REST API endpoints.
func (o *Operation) registerHandler() {
	// Add more protocol endpoints here to expose them as controller API endpoints
	o.handlers = []rest.Handler{
		cmdutil.NewHTTPHandler(SendNewMessage, http.MethodPost, o.Send),
		cmdutil.NewHTTPHandler(GetMessages, http.MethodGet, o.Messages),
		cmdutil.NewHTTPHandler(MarkAsRead, http.MethodPost, o.MarkAsRead),
		cmdutil.NewHTTPHandler(SendApprovalRequest, http.MethodPost, o.SendApprovalRequest),
		cmdutil.NewHTTPHandler(SendApprovalResponse, http.MethodPost, o.SendApprovalResponse),
		cmdutil.NewHTTPHandler(RegisteredServices, http.MethodGet, o.Services),
		cmdutil.NewHTTPHandler(RegisterMsgService, http.MethodPost, o.RegisterService),
		cmdutil.NewHTTPHandler(UnregisterMsgService, http.MethodPost, o.UnregisterService),
	}
}

// Send swagger:route POST /messages/send messaging sendNewMessage
//
// Sends a basic message to the DIDs provided.
//
// Responses:
//
//	default: genericError
//	    200: sendMessageResponse
func (o *Operation) Send(rw http.ResponseWriter, req *http.Request) {
	rest.Execute(o.command.Send, rw, req.Body)
}

// Messages swagger:route GET /messages messaging getMessages
//
// Lists received messages and the number of unread ones.
//
// Responses:
//
//	default: genericError
//	    200: messagesResponse
func (o *Operation) Messages(rw http.ResponseWriter, req *http.Request) {
	rest.Execute(o.command.Messages, rw, req.Body)
}

// MarkAsRead swagger:route POST /messages/{id}/read messaging markAsRead
//
// Marks a received message as read.
//
// Responses:
//
//	default: genericError
func (o *Operation) MarkAsRead(rw http.ResponseWriter, req *http.Request) {
	reqBytes, err := json.Marshal(&msgcmd.MessageIDArgs{ID: mux.Vars(req)[idPathVariable]})
	if err != nil {
		rest.SendHTTPStatusError(rw, http.StatusBadRequest, msgcmd.InvalidRequestErrorCode, err)
		return
	}

	rest.Execute(o.command.MarkAsRead, rw, bytes.NewBuffer(reqBytes))
}

// SendApprovalRequest swagger:route POST /messages/approval-request messaging sendApprovalRequest
//
// Asks the DIDs provided to approve an action.
//
// Responses:
//
//	default: genericError
//	    200: sendMessageResponse
func (o *Operation) SendApprovalRequest(rw http.ResponseWriter, req *http.Request) {
	rest.Execute(o.command.SendApprovalRequest, rw, req.Body)
}

// SendApprovalResponse swagger:route POST /messages/{id}/approval-response messaging sendApprovalResponse
//
// Answers a received approval request.
//
// Responses:
//
//	default: genericError
//	    200: sendMessageResponse
func (o *Operation) SendApprovalResponse(rw http.ResponseWriter, req *http.Request) {
	var args msgcmd.ApprovalResponseArgs

	if err := json.NewDecoder(req.Body).Decode(&args); err != nil && !errors.Is(err, io.EOF) {
		rest.SendHTTPStatusError(rw, http.StatusBadRequest, msgcmd.InvalidRequestErrorCode,
			errors.Wrap(err, errMsgReadApprovalParams))

		return
	}

	args.ID = mux.Vars(req)[idPathVariable]

	reqBytes, err := json.Marshal(&args)
	if err != nil {
		rest.SendHTTPStatusError(rw, http.StatusBadRequest, msgcmd.InvalidRequestErrorCode, err)
		return
	}

	rest.Execute(o.command.SendApprovalResponse, rw, bytes.NewBuffer(reqBytes))
}

// Services swagger:route GET /message/services message services
//
// Returns the names of registered message services.
//
// Responses:
//
//	default: genericError
//	    200: registeredServicesResponse
func (o *Operation) Services(rw http.ResponseWriter, req *http.Request) {
	rest.Execute(o.command.Services, rw, req.Body)
}

// RegisterService swagger:route POST /message/register-service message registerMsgSvc
//
// Registers a message service forwarding received messages to the notifier.
//
// Responses:
//
//	default: genericError
func (o *Operation) RegisterService(rw http.ResponseWriter, req *http.Request) {
	rest.Execute(o.command.RegisterService, rw, req.Body)
}

// UnregisterService swagger:route POST /message/unregister-service message unregisterMsgSvc
//
// Unregisters a message service.
//
// Responses:
//
//	default: genericError
func (o *Operation) UnregisterService(rw http.ResponseWriter, req *http.Request) {
	rest.Execute(o.command.UnregisterService, rw, req.Body)
}
