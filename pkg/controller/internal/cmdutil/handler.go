/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package cmdutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/hyperledger/aries-framework-go/component/log"

	"github.com/didrelay/didcomm-relay/pkg/controller/command"
)

var logger = log.New("didcomm-relay/controller/cmdutil")

// InternalErrorCode is reported when a handler panics.
const InternalErrorCode = command.Code(command.Common + 1)

// HTTPHandler binds a REST endpoint to its handler func.
type HTTPHandler struct {
	path   string
	method string
	handle http.HandlerFunc
}

// NewHTTPHandler creates an endpoint. The returned handle func recovers from panics and answers
// them with a 500 generic error body.
func NewHTTPHandler(path, method string, handle http.HandlerFunc) *HTTPHandler {
	return &HTTPHandler{path: path, method: method, handle: recoverer(path, handle)}
}

// Path of the endpoint.
func (h *HTTPHandler) Path() string { return h.path }

// Method of the endpoint.
func (h *HTTPHandler) Method() string { return h.method }

// Handle returns the handler func.
func (h *HTTPHandler) Handle() http.HandlerFunc { return h.handle }

func recoverer(path string, next http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, req *http.Request) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}

			logger.Errorf("recovered from panic in handler for %s: %v\n%s", path, r, debug.Stack())

			rw.Header().Set("Content-Type", "application/json")
			rw.WriteHeader(http.StatusInternalServerError)

			_ = json.NewEncoder(rw).Encode(map[string]interface{}{ //nolint:errcheck
				"code":    InternalErrorCode,
				"message": fmt.Sprintf("internal error while handling %s", path),
			})
		}()

		next(rw, req)
	}
}

// CommandHandler binds a controller command name and method to its Exec.
type CommandHandler struct {
	name   string
	method string
	handle command.Exec
}

// NewCommandHandler creates a command handler.
func NewCommandHandler(name, method string, exec command.Exec) *CommandHandler {
	return &CommandHandler{name: name, method: method, handle: exec}
}

// Name of the command.
func (c *CommandHandler) Name() string { return c.name }

// Method of the command.
func (c *CommandHandler) Method() string { return c.method }

// Handle returns the command Exec.
func (c *CommandHandler) Handle() command.Exec { return c.handle }
