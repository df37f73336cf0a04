/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package command holds the transport independent controller commands of the relay and the agent.
// The REST layer in pkg/controller/rest maps each command onto an HTTP endpoint.
package command

import (
	"io"
)

// Exec runs a command, reading its JSON request from req and writing the JSON response to rw.
type Exec func(rw io.Writer, req io.Reader) Error

// Handler exposes a single command method.
type Handler interface {
	Name() string
	Method() string
	Handle() Exec
}

// Notifier delivers a topic message to subscribers such as websocket clients or webhooks.
type Notifier interface {
	Notify(topic string, message []byte) error
}
