/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package controller

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/didrelay/didcomm-relay/pkg/controller/command"
	messagingcmd "github.com/didrelay/didcomm-relay/pkg/controller/command/messaging"
	relaycmd "github.com/didrelay/didcomm-relay/pkg/controller/command/relay"
	"github.com/didrelay/didcomm-relay/pkg/controller/rest"
	messagingrest "github.com/didrelay/didcomm-relay/pkg/controller/rest/messaging"
	relayrest "github.com/didrelay/didcomm-relay/pkg/controller/rest/relay"
)

// WSPath is where agents serve the notification websocket.
const WSPath = "/ws"

type allOpts struct {
	notifier  command.Notifier
	gatherer  prometheus.Gatherer
	relayOpts []relaycmd.Opt
}

// Opt represents a controller option.
type Opt func(opts *allOpts)

// WithNotifier is an option for exposing the endpoints of a notifier, such as its websocket.
func WithNotifier(notifier command.Notifier) Opt {
	return func(opts *allOpts) {
		opts.notifier = notifier
	}
}

// WithMetricsGatherer is an option for serving metrics from gatherer on the relay API.
func WithMetricsGatherer(gatherer prometheus.Gatherer) Opt {
	return func(opts *allOpts) {
		opts.gatherer = gatherer
	}
}

// WithRelayOptions is an option for configuring the relay command, e.g. its rate limiter.
func WithRelayOptions(relayOpts ...relaycmd.Opt) Opt {
	return func(opts *allOpts) {
		opts.relayOpts = append(opts.relayOpts, relayOpts...)
	}
}

func applyOpts(opts []Opt) *allOpts {
	o := &allOpts{}
	// Apply options
	for _, opt := range opts {
		opt(o)
	}

	return o
}

// GetRelayRESTHandlers returns all REST handlers of a relay node.
func GetRelayRESTHandlers(relayer relaycmd.Relayer, hub relayrest.Hub, opts ...Opt) ([]rest.Handler, error) {
	restAPIOpts := applyOpts(opts)

	relayOp, err := relayrest.New(relayer, hub, restAPIOpts.gatherer, restAPIOpts.relayOpts...)
	if err != nil {
		return nil, fmt.Errorf("create relay rest operation : %w", err)
	}

	return relayOp.GetRESTHandlers(), nil
}

// GetRelayCommandHandlers returns all command handlers of a relay node.
func GetRelayCommandHandlers(relayer relaycmd.Relayer, opts ...Opt) ([]command.Handler, error) {
	cmdOpts := applyOpts(opts)

	relaycommand, err := relaycmd.New(relayer, cmdOpts.relayOpts...)
	if err != nil {
		return nil, fmt.Errorf("create relay command : %w", err)
	}

	return relaycommand.GetHandlers(), nil
}

// GetAgentRESTHandlers returns all REST handlers of an agent.
func GetAgentRESTHandlers(msgClient messagingcmd.Messenger, opts ...Opt) ([]rest.Handler, error) {
	restAPIOpts := applyOpts(opts)

	messagingOp, err := messagingrest.New(msgClient)
	if err != nil {
		return nil, fmt.Errorf("create messaging rest operation : %w", err)
	}

	allHandlers := messagingOp.GetRESTHandlers()

	nhp, ok := restAPIOpts.notifier.(handlerProvider)
	if ok {
		allHandlers = append(allHandlers, nhp.GetRESTHandlers()...)
	}

	return allHandlers, nil
}

type handlerProvider interface {
	GetRESTHandlers() []rest.Handler
}

// GetAgentCommandHandlers returns all command handlers of an agent.
func GetAgentCommandHandlers(msgClient messagingcmd.Messenger) ([]command.Handler, error) {
	msgcmd, err := messagingcmd.New(msgClient)
	if err != nil {
		return nil, fmt.Errorf("create messaging command : %w", err)
	}

	return msgcmd.GetHandlers(), nil
}
