/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package relay

import (
	"errors"
	"io"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/didrelay/didcomm-relay/pkg/controller/command"
	relaycmd "github.com/didrelay/didcomm-relay/pkg/controller/command/relay"
	"github.com/didrelay/didcomm-relay/pkg/controller/internal/cmdutil"
	"github.com/didrelay/didcomm-relay/pkg/controller/rest"
	"github.com/didrelay/didcomm-relay/pkg/didcomm/transport/hub"
)

// constants for relay operations.
const (
	SendEnvelopePath = "/api/SendDidCommMessage"
	HubPath          = hub.DefaultPath
	MetricsPath      = "/metrics"
	HealthCheckPath  = "/healthcheck"
)

// Hub serves push sessions.
type Hub interface {
	http.Handler
	SessionCount() int
}

type relayCommand interface {
	SendEnvelope(rw io.Writer, req io.Reader) command.Error
	HealthCheck(rw io.Writer, req io.Reader) command.Error
}

// Operation contains the REST API of a relay node.
type Operation struct {
	handlers []rest.Handler
	command  relayCommand
	hub      Hub
	metrics  http.Handler
}

// New returns new relay operations rest client instance. gatherer may be nil to leave out the metrics endpoint.
func New(relayer relaycmd.Relayer, h Hub, gatherer prometheus.Gatherer, opts ...relaycmd.Opt) (*Operation, error) {
	if h == nil {
		return nil, errors.New("hub is required")
	}

	cmd, err := relaycmd.New(relayer, append([]relaycmd.Opt{relaycmd.WithSessionCounter(h)}, opts...)...)
	if err != nil {
		return nil, err
	}

	o := &Operation{command: cmd, hub: h}

	if gatherer != nil {
		o.metrics = promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
	}

	o.registerHandler()

	return o, nil
}

// GetRESTHandlers get all controller API handler available for this service.
func (o *Operation) GetRESTHandlers() []rest.Handler {
	return o.handlers
}

// registerHandler register handlers to be exposed from this service as REST API endpoints.
func (o *Operation) registerHandler() {
	o.handlers = []rest.Handler{
		cmdutil.NewHTTPHandler(SendEnvelopePath, http.MethodPost, o.SendEnvelope),
		cmdutil.NewHTTPHandler(HubPath, http.MethodGet, o.hub.ServeHTTP),
		cmdutil.NewHTTPHandler(HealthCheckPath, http.MethodGet, o.HealthCheck),
	}

	if o.metrics != nil {
		o.handlers = append(o.handlers, cmdutil.NewHTTPHandler(MetricsPath, http.MethodGet, o.metrics.ServeHTTP))
	}
}

// SendEnvelope swagger:route POST /api/SendDidCommMessage relay sendEnvelope
//
// Relays a signed envelope to its recipients.
//
// Responses:
//
//	default: genericError
//	    200: sendEnvelopeResponse
//	    429: genericError
//	    502: genericError
func (o *Operation) SendEnvelope(rw http.ResponseWriter, req *http.Request) {
	rest.Execute(o.command.SendEnvelope, rw, req.Body, statusOf)
}

// HealthCheck swagger:route GET /healthcheck relay healthCheck
//
// Reports whether the node is serving.
//
// Responses:
//
//	default: genericError
//	    200: healthCheckResponse
func (o *Operation) HealthCheck(rw http.ResponseWriter, req *http.Request) {
	rest.Execute(o.command.HealthCheck, rw, req.Body)
}

func statusOf(err command.Error) int {
	switch err.Code() {
	case relaycmd.RateLimitedErrorCode:
		return http.StatusTooManyRequests
	case relaycmd.DeliveryErrorCode:
		return http.StatusBadGateway
	default:
		return 0
	}
}
