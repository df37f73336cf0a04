/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/didrelay/didcomm-relay/internal/didcommtest"
	"github.com/didrelay/didcomm-relay/internal/metrics"
	"github.com/didrelay/didcomm-relay/internal/ratelimit"
	"github.com/didrelay/didcomm-relay/pkg/controller/command"
	relaycmd "github.com/didrelay/didcomm-relay/pkg/controller/command/relay"
	"github.com/didrelay/didcomm-relay/pkg/controller/rest"
	"github.com/didrelay/didcomm-relay/pkg/didcomm/envelope"
	"github.com/didrelay/didcomm-relay/pkg/didcomm/relay"
	"github.com/didrelay/didcomm-relay/pkg/didcomm/transport/hub"
)

const (
	alice = "did:example:alice"
	bob   = "did:example:bob"
)

type mockRelayer struct {
	err error
}

func (m *mockRelayer) Relay(_ context.Context, env *envelope.Envelope) (*relay.Result, error) {
	if m.err != nil {
		return nil, m.err
	}

	return &relay.Result{MessageID: env.ID, Published: true}, nil
}

func TestNew(t *testing.T) {
	t.Run("with metrics", func(t *testing.T) {
		op, err := New(&mockRelayer{}, hub.New(), prometheus.NewRegistry())
		require.NoError(t, err)
		require.Equal(t, 4, len(op.GetRESTHandlers()))
	})

	t.Run("without metrics", func(t *testing.T) {
		op, err := New(&mockRelayer{}, hub.New(), nil)
		require.NoError(t, err)
		require.Equal(t, 3, len(op.GetRESTHandlers()))
	})

	t.Run("missing dependencies", func(t *testing.T) {
		_, err := New(&mockRelayer{}, nil, nil)
		require.Error(t, err)

		_, err = New(nil, hub.New(), nil)
		require.Error(t, err)
	})
}

func TestOperation_SendEnvelope(t *testing.T) {
	parties, _ := didcommtest.Parties(t, alice, bob)

	data, err := json.Marshal(parties[alice].Build(t, "msg-1", "hello", bob))
	require.NoError(t, err)

	t.Run("accepted", func(t *testing.T) {
		op, err := New(&mockRelayer{}, hub.New(), nil)
		require.NoError(t, err)

		handler := lookupHandler(t, op, SendEnvelopePath, http.MethodPost)
		buf, code := sendRequestToHandler(t, handler, bytes.NewBuffer(data), SendEnvelopePath)
		require.Equal(t, http.StatusOK, code)
		require.JSONEq(t, `{"success":true,"messageId":"msg-1"}`, buf.String())
	})

	t.Run("invalid envelope", func(t *testing.T) {
		op, err := New(&mockRelayer{}, hub.New(), nil)
		require.NoError(t, err)

		handler := lookupHandler(t, op, SendEnvelopePath, http.MethodPost)
		buf, code := sendRequestToHandler(t, handler, bytes.NewBufferString(`{"id":"x"}`), SendEnvelopePath)
		require.Equal(t, http.StatusBadRequest, code)
		verifyError(t, relaycmd.InvalidRequestErrorCode, "invalid envelope", buf.Bytes())
	})

	t.Run("rate limited", func(t *testing.T) {
		op, err := New(&mockRelayer{}, hub.New(), nil,
			relaycmd.WithLimiter(ratelimit.New(0.001, 1, time.Minute)))
		require.NoError(t, err)

		handler := lookupHandler(t, op, SendEnvelopePath, http.MethodPost)
		_, code := sendRequestToHandler(t, handler, bytes.NewBuffer(data), SendEnvelopePath)
		require.Equal(t, http.StatusOK, code)

		buf, code := sendRequestToHandler(t, handler, bytes.NewBuffer(data), SendEnvelopePath)
		require.Equal(t, http.StatusTooManyRequests, code)
		verifyError(t, relaycmd.RateLimitedErrorCode, alice, buf.Bytes())
	})

	t.Run("both paths failed", func(t *testing.T) {
		op, err := New(&mockRelayer{err: fmt.Errorf("%w: broker down", relay.ErrDeliveryFailed)}, hub.New(), nil)
		require.NoError(t, err)

		handler := lookupHandler(t, op, SendEnvelopePath, http.MethodPost)
		buf, code := sendRequestToHandler(t, handler, bytes.NewBuffer(data), SendEnvelopePath)
		require.Equal(t, http.StatusBadGateway, code)
		verifyError(t, relaycmd.DeliveryErrorCode, "delivery failed", buf.Bytes())
	})
}

func TestOperation_HealthCheckAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()

	m, err := metrics.NewRelay(reg)
	require.NoError(t, err)

	op, err := New(&mockRelayer{}, hub.New(), reg, relaycmd.WithMetrics(m))
	require.NoError(t, err)

	handler := lookupHandler(t, op, HealthCheckPath, http.MethodGet)
	buf, code := sendRequestToHandler(t, handler, nil, HealthCheckPath)
	require.Equal(t, http.StatusOK, code)
	require.JSONEq(t, `{"status":"success","sessions":0}`, buf.String())

	send := lookupHandler(t, op, SendEnvelopePath, http.MethodPost)
	_, code = sendRequestToHandler(t, send, bytes.NewBufferString(`{`), SendEnvelopePath)
	require.Equal(t, http.StatusBadRequest, code)

	handler = lookupHandler(t, op, MetricsPath, http.MethodGet)
	buf, code = sendRequestToHandler(t, handler, nil, MetricsPath)
	require.Equal(t, http.StatusOK, code)
	require.Contains(t, buf.String(), `didcomm_relay_envelopes_rejected_total{reason="invalid"} 1`)
}

func TestOperation_Hub(t *testing.T) {
	op, err := New(&mockRelayer{}, hub.New(), nil)
	require.NoError(t, err)

	handler := lookupHandler(t, op, HubPath, http.MethodGet)

	// a plain GET is not a websocket upgrade
	_, code := sendRequestToHandler(t, handler, nil, HubPath)
	require.GreaterOrEqual(t, code, http.StatusBadRequest)
}

func lookupHandler(t *testing.T, op *Operation, path, method string) rest.Handler {
	t.Helper()

	handlers := op.GetRESTHandlers()
	require.NotEmpty(t, handlers)

	for _, h := range handlers {
		if h.Path() == path && h.Method() == method {
			return h
		}
	}

	require.Fail(t, "unable to find handler")

	return nil
}

// sendRequestToHandler reads response from given http handle func.
func sendRequestToHandler(t *testing.T, handler rest.Handler, requestBody io.Reader,
	path string) (*bytes.Buffer, int) {
	t.Helper()

	req, err := http.NewRequest(handler.Method(), path, requestBody)
	require.NoError(t, err)

	router := mux.NewRouter()
	router.HandleFunc(handler.Path(), handler.Handle()).Methods(handler.Method())

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	return rr.Body, rr.Code
}

func verifyError(t *testing.T, expectedCode command.Code, expectedMsg string, data []byte) {
	t.Helper()

	errResponse := struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}{}
	err := json.Unmarshal(data, &errResponse)
	require.NoError(t, err)

	require.EqualValues(t, expectedCode, errResponse.Code)
	require.NotEmpty(t, errResponse.Message)

	if expectedMsg != "" {
		require.Contains(t, errResponse.Message, expectedMsg)
	}
}
