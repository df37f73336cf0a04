/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package rest

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/didrelay/didcomm-relay/pkg/controller/command"
)

const (
	invalidEnvelope = command.Code(command.Relay + iota)
	undeliverable
	rateLimited
)

func decodeErrorBody(t *testing.T, rr *httptest.ResponseRecorder) genericErrorBody {
	t.Helper()

	require.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var body genericErrorBody
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))

	return body
}

func TestSendError(t *testing.T) {
	tests := []struct {
		name   string
		err    command.Error
		status int
	}{
		{
			name:   "validation error is a bad request",
			err:    command.NewValidationError(invalidEnvelope, errors.New("envelope id is required")),
			status: http.StatusBadRequest,
		},
		{
			name:   "execute error is an internal error",
			err:    command.NewExecuteError(undeliverable, errors.New("broker unavailable")),
			status: http.StatusInternalServerError,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			SendError(rr, tc.err)

			require.Equal(t, tc.status, rr.Code)
			require.Equal(t, genericErrorBody{Code: tc.err.Code(), Message: tc.err.Error()}, decodeErrorBody(t, rr))
		})
	}
}

func TestSendHTTPStatusError(t *testing.T) {
	rr := httptest.NewRecorder()
	SendHTTPStatusError(rr, http.StatusTooManyRequests, rateLimited, errors.New("sender is rate limited"))

	require.Equal(t, http.StatusTooManyRequests, rr.Code)
	require.Equal(t, genericErrorBody{Code: rateLimited, Message: "sender is rate limited"}, decodeErrorBody(t, rr))

	t.Run("broken writer", func(t *testing.T) {
		require.NotPanics(t, func() {
			SendHTTPStatusError(&failingWriter{}, http.StatusBadRequest, command.UnknownStatus, errors.New("x"))
		})
	})
}

func TestExecute(t *testing.T) {
	limited := func(io.Writer, io.Reader) command.Error {
		return command.NewExecuteError(rateLimited, errors.New("sender is rate limited"))
	}

	tooMany := func(err command.Error) int {
		if err.Code() == rateLimited {
			return http.StatusTooManyRequests
		}

		return 0
	}

	t.Run("default status", func(t *testing.T) {
		rr := httptest.NewRecorder()
		Execute(limited, rr, nil)

		require.Equal(t, http.StatusInternalServerError, rr.Code)
	})

	t.Run("status func overrides", func(t *testing.T) {
		rr := httptest.NewRecorder()
		Execute(limited, rr, nil, tooMany)

		require.Equal(t, http.StatusTooManyRequests, rr.Code)
		require.Equal(t, rateLimited, decodeErrorBody(t, rr).Code)
	})

	t.Run("status func declines", func(t *testing.T) {
		invalid := func(io.Writer, io.Reader) command.Error {
			return command.NewValidationError(invalidEnvelope, errors.New("bad"))
		}

		rr := httptest.NewRecorder()
		Execute(invalid, rr, nil, tooMany)

		require.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("success writes the command output", func(t *testing.T) {
		accepted := func(rw io.Writer, _ io.Reader) command.Error {
			command.WriteNillableResponse(rw, map[string]interface{}{"success": true, "messageId": "m-1"}, nil)

			return nil
		}

		rr := httptest.NewRecorder()
		Execute(accepted, rr, nil)

		require.Equal(t, http.StatusOK, rr.Code)
		require.Equal(t, "application/json", rr.Header().Get("Content-Type"))
		require.JSONEq(t, `{"success":true,"messageId":"m-1"}`, rr.Body.String())
	})
}

type failingWriter struct{}

func (f *failingWriter) Header() http.Header { return http.Header{} }

func (f *failingWriter) Write([]byte) (int, error) { return 0, errors.New("connection reset") }

func (f *failingWriter) WriteHeader(int) {}
