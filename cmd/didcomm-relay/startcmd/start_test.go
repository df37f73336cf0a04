/*
Copyright SecureKey Technologies Inc. All Rights Reserved.
SPDX-License-Identifier: Apache-2.0
*/

package startcmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/didrelay/didcomm-relay/pkg/controller/rest/relay"
)

type mockServer struct {
	handler  http.Handler
	certFile string
	keyFile  string
	err      error
}

func (s *mockServer) ListenAndServe(host string, handler http.Handler, certFile, keyFile string) error {
	s.handler = handler
	s.certFile = certFile
	s.keyFile = keyFile

	return s.err
}

func randomURL() string {
	return fmt.Sprintf("localhost:%d", mustGetRandomPort(3))
}

func mustGetRandomPort(n int) int {
	for ; n > 0; n-- {
		port, err := getRandomPort()
		if err != nil {
			continue
		}

		return port
	}
	panic("cannot acquire the random port")
}

func getRandomPort() (int, error) {
	const network = "tcp"

	addr, err := net.ResolveTCPAddr(network, "localhost:0")
	if err != nil {
		return 0, err
	}

	listener, err := net.ListenTCP(network, addr)
	if err != nil {
		return 0, err
	}

	err = listener.Close()
	if err != nil {
		return 0, err
	}

	return listener.Addr().(*net.TCPAddr).Port, nil
}

func TestStartCmdContents(t *testing.T) {
	startCmd, err := Cmd(&mockServer{})
	require.NoError(t, err)

	require.Equal(t, "start", startCmd.Use)
	require.Equal(t, "Start a relay", startCmd.Short)

	checkFlagPropertiesCorrect(t, startCmd, relayHostFlagName, relayHostFlagShorthand, relayHostFlagUsage, "")
	checkFlagPropertiesCorrect(t, startCmd, brokerTypeFlagName, brokerTypeFlagShorthand, brokerTypeFlagUsage, "")
	checkFlagPropertiesCorrect(t, startCmd, allowedOriginsFlagName, "", allowedOriginsFlagUsage, "[]")
	checkFlagPropertiesCorrect(t, startCmd, rateLimitFlagName, "", rateLimitFlagUsage, "")
}

func checkFlagPropertiesCorrect(t *testing.T, cmd *cobra.Command, flagName,
	flagShorthand, flagUsage, expectedVal string) {
	flag := cmd.Flag(flagName)

	require.NotNil(t, flag)
	require.Equal(t, flagName, flag.Name)
	require.Equal(t, flagShorthand, flag.Shorthand)
	require.Equal(t, flagUsage, flag.Usage)
	require.Equal(t, expectedVal, flag.Value.String())

	flagAnnotations := flag.Annotations
	require.Nil(t, flagAnnotations)
}

func TestStartCmdWithBlankHostArg(t *testing.T) {
	startCmd, err := Cmd(&mockServer{})
	require.NoError(t, err)

	startCmd.SetArgs([]string{"--" + relayHostFlagName, ""})

	err = startCmd.Execute()
	require.Equal(t, errMissingHost.Error(), err.Error())
}

func TestStartCmdWithMissingHostArg(t *testing.T) {
	startCmd, err := Cmd(&mockServer{})
	require.NoError(t, err)

	startCmd.SetArgs([]string{"--" + brokerTypeFlagName, brokerTypeMemOption})

	err = startCmd.Execute()
	require.Equal(t,
		"Neither api-host (command line flag) nor DIDRELAY_API_HOST (environment variable) have been set.",
		err.Error())
}

func TestStartCmdValidArgs(t *testing.T) {
	server := &mockServer{}

	startCmd, err := Cmd(server)
	require.NoError(t, err)

	startCmd.SetArgs([]string{
		"--" + relayHostFlagName, randomURL(),
		"--" + brokerTypeFlagName, brokerTypeMemOption,
		"--" + brokerTopicFlagName, "test-topic",
		"--" + rateLimitFlagName, "5",
		"--" + allowedOriginsFlagName, "*.example.com",
		"--" + relayTLSCertFileFlagName, "cert.pem",
		"--" + relayTLSKeyFileFlagName, "key.pem",
	})

	err = startCmd.Execute()
	require.NoError(t, err)
	require.NotNil(t, server.handler)
	require.Equal(t, "cert.pem", server.certFile)
	require.Equal(t, "key.pem", server.keyFile)
}

func TestStartCmdValidArgsEnvVar(t *testing.T) {
	startCmd, err := Cmd(&mockServer{})
	require.NoError(t, err)

	t.Setenv(relayHostEnvKey, randomURL())
	t.Setenv(brokerTypeEnvKey, brokerTypeMemOption)
	t.Setenv(brokerMaxRetriesEnvKey, "3")
	t.Setenv(rateLimitEnvKey, "0")
	t.Setenv(allowedOriginsEnvKey, "a.example.com,b.example.com")

	err = startCmd.Execute()
	require.NoError(t, err)
}

func TestStartCmdWithLogLevel(t *testing.T) {
	t.Run("start with log level - success", func(t *testing.T) {
		startCmd, err := Cmd(&mockServer{})
		require.NoError(t, err)

		startCmd.SetArgs([]string{
			"--" + relayHostFlagName, randomURL(),
			"--" + relayLogLevelFlagName, "DEBUG",
		})

		err = startCmd.Execute()
		require.NoError(t, err)
	})

	t.Run("start with log level - invalid", func(t *testing.T) {
		startCmd, err := Cmd(&mockServer{})
		require.NoError(t, err)

		startCmd.SetArgs([]string{
			"--" + relayHostFlagName, randomURL(),
			"--" + relayLogLevelFlagName, "INVALID",
		})

		err = startCmd.Execute()
		require.Error(t, err)
		require.Contains(t, err.Error(), "failed to parse log level")
	})
}

func TestStartCmdWithInvalidParams(t *testing.T) {
	tests := []struct {
		name   string
		args   []string
		errMsg string
	}{
		{
			name:   "unsupported broker type",
			args:   []string{"--" + brokerTypeFlagName, "kafka"},
			errMsg: "broker type not set to a valid type",
		},
		{
			name:   "invalid broker timeout",
			args:   []string{"--" + brokerTimeoutFlagName, "soon"},
			errMsg: "failed to parse broker timeout",
		},
		{
			name:   "invalid max retries",
			args:   []string{"--" + brokerMaxRetriesFlagName, "-1"},
			errMsg: "failed to parse broker max retries",
		},
		{
			name:   "invalid rate limit",
			args:   []string{"--" + rateLimitFlagName, "fast"},
			errMsg: "invalid rate limit",
		},
		{
			name:   "negative rate limit burst",
			args:   []string{"--" + rateLimitBurstFlagName, "-2"},
			errMsg: "invalid rate limit burst",
		},
		{
			name: "redis unavailable",
			args: []string{
				"--" + brokerTypeFlagName, brokerTypeRedisOption,
				"--" + brokerURLFlagName, "redis://127.0.0.1:1/0",
				"--" + brokerTimeoutFlagName, "0",
			},
			errMsg: "failed to connect to broker",
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			startCmd, err := Cmd(&mockServer{})
			require.NoError(t, err)

			startCmd.SetArgs(append([]string{"--" + relayHostFlagName, randomURL()}, tc.args...))

			err = startCmd.Execute()
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.errMsg)
		})
	}
}

func TestStartRelayServerError(t *testing.T) {
	err := startRelay(&relayParameters{
		server: &mockServer{err: errors.New("bind: address already in use")},
		host:   "localhost:8095",
		broker: &brokerParam{brokerType: brokerTypeMemOption},
	})
	require.EqualError(t, err,
		"failed to start relay rest on port [localhost:8095], cause:  bind: address already in use")
}

func TestStartRelayRequests(t *testing.T) {
	server := &mockServer{}

	err := startRelay(&relayParameters{
		server: server,
		host:   randomURL(),
		broker: &brokerParam{brokerType: brokerTypeMemOption},
	})
	require.NoError(t, err)
	require.NotNil(t, server.handler)

	t.Run("health check", func(t *testing.T) {
		rr := httptest.NewRecorder()
		server.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, relay.HealthCheckPath, nil))

		require.Equal(t, http.StatusOK, rr.Code)

		var resp map[string]interface{}
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		require.Equal(t, "success", resp["status"])
	})

	t.Run("metrics", func(t *testing.T) {
		rr := httptest.NewRecorder()
		server.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, relay.MetricsPath, nil))

		require.Equal(t, http.StatusOK, rr.Code)
		require.Contains(t, rr.Body.String(), "go_goroutines")
	})

	t.Run("invalid envelope", func(t *testing.T) {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, relay.SendEnvelopePath, bytes.NewBufferString(`{"id":"x"}`))
		server.handler.ServeHTTP(rr, req)

		require.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("cors preflight", func(t *testing.T) {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodOptions, relay.SendEnvelopePath, nil)
		req.Header.Set("Origin", "https://wallet.example.com")
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		server.handler.ServeHTTP(rr, req)

		require.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestCreateBrokerRetries(t *testing.T) {
	start := time.Now()

	_, err := createBroker(context.Background(), &brokerParam{
		brokerType: brokerTypeRedisOption,
		url:        "redis://127.0.0.1:1/0",
		timeout:    1,
	})
	require.Error(t, err)
	require.GreaterOrEqual(t, time.Since(start), time.Second)
}
