/*
Copyright SecureKey Technologies Inc. All Rights Reserved.
SPDX-License-Identifier: Apache-2.0
*/

package startcmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/mux"
	"github.com/hyperledger/aries-framework-go/component/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/cors"
	"github.com/spf13/cobra"

	"github.com/didrelay/didcomm-relay/internal/metrics"
	"github.com/didrelay/didcomm-relay/internal/ratelimit"
	"github.com/didrelay/didcomm-relay/pkg/controller"
	relaycmd "github.com/didrelay/didcomm-relay/pkg/controller/command/relay"
	"github.com/didrelay/didcomm-relay/pkg/didcomm/relay"
	"github.com/didrelay/didcomm-relay/pkg/didcomm/transport/broker"
	membroker "github.com/didrelay/didcomm-relay/pkg/didcomm/transport/broker/mem"
	redisbroker "github.com/didrelay/didcomm-relay/pkg/didcomm/transport/broker/redis"
	"github.com/didrelay/didcomm-relay/pkg/didcomm/transport/hub"
)

const (
	// api host flag.
	relayHostFlagName      = "api-host"
	relayHostEnvKey        = "DIDRELAY_API_HOST"
	relayHostFlagShorthand = "a"
	relayHostFlagUsage     = "Host Name:Port." +
		" Alternatively, this can be set with the following environment variable: " + relayHostEnvKey

	brokerTypeFlagName      = "broker-type"
	brokerTypeEnvKey        = "DIDRELAY_BROKER_TYPE"
	brokerTypeFlagShorthand = "b"
	brokerTypeFlagUsage     = "The type of broker envelopes are published to. " +
		"Supported options: mem, redis. Defaults to mem if not set." +
		" Alternatively, this can be set with the following environment variable: " + brokerTypeEnvKey

	brokerURLFlagName      = "broker-url"
	brokerURLEnvKey        = "DIDRELAY_BROKER_URL"
	brokerURLFlagShorthand = "u"
	brokerURLFlagUsage     = "The URL of the broker, for example redis://localhost:6379/0. Not needed for mem." +
		" Alternatively, this can be set with the following environment variable: " + brokerURLEnvKey

	brokerTopicFlagName  = "broker-topic"
	brokerTopicEnvKey    = "DIDRELAY_BROKER_TOPIC"
	brokerTopicFlagUsage = "The topic envelopes are published to. Defaults to " + broker.DefaultTopic + "." +
		" Alternatively, this can be set with the following environment variable: " + brokerTopicEnvKey

	brokerTimeoutFlagName  = "broker-timeout"
	brokerTimeoutEnvKey    = "DIDRELAY_BROKER_TIMEOUT"
	brokerTimeoutDefault   = "30"
	brokerTimeoutFlagUsage = "Total time in seconds to wait until the broker is available before giving up." +
		" Default: " + brokerTimeoutDefault + " seconds." +
		" Alternatively, this can be set with the following environment variable: " + brokerTimeoutEnvKey

	brokerMaxRetriesFlagName  = "broker-max-retries"
	brokerMaxRetriesEnvKey    = "DIDRELAY_BROKER_MAX_RETRIES"
	brokerMaxRetriesFlagUsage = "How many times a failed broker read is retried before the consumer stops." +
		" 0 retries forever. Defaults to 0." +
		" Alternatively, this can be set with the following environment variable: " + brokerMaxRetriesEnvKey

	rateLimitFlagName  = "rate-limit"
	rateLimitEnvKey    = "DIDRELAY_RATE_LIMIT"
	rateLimitFlagUsage = "Envelopes per second accepted from one sender DID. 0 disables rate limiting." +
		" Alternatively, this can be set with the following environment variable: " + rateLimitEnvKey

	rateLimitBurstFlagName  = "rate-limit-burst"
	rateLimitBurstEnvKey    = "DIDRELAY_RATE_LIMIT_BURST"
	rateLimitBurstFlagUsage = "Burst size of the per sender rate limit. Defaults to the rate." +
		" Alternatively, this can be set with the following environment variable: " + rateLimitBurstEnvKey

	allowedOriginsFlagName  = "allowed-origins"
	allowedOriginsEnvKey    = "DIDRELAY_ALLOWED_ORIGINS"
	allowedOriginsFlagUsage = "Origin patterns allowed to open push sessions, for example *.example.com." +
		" This flag can be repeated. Any origin is accepted when no pattern is set." +
		" Alternatively, this can be set with the following environment variable (in CSV format): " +
		allowedOriginsEnvKey

	// log level.
	relayLogLevelFlagName  = "log-level"
	relayLogLevelEnvKey    = "DIDRELAY_LOG_LEVEL"
	relayLogLevelFlagUsage = "Log level." +
		" Possible values [INFO] [DEBUG] [ERROR] [WARNING] [CRITICAL] . Defaults to INFO if not set." +
		" Alternatively, this can be set with the following environment variable: " + relayLogLevelEnvKey

	relayTLSCertFileFlagName      = "tls-cert-file"
	relayTLSCertFileEnvKey        = "TLS_CERT_FILE"
	relayTLSCertFileFlagShorthand = "c"
	relayTLSCertFileFlagUsage     = "tls certificate file." +
		" Alternatively, this can be set with the following environment variable: " + relayTLSCertFileEnvKey

	relayTLSKeyFileFlagName      = "tls-key-file"
	relayTLSKeyFileEnvKey        = "TLS_KEY_FILE"
	relayTLSKeyFileFlagShorthand = "k"
	relayTLSKeyFileFlagUsage     = "tls key file." +
		" Alternatively, this can be set with the following environment variable: " + relayTLSKeyFileEnvKey

	brokerTypeMemOption   = "mem"
	brokerTypeRedisOption = "redis"
)

var (
	errMissingHost = errors.New("host not provided")
	logger         = log.New("didcomm-relay/relay-rest")
)

// nolint:gochecknoglobals
var supportedBrokers = map[string]func(ctx context.Context, url string) (broker.Broker, error){
	brokerTypeMemOption: func(_ context.Context, _ string) (broker.Broker, error) { // nolint:unparam
		return membroker.New(), nil
	},
	brokerTypeRedisOption: func(ctx context.Context, url string) (broker.Broker, error) {
		return redisbroker.Dial(ctx, url)
	},
}

type server interface {
	ListenAndServe(host string, router http.Handler, certFile, keyFile string) error
}

// HTTPServer represents an actual server implementation.
type HTTPServer struct{}

// ListenAndServe starts the server using the standard Go HTTP server implementation.
func (s *HTTPServer) ListenAndServe(host string, router http.Handler, certFile, keyFile string) error {
	if certFile != "" && keyFile != "" {
		return http.ListenAndServeTLS(host, certFile, keyFile, router)
	}

	return http.ListenAndServe(host, router) //nolint:gosec
}

type brokerParam struct {
	brokerType string
	url        string
	topic      string
	timeout    uint64
	maxRetries uint64
}

type relayParameters struct {
	server         server
	host           string
	broker         *brokerParam
	rateLimit      float64
	rateLimitBurst int
	allowedOrigins []string
	tlsCertFile    string
	tlsKeyFile     string
}

// Cmd returns the Cobra start command.
func Cmd(server server) (*cobra.Command, error) {
	startCmd := createStartCMD(server)

	createFlags(startCmd)

	return startCmd, nil
}

func createStartCMD(server server) *cobra.Command { //nolint: funlen
	return &cobra.Command{
		Use:   "start",
		Short: "Start a relay",
		Long:  `Start a DIDComm relay accepting envelopes over HTTP and pushing them to connected sessions`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logLevel, err := getUserSetVar(cmd, relayLogLevelFlagName, relayLogLevelEnvKey, true)
			if err != nil {
				return err
			}

			err = setLogLevel(logLevel)
			if err != nil {
				return err
			}

			host, err := getUserSetVar(cmd, relayHostFlagName, relayHostEnvKey, false)
			if err != nil {
				return err
			}

			brokerParam, err := getBrokerParam(cmd)
			if err != nil {
				return err
			}

			rateLimit, rateLimitBurst, err := getRateLimit(cmd)
			if err != nil {
				return err
			}

			allowedOrigins, err := getUserSetVars(cmd, allowedOriginsFlagName, allowedOriginsEnvKey, true)
			if err != nil {
				return err
			}

			tlsCertFile, err := getUserSetVar(cmd, relayTLSCertFileFlagName, relayTLSCertFileEnvKey, true)
			if err != nil {
				return err
			}

			tlsKeyFile, err := getUserSetVar(cmd, relayTLSKeyFileFlagName, relayTLSKeyFileEnvKey, true)
			if err != nil {
				return err
			}

			parameters := &relayParameters{
				server:         server,
				host:           host,
				broker:         brokerParam,
				rateLimit:      rateLimit,
				rateLimitBurst: rateLimitBurst,
				allowedOrigins: allowedOrigins,
				tlsCertFile:    tlsCertFile,
				tlsKeyFile:     tlsKeyFile,
			}

			return startRelay(parameters)
		},
	}
}

func getBrokerParam(cmd *cobra.Command) (*brokerParam, error) {
	var (
		param = &brokerParam{}
		err   error
	)

	param.brokerType, err = getUserSetVar(cmd, brokerTypeFlagName, brokerTypeEnvKey, true)
	if err != nil {
		return nil, err
	}

	if param.brokerType == "" {
		param.brokerType = brokerTypeMemOption
	}

	param.url, err = getUserSetVar(cmd, brokerURLFlagName, brokerURLEnvKey, true)
	if err != nil {
		return nil, err
	}

	param.topic, err = getUserSetVar(cmd, brokerTopicFlagName, brokerTopicEnvKey, true)
	if err != nil {
		return nil, err
	}

	timeout, err := getUserSetVar(cmd, brokerTimeoutFlagName, brokerTimeoutEnvKey, true)
	if err != nil {
		return nil, err
	}

	if timeout == "" {
		timeout = brokerTimeoutDefault
	}

	param.timeout, err = strconv.ParseUint(timeout, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse broker timeout %s: %w", timeout, err)
	}

	maxRetries, err := getUserSetVar(cmd, brokerMaxRetriesFlagName, brokerMaxRetriesEnvKey, true)
	if err != nil {
		return nil, err
	}

	if maxRetries != "" {
		param.maxRetries, err = strconv.ParseUint(maxRetries, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse broker max retries %s: %w", maxRetries, err)
		}
	}

	return param, nil
}

func getRateLimit(cmd *cobra.Command) (float64, int, error) {
	rateLimit, err := getUserSetVar(cmd, rateLimitFlagName, rateLimitEnvKey, true)
	if err != nil {
		return 0, 0, err
	}

	var rps float64

	if rateLimit != "" {
		rps, err = strconv.ParseFloat(rateLimit, 64)
		if err != nil || rps < 0 {
			return 0, 0, fmt.Errorf("invalid rate limit %q, expected a non-negative number", rateLimit)
		}
	}

	burst, err := getUserSetVar(cmd, rateLimitBurstFlagName, rateLimitBurstEnvKey, true)
	if err != nil {
		return 0, 0, err
	}

	var b int

	if burst != "" {
		b, err = strconv.Atoi(burst)
		if err != nil || b < 0 {
			return 0, 0, fmt.Errorf("invalid rate limit burst %q, expected a non-negative integer", burst)
		}
	}

	return rps, b, nil
}

func createFlags(startCmd *cobra.Command) {
	// relay host flag
	startCmd.Flags().StringP(relayHostFlagName, relayHostFlagShorthand, "", relayHostFlagUsage)

	// broker type
	startCmd.Flags().StringP(brokerTypeFlagName, brokerTypeFlagShorthand, "", brokerTypeFlagUsage)

	// broker url
	startCmd.Flags().StringP(brokerURLFlagName, brokerURLFlagShorthand, "", brokerURLFlagUsage)

	// broker topic
	startCmd.Flags().StringP(brokerTopicFlagName, "", "", brokerTopicFlagUsage)

	// broker timeout
	startCmd.Flags().StringP(brokerTimeoutFlagName, "", "", brokerTimeoutFlagUsage)

	// broker max retries
	startCmd.Flags().StringP(brokerMaxRetriesFlagName, "", "", brokerMaxRetriesFlagUsage)

	// rate limit
	startCmd.Flags().StringP(rateLimitFlagName, "", "", rateLimitFlagUsage)

	startCmd.Flags().StringP(rateLimitBurstFlagName, "", "", rateLimitBurstFlagUsage)

	// allowed origins
	startCmd.Flags().StringSliceP(allowedOriginsFlagName, "", []string{}, allowedOriginsFlagUsage)

	// log level
	startCmd.Flags().StringP(relayLogLevelFlagName, "", "", relayLogLevelFlagUsage)

	// tls cert file
	startCmd.Flags().StringP(relayTLSCertFileFlagName,
		relayTLSCertFileFlagShorthand, "", relayTLSCertFileFlagUsage)

	// tls key file
	startCmd.Flags().StringP(relayTLSKeyFileFlagName,
		relayTLSKeyFileFlagShorthand, "", relayTLSKeyFileFlagUsage)
}

func getUserSetVar(cmd *cobra.Command, flagName, envKey string, isOptional bool) (string, error) {
	if cmd.Flags().Changed(flagName) {
		value, err := cmd.Flags().GetString(flagName)
		if err != nil {
			return "", fmt.Errorf(flagName+" flag not found: %s", err)
		}

		return value, nil
	}

	value, isSet := os.LookupEnv(envKey)

	if isOptional || isSet {
		return value, nil
	}

	return "", errors.New("Neither " + flagName + " (command line flag) nor " + envKey +
		" (environment variable) have been set.")
}

func getUserSetVars(cmd *cobra.Command, flagName, envKey string, isOptional bool) ([]string, error) {
	if cmd.Flags().Changed(flagName) {
		value, err := cmd.Flags().GetStringSlice(flagName)
		if err != nil {
			return nil, fmt.Errorf(flagName+" flag not found: %s", err)
		}

		return value, nil
	}

	value, isSet := os.LookupEnv(envKey)

	var values []string

	if isSet {
		values = strings.Split(value, ",")
	}

	if isOptional || isSet {
		return values, nil
	}

	return nil, fmt.Errorf(" %s not set. "+
		"It must be set via either command line or environment variable", flagName)
}

func setLogLevel(logLevel string) error {
	if logLevel != "" {
		level, err := log.ParseLevel(logLevel)
		if err != nil {
			return fmt.Errorf("failed to parse log level '%s' : %w", logLevel, err)
		}

		log.SetLevel("", level)

		logger.Infof("logger level set to %s", logLevel)
	}

	return nil
}

func createBroker(ctx context.Context, param *brokerParam) (broker.Broker, error) {
	providerFunc, supported := supportedBrokers[param.brokerType]
	if !supported {
		return nil, fmt.Errorf("broker type not set to a valid type."+
			" run start --help to see the available options: %s", param.brokerType)
	}

	var b broker.Broker

	err := backoff.RetryNotify(
		func() error {
			var openErr error
			b, openErr = providerFunc(ctx, param.url)

			return openErr
		},
		backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Second), param.timeout),
		func(retryErr error, t time.Duration) {
			logger.Warnf(
				"failed to connect to broker, will sleep for %s before trying again : %s",
				t, retryErr)
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to broker after %d seconds: %w", param.timeout, err)
	}

	return b, nil
}

func startRelay(parameters *relayParameters) error { //nolint:funlen
	if parameters.host == "" {
		return errMissingHost
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b, err := createBroker(ctx, parameters.broker)
	if err != nil {
		return err
	}

	defer func() {
		if closeErr := b.Close(); closeErr != nil {
			logger.Warnf("failed to close broker: %s", closeErr)
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m, err := metrics.NewRelay(registry)
	if err != nil {
		return fmt.Errorf("failed to register relay metrics: %w", err)
	}

	h := hub.New(hub.WithOriginPatterns(parameters.allowedOrigins...))

	node, err := relay.NewNode(relay.NewProducer(b, parameters.broker.topic), h, relay.WithMetrics(m))
	if err != nil {
		return fmt.Errorf("failed to create relay node: %w", err)
	}

	consumer, err := relay.NewConsumer(b, node.FanOut,
		relay.WithTopic(parameters.broker.topic),
		relay.WithMaxRetries(parameters.broker.maxRetries),
		relay.WithConsumerMetrics(m))
	if err != nil {
		return fmt.Errorf("failed to create broker consumer: %w", err)
	}

	go func() {
		if runErr := consumer.Run(ctx); runErr != nil && !errors.Is(runErr, context.Canceled) {
			logger.Errorf("broker consumer stopped: %s", runErr)
		}
	}()

	relayOpts := []relaycmd.Opt{relaycmd.WithMetrics(m)}

	if limiter := ratelimit.New(parameters.rateLimit, parameters.rateLimitBurst, 0); limiter != nil {
		relayOpts = append(relayOpts, relaycmd.WithLimiter(limiter))
	}

	handlers, err := controller.GetRelayRESTHandlers(node, h,
		controller.WithMetricsGatherer(registry), controller.WithRelayOptions(relayOpts...))
	if err != nil {
		return fmt.Errorf("failed to start relay rest on port [%s], failed to get rest service api :  %w",
			parameters.host, err)
	}

	router := mux.NewRouter()

	for _, handler := range handlers {
		router.HandleFunc(handler.Path(), handler.Handle()).Methods(handler.Method())
	}

	logger.Infof("Starting didcomm relay rest on host [%s]", parameters.host)

	handler := cors.New(
		cors.Options{
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodHead},
			AllowedHeaders: []string{"Origin", "Accept", "Content-Type", "X-Requested-With", "Authorization"},
		},
	).Handler(router)

	err = parameters.server.ListenAndServe(parameters.host, handler, parameters.tlsCertFile, parameters.tlsKeyFile)
	if err != nil {
		return fmt.Errorf("failed to start relay rest on port [%s], cause:  %w", parameters.host, err)
	}

	return nil
}
