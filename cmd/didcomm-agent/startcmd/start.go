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
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/hyperledger/aries-framework-go/component/log"
	"github.com/hyperledger/aries-framework-go/component/storageutil/mem"
	"github.com/hyperledger/aries-framework-go/spi/storage"
	"github.com/rs/cors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/didrelay/didcomm-relay/pkg/client/messaging"
	"github.com/didrelay/didcomm-relay/pkg/controller"
	"github.com/didrelay/didcomm-relay/pkg/controller/webnotifier"
	"github.com/didrelay/didcomm-relay/pkg/didcomm/crypto/anoncrypt"
	"github.com/didrelay/didcomm-relay/pkg/didcomm/crypto/es256k"
	"github.com/didrelay/didcomm-relay/pkg/didcomm/dispatcher/inbound"
	"github.com/didrelay/didcomm-relay/pkg/didcomm/envelope"
	arieshttp "github.com/didrelay/didcomm-relay/pkg/didcomm/transport/http"
	"github.com/didrelay/didcomm-relay/pkg/didcomm/transport/hub"
	"github.com/didrelay/didcomm-relay/pkg/didcomm/transport/session"
	"github.com/didrelay/didcomm-relay/pkg/kms/keyset"
	"github.com/didrelay/didcomm-relay/pkg/store/inbox"
	"github.com/didrelay/didcomm-relay/pkg/vdr/keyregistry"
)

const (
	// api host flag.
	agentHostFlagName      = "api-host"
	agentHostEnvKey        = "DIDAGENT_API_HOST"
	agentHostFlagShorthand = "a"
	agentHostFlagUsage     = "Host Name:Port." +
		" Alternatively, this can be set with the following environment variable: " + agentHostEnvKey

	relayURLFlagName      = "relay-url"
	relayURLEnvKey        = "DIDAGENT_RELAY_URL"
	relayURLFlagShorthand = "r"
	relayURLFlagUsage     = "Base URL of the relay envelopes are sent to, for example https://relay.example.com." +
		" Alternatively, this can be set with the following environment variable: " + relayURLEnvKey

	hubURLFlagName  = "hub-url"
	hubURLEnvKey    = "DIDAGENT_HUB_URL"
	hubURLFlagUsage = "URL of the relay push hub. Defaults to the relay url with a ws scheme and the " +
		hub.DefaultPath + " path." +
		" Alternatively, this can be set with the following environment variable: " + hubURLEnvKey

	agentDIDFlagName      = "did"
	agentDIDEnvKey        = "DIDAGENT_DID"
	agentDIDFlagShorthand = "d"
	agentDIDFlagUsage     = "DID of this agent. Overrides the did of the key file." +
		" Alternatively, this can be set with the following environment variable: " + agentDIDEnvKey

	keyFileFlagName      = "key-file"
	keyFileEnvKey        = "DIDAGENT_KEY_FILE"
	keyFileFlagShorthand = "f"
	keyFileFlagUsage     = "YAML file with the did and private keys of this agent, as printed by keygen." +
		" Alternatively, this can be set with the following environment variable: " + keyFileEnvKey

	signingKeyFlagName  = "signing-key"
	signingKeyEnvKey    = "DIDAGENT_SIGNING_KEY" // nolint:gosec
	signingKeyFlagUsage = "Hex secp256k1 signing private key. Overrides the signing key of the key file." +
		" Alternatively, this can be set with the following environment variable: " + signingKeyEnvKey

	encryptionKeyFlagName  = "encryption-key"
	encryptionKeyEnvKey    = "DIDAGENT_ENCRYPTION_KEY" // nolint:gosec
	encryptionKeyFlagUsage = "Base64 PKCS#8 P-256 encryption private key." +
		" Overrides the encryption key of the key file." +
		" Alternatively, this can be set with the following environment variable: " + encryptionKeyEnvKey

	keyRegistryFlagName      = "key-registry"
	keyRegistryEnvKey        = "DIDAGENT_KEY_REGISTRY"
	keyRegistryFlagShorthand = "g"
	keyRegistryFlagUsage     = "YAML file with the public keys of known DIDs." +
		" Alternatively, this can be set with the following environment variable: " + keyRegistryEnvKey

	autoAckFlagName  = "auto-ack"
	autoAckEnvKey    = "DIDAGENT_AUTO_ACK"
	autoAckFlagUsage = "Acknowledge every received basic message automatically. Possible values [true] [false]. " +
		"Defaults to false if not set." +
		" Alternatively, this can be set with the following environment variable: " + autoAckEnvKey

	// webhook url flag.
	agentWebhookFlagName      = "webhook-url"
	agentWebhookEnvKey        = "DIDAGENT_WEBHOOK_URL"
	agentWebhookFlagShorthand = "w"
	agentWebhookFlagUsage     = "URL to send notifications to." +
		" This flag can be repeated, allowing for multiple listeners." +
		" Alternatively, this can be set with the following environment variable (in CSV format): " +
		agentWebhookEnvKey

	// log level.
	agentLogLevelFlagName  = "log-level"
	agentLogLevelEnvKey    = "DIDAGENT_LOG_LEVEL"
	agentLogLevelFlagUsage = "Log level." +
		" Possible values [INFO] [DEBUG] [ERROR] [WARNING] [CRITICAL] . Defaults to INFO if not set." +
		" Alternatively, this can be set with the following environment variable: " + agentLogLevelEnvKey

	agentTLSCertFileFlagName      = "tls-cert-file"
	agentTLSCertFileEnvKey        = "TLS_CERT_FILE"
	agentTLSCertFileFlagShorthand = "c"
	agentTLSCertFileFlagUsage     = "tls certificate file." +
		" Alternatively, this can be set with the following environment variable: " + agentTLSCertFileEnvKey

	agentTLSKeyFileFlagName      = "tls-key-file"
	agentTLSKeyFileEnvKey        = "TLS_KEY_FILE"
	agentTLSKeyFileFlagShorthand = "k"
	agentTLSKeyFileFlagUsage     = "tls key file." +
		" Alternatively, this can be set with the following environment variable: " + agentTLSKeyFileEnvKey
)

var (
	errMissingHost     = errors.New("host not provided")
	errMissingRelayURL = errors.New("relay url not provided")
	logger             = log.New("didcomm-relay/agent-rest")
)

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

type agentParameters struct {
	server          server
	host            string
	relayURL        string
	hubURL          string
	keys            *keyset.PrivateKeys
	keyRegistryFile string
	autoAck         bool
	webhookURLs     []string
	tlsCertFile     string
	tlsKeyFile      string
}

// agentContext supplies the messaging client with its dependencies.
type agentContext struct {
	localDID string
	builder  *envelope.Builder
	outbound *arieshttp.OutboundHTTPClient
	inbox    *inbox.Store
}

func (c *agentContext) LocalDID() string { return c.localDID }

func (c *agentContext) EnvelopeBuilder() messaging.Builder { return c.builder }

func (c *agentContext) Outbound() messaging.Outbound { return c.outbound }

func (c *agentContext) Inbox() messaging.Inbox { return c.inbox }

// Cmd returns the Cobra start command.
func Cmd(server server) (*cobra.Command, error) {
	startCmd := createStartCMD(server)

	createFlags(startCmd)

	return startCmd, nil
}

func createStartCMD(server server) *cobra.Command { //nolint: funlen, gocyclo
	return &cobra.Command{
		Use:   "start",
		Short: "Start an agent",
		Long:  `Start a DIDComm agent sending through a relay and receiving over a push session`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logLevel, err := getUserSetVar(cmd, agentLogLevelFlagName, agentLogLevelEnvKey, true)
			if err != nil {
				return err
			}

			err = setLogLevel(logLevel)
			if err != nil {
				return err
			}

			host, err := getUserSetVar(cmd, agentHostFlagName, agentHostEnvKey, false)
			if err != nil {
				return err
			}

			relayURL, err := getUserSetVar(cmd, relayURLFlagName, relayURLEnvKey, false)
			if err != nil {
				return err
			}

			hubURL, err := getUserSetVar(cmd, hubURLFlagName, hubURLEnvKey, true)
			if err != nil {
				return err
			}

			keys, err := getKeys(cmd)
			if err != nil {
				return err
			}

			keyRegistryFile, err := getUserSetVar(cmd, keyRegistryFlagName, keyRegistryEnvKey, true)
			if err != nil {
				return err
			}

			autoAck, err := getAutoAckValue(cmd)
			if err != nil {
				return err
			}

			webhookURLs, err := getUserSetVars(cmd, agentWebhookFlagName, agentWebhookEnvKey, true)
			if err != nil {
				return err
			}

			tlsCertFile, err := getUserSetVar(cmd, agentTLSCertFileFlagName, agentTLSCertFileEnvKey, true)
			if err != nil {
				return err
			}

			tlsKeyFile, err := getUserSetVar(cmd, agentTLSKeyFileFlagName, agentTLSKeyFileEnvKey, true)
			if err != nil {
				return err
			}

			parameters := &agentParameters{
				server:          server,
				host:            host,
				relayURL:        relayURL,
				hubURL:          hubURL,
				keys:            keys,
				keyRegistryFile: keyRegistryFile,
				autoAck:         autoAck,
				webhookURLs:     webhookURLs,
				tlsCertFile:     tlsCertFile,
				tlsKeyFile:      tlsKeyFile,
			}

			return startAgent(parameters)
		},
	}
}

func getKeys(cmd *cobra.Command) (*keyset.PrivateKeys, error) {
	keys := &keyset.PrivateKeys{}

	keyFile, err := getUserSetVar(cmd, keyFileFlagName, keyFileEnvKey, true)
	if err != nil {
		return nil, err
	}

	if keyFile != "" {
		keys, err = readKeyFile(keyFile)
		if err != nil {
			return nil, err
		}
	}

	overrides := []struct {
		flagName, envKey string
		value            *string
	}{
		{agentDIDFlagName, agentDIDEnvKey, &keys.DID},
		{signingKeyFlagName, signingKeyEnvKey, &keys.SigningKey},
		{encryptionKeyFlagName, encryptionKeyEnvKey, &keys.EncryptionKey},
	}

	for _, o := range overrides {
		v, err := getUserSetVar(cmd, o.flagName, o.envKey, true)
		if err != nil {
			return nil, err
		}

		if v != "" {
			*o.value = v
		}
	}

	return keys, nil
}

func readKeyFile(path string) (*keyset.PrivateKeys, error) {
	data, err := os.ReadFile(path) //nolint:gosec
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}

	keys := &keyset.PrivateKeys{}

	if err := yaml.Unmarshal(data, keys); err != nil {
		return nil, fmt.Errorf("failed to parse key file %s: %w", path, err)
	}

	return keys, nil
}

func getAutoAckValue(cmd *cobra.Command) (bool, error) {
	v, err := getUserSetVar(cmd, autoAckFlagName, autoAckEnvKey, true)
	if err != nil {
		return false, err
	}

	if v == "" {
		return false, nil
	}

	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", autoAckFlagName, v, err)
	}

	return b, nil
}

func createFlags(startCmd *cobra.Command) {
	// agent host flag
	startCmd.Flags().StringP(agentHostFlagName, agentHostFlagShorthand, "", agentHostFlagUsage)

	// relay url flag
	startCmd.Flags().StringP(relayURLFlagName, relayURLFlagShorthand, "", relayURLFlagUsage)

	// hub url flag
	startCmd.Flags().StringP(hubURLFlagName, "", "", hubURLFlagUsage)

	// identity flags
	startCmd.Flags().StringP(agentDIDFlagName, agentDIDFlagShorthand, "", agentDIDFlagUsage)
	startCmd.Flags().StringP(keyFileFlagName, keyFileFlagShorthand, "", keyFileFlagUsage)
	startCmd.Flags().StringP(signingKeyFlagName, "", "", signingKeyFlagUsage)
	startCmd.Flags().StringP(encryptionKeyFlagName, "", "", encryptionKeyFlagUsage)

	// key registry flag
	startCmd.Flags().StringP(keyRegistryFlagName, keyRegistryFlagShorthand, "", keyRegistryFlagUsage)

	// auto ack flag
	startCmd.Flags().StringP(autoAckFlagName, "", "", autoAckFlagUsage)

	// webhook url flag
	startCmd.Flags().StringSliceP(agentWebhookFlagName, agentWebhookFlagShorthand, []string{}, agentWebhookFlagUsage)

	// log level
	startCmd.Flags().StringP(agentLogLevelFlagName, "", "", agentLogLevelFlagUsage)

	// tls cert file
	startCmd.Flags().StringP(agentTLSCertFileFlagName,
		agentTLSCertFileFlagShorthand, "", agentTLSCertFileFlagUsage)

	// tls key file
	startCmd.Flags().StringP(agentTLSKeyFileFlagName,
		agentTLSKeyFileFlagShorthand, "", agentTLSKeyFileFlagUsage)
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

// hubURLFromRelay maps http(s)://host/base to ws(s)://host/base/didcommhub.
func hubURLFromRelay(relayURL string) (string, error) {
	u, err := url.Parse(relayURL)
	if err != nil {
		return "", fmt.Errorf("invalid relay url %q: %w", relayURL, err)
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("invalid relay url %q: scheme must be http or https", relayURL)
	}

	u.Path = strings.TrimSuffix(u.Path, "/") + hub.DefaultPath

	return u.String(), nil
}

func createKeyRegistry(provider storage.Provider, keys *keyset.KeySet, path string) (*keyregistry.Registry, error) {
	reg, err := keyregistry.New(provider)
	if err != nil {
		return nil, err
	}

	if path != "" {
		if _, err = reg.LoadFile(path); err != nil {
			return nil, err
		}
	}

	own, err := keys.Public()
	if err != nil {
		return nil, err
	}

	if err = reg.Register(own); err != nil {
		return nil, err
	}

	return reg, nil
}

func startAgent(parameters *agentParameters) error { //nolint:funlen,gocyclo
	if parameters.host == "" {
		return errMissingHost
	}

	if parameters.relayURL == "" {
		return errMissingRelayURL
	}

	hubURL := parameters.hubURL
	if hubURL == "" {
		u, err := hubURLFromRelay(parameters.relayURL)
		if err != nil {
			return err
		}

		hubURL = u
	}

	keys, err := keyset.Parse(parameters.keys)
	if err != nil {
		return fmt.Errorf("failed to load agent keys: %w", err)
	}

	provider := mem.NewProvider()

	reg, err := createKeyRegistry(provider, keys, parameters.keyRegistryFile)
	if err != nil {
		return fmt.Errorf("failed to create key registry: %w", err)
	}

	signer, err := es256k.NewSigner(keys.SigningKey)
	if err != nil {
		return err
	}

	builder, err := envelope.NewBuilder(anoncrypt.New(reg), signer)
	if err != nil {
		return err
	}

	outbound, err := arieshttp.NewOutbound(parameters.relayURL)
	if err != nil {
		return err
	}

	store, err := inbox.New(provider)
	if err != nil {
		return fmt.Errorf("failed to open inbox: %w", err)
	}

	notifier := webnotifier.New(controller.WSPath, parameters.webhookURLs)

	msgClient, err := messaging.New(&agentContext{
		localDID: keys.DID,
		builder:  builder,
		outbound: outbound,
		inbox:    store,
	}, notifier)
	if err != nil {
		return fmt.Errorf("failed to create message client: %w", err)
	}

	defer msgClient.WaitAcks()

	dispatcherOpts := []inbound.Opt{inbound.WithHook(msgClient.NotifyHook())}
	if parameters.autoAck {
		dispatcherOpts = append(dispatcherOpts, inbound.WithHook(msgClient.AutoAck()))
	}

	dispatcher, err := inbound.New(keys.DID, es256k.NewVerifier(reg), anoncrypt.NewDecrypter(keys.EncryptionKey),
		store, dispatcherOpts...)
	if err != nil {
		return fmt.Errorf("failed to create inbound dispatcher: %w", err)
	}

	pushSession, err := session.New(hubURL, dispatcher.HandlerFunc())
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// joined on connect
	if err = pushSession.JoinGroup(ctx, keys.DID); err != nil && !errors.Is(err, session.ErrNotConnected) {
		return fmt.Errorf("failed to join push group: %w", err)
	}

	go func() {
		if runErr := pushSession.Run(ctx); runErr != nil && !errors.Is(runErr, context.Canceled) {
			logger.Errorf("push session stopped: %s", runErr)
		}
	}()

	handlers, err := controller.GetAgentRESTHandlers(msgClient, controller.WithNotifier(notifier))
	if err != nil {
		return fmt.Errorf("failed to start agent rest on port [%s], failed to get rest service api :  %w",
			parameters.host, err)
	}

	router := mux.NewRouter()

	for _, handler := range handlers {
		router.HandleFunc(handler.Path(), handler.Handle()).Methods(handler.Method())
	}

	logger.Infof("Starting didcomm agent %s rest on host [%s], relay [%s], hub [%s]",
		keys.DID, parameters.host, parameters.relayURL, hubURL)

	handler := cors.New(
		cors.Options{
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodHead},
			AllowedHeaders: []string{"Origin", "Accept", "Content-Type", "X-Requested-With", "Authorization"},
		},
	).Handler(router)

	err = parameters.server.ListenAndServe(parameters.host, handler, parameters.tlsCertFile, parameters.tlsKeyFile)
	if err != nil {
		return fmt.Errorf("failed to start agent rest on port [%s], cause:  %w", parameters.host, err)
	}

	return nil
}
