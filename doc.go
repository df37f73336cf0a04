/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package didcommrelay is a relay for signed and anonymously encrypted DIDComm style envelopes,
// together with an agent that sends and receives messages through it.
//
// # Binaries
//
// cmd/didcomm-relay: accepts envelopes over HTTP, publishes them to a broker (in memory or Redis)
// and pushes every consumed envelope to the websocket sessions that joined its group.
//
// cmd/didcomm-agent: holds a DID with its secp256k1 signing key and P-256 encryption key, sends
// basic messages through a relay and keeps an inbox of the messages pushed to it.
//
// # Packages
//
// pkg/didcomm/envelope: envelope model, validation, signing payload, builder and opener.
//
// pkg/didcomm/crypto: ES256K signatures and anonymous P-256 ECDH encryption of envelope bodies.
//
// pkg/didcomm/relay: the relay node, the broker producer and the broker consumer.
//
// pkg/didcomm/transport: broker, websocket hub and session, and the outbound HTTP transport.
//
// pkg/didcomm/dispatcher/inbound: verifies, decrypts and deduplicates inbound envelopes.
//
// pkg/client/messaging: the agent's messaging client and message service registry.
//
// pkg/controller: command and REST handlers of both binaries.
package didcommrelay
