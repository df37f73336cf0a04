/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package es256k

import (
	"github.com/btcsuite/btcd/btcec"

	"github.com/hyperledger/aries-framework-go/component/log"

	"github.com/didrelay/didcomm-relay/pkg/didcomm/envelope"
)

var logger = log.New("didcomm-relay/didcomm/crypto/es256k")

// SigningKeyResolver resolves the signing public key declared for a DID.
type SigningKeyResolver interface {
	ResolveSigningKey(did string) (*btcec.PublicKey, error)
}

// Verifier checks envelope signatures against the keys declared for their senders.
type Verifier struct {
	resolver SigningKeyResolver
}

// NewVerifier returns a verifier resolving sender keys with resolver.
func NewVerifier(resolver SigningKeyResolver) *Verifier {
	return &Verifier{resolver: resolver}
}

// VerifyEnvelope reports whether env carries a valid signature by its sender. An unknown sender is
// treated as an invalid signature.
func (v *Verifier) VerifyEnvelope(env *envelope.Envelope) bool {
	if env == nil || env.Signature == nil {
		return false
	}

	pub, err := v.resolver.ResolveSigningKey(env.From)
	if err != nil {
		logger.Warnf("no signing key for sender %s: %v", env.From, err)

		return false
	}

	return Verify(env.SigningPayload(), env.Signature, pub)
}
