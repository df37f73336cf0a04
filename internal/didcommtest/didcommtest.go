/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package didcommtest wires key sets, a key registry and the envelope crypto for tests.
package didcommtest

import (
	"context"
	"testing"
	"time"

	"github.com/hyperledger/aries-framework-go/component/storageutil/mem"
	"github.com/stretchr/testify/require"

	"github.com/didrelay/didcomm-relay/pkg/didcomm/crypto/anoncrypt"
	"github.com/didrelay/didcomm-relay/pkg/didcomm/crypto/es256k"
	"github.com/didrelay/didcomm-relay/pkg/didcomm/envelope"
	"github.com/didrelay/didcomm-relay/pkg/kms/keyset"
	"github.com/didrelay/didcomm-relay/pkg/vdr/keyregistry"
)

// Party is one DID with its keys and the crypto built on them.
type Party struct {
	DID       string
	Keys      *keyset.KeySet
	Builder   *envelope.Builder
	Signer    *es256k.Signer
	Verifier  *es256k.Verifier
	Decrypter *anoncrypt.Decrypter
}

// Parties generates a key set per DID and registers every public key in one shared registry.
func Parties(t testing.TB, dids ...string) (map[string]*Party, *keyregistry.Registry) {
	t.Helper()

	registry, err := keyregistry.New(mem.NewProvider())
	require.NoError(t, err)

	parties := make(map[string]*Party, len(dids))

	for _, d := range dids {
		keys, err := keyset.Generate(d)
		require.NoError(t, err)

		pub, err := keys.Public()
		require.NoError(t, err)
		require.NoError(t, registry.Register(pub))

		signer, err := es256k.NewSigner(keys.SigningKey)
		require.NoError(t, err)

		builder, err := envelope.NewBuilder(anoncrypt.New(registry), signer)
		require.NoError(t, err)

		parties[d] = &Party{
			DID:       d,
			Keys:      keys,
			Builder:   builder,
			Signer:    signer,
			Verifier:  es256k.NewVerifier(registry),
			Decrypter: anoncrypt.NewDecrypter(keys.EncryptionKey),
		}
	}

	return parties, registry
}

// Build builds a basic message from p to the given recipients.
func (p *Party) Build(t testing.TB, id, text string, to ...string) *envelope.Envelope {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	env, err := p.Builder.Build(ctx, &envelope.Request{
		ID:   id,
		Type: envelope.BasicMessageType,
		From: p.DID,
		To:   to,
		Body: &envelope.BasicMessageBody{Text: text},
	})
	require.NoError(t, err)

	return env
}
