/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package keyset

import (
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/didrelay/didcomm-relay/pkg/doc/util/b64"
)

func TestGenerateAndParse(t *testing.T) {
	ks, err := Generate("did:example:A")
	require.NoError(t, err)

	priv, err := ks.Private()
	require.NoError(t, err)
	require.Len(t, priv.SigningKey, 64)

	parsed, err := Parse(priv)
	require.NoError(t, err)
	require.Equal(t, ks.DID, parsed.DID)
	require.Equal(t, ks.SigningKey.Serialize(), parsed.SigningKey.Serialize())
	require.True(t, ks.EncryptionKey.Equal(parsed.EncryptionKey))

	pub, err := ks.Public()
	require.NoError(t, err)
	require.Len(t, pub.SigningKey, 66)

	spk, err := ParseSigningPublicKey(pub.SigningKey)
	require.NoError(t, err)
	require.True(t, spk.IsEqual(ks.SigningKey.PubKey()))

	epk, err := ParseEncryptionPublicKey(pub.EncryptionKey)
	require.NoError(t, err)
	require.True(t, epk.Equal(ks.EncryptionKey.PublicKey()))

	_, err = Generate("nope")
	require.Error(t, err)
}

func TestParseSigningPublicKey(t *testing.T) {
	ks, err := Generate("did:example:A")
	require.NoError(t, err)

	pub := ks.SigningKey.PubKey()

	t.Run("uncompressed hex", func(t *testing.T) {
		k, err := ParseSigningPublicKey(hex.EncodeToString(pub.SerializeUncompressed()))
		require.NoError(t, err)
		require.True(t, k.IsEqual(pub))
	})

	t.Run("0x prefix", func(t *testing.T) {
		k, err := ParseSigningPublicKey("0x" + EncodeSigningPublicKey(pub))
		require.NoError(t, err)
		require.True(t, k.IsEqual(pub))
	})

	t.Run("multibase", func(t *testing.T) {
		mb, err := EncodeSigningPublicKeyMultibase(pub)
		require.NoError(t, err)
		require.True(t, strings.HasPrefix(mb, "z"))

		k, err := ParseSigningPublicKey(mb)
		require.NoError(t, err)
		require.True(t, k.IsEqual(pub))
	})

	t.Run("wrong length", func(t *testing.T) {
		_, err := ParseSigningPublicKey(hex.EncodeToString(make([]byte, 32)))
		require.ErrorIs(t, err, ErrInvalidKey)
	})

	t.Run("not on curve", func(t *testing.T) {
		bad := append([]byte{0x02}, make([]byte, 32)...)
		for i := range bad[1:] {
			bad[i+1] = 0xff
		}

		_, err := ParseSigningPublicKey(hex.EncodeToString(bad))
		require.ErrorIs(t, err, ErrInvalidKey)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := ParseSigningPublicKey("!!")
		require.ErrorIs(t, err, ErrInvalidKey)
	})
}

func TestParseSigningPrivateKey(t *testing.T) {
	_, err := ParseSigningPrivateKey("abcd")
	require.ErrorIs(t, err, ErrInvalidKey)

	_, err = ParseSigningPrivateKey(strings.Repeat("0", 64))
	require.ErrorIs(t, err, ErrInvalidKey)

	_, err = ParseSigningPrivateKey(strings.Repeat("f", 64))
	require.ErrorIs(t, err, ErrInvalidKey)

	k, err := ParseSigningPrivateKey(strings.Repeat("0", 63) + "1")
	require.NoError(t, err)
	require.Equal(t, int64(1), k.D.Int64())
}

func TestEncryptionKeys(t *testing.T) {
	t.Run("ecdsa encoded P-256 keys are accepted", func(t *testing.T) {
		k, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		require.NoError(t, err)

		der, err := x509.MarshalPKCS8PrivateKey(k)
		require.NoError(t, err)

		priv, err := ParseEncryptionPrivateKey(b64.Encode(der))
		require.NoError(t, err)

		spki, err := x509.MarshalPKIXPublicKey(&k.PublicKey)
		require.NoError(t, err)

		pub, err := ParseEncryptionPublicKey(b64.Encode(spki))
		require.NoError(t, err)
		require.True(t, pub.Equal(priv.PublicKey()))
	})

	t.Run("other curves are rejected", func(t *testing.T) {
		k, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
		require.NoError(t, err)

		der, err := x509.MarshalPKCS8PrivateKey(k)
		require.NoError(t, err)

		_, err = ParseEncryptionPrivateKey(b64.Encode(der))
		require.ErrorIs(t, err, ErrInvalidKey)

		x, err := ecdh.X25519().GenerateKey(rand.Reader)
		require.NoError(t, err)

		spki, err := x509.MarshalPKIXPublicKey(x.PublicKey())
		require.NoError(t, err)

		_, err = ParseEncryptionPublicKey(b64.Encode(spki))
		require.ErrorIs(t, err, ErrInvalidKey)
	})

	t.Run("malformed", func(t *testing.T) {
		_, err := ParseEncryptionPublicKey("AAAA")
		require.ErrorIs(t, err, ErrInvalidKey)

		_, err = ParseEncryptionPrivateKey("A")
		require.ErrorIs(t, err, ErrInvalidKey)
	})
}
