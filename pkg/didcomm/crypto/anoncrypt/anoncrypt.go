/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package anoncrypt

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/didrelay/didcomm-relay/pkg/didcomm/envelope"
	"github.com/didrelay/didcomm-relay/pkg/doc/util/b64"
	"github.com/didrelay/didcomm-relay/pkg/kms/keyset"
)

// This package deals with anonymous hybrid encryption of envelope bodies for a single recipient:
// an ephemeral P-256 ECDH agreement with the recipient's static key, HKDF-SHA256 key derivation and
// AES-256-GCM content encryption.

const (
	// Alg is the algorithm used for all new encryptions.
	Alg = "ECDH-ES+HKDF-SHA256+A256GCM"
	// LegacyAlg uses the raw ECDH shared secret as the AES key. It is accepted on decryption only.
	LegacyAlg = "ECDH-ES+A256GCM"

	keySize   = 32
	nonceSize = 12
	tagSize   = 16
)

// ErrDecrypt is returned for every decryption failure. No partial plaintext is ever returned.
var ErrDecrypt = errors.New("decryption failed")

// randReader is a cryptographically secure random number generator.
// nolint:gochecknoglobals
var randReader io.Reader = rand.Reader

// EncryptionKeyResolver resolves the encryption public key declared for a DID.
type EncryptionKeyResolver interface {
	ResolveEncryptionKey(did string) (*ecdh.PublicKey, error)
}

// Crypter encrypts bodies for recipients whose keys it resolves by DID.
type Crypter struct {
	resolver EncryptionKeyResolver
}

// New returns a Crypter resolving recipient keys with resolver.
func New(resolver EncryptionKeyResolver) *Crypter {
	return &Crypter{resolver: resolver}
}

// Encrypt encrypts plaintext for recipient. An unresolvable recipient is an error; there is no fallback key.
func (c *Crypter) Encrypt(ctx context.Context, recipient string, plaintext []byte) (*envelope.Encryption, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pub, err := c.resolver.ResolveEncryptionKey(recipient)
	if err != nil {
		return nil, fmt.Errorf("resolve encryption key for %s: %w", recipient, err)
	}

	return Encrypt(plaintext, pub)
}

// Encrypt encrypts plaintext for the holder of the private half of recipientKey.
// A fresh ephemeral key and IV are generated on every call.
func Encrypt(plaintext []byte, recipientKey *ecdh.PublicKey) (*envelope.Encryption, error) {
	if recipientKey == nil || recipientKey.Curve() != ecdh.P256() {
		return nil, errors.New("recipient key must be a P-256 ECDH key")
	}

	ephemeral, err := ecdh.P256().GenerateKey(randReader)
	if err != nil {
		return nil, fmt.Errorf("generate ephemeral key: %w", err)
	}

	secret, err := ephemeral.ECDH(recipientKey)
	if err != nil {
		return nil, fmt.Errorf("key agreement: %w", err)
	}

	cek, err := deriveKey(Alg, secret)
	if err != nil {
		return nil, err
	}

	aead, err := newAEAD(cek)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, nonceSize)

	if _, err = io.ReadFull(randReader, nonce); err != nil {
		return nil, fmt.Errorf("generate iv: %w", err)
	}

	epk, err := keyset.EncodeEncryptionPublicKey(ephemeral.PublicKey())
	if err != nil {
		return nil, err
	}

	// the output is a []byte containing the cipherText + tag
	symOutput := aead.Seal(nil, nonce, plaintext, nil)

	return &envelope.Encryption{
		Alg:                Alg,
		EphemeralPublicKey: epk,
		IV:                 b64.Encode(nonce),
		Ciphertext:         b64.Encode(extractCipherText(symOutput)),
		Tag:                b64.Encode(extractTag(symOutput)),
	}, nil
}

// Decrypt authenticates and decrypts enc with the recipient's private key.
func Decrypt(enc *envelope.Encryption, privateKey *ecdh.PrivateKey) ([]byte, error) {
	if enc == nil || privateKey == nil {
		return nil, fmt.Errorf("%w: missing encryption data or key", ErrDecrypt)
	}

	if enc.Alg != Alg && enc.Alg != LegacyAlg {
		return nil, fmt.Errorf("%w: unsupported alg %q", ErrDecrypt, enc.Alg)
	}

	epk, err := keyset.ParseEncryptionPublicKey(enc.EphemeralPublicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: ephemeral key: %s", ErrDecrypt, err.Error())
	}

	nonce, err := b64.DecodeSized(enc.IV, nonceSize)
	if err != nil {
		return nil, fmt.Errorf("%w: iv: %s", ErrDecrypt, err.Error())
	}

	tag, err := b64.DecodeSized(enc.Tag, tagSize)
	if err != nil {
		return nil, fmt.Errorf("%w: tag: %s", ErrDecrypt, err.Error())
	}

	ct, err := b64.Decode(enc.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: ciphertext: %s", ErrDecrypt, err.Error())
	}

	secret, err := privateKey.ECDH(epk)
	if err != nil {
		return nil, fmt.Errorf("%w: key agreement: %s", ErrDecrypt, err.Error())
	}

	cek, err := deriveKey(enc.Alg, secret)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrDecrypt, err.Error())
	}

	aead, err := newAEAD(cek)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrDecrypt, err.Error())
	}

	plaintext, err := aead.Open(nil, nonce, append(ct, tag...), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: authentication failed", ErrDecrypt)
	}

	return plaintext, nil
}

// Decrypter decrypts envelopes addressed to one local identity.
type Decrypter struct {
	key *ecdh.PrivateKey
}

// NewDecrypter returns a decrypter holding the recipient private key.
func NewDecrypter(key *ecdh.PrivateKey) *Decrypter {
	return &Decrypter{key: key}
}

// Decrypt decrypts the body of env.
func (d *Decrypter) Decrypt(env *envelope.Envelope) ([]byte, error) {
	return Decrypt(env.Encryption, d.key)
}

func deriveKey(alg string, secret []byte) ([]byte, error) {
	if alg == LegacyAlg {
		return secret, nil
	}

	key := make([]byte, keySize)

	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(alg)), key); err != nil {
		return nil, fmt.Errorf("derive content key: %w", err)
	}

	return key, nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create aes cipher: %w", err)
	}

	return cipher.NewGCMWithNonceSize(block, nonceSize)
}

func extractCipherText(symOutput []byte) []byte {
	return symOutput[:len(symOutput)-tagSize]
}

func extractTag(symOutput []byte) []byte {
	return symOutput[len(symOutput)-tagSize:]
}
