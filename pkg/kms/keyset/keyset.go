/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package keyset holds the key material of a local identity and the text encodings used to exchange keys.
//
// Signing keys are secp256k1: private keys are 32-byte hex scalars and public keys are SEC1 points,
// compressed or uncompressed, in hex (multibase is also accepted on input). Encryption keys are P-256
// ECDH keys: public keys are base64 SPKI DER and private keys base64 PKCS#8 DER.
package keyset

import (
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec"
	"github.com/multiformats/go-multibase"

	"github.com/didrelay/didcomm-relay/pkg/doc/did"
	"github.com/didrelay/didcomm-relay/pkg/doc/util/b64"
)

const (
	privateScalarSize    = 32
	compressedPubKeySize = 33
	fullPubKeySize       = 65
)

// ErrInvalidKey is returned for key text that cannot be decoded into a usable key.
var ErrInvalidKey = errors.New("invalid key")

// KeySet is the private key material of a local identity.
type KeySet struct {
	DID           string
	SigningKey    *btcec.PrivateKey
	EncryptionKey *ecdh.PrivateKey
}

// PublicKeys is the shareable half of a key set, in its text encodings.
type PublicKeys struct {
	DID           string `yaml:"did" json:"did"`
	SigningKey    string `yaml:"signingKey" json:"signingKey"`
	EncryptionKey string `yaml:"encryptionKey" json:"encryptionKey"`
}

// PrivateKeys is the text form of a key set, as produced by the keygen command.
type PrivateKeys struct {
	DID           string `yaml:"did" json:"did"`
	SigningKey    string `yaml:"signingKey" json:"signingKey"`
	EncryptionKey string `yaml:"encryptionKey" json:"encryptionKey"`
}

// Generate creates a fresh key set for the given DID.
func Generate(id string) (*KeySet, error) {
	if !did.IsValid(id) {
		return nil, fmt.Errorf("generate keys: %w: %q", did.ErrInvalidDID, id)
	}

	sk, err := btcec.NewPrivateKey(btcec.S256())
	if err != nil {
		return nil, fmt.Errorf("generate signing key: %w", err)
	}

	ek, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate encryption key: %w", err)
	}

	return &KeySet{DID: id, SigningKey: sk, EncryptionKey: ek}, nil
}

// Parse decodes a key set from its text form.
func Parse(pk *PrivateKeys) (*KeySet, error) {
	id := did.Normalize(pk.DID)
	if !did.IsValid(id) {
		return nil, fmt.Errorf("parse keys: %w: %q", did.ErrInvalidDID, pk.DID)
	}

	sk, err := ParseSigningPrivateKey(pk.SigningKey)
	if err != nil {
		return nil, err
	}

	ek, err := ParseEncryptionPrivateKey(pk.EncryptionKey)
	if err != nil {
		return nil, err
	}

	return &KeySet{DID: id, SigningKey: sk, EncryptionKey: ek}, nil
}

// Public returns the public keys of the set in their text encodings.
func (k *KeySet) Public() (*PublicKeys, error) {
	ek, err := EncodeEncryptionPublicKey(k.EncryptionKey.PublicKey())
	if err != nil {
		return nil, err
	}

	return &PublicKeys{
		DID:           k.DID,
		SigningKey:    EncodeSigningPublicKey(k.SigningKey.PubKey()),
		EncryptionKey: ek,
	}, nil
}

// Private returns the key set in its text encodings.
func (k *KeySet) Private() (*PrivateKeys, error) {
	der, err := x509.MarshalPKCS8PrivateKey(k.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("encode encryption key: %w", err)
	}

	return &PrivateKeys{
		DID:           k.DID,
		SigningKey:    hex.EncodeToString(k.SigningKey.Serialize()),
		EncryptionKey: b64.Encode(der),
	}, nil
}

// ParseSigningPrivateKey decodes a hex secp256k1 private scalar.
func ParseSigningPrivateKey(s string) (*btcec.PrivateKey, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil || len(b) != privateScalarSize {
		return nil, fmt.Errorf("%w: signing private key must be %d hex-encoded bytes", ErrInvalidKey, privateScalarSize)
	}

	priv, _ := btcec.PrivKeyFromBytes(btcec.S256(), b)
	if priv.D.Sign() == 0 || priv.D.Cmp(btcec.S256().N) >= 0 {
		return nil, fmt.Errorf("%w: signing private key is out of range", ErrInvalidKey)
	}

	return priv, nil
}

// ParseSigningPublicKey decodes a secp256k1 public key given as hex or multibase.
func ParseSigningPublicKey(s string) (*btcec.PublicKey, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")

	b, err := hex.DecodeString(s)
	if err != nil {
		_, b, err = multibase.Decode(s)
		if err != nil {
			return nil, fmt.Errorf("%w: signing public key is neither hex nor multibase", ErrInvalidKey)
		}
	}

	if len(b) != compressedPubKeySize && len(b) != fullPubKeySize {
		return nil, fmt.Errorf("%w: signing public key has %d bytes", ErrInvalidKey, len(b))
	}

	pub, err := btcec.ParsePubKey(b, btcec.S256())
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidKey, err.Error())
	}

	return pub, nil
}

// EncodeSigningPublicKey returns the compressed hex form of pub.
func EncodeSigningPublicKey(pub *btcec.PublicKey) string {
	return hex.EncodeToString(pub.SerializeCompressed())
}

// EncodeSigningPublicKeyMultibase returns the compressed form of pub in base58btc multibase.
func EncodeSigningPublicKeyMultibase(pub *btcec.PublicKey) (string, error) {
	return multibase.Encode(multibase.Base58BTC, pub.SerializeCompressed())
}

// ParseEncryptionPublicKey decodes a base64 SPKI DER P-256 public key.
func ParseEncryptionPublicKey(s string) (*ecdh.PublicKey, error) {
	der, err := b64.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidKey, err.Error())
	}

	key, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidKey, err.Error())
	}

	return toECDHPublicKey(key)
}

// EncodeEncryptionPublicKey returns the base64 SPKI DER form of pub.
func EncodeEncryptionPublicKey(pub *ecdh.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("encode encryption public key: %w", err)
	}

	return b64.Encode(der), nil
}

// ParseEncryptionPrivateKey decodes a base64 PKCS#8 DER P-256 private key.
func ParseEncryptionPrivateKey(s string) (*ecdh.PrivateKey, error) {
	der, err := b64.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidKey, err.Error())
	}

	key, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidKey, err.Error())
	}

	switch k := key.(type) {
	case *ecdh.PrivateKey:
		if k.Curve() != ecdh.P256() {
			return nil, fmt.Errorf("%w: encryption key must be on P-256", ErrInvalidKey)
		}

		return k, nil
	case *ecdsa.PrivateKey:
		ek, err := k.ECDH()
		if err != nil || ek.Curve() != ecdh.P256() {
			return nil, fmt.Errorf("%w: encryption key must be on P-256", ErrInvalidKey)
		}

		return ek, nil
	default:
		return nil, fmt.Errorf("%w: unsupported encryption private key type %T", ErrInvalidKey, key)
	}
}

func toECDHPublicKey(key interface{}) (*ecdh.PublicKey, error) {
	switch k := key.(type) {
	case *ecdh.PublicKey:
		if k.Curve() != ecdh.P256() {
			return nil, fmt.Errorf("%w: encryption key must be on P-256", ErrInvalidKey)
		}

		return k, nil
	case *ecdsa.PublicKey:
		ek, err := k.ECDH()
		if err != nil || ek.Curve() != ecdh.P256() {
			return nil, fmt.Errorf("%w: encryption key must be on P-256", ErrInvalidKey)
		}

		return ek, nil
	default:
		return nil, fmt.Errorf("%w: unsupported encryption public key type %T", ErrInvalidKey, key)
	}
}
