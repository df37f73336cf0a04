/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package es256k

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/btcsuite/btcd/btcec"

	"github.com/didrelay/didcomm-relay/pkg/didcomm/envelope"
	jsonutil "github.com/didrelay/didcomm-relay/pkg/doc/util/json"
)

// Alg is the signature algorithm name carried in envelopes.
const Alg = "ES256K"

const (
	componentSize    = 32
	componentHexSize = 2 * componentSize
)

// Signer signs canonical signing payloads with a secp256k1 private key.
type Signer struct {
	privateKey *btcec.PrivateKey
}

// NewSigner returns a signer for the given key.
func NewSigner(privateKey *btcec.PrivateKey) (*Signer, error) {
	if privateKey == nil {
		return nil, errors.New("es256k signer requires a private key")
	}

	return &Signer{privateKey: privateKey}, nil
}

// Sign canonicalizes payload, hashes it with SHA-256 and signs the digest. Nonces are derived per
// RFC 6979 and s is normalized to the lower half of the curve order, so signing is deterministic.
func (s *Signer) Sign(payload interface{}) (*envelope.Signature, error) {
	digest, err := hashPayload(payload)
	if err != nil {
		return nil, err
	}

	sig, err := s.privateKey.Sign(digest)
	if err != nil {
		return nil, fmt.Errorf("es256k sign: %w", err)
	}

	r := hex.EncodeToString(copyPadded(sig.R.Bytes(), componentSize))
	sv := hex.EncodeToString(copyPadded(sig.S.Bytes(), componentSize))

	return &envelope.Signature{
		Alg:   Alg,
		Value: r + sv,
		R:     r,
		S:     sv,
	}, nil
}

// Verify reports whether sig is a valid signature of payload under publicKey. Every failure, including
// malformed input, yields false.
func Verify(payload interface{}, sig *envelope.Signature, publicKey *btcec.PublicKey) bool {
	if sig == nil || publicKey == nil || sig.Alg != Alg {
		return false
	}

	r, s, ok := components(sig)
	if !ok {
		return false
	}

	// reject malleated signatures
	halfOrder := new(big.Int).Rsh(btcec.S256().N, 1)
	if s.Cmp(halfOrder) > 0 {
		return false
	}

	digest, err := hashPayload(payload)
	if err != nil {
		return false
	}

	return (&btcec.Signature{R: r, S: s}).Verify(digest, publicKey)
}

// components reads r and s from the structured fields or the compact value. When both forms are present
// they must agree, and a present value must have exactly the compact length.
func components(sig *envelope.Signature) (*big.Int, *big.Int, bool) {
	rHex, sHex := sig.R, sig.S

	if sig.Value != "" {
		v := strings.TrimPrefix(sig.Value, "0x")
		if len(v) != 2*componentHexSize {
			return nil, nil, false
		}

		rHex, sHex = v[:componentHexSize], v[componentHexSize:]

		if sig.R != "" && !strings.EqualFold(sig.R, rHex) {
			return nil, nil, false
		}

		if sig.S != "" && !strings.EqualFold(sig.S, sHex) {
			return nil, nil, false
		}
	}

	r, ok := parseComponent(rHex)
	if !ok {
		return nil, nil, false
	}

	s, ok := parseComponent(sHex)
	if !ok {
		return nil, nil, false
	}

	return r, s, true
}

func parseComponent(h string) (*big.Int, bool) {
	if len(h) != componentHexSize {
		return nil, false
	}

	b, err := hex.DecodeString(h)
	if err != nil {
		return nil, false
	}

	v := new(big.Int).SetBytes(b)
	if v.Sign() == 0 || v.Cmp(btcec.S256().N) >= 0 {
		return nil, false
	}

	return v, true
}

func hashPayload(payload interface{}) ([]byte, error) {
	canonical, err := jsonutil.Canonicalize(payload)
	if err != nil {
		return nil, fmt.Errorf("canonicalize signing payload: %w", err)
	}

	digest := sha256.Sum256(canonical)

	return digest[:], nil
}

func copyPadded(source []byte, size int) []byte {
	dest := make([]byte, size)
	copy(dest[size-len(source):], source)

	return dest
}
