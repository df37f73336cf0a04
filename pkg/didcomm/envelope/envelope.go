/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package envelope

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/didrelay/didcomm-relay/pkg/doc/did"
)

// ErrInvalidEnvelope is returned when an envelope cannot be decoded or fails structural validation.
var ErrInvalidEnvelope = errors.New("invalid envelope")

// Envelope is the unit of transfer between peers. Once signed it must not be modified.
type Envelope struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	From        string          `json:"from"`
	To          Recipients      `json:"to"`
	CreatedTime Timestamp       `json:"created_time"`
	Thid        string          `json:"thid,omitempty"`
	Body        json.RawMessage `json:"body,omitempty"`
	Encryption  *Encryption     `json:"encryption,omitempty"`
	Signature   *Signature      `json:"signature,omitempty"`
}

// Encryption holds the hybrid-encrypted body. Byte fields are base64 text.
type Encryption struct {
	Alg                string `json:"alg"`
	EphemeralPublicKey string `json:"ephemeralPublicKey"`
	IV                 string `json:"iv"`
	Ciphertext         string `json:"ciphertext"`
	Tag                string `json:"tag"`
}

// UnmarshalJSON implements json.Unmarshaler. The snake_case ephemeral_public_key spelling is accepted
// when ephemeralPublicKey is absent; encoding always uses the camelCase name.
func (e *Encryption) UnmarshalJSON(data []byte) error {
	type encryption Encryption

	var raw struct {
		encryption
		LegacyEphemeralPublicKey string `json:"ephemeral_public_key"`
	}

	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*e = Encryption(raw.encryption)

	if e.EphemeralPublicKey == "" {
		e.EphemeralPublicKey = raw.LegacyEphemeralPublicKey
	}

	return nil
}

// Signature is an ES256K signature over the canonical signing payload. Value is the compact
// hex(r)||hex(s) form; R and S carry the same components separately.
type Signature struct {
	Alg   string `json:"alg"`
	Value string `json:"value,omitempty"`
	R     string `json:"r,omitempty"`
	S     string `json:"s,omitempty"`
}

// Recipients is the list of recipient DIDs. It decodes from either a single string or an array.
type Recipients []string

// UnmarshalJSON implements json.Unmarshaler.
func (r *Recipients) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)

	if bytes.Equal(data, []byte("null")) {
		*r = nil

		return nil
	}

	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}

		*r = Recipients{s}

		return nil
	}

	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("to must be a DID or a list of DIDs: %w", err)
	}

	*r = list

	return nil
}

// Contains reports whether d is one of the recipients.
func (r Recipients) Contains(d string) bool {
	for _, e := range r {
		if e == d {
			return true
		}
	}

	return false
}

// Parse decodes an envelope from its wire JSON.
func Parse(data []byte) (*Envelope, error) {
	env := &Envelope{}

	if err := json.Unmarshal(data, env); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidEnvelope, err.Error())
	}

	return env, nil
}

// SigningPayload returns the exact projection of the envelope that is signed and verified.
// The created_time value is the token the envelope was created or decoded with.
func (e *Envelope) SigningPayload() map[string]interface{} {
	p := map[string]interface{}{
		"id":           e.ID,
		"type":         e.Type,
		"from":         e.From,
		"to":           []string(e.To),
		"created_time": e.CreatedTime,
		"encryption":   e.Encryption,
	}

	if e.Thid != "" {
		p["thid"] = e.Thid
	}

	return p
}

// Recipient returns the DID the body is encrypted for.
func (e *Envelope) Recipient() string {
	if len(e.To) == 0 {
		return ""
	}

	return e.To[0]
}

// IsAddressedTo reports whether d is among the recipients after normalization.
func (e *Envelope) IsAddressedTo(d string) bool {
	return e.To.Contains(did.Normalize(d))
}
