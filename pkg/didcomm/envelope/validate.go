/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package envelope

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/didrelay/didcomm-relay/pkg/doc/did"
)

// Result is the outcome of a structural validation.
type Result struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

// Err converts an invalid result to an error wrapping ErrInvalidEnvelope.
func (r Result) Err() error {
	if r.Valid {
		return nil
	}

	return fmt.Errorf("%w: %s", ErrInvalidEnvelope, strings.Join(r.Errors, "; "))
}

// Validate checks that the envelope is structurally well formed. It performs no cryptographic checks;
// callers must verify the signature and decrypt before trusting the content.
func Validate(env *Envelope) Result {
	if env == nil {
		return Result{Errors: []string{"envelope is missing"}}
	}

	var errs []string

	if env.ID == "" {
		errs = append(errs, `missing "id" field`)
	}

	switch {
	case env.Type == "":
		errs = append(errs, `missing "type" field`)
	case !isAbsoluteURI(env.Type):
		errs = append(errs, `"type" must be an absolute URI`)
	}

	switch {
	case env.From == "":
		errs = append(errs, `missing "from" field`)
	case !did.IsValid(env.From):
		errs = append(errs, `"from" must be a DID`)
	}

	if len(env.To) == 0 {
		errs = append(errs, `"to" must list at least one DID`)
	}

	for i, r := range env.To {
		if !did.IsValid(r) {
			errs = append(errs, fmt.Sprintf(`"to[%d]" must be a DID`, i))
		}
	}

	if _, err := env.CreatedTime.Time(); err != nil {
		errs = append(errs, err.Error())
	}

	errs = append(errs, validatePayload(env)...)

	if env.Signature != nil {
		errs = append(errs, validateSignature(env.Signature)...)
	}

	return Result{Valid: len(errs) == 0, Errors: errs}
}

// isAbsoluteURI accepts any scheme, so did: and urn: message types pass alongside https: ones.
func isAbsoluteURI(s string) bool {
	u, err := url.Parse(s)
	if err != nil || u.Scheme == "" {
		return false
	}

	return u.Opaque != "" || u.Host != "" || u.Path != ""
}

func validatePayload(env *Envelope) []string {
	hasBody := len(bytes.TrimSpace(env.Body)) > 0 && !bytes.Equal(bytes.TrimSpace(env.Body), []byte("null"))

	switch {
	case hasBody && env.Encryption != nil:
		return []string{`"body" must be absent when "encryption" is present`}
	case env.Encryption != nil:
		return validateEncryption(env.Encryption)
	case hasBody:
		if bytes.TrimSpace(env.Body)[0] != '{' {
			return []string{`"body" must be a JSON object`}
		}

		return nil
	default:
		return []string{`one of "body" or "encryption" is required`}
	}
}

func validateEncryption(enc *Encryption) []string {
	var errs []string

	for _, f := range []struct{ name, value string }{
		{"alg", enc.Alg},
		{"ephemeralPublicKey", enc.EphemeralPublicKey},
		{"iv", enc.IV},
		{"ciphertext", enc.Ciphertext},
		{"tag", enc.Tag},
	} {
		if f.value == "" {
			errs = append(errs, fmt.Sprintf(`missing "encryption.%s" field`, f.name))
		}
	}

	return errs
}

func validateSignature(sig *Signature) []string {
	var errs []string

	if sig.Alg == "" {
		errs = append(errs, `missing "signature.alg" field`)
	}

	if sig.Value == "" && (sig.R == "" || sig.S == "") {
		errs = append(errs, `"signature" must carry "value" or both "r" and "s"`)
	}

	return errs
}
