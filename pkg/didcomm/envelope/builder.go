/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package envelope

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/didrelay/didcomm-relay/pkg/doc/did"
	jsonutil "github.com/didrelay/didcomm-relay/pkg/doc/util/json"
)

// Encrypter encrypts an envelope body for a recipient DID.
type Encrypter interface {
	Encrypt(ctx context.Context, recipient string, plaintext []byte) (*Encryption, error)
}

// Signer signs the signing payload of an envelope.
type Signer interface {
	Sign(payload interface{}) (*Signature, error)
}

// Request describes an envelope to build.
type Request struct {
	// ID is assigned by the builder when empty.
	ID   string
	Type string
	From string
	// To is a DID or a list of DIDs.
	To   interface{}
	Thid string
	Body interface{}
}

// Builder assembles signed and encrypted envelopes.
type Builder struct {
	encrypter Encrypter
	signer    Signer
	now       func() time.Time
	newID     func() string
}

// BuilderOpt configures a Builder.
type BuilderOpt func(b *Builder)

// WithClock sets the clock used for created_time.
func WithClock(now func() time.Time) BuilderOpt {
	return func(b *Builder) {
		b.now = now
	}
}

// WithIDGenerator sets the generator used for envelope ids.
func WithIDGenerator(newID func() string) BuilderOpt {
	return func(b *Builder) {
		b.newID = newID
	}
}

// NewBuilder returns a builder encrypting with encrypter and signing with signer.
func NewBuilder(encrypter Encrypter, signer Signer, opts ...BuilderOpt) (*Builder, error) {
	if encrypter == nil || signer == nil {
		return nil, errors.New("envelope builder requires an encrypter and a signer")
	}

	b := &Builder{
		encrypter: encrypter,
		signer:    signer,
		now:       time.Now,
		newID:     func() string { return uuid.New().String() },
	}

	for _, opt := range opts {
		opt(b)
	}

	return b, nil
}

// Build validates the request, encrypts the body for the first recipient and signs the result.
// The returned envelope is complete; it must not be modified afterwards.
func (b *Builder) Build(ctx context.Context, req *Request) (*Envelope, error) {
	from := did.Normalize(req.From)
	if !did.IsValid(from) {
		return nil, fmt.Errorf("%w: from: %q is not a DID", ErrInvalidEnvelope, req.From)
	}

	to, err := did.NormalizeList(req.To)
	if err != nil {
		return nil, fmt.Errorf("%w: to: %s", ErrInvalidEnvelope, err.Error())
	}

	if req.Type == "" {
		return nil, fmt.Errorf("%w: type is required", ErrInvalidEnvelope)
	}

	plaintext, err := marshalBody(req.Body)
	if err != nil {
		return nil, err
	}

	id := req.ID
	if id == "" {
		id = b.newID()
	}

	env := &Envelope{
		ID:          id,
		Type:        req.Type,
		From:        from,
		To:          to,
		CreatedTime: NewTimestamp(b.now()),
		Thid:        req.Thid,
	}

	env.Encryption, err = b.encrypter.Encrypt(ctx, env.Recipient(), plaintext)
	if err != nil {
		return nil, fmt.Errorf("encrypt body for %s: %w", env.Recipient(), err)
	}

	env.Signature, err = b.signer.Sign(env.SigningPayload())
	if err != nil {
		return nil, fmt.Errorf("sign envelope: %w", err)
	}

	if err := Validate(env).Err(); err != nil {
		return nil, err
	}

	return env, nil
}

func marshalBody(body interface{}) ([]byte, error) {
	if body == nil {
		return nil, fmt.Errorf("%w: body is required", ErrInvalidEnvelope)
	}

	if _, err := jsonutil.ToMap(body); err != nil {
		return nil, fmt.Errorf("%w: body must be a JSON object: %s", ErrInvalidEnvelope, err.Error())
	}

	switch b := body.(type) {
	case []byte:
		return b, nil
	case json.RawMessage:
		return b, nil
	case string:
		return []byte(b), nil
	}

	return json.Marshal(body)
}
