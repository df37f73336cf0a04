/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package envelope

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const (
	alice = "did:example:A"
	bob   = "did:example:B"
)

type stubEncrypter struct {
	recipient string
	plaintext []byte
	err       error
}

func (s *stubEncrypter) Encrypt(_ context.Context, recipient string, plaintext []byte) (*Encryption, error) {
	s.recipient = recipient
	s.plaintext = plaintext

	if s.err != nil {
		return nil, s.err
	}

	return &Encryption{
		Alg:                "test",
		EphemeralPublicKey: "epk",
		IV:                 "iv",
		Ciphertext:         "ct",
		Tag:                "tag",
	}, nil
}

type stubSigner struct {
	payload interface{}
	err     error
}

func (s *stubSigner) Sign(payload interface{}) (*Signature, error) {
	s.payload = payload

	if s.err != nil {
		return nil, s.err
	}

	return &Signature{Alg: "ES256K", Value: "00"}, nil
}

func TestBuilder_Build(t *testing.T) {
	now := time.Unix(1700000000, 0)

	t.Run("success", func(t *testing.T) {
		enc := &stubEncrypter{}
		sig := &stubSigner{}

		b, err := NewBuilder(enc, sig, WithClock(func() time.Time { return now }),
			WithIDGenerator(func() string { return "msg-1" }))
		require.NoError(t, err)

		env, err := b.Build(context.Background(), &Request{
			Type: BasicMessageType,
			From: alice,
			To:   " did:example:B ",
			Body: map[string]string{"text": "hi"},
		})
		require.NoError(t, err)

		require.Equal(t, "msg-1", env.ID)
		require.Equal(t, Recipients{bob}, env.To)
		require.Equal(t, bob, enc.recipient)
		require.JSONEq(t, `{"text":"hi"}`, string(enc.plaintext))
		require.Nil(t, env.Body)
		require.NotNil(t, env.Encryption)
		require.Equal(t, json.RawMessage("1700000000"), env.CreatedTime.Raw())
		require.Equal(t, env.SigningPayload(), sig.payload)
		require.True(t, Validate(env).Valid)

		raw, err := json.Marshal(env)
		require.NoError(t, err)
		require.Contains(t, string(raw), `"created_time":1700000000`)
		require.Contains(t, string(raw), `"to":["did:example:B"]`)
		require.NotContains(t, string(raw), `"body"`)
	})

	t.Run("fresh id when none supplied", func(t *testing.T) {
		b, err := NewBuilder(&stubEncrypter{}, &stubSigner{})
		require.NoError(t, err)

		req := &Request{Type: BasicMessageType, From: alice, To: bob, Body: map[string]string{"text": "hi"}}

		first, err := b.Build(context.Background(), req)
		require.NoError(t, err)

		second, err := b.Build(context.Background(), req)
		require.NoError(t, err)

		require.NotEmpty(t, first.ID)
		require.NotEqual(t, first.ID, second.ID)
	})

	t.Run("validation errors make no crypto calls", func(t *testing.T) {
		enc := &stubEncrypter{}
		b, err := NewBuilder(enc, &stubSigner{})
		require.NoError(t, err)

		for _, req := range []*Request{
			{Type: BasicMessageType, From: "alice", To: bob, Body: map[string]string{}},
			{Type: BasicMessageType, From: alice, To: "bob", Body: map[string]string{}},
			{Type: BasicMessageType, From: alice, To: []string{}, Body: map[string]string{}},
			{Type: "", From: alice, To: bob, Body: map[string]string{}},
			{Type: BasicMessageType, From: alice, To: bob, Body: nil},
			{Type: BasicMessageType, From: alice, To: bob, Body: []int{1}},
		} {
			_, err := b.Build(context.Background(), req)
			require.ErrorIs(t, err, ErrInvalidEnvelope)
		}

		require.Empty(t, enc.recipient)
	})

	t.Run("encrypt and sign failures", func(t *testing.T) {
		req := &Request{Type: BasicMessageType, From: alice, To: bob, Body: map[string]string{"text": "hi"}}

		b, err := NewBuilder(&stubEncrypter{err: errors.New("no key")}, &stubSigner{})
		require.NoError(t, err)

		_, err = b.Build(context.Background(), req)
		require.EqualError(t, err, "encrypt body for did:example:B: no key")

		b, err = NewBuilder(&stubEncrypter{}, &stubSigner{err: errors.New("bad key")})
		require.NoError(t, err)

		_, err = b.Build(context.Background(), req)
		require.EqualError(t, err, "sign envelope: bad key")
	})

	t.Run("missing dependencies", func(t *testing.T) {
		_, err := NewBuilder(nil, &stubSigner{})
		require.Error(t, err)
	})
}

func TestParse(t *testing.T) {
	t.Run("string recipient and ISO time", func(t *testing.T) {
		env, err := Parse([]byte(`{"id":"1","type":"https://x/y","from":"did:example:A","to":"did:example:B",
			"created_time":"2024-05-01T10:00:00Z","body":{"a":1}}`))
		require.NoError(t, err)
		require.Equal(t, Recipients{bob}, env.To)
		require.Equal(t, json.RawMessage(`"2024-05-01T10:00:00Z"`), env.CreatedTime.Raw())

		tm, err := env.CreatedTime.Time()
		require.NoError(t, err)
		require.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), tm)
		require.True(t, Validate(env).Valid)

		// re-encoding keeps the original created_time token
		raw, err := json.Marshal(env)
		require.NoError(t, err)
		require.Contains(t, string(raw), `"created_time":"2024-05-01T10:00:00Z"`)
	})

	t.Run("snake_case ephemeral key", func(t *testing.T) {
		env, err := Parse([]byte(`{"id":"1","type":"https://x/y","from":"did:example:A","to":["did:example:B"],
			"created_time":1700000000,"encryption":{"alg":"a","ephemeral_public_key":"k","iv":"i",
			"ciphertext":"c","tag":"t"}}`))
		require.NoError(t, err)
		require.Equal(t, "k", env.Encryption.EphemeralPublicKey)
		require.True(t, Validate(env).Valid)

		raw, err := json.Marshal(env.Encryption)
		require.NoError(t, err)
		require.Contains(t, string(raw), `"ephemeralPublicKey":"k"`)
		require.NotContains(t, string(raw), "ephemeral_public_key")

		env, err = Parse([]byte(`{"encryption":{"ephemeralPublicKey":"new","ephemeral_public_key":"old"}}`))
		require.NoError(t, err)
		require.Equal(t, "new", env.Encryption.EphemeralPublicKey)
	})

	t.Run("malformed", func(t *testing.T) {
		_, err := Parse([]byte(`{"to":5}`))
		require.ErrorIs(t, err, ErrInvalidEnvelope)

		_, err = Parse([]byte(`not json`))
		require.ErrorIs(t, err, ErrInvalidEnvelope)
	})
}

func TestSigningPayload(t *testing.T) {
	env := &Envelope{
		ID:          "1",
		Type:        BasicMessageType,
		From:        alice,
		To:          Recipients{bob},
		CreatedTime: NewTimestamp(time.Unix(5, 0)),
		Body:        json.RawMessage(`{"text":"plain"}`),
		Encryption:  &Encryption{Alg: "a"},
		Signature:   &Signature{Alg: "ES256K"},
	}

	p := env.SigningPayload()
	require.Len(t, p, 6)
	require.NotContains(t, p, "thid")
	require.NotContains(t, p, "signature")
	require.NotContains(t, p, "body")

	env.Thid = "parent"
	require.Equal(t, "parent", env.SigningPayload()["thid"])
}

func TestValidate(t *testing.T) {
	valid := func() *Envelope {
		return &Envelope{
			ID:          "1",
			Type:        BasicMessageType,
			From:        alice,
			To:          Recipients{bob},
			CreatedTime: NewTimestamp(time.Now()),
			Encryption:  &Encryption{Alg: "a", EphemeralPublicKey: "b", IV: "c", Ciphertext: "d", Tag: "e"},
			Signature:   &Signature{Alg: "ES256K", R: "1", S: "2"},
		}
	}

	require.True(t, Validate(valid()).Valid)
	require.NoError(t, Validate(valid()).Err())
	require.False(t, Validate(nil).Valid)

	t.Run("any type scheme", func(t *testing.T) {
		for _, typ := range []string{
			"did:sov:BzCbsNYhMrjHiqZDTUASHg;spec/basicmessage/1.0/message",
			"urn:didcomm:basicmessage",
			"http://example.org/basicmessage/1.0/message",
		} {
			env := valid()
			env.Type = typ
			require.True(t, Validate(env).Valid, typ)
		}
	})

	tests := []struct {
		name   string
		mutate func(e *Envelope)
		errMsg string
	}{
		{"missing id", func(e *Envelope) { e.ID = "" }, `missing "id" field`},
		{"type not a uri", func(e *Envelope) { e.Type = "basic" }, `"type" must be an absolute URI`},
		{"type scheme only", func(e *Envelope) { e.Type = "https:" }, `"type" must be an absolute URI`},
		{"from not a did", func(e *Envelope) { e.From = "alice" }, `"from" must be a DID`},
		{"empty to", func(e *Envelope) { e.To = nil }, `"to" must list at least one DID`},
		{"to not a did", func(e *Envelope) { e.To = Recipients{bob, "x"} }, `"to[1]" must be a DID`},
		{"missing time", func(e *Envelope) { e.CreatedTime = Timestamp{} }, "created_time is missing"},
		{"bool time", func(e *Envelope) { e.CreatedTime = Timestamp{raw: json.RawMessage("true")} },
			"created_time must be a Unix timestamp or an ISO-8601 string, got true"},
		{"body and encryption", func(e *Envelope) { e.Body = json.RawMessage(`{}`) },
			`"body" must be absent when "encryption" is present`},
		{"neither", func(e *Envelope) { e.Encryption = nil }, `one of "body" or "encryption" is required`},
		{"body not object", func(e *Envelope) { e.Encryption = nil; e.Body = json.RawMessage(`"x"`) },
			`"body" must be a JSON object`},
		{"missing tag", func(e *Envelope) { e.Encryption.Tag = "" }, `missing "encryption.tag" field`},
		{"signature alg", func(e *Envelope) { e.Signature.Alg = "" }, `missing "signature.alg" field`},
		{"signature parts", func(e *Envelope) { e.Signature.S = "" },
			`"signature" must carry "value" or both "r" and "s"`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			env := valid()
			tc.mutate(env)

			res := Validate(env)
			require.False(t, res.Valid)
			require.Contains(t, res.Errors, tc.errMsg)
			require.ErrorIs(t, res.Err(), ErrInvalidEnvelope)
		})
	}
}
