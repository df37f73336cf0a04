/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package inbound

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hyperledger/aries-framework-go/component/storageutil/mem"
	"github.com/stretchr/testify/require"

	"github.com/didrelay/didcomm-relay/internal/didcommtest"
	"github.com/didrelay/didcomm-relay/pkg/didcomm/envelope"
	"github.com/didrelay/didcomm-relay/pkg/store/inbox"
)

const (
	alice = "did:example:A"
	bob   = "did:example:B"
	carol = "did:example:C"
)

type mockVerifier struct {
	valid bool
	delay time.Duration
	calls int32
}

func (m *mockVerifier) VerifyEnvelope(*envelope.Envelope) bool {
	atomic.AddInt32(&m.calls, 1)
	time.Sleep(m.delay)

	return m.valid
}

type mockDecrypter struct {
	body []byte
	err  error
}

func (m *mockDecrypter) Decrypt(*envelope.Envelope) ([]byte, error) {
	return m.body, m.err
}

type failingInbox struct {
	err     error
	listErr error
}

func (f *failingInbox) Add(*inbox.ReceivedMessage) error { return f.err }

func (f *failingInbox) List() ([]*inbox.ReceivedMessage, error) { return nil, f.listErr }

func newInbox(t *testing.T) *inbox.Store {
	t.Helper()

	s, err := inbox.New(mem.NewProvider())
	require.NoError(t, err)

	return s
}

func testEnvelope(id string, to ...string) *envelope.Envelope {
	if len(to) == 0 {
		to = []string{bob}
	}

	return &envelope.Envelope{
		ID:          id,
		Type:        envelope.BasicMessageType,
		From:        alice,
		To:          to,
		CreatedTime: envelope.NewTimestamp(time.Unix(1700000000, 0)),
		Encryption: &envelope.Encryption{
			Alg: "alg", EphemeralPublicKey: "epk", IV: "iv", Ciphertext: "ct", Tag: "tag",
		},
		Signature: &envelope.Signature{Alg: "ES256K", Value: "00"},
	}
}

func TestNew(t *testing.T) {
	_, err := New("bob", &mockVerifier{}, &mockDecrypter{}, newInbox(t))
	require.Error(t, err)

	_, err = New(bob, nil, &mockDecrypter{}, newInbox(t))
	require.Error(t, err)

	_, err = New(bob, &mockVerifier{}, &mockDecrypter{}, &failingInbox{listErr: errors.New("list failed")})
	require.Error(t, err)
}

func TestDispatcher_Dispatch(t *testing.T) {
	body := []byte(`{"text":"hi"}`)
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	t.Run("stores verified and decrypted messages once", func(t *testing.T) {
		store := newInbox(t)

		var hooked []string

		d, err := New(" "+bob, &mockVerifier{valid: true}, &mockDecrypter{body: body}, store,
			WithClock(func() time.Time { return now }),
			WithHook(func(_ context.Context, m *inbox.ReceivedMessage) { hooked = append(hooked, m.ID) }))
		require.NoError(t, err)

		outcome, err := d.Dispatch(context.Background(), testEnvelope("m1", carol, bob))
		require.NoError(t, err)
		require.Equal(t, Delivered, outcome)
		require.True(t, d.Seen("m1"))

		outcome, err = d.Dispatch(context.Background(), testEnvelope("m1", bob))
		require.NoError(t, err)
		require.Equal(t, Duplicate, outcome)

		msgs, err := store.List()
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		require.Equal(t, alice, msgs[0].From)
		require.Equal(t, []string{carol, bob}, msgs[0].To)
		require.JSONEq(t, string(body), string(msgs[0].Body))
		require.Equal(t, "2024-01-02T03:04:05Z", msgs[0].ReceivedAt)
		require.False(t, msgs[0].Read)
		require.Equal(t, []string{"m1"}, hooked)

		unread, err := store.UnreadCount()
		require.NoError(t, err)
		require.Equal(t, 1, unread)
	})

	t.Run("discards", func(t *testing.T) {
		tests := []struct {
			name      string
			env       *envelope.Envelope
			verifier  *mockVerifier
			decrypter *mockDecrypter
			outcome   Outcome
		}{
			{
				name:      "not addressed",
				env:       testEnvelope("m1", carol),
				verifier:  &mockVerifier{valid: true},
				decrypter: &mockDecrypter{body: body},
				outcome:   NotAddressed,
			},
			{
				name:      "bad signature",
				env:       testEnvelope("m2"),
				verifier:  &mockVerifier{},
				decrypter: &mockDecrypter{body: body},
				outcome:   BadSignature,
			},
			{
				name:      "undecryptable",
				env:       testEnvelope("m3"),
				verifier:  &mockVerifier{valid: true},
				decrypter: &mockDecrypter{err: errors.New("gcm open failed")},
				outcome:   Undecryptable,
			},
			{
				name:      "body is not JSON",
				env:       testEnvelope("m4"),
				verifier:  &mockVerifier{valid: true},
				decrypter: &mockDecrypter{body: []byte("plain")},
				outcome:   Undecryptable,
			},
			{
				name:      "malformed",
				env:       &envelope.Envelope{ID: "m5"},
				verifier:  &mockVerifier{valid: true},
				decrypter: &mockDecrypter{body: body},
				outcome:   Invalid,
			},
		}

		for _, tc := range tests {
			tc := tc
			t.Run(tc.name, func(t *testing.T) {
				store := newInbox(t)

				d, err := New(bob, tc.verifier, tc.decrypter, store)
				require.NoError(t, err)

				outcome, err := d.Dispatch(context.Background(), tc.env)
				require.NoError(t, err)
				require.Equal(t, tc.outcome, outcome)
				require.False(t, d.Seen(tc.env.ID))

				msgs, err := store.List()
				require.NoError(t, err)
				require.Empty(t, msgs)
			})
		}
	})

	t.Run("a rejected copy does not block a valid one", func(t *testing.T) {
		verifier := &mockVerifier{}

		d, err := New(bob, verifier, &mockDecrypter{body: body}, newInbox(t))
		require.NoError(t, err)

		outcome, err := d.Dispatch(context.Background(), testEnvelope("m1"))
		require.NoError(t, err)
		require.Equal(t, BadSignature, outcome)

		verifier.valid = true

		outcome, err = d.Dispatch(context.Background(), testEnvelope("m1"))
		require.NoError(t, err)
		require.Equal(t, Delivered, outcome)
	})

	t.Run("concurrent copies are delivered once", func(t *testing.T) {
		store := newInbox(t)
		verifier := &mockVerifier{valid: true, delay: 20 * time.Millisecond}

		var hooks int32

		d, err := New(bob, verifier, &mockDecrypter{body: body}, store,
			WithHook(func(context.Context, *inbox.ReceivedMessage) { atomic.AddInt32(&hooks, 1) }))
		require.NoError(t, err)

		const copies = 8

		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			outcomes = map[Outcome]int{}
		)

		for i := 0; i < copies; i++ {
			wg.Add(1)

			go func() {
				defer wg.Done()

				outcome, err := d.Dispatch(context.Background(), testEnvelope("m1"))
				require.NoError(t, err)

				mu.Lock()
				outcomes[outcome]++
				mu.Unlock()
			}()
		}

		wg.Wait()

		require.Equal(t, map[Outcome]int{Delivered: 1, Duplicate: copies - 1}, outcomes)
		require.Equal(t, int32(1), atomic.LoadInt32(&verifier.calls))
		require.Equal(t, int32(1), atomic.LoadInt32(&hooks))

		msgs, err := store.List()
		require.NoError(t, err)
		require.Len(t, msgs, 1)
	})

	t.Run("waiting copy gives up on cancel", func(t *testing.T) {
		d, err := New(bob, &mockVerifier{valid: true, delay: 200 * time.Millisecond}, &mockDecrypter{body: body},
			newInbox(t))
		require.NoError(t, err)

		go func() { _, _ = d.Dispatch(context.Background(), testEnvelope("m1")) }() //nolint:errcheck

		require.Eventually(t, func() bool {
			d.mu.Lock()
			defer d.mu.Unlock()

			return len(d.inFlight) == 1
		}, time.Second, time.Millisecond)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err = d.Dispatch(ctx, testEnvelope("m1"))
		require.ErrorIs(t, err, context.Canceled)
	})

	t.Run("inbox failure releases the id", func(t *testing.T) {
		store := &failingInbox{err: errors.New("disk full")}

		d, err := New(bob, &mockVerifier{valid: true}, &mockDecrypter{body: body}, store)
		require.NoError(t, err)

		_, err = d.Dispatch(context.Background(), testEnvelope("m1"))
		require.Error(t, err)
		require.False(t, d.Seen("m1"))

		store.err = inbox.ErrMessageExists

		outcome, err := d.Dispatch(context.Background(), testEnvelope("m1"))
		require.NoError(t, err)
		require.Equal(t, Duplicate, outcome)
		require.True(t, d.Seen("m1"))
	})

	t.Run("stored messages count as seen", func(t *testing.T) {
		store := newInbox(t)
		require.NoError(t, store.Add(&inbox.ReceivedMessage{ID: "old", Body: body}))

		d, err := New(bob, &mockVerifier{valid: true}, &mockDecrypter{body: body}, store)
		require.NoError(t, err)

		outcome, err := d.Dispatch(context.Background(), testEnvelope("old"))
		require.NoError(t, err)
		require.Equal(t, Duplicate, outcome)
	})
}

func TestDispatcher_HandlerFunc(t *testing.T) {
	parties, _ := didcommtest.Parties(t, alice, bob, carol)
	store := newInbox(t)

	d, err := New(bob, parties[bob].Verifier, parties[bob].Decrypter, store)
	require.NoError(t, err)

	handle := d.HandlerFunc()

	send := func(env *envelope.Envelope) error {
		data, err := json.Marshal(env)
		require.NoError(t, err)

		return handle(context.Background(), data)
	}

	require.NoError(t, send(parties[alice].Build(t, "m1", "hello bob", bob)))

	// encrypted for carol, so bob cannot open it even though he is listed
	require.NoError(t, send(parties[alice].Build(t, "m2", "hello carol", carol, bob)))

	tampered := parties[alice].Build(t, "m3", "hi", bob)
	tampered.From = carol
	require.NoError(t, send(tampered))

	require.Error(t, handle(context.Background(), []byte("{")))

	msgs, err := store.List()
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, "m1", msgs[0].ID)

	text := &envelope.BasicMessageBody{}
	require.NoError(t, json.Unmarshal(msgs[0].Body, text))
	require.Equal(t, "hello bob", text.Text)
}

func TestOutcome_String(t *testing.T) {
	require.Equal(t, "delivered", Delivered.String())
	require.Equal(t, "bad signature", BadSignature.String())
	require.Equal(t, "outcome(42)", Outcome(42).String())
}
