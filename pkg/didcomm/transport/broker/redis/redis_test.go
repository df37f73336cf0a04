/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package redis

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/didrelay/didcomm-relay/pkg/didcomm/transport/broker"
)

func dial(t *testing.T) *Broker {
	t.Helper()

	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}

	b, err := Dial(context.Background(), url, WithBlock(100*time.Millisecond))
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, b.Close())
	})

	return b
}

func readSome(t *testing.T, sub broker.Subscription) []broker.Record {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)

	for time.Now().Before(deadline) {
		recs, err := sub.Next(context.Background())
		require.NoError(t, err)

		if len(recs) > 0 {
			return recs
		}
	}

	t.Fatal("no records read before deadline")

	return nil
}

func TestBroker(t *testing.T) {
	b := dial(t)
	ctx := context.Background()
	topic := fmt.Sprintf("didcomm-test-%s", uuid.New().String())

	require.NoError(t, b.Publish(ctx, topic, "before", []byte("0")))

	sub, err := b.Subscribe(ctx, topic)
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, topic, "k1", []byte(`{"id":"1"}`)))

	recs := readSome(t, sub)

	require.Len(t, recs, 1)
	require.Equal(t, "k1", recs[0].Key)
	require.Equal(t, []byte(`{"id":"1"}`), recs[0].Value)

	require.NoError(t, sub.Close())

	_, err = sub.Next(ctx)
	require.ErrorIs(t, err, broker.ErrClosed)

	// a new subscription resumes after k1
	require.NoError(t, b.Publish(ctx, topic, "k2", []byte("2")))

	sub, err = b.Subscribe(ctx, topic)
	require.NoError(t, err)

	recs = readSome(t, sub)

	require.Equal(t, "k2", recs[0].Key)
}

func TestDial(t *testing.T) {
	_, err := Dial(context.Background(), "not a url")
	require.Error(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_, err = Dial(ctx, "redis://127.0.0.1:1/0")
	require.Error(t, err)
}

func TestToRecord(t *testing.T) {
	rec, err := toRecord(redis.XMessage{ID: "1-0", Values: map[string]interface{}{"key": "k", "value": "v"}})
	require.NoError(t, err)
	require.Equal(t, broker.Record{ID: "1-0", Key: "k", Value: []byte("v")}, rec)

	_, err = toRecord(redis.XMessage{ID: "1-1", Values: map[string]interface{}{"key": "k"}})
	require.Error(t, err)
}
