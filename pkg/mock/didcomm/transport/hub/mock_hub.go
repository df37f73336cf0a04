/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package hub

import (
	"context"
	"sync"
)

// Broadcast is one recorded BroadcastToGroup call.
type Broadcast struct {
	DID      string
	Envelope []byte
}

// MockBroadcaster mock push-session hub.
type MockBroadcaster struct {
	// Sessions is the number of sessions reported per group.
	Sessions     int
	BroadcastErr error

	mu    sync.Mutex
	calls []Broadcast
}

// BroadcastToGroup records the call.
func (m *MockBroadcaster) BroadcastToGroup(_ context.Context, did string, envelope []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, Broadcast{DID: did, Envelope: envelope})

	if m.BroadcastErr != nil {
		return 0, m.BroadcastErr
	}

	return m.Sessions, nil
}

// Calls returns the recorded broadcasts.
func (m *MockBroadcaster) Calls() []Broadcast {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]Broadcast(nil), m.calls...)
}
