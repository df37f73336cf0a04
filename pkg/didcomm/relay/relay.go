/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package relay moves envelopes from senders to live push sessions. A Node publishes every envelope to
// the broker and broadcasts it to the hub at the same time. A Consumer reads the broker back so that
// envelopes published by other nodes, or missed by the direct path, still reach local sessions.
package relay

import (
	"context"
	"errors"

	"github.com/hyperledger/aries-framework-go/component/log"

	"github.com/didrelay/didcomm-relay/pkg/didcomm/envelope"
)

var logger = log.New("didcomm-relay/didcomm/relay")

// ErrDeliveryFailed is returned when neither delivery path accepted an envelope.
var ErrDeliveryFailed = errors.New("delivery failed")

// Handler processes one envelope read from the broker.
type Handler func(ctx context.Context, env *envelope.Envelope) error

// Broadcaster pushes an envelope to every session joined under a DID.
type Broadcaster interface {
	BroadcastToGroup(ctx context.Context, did string, envelope []byte) (int, error)
}
