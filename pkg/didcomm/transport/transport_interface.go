/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package transport

import "context"

// MediaTypeEnvelope is the content type of envelopes posted to a relay.
const MediaTypeEnvelope = "application/json"

// InboundMessageHandler handles a raw envelope received from a transport. Handlers must not assume the
// payload is well formed or authentic.
type InboundMessageHandler func(ctx context.Context, payload []byte) error
