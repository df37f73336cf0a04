/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package hub

import "encoding/json"

// Frame types exchanged over a push session.
const (
	FrameJoin    = "join"
	FrameLeave   = "leave"
	FrameJoined  = "joined"
	FrameLeft    = "left"
	FrameMessage = "message"
	FrameError   = "error"
)

// Frame is a push session protocol frame. Clients send join and leave frames; the hub answers with
// joined, left or error frames and pushes envelopes in message frames.
type Frame struct {
	Type    string          `json:"type"`
	DID     string          `json:"did,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}
