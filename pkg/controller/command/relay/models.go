/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package relay

// SendEnvelopeResponse model
//
// This is used for returning the id of a relayed envelope.
//
// swagger:response sendEnvelopeResponse
type SendEnvelopeResponse struct {
	Success   bool   `json:"success"`
	MessageID string `json:"messageId"`
}

// HealthCheckResponse model
//
// This is used for returning the health of a relay node.
//
// swagger:response healthCheckResponse
type HealthCheckResponse struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
}
