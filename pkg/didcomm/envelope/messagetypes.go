/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package envelope

// Message types understood by the wallet.
const (
	BasicMessageType      = "https://didcomm.org/basicmessage/2.0/message"
	AckType               = "https://didcomm.org/notification/ack/2.0"
	ApprovalRequestType   = "https://example.org/didcomm/approval-request/1.0"
	ApprovalResponseType  = "https://example.org/didcomm/approval-response/1.0"
	CredentialOfferType   = "https://example.org/didcomm/credential-offer/1.0"
	CredentialRequestType = "https://example.org/didcomm/credential-request/1.0"
)

// AckStatusReceived is the status carried by acknowledgements of delivered messages.
const AckStatusReceived = "received"

// BasicMessageBody is the body of a basic message.
type BasicMessageBody struct {
	Text string `json:"text" mapstructure:"text"`
}

// AckBody is the body of an acknowledgement.
type AckBody struct {
	Status     string `json:"status" mapstructure:"status"`
	ReceivedAt string `json:"received_at" mapstructure:"received_at"`
}

// ApprovalRequestBody asks the recipient to approve an action.
type ApprovalRequestBody struct {
	RequestType string                 `json:"request_type" mapstructure:"request_type"`
	RequestData map[string]interface{} `json:"request_data" mapstructure:"request_data"`
}

// ApprovalResponseBody answers an approval request. The envelope thid names the request.
type ApprovalResponseBody struct {
	Approved    bool   `json:"approved" mapstructure:"approved"`
	Reason      string `json:"reason,omitempty" mapstructure:"reason"`
	RespondedAt string `json:"responded_at" mapstructure:"responded_at"`
}
