/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package command

import (
	"encoding/json"
	"io"

	"github.com/hyperledger/aries-framework-go/spi/log"
)

// WriteNillableResponse encodes v as JSON to w; a nil v is written as an empty object.
// Encoding failures are logged to l when it is set.
func WriteNillableResponse(w io.Writer, v interface{}, l log.Logger) {
	if v == nil {
		v = struct{}{}
	}

	err := json.NewEncoder(w).Encode(v)
	if err != nil && l != nil {
		l.Errorf("failed to write command response: %s", err)
	}
}
