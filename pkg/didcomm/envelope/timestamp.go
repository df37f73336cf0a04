/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package envelope

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"
)

// Timestamp is the envelope creation time. It keeps the exact JSON token it was decoded from so that
// the signing payload of a received envelope is identical to the one the sender signed.
//
// New timestamps are always Unix seconds encoded as a JSON integer. Decoding also accepts an
// RFC 3339 string.
type Timestamp struct {
	raw json.RawMessage
}

// NewTimestamp creates a timestamp with whole-second precision.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{raw: json.RawMessage(strconv.FormatInt(t.Unix(), 10))}
}

// IsZero reports whether the timestamp was never set.
func (t Timestamp) IsZero() bool {
	return len(t.raw) == 0 || bytes.Equal(t.raw, []byte("null"))
}

// Raw returns the JSON token of the timestamp.
func (t Timestamp) Raw() json.RawMessage {
	return t.raw
}

// Time interprets the timestamp.
func (t Timestamp) Time() (time.Time, error) {
	if t.IsZero() {
		return time.Time{}, errors.New("created_time is missing")
	}

	switch t.raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(t.raw, &s); err != nil {
			return time.Time{}, err
		}

		tm, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("created_time is not an ISO-8601 date: %w", err)
		}

		return tm, nil
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		if i, err := strconv.ParseInt(string(t.raw), 10, 64); err == nil {
			return time.Unix(i, 0).UTC(), nil
		}

		f, err := strconv.ParseFloat(string(t.raw), 64)
		if err != nil || math.IsInf(f, 0) {
			return time.Time{}, fmt.Errorf("created_time is not a valid number: %s", t.raw)
		}

		sec, frac := math.Modf(f)

		return time.Unix(int64(sec), int64(frac*float64(time.Second))).UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("created_time must be a Unix timestamp or an ISO-8601 string, got %s", t.raw)
	}
}

// MarshalJSON implements json.Marshaler.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if len(t.raw) == 0 {
		return []byte("null"), nil
	}

	return t.raw, nil
}

// UnmarshalJSON implements json.Unmarshaler. Any token is kept; Validate rejects the wrong types.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	t.raw = append(json.RawMessage(nil), bytes.TrimSpace(data)...)

	return nil
}
