/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package b64 encodes binary envelope fields as text.
//
// Encoding always produces standard padded base64. Decoding is lenient about the alphabet and padding
// used by peers: whitespace is ignored, the URL-safe alphabet is mapped onto the standard one and
// missing padding is restored.
package b64

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// ErrInvalidEncoding is returned for text that cannot be decoded under any accepted variant.
var ErrInvalidEncoding = errors.New("invalid base64 encoding")

const quantum = 4

// Encode returns the standard padded base64 encoding of b.
func Encode(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// Decode decodes standard or URL-safe base64, padded or not.
func Decode(s string) ([]byte, error) {
	n := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsSpace(r):
			return -1
		case r == '-':
			return '+'
		case r == '_':
			return '/'
		}

		return r
	}, s)

	n = strings.TrimRight(n, "=")

	switch len(n) % quantum {
	case 1:
		return nil, fmt.Errorf("%w: impossible length %d", ErrInvalidEncoding, len(n))
	case 2:
		n += "=="
	case 3:
		n += "="
	}

	b, err := base64.StdEncoding.DecodeString(n)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidEncoding, err.Error())
	}

	return b, nil
}

// DecodeSized decodes s and checks that the result is exactly size bytes long.
func DecodeSized(s string, size int) ([]byte, error) {
	b, err := Decode(s)
	if err != nil {
		return nil, err
	}

	if len(b) != size {
		return nil, fmt.Errorf("%w: decoded %d bytes, expected %d", ErrInvalidEncoding, len(b), size)
	}

	return b, nil
}
