/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package did

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// ErrInvalidDID is returned when a string does not conform to the generic DID syntax.
var ErrInvalidDID = errors.New("invalid did")

const idchar = `a-zA-Z0-9\-_\.%`

// See https://w3c.github.io/did-core/#did-syntax.
var didRegex = regexp.MustCompile(fmt.Sprintf(`^did:[a-z0-9]+:(:*[%s]+)+$`, idchar))

// DID is a parsed decentralized identifier.
type DID struct {
	Scheme           string // Scheme is always "did"
	Method           string // Method is the specific DID methods
	MethodSpecificID string // MethodSpecificID is the unique ID computed or assigned by the DID method
}

// String returns a string representation of this DID.
func (d *DID) String() string {
	return fmt.Sprintf("%s:%s:%s", d.Scheme, d.Method, d.MethodSpecificID)
}

// Parse parses the string according to the generic DID syntax.
func Parse(did string) (*DID, error) {
	if !didRegex.MatchString(did) {
		return nil, fmt.Errorf("%w: %q does not match did:<method>:<id>", ErrInvalidDID, did)
	}

	parts := strings.SplitN(did, ":", 3)

	return &DID{
		Scheme:           "did",
		Method:           parts[1],
		MethodSpecificID: parts[2],
	}, nil
}

// IsValid reports whether s is a syntactically valid DID.
func IsValid(s string) bool {
	return didRegex.MatchString(s)
}

// Normalize removes all whitespace from a DID entered by hand.
func Normalize(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}

		return r
	}, s)
}

// NormalizeList accepts a single DID or a list of DIDs and returns them normalized and validated.
// Empty entries are dropped. An empty result is an error.
func NormalizeList(v interface{}) ([]string, error) {
	var raw []string

	switch tv := v.(type) {
	case string:
		raw = []string{tv}
	case []string:
		raw = tv
	case []interface{}:
		for i, e := range tv {
			s, ok := e.(string)
			if !ok {
				return nil, fmt.Errorf("%w: entry %d is %T, not a string", ErrInvalidDID, i, e)
			}

			raw = append(raw, s)
		}
	case nil:
	default:
		return nil, fmt.Errorf("%w: unsupported recipient type %T", ErrInvalidDID, v)
	}

	dids := make([]string, 0, len(raw))

	for _, r := range raw {
		n := Normalize(r)
		if n == "" {
			continue
		}

		if !IsValid(n) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidDID, n)
		}

		dids = append(dids, n)
	}

	if len(dids) == 0 {
		return nil, fmt.Errorf("%w: at least one recipient is required", ErrInvalidDID)
	}

	return dids, nil
}
