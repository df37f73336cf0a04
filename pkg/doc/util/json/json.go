/*
Copyright SecureKey Technologies Inc. All Rights Reserved.
SPDX-License-Identifier: Apache-2.0
*/

package json

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Canonicalize marshals v into its canonical JSON form: object keys sorted recursively, array order kept,
// no insignificant whitespace, strings without HTML escaping and numbers in shortest round-trip form.
//
// v may be any value accepted by encoding/json, including raw JSON as []byte or json.RawMessage.
// Two values that are equal as JSON data always produce identical bytes.
func Canonicalize(v interface{}) ([]byte, error) {
	tree, err := toTree(v)
	if err != nil {
		return nil, err
	}

	buf := &bytes.Buffer{}

	if err := writeCanonical(buf, tree); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// ToMap convert object, string or bytes to json object represented by map.
// Numbers are kept as json.Number so that integer values survive unchanged.
func ToMap(v interface{}) (map[string]interface{}, error) {
	tree, err := toTree(v)
	if err != nil {
		return nil, err
	}

	m, ok := tree.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("expected JSON object, got %T", tree)
	}

	return m, nil
}

func toTree(v interface{}) (interface{}, error) {
	var (
		b   []byte
		err error
	)

	switch cv := v.(type) {
	case []byte:
		b = cv
	case json.RawMessage:
		b = cv
	case string:
		b = []byte(cv)
	default:
		b, err = json.Marshal(v)
		if err != nil {
			return nil, err
		}
	}

	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()

	var tree interface{}

	if err = dec.Decode(&tree); err != nil {
		return nil, fmt.Errorf("decode JSON: %w", err)
	}

	if dec.More() {
		return nil, fmt.Errorf("decode JSON: trailing data after top-level value")
	}

	return tree, nil
}

func writeCanonical(buf *bytes.Buffer, v interface{}) error {
	switch tv := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		buf.WriteString(strconv.FormatBool(tv))
	case string:
		return writeString(buf, tv)
	case json.Number:
		n, err := formatNumber(tv)
		if err != nil {
			return err
		}

		buf.WriteString(n)
	case []interface{}:
		buf.WriteByte('[')

		for i, e := range tv {
			if i > 0 {
				buf.WriteByte(',')
			}

			if err := writeCanonical(buf, e); err != nil {
				return err
			}
		}

		buf.WriteByte(']')
	case map[string]interface{}:
		keys := make([]string, 0, len(tv))
		for k := range tv {
			keys = append(keys, k)
		}

		sort.Strings(keys)

		buf.WriteByte('{')

		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}

			if err := writeString(buf, k); err != nil {
				return err
			}

			buf.WriteByte(':')

			if err := writeCanonical(buf, tv[k]); err != nil {
				return err
			}
		}

		buf.WriteByte('}')
	default:
		return fmt.Errorf("unsupported JSON value of type %T", v)
	}

	return nil
}

// writeString quotes s the way ECMAScript JSON.stringify does: only the quote, the backslash and control
// characters are escaped. Invalid UTF-8 is replaced with U+FFFD.
func writeString(buf *bytes.Buffer, s string) error {
	const hexDigits = "0123456789abcdef"

	buf.WriteByte('"')

	for _, r := range s {
		switch r {
		case '"':
			buf.WriteString(`\"`)
		case '\\':
			buf.WriteString(`\\`)
		case '\b':
			buf.WriteString(`\b`)
		case '\f':
			buf.WriteString(`\f`)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		default:
			if r < 0x20 {
				buf.WriteString(`\u00`)
				buf.WriteByte(hexDigits[r>>4])
				buf.WriteByte(hexDigits[r&0xf])

				continue
			}

			buf.WriteRune(r)
		}
	}

	buf.WriteByte('"')

	return nil
}

const (
	minPlainExp = 1e-6
	maxPlainExp = 1e21
)

func formatNumber(n json.Number) (string, error) {
	if i, err := strconv.ParseInt(string(n), 10, 64); err == nil {
		return strconv.FormatInt(i, 10), nil
	}

	f, err := strconv.ParseFloat(string(n), 64)
	if err != nil {
		return "", fmt.Errorf("invalid number %q: %w", n, err)
	}

	if math.IsInf(f, 0) || math.IsNaN(f) {
		return "", fmt.Errorf("number %q is not representable", n)
	}

	if f == 0 {
		return "0", nil
	}

	if abs := math.Abs(f); abs >= minPlainExp && abs < maxPlainExp {
		return strconv.FormatFloat(f, 'f', -1, 64), nil
	}

	return trimExponent(strconv.FormatFloat(f, 'e', -1, 64)), nil
}

// trimExponent drops the leading zeros Go pads exponents with: 1e-07 becomes 1e-7.
func trimExponent(s string) string {
	i := strings.IndexByte(s, 'e')
	if i < 0 || i+2 >= len(s) {
		return s
	}

	digits := strings.TrimLeft(s[i+2:], "0")
	if digits == "" {
		digits = "0"
	}

	return s[:i+2] + digits
}
