/*
Copyright SecureKey Technologies Inc. All Rights Reserved.
SPDX-License-Identifier: Apache-2.0
*/

package json

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

type testJSON struct {
	S []string `json:"stringSlice"`
	I int      `json:"intValue"`
	O string   `json:"optional,omitempty"`
}

func TestCanonicalize(t *testing.T) {
	t.Run("sorts keys recursively and keeps array order", func(t *testing.T) {
		in := map[string]interface{}{
			"b": 1,
			"a": map[string]interface{}{"z": true, "y": nil},
			"c": []interface{}{3, "x", map[string]interface{}{"k2": 1, "k1": 2}},
		}

		out, err := Canonicalize(in)
		require.NoError(t, err)
		require.Equal(t, `{"a":{"y":null,"z":true},"b":1,"c":[3,"x",{"k1":2,"k2":1}]}`, string(out))
	})

	t.Run("insertion order does not change the output", func(t *testing.T) {
		first, err := Canonicalize([]byte(`{"to":["did:a:1"],"id":"x","from":"did:b:2"}`))
		require.NoError(t, err)

		second, err := Canonicalize([]byte(`{ "from" : "did:b:2", "id":"x", "to":[ "did:a:1" ] }`))
		require.NoError(t, err)

		require.Equal(t, first, second)
		require.Equal(t, `{"from":"did:b:2","id":"x","to":["did:a:1"]}`, string(first))
	})

	t.Run("struct tags and omitempty decide the fields", func(t *testing.T) {
		out, err := Canonicalize(&testJSON{S: []string{"b", "a"}, I: 7})
		require.NoError(t, err)
		require.Equal(t, `{"intValue":7,"stringSlice":["b","a"]}`, string(out))
	})

	t.Run("strings are not HTML escaped", func(t *testing.T) {
		out, err := Canonicalize(map[string]string{"q": `<a href="x">&</a>`})
		require.NoError(t, err)
		require.Equal(t, `{"q":"<a href=\"x\">&</a>"}`, string(out))
	})

	t.Run("numbers use the shortest form", func(t *testing.T) {
		out, err := Canonicalize([]byte(`[1700000000, 1.50, 1e3, 0.0, -2.5e-7, 1e21]`))
		require.NoError(t, err)
		require.Equal(t, `[1700000000,1.5,1000,0,-2.5e-7,1e+21]`, string(out))
	})

	t.Run("exponents carry no leading zeros", func(t *testing.T) {
		out, err := Canonicalize([]byte(`[1e-7, 1.25e-10, 1e100, -3e-300]`))
		require.NoError(t, err)
		require.Equal(t, `[1e-7,1.25e-10,1e+100,-3e-300]`, string(out))
	})

	t.Run("line separators stay raw and control characters are escaped", func(t *testing.T) {
		out, err := Canonicalize(map[string]string{"s": "a\u2028b\u2029c\x01\n\\"})
		require.NoError(t, err)
		require.Equal(t, "{\"s\":\"a\u2028b\u2029c\\u0001\\n\\\\\"}", string(out))
	})

	t.Run("invalid input", func(t *testing.T) {
		_, err := Canonicalize([]byte(`{"a":`))
		require.Error(t, err)

		_, err = Canonicalize([]byte(`{} {}`))
		require.Error(t, err)

		_, err = Canonicalize(make(chan int))
		require.Error(t, err)
	})
}

func TestToMap(t *testing.T) {
	t.Run("from struct", func(t *testing.T) {
		m, err := ToMap(&testJSON{S: []string{"a"}, I: 1700000000})
		require.NoError(t, err)
		require.Equal(t, json.Number("1700000000"), m["intValue"])
		require.Equal(t, []interface{}{"a"}, m["stringSlice"])
	})

	t.Run("from string and bytes", func(t *testing.T) {
		m, err := ToMap(`{"a":"b"}`)
		require.NoError(t, err)
		require.Equal(t, "b", m["a"])

		m, err = ToMap([]byte(`{"a":"b"}`))
		require.NoError(t, err)
		require.Equal(t, "b", m["a"])
	})

	t.Run("not an object", func(t *testing.T) {
		_, err := ToMap(`[1,2]`)
		require.Error(t, err)
	})
}
