/*
Copyright SecureKey Technologies Inc. All Rights Reserved.
SPDX-License-Identifier: Apache-2.0
*/

package keygencmd

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/didrelay/didcomm-relay/pkg/kms/keyset"
	"github.com/didrelay/didcomm-relay/pkg/vdr/keyregistry"
)

func TestKeygen(t *testing.T) {
	t.Run("private keys", func(t *testing.T) {
		cmd := Cmd()
		out := &bytes.Buffer{}
		cmd.SetOut(out)
		cmd.SetArgs([]string{"--" + didFlagName, "did:example:alice"})

		require.NoError(t, cmd.Execute())

		keys := &keyset.PrivateKeys{}
		require.NoError(t, yaml.Unmarshal(out.Bytes(), keys))
		require.Equal(t, "did:example:alice", keys.DID)

		ks, err := keyset.Parse(keys)
		require.NoError(t, err)
		require.NotNil(t, ks.SigningKey)
		require.NotNil(t, ks.EncryptionKey)
	})

	t.Run("with registry entry", func(t *testing.T) {
		cmd := Cmd()
		out := &bytes.Buffer{}
		cmd.SetOut(out)
		cmd.SetArgs([]string{"-d", "did:example:bob", "--" + publicFlagName})

		require.NoError(t, cmd.Execute())

		dec := yaml.NewDecoder(out)

		keys := &keyset.PrivateKeys{}
		require.NoError(t, dec.Decode(keys))

		entry := &keyregistry.File{}
		require.NoError(t, dec.Decode(entry))
		require.Len(t, entry.Keys, 1)
		require.Equal(t, "did:example:bob", entry.Keys[0].DID)

		ks, err := keyset.Parse(keys)
		require.NoError(t, err)

		public, err := ks.Public()
		require.NoError(t, err)
		require.Equal(t, *public, entry.Keys[0])

		require.True(t, errors.Is(dec.Decode(&struct{}{}), io.EOF))
	})

	t.Run("missing did", func(t *testing.T) {
		cmd := Cmd()
		cmd.SetOut(io.Discard)
		cmd.SetArgs([]string{})

		require.ErrorIs(t, cmd.Execute(), errMissingDID)
	})

	t.Run("invalid did", func(t *testing.T) {
		cmd := Cmd()
		cmd.SetOut(io.Discard)
		cmd.SetArgs([]string{"--" + didFlagName, "alice"})

		require.Error(t, cmd.Execute())
	})
}
