/*
Copyright SecureKey Technologies Inc. All Rights Reserved.
SPDX-License-Identifier: Apache-2.0
*/

package keygencmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/didrelay/didcomm-relay/pkg/kms/keyset"
	"github.com/didrelay/didcomm-relay/pkg/vdr/keyregistry"
)

const (
	didFlagName      = "did"
	didFlagShorthand = "d"
	didFlagUsage     = "DID the generated keys belong to."

	publicFlagName  = "public"
	publicFlagUsage = "Also print the key registry entry other agents need to reach this DID."
)

var errMissingDID = errors.New("did not provided")

// Cmd returns the Cobra keygen command.
func Cmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate agent keys",
		Long:  `Generate a secp256k1 signing key and a P-256 encryption key for a DID and print them as YAML`,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := cmd.Flags().GetString(didFlagName)
			if err != nil {
				return fmt.Errorf(didFlagName+" flag not found: %s", err)
			}

			if id == "" {
				return errMissingDID
			}

			withPublic, err := cmd.Flags().GetBool(publicFlagName)
			if err != nil {
				return fmt.Errorf(publicFlagName+" flag not found: %s", err)
			}

			return generate(cmd, id, withPublic)
		},
	}

	cmd.Flags().StringP(didFlagName, didFlagShorthand, "", didFlagUsage)
	cmd.Flags().Bool(publicFlagName, false, publicFlagUsage)

	return cmd
}

func generate(cmd *cobra.Command, id string, withPublic bool) error {
	ks, err := keyset.Generate(id)
	if err != nil {
		return err
	}

	private, err := ks.Private()
	if err != nil {
		return err
	}

	enc := yaml.NewEncoder(cmd.OutOrStdout())
	defer enc.Close() //nolint:errcheck

	if err = enc.Encode(private); err != nil {
		return fmt.Errorf("encode private keys: %w", err)
	}

	if !withPublic {
		return nil
	}

	public, err := ks.Public()
	if err != nil {
		return err
	}

	if err = enc.Encode(&keyregistry.File{Keys: []keyset.PublicKeys{*public}}); err != nil {
		return fmt.Errorf("encode key registry entry: %w", err)
	}

	return nil
}
