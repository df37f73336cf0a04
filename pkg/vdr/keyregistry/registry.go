/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package keyregistry

import (
	"crypto/ecdh"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/btcsuite/btcd/btcec"
	"github.com/hyperledger/aries-framework-go/component/log"
	"github.com/hyperledger/aries-framework-go/spi/storage"
	"gopkg.in/yaml.v3"

	"github.com/didrelay/didcomm-relay/pkg/doc/did"
	"github.com/didrelay/didcomm-relay/pkg/kms/keyset"
)

// StoreName is the name of the store holding registered keys.
const StoreName = "keyregistry"

var logger = log.New("didcomm-relay/vdr/keyregistry")

// ErrKeyNotFound is returned when no key is registered for a DID.
var ErrKeyNotFound = errors.New("key not found")

// Registry maps DIDs to their declared signing and encryption public keys.
type Registry struct {
	store storage.Store
}

// File is the YAML layout of a key registry file.
type File struct {
	Keys []keyset.PublicKeys `yaml:"keys"`
}

// New returns a registry persisting entries in a store opened from provider.
func New(provider storage.Provider) (*Registry, error) {
	store, err := provider.OpenStore(StoreName)
	if err != nil {
		return nil, fmt.Errorf("open key registry store: %w", err)
	}

	return &Registry{store: store}, nil
}

// Register validates and stores the public keys of a DID, replacing any earlier entry.
func (r *Registry) Register(pk *keyset.PublicKeys) error {
	id := did.Normalize(pk.DID)
	if !did.IsValid(id) {
		return fmt.Errorf("register keys: %w: %q", did.ErrInvalidDID, pk.DID)
	}

	if _, err := keyset.ParseSigningPublicKey(pk.SigningKey); err != nil {
		return fmt.Errorf("register keys for %s: signing key: %w", id, err)
	}

	if _, err := keyset.ParseEncryptionPublicKey(pk.EncryptionKey); err != nil {
		return fmt.Errorf("register keys for %s: encryption key: %w", id, err)
	}

	entry := *pk
	entry.DID = id

	b, err := json.Marshal(&entry)
	if err != nil {
		return err
	}

	return r.store.Put(id, b)
}

// Remove deletes the entry of a DID.
func (r *Registry) Remove(id string) error {
	return r.store.Delete(did.Normalize(id))
}

// ResolveSigningKey returns the secp256k1 public key declared for id.
func (r *Registry) ResolveSigningKey(id string) (*btcec.PublicKey, error) {
	pk, err := r.get(id)
	if err != nil {
		return nil, err
	}

	return keyset.ParseSigningPublicKey(pk.SigningKey)
}

// ResolveEncryptionKey returns the P-256 public key declared for id.
func (r *Registry) ResolveEncryptionKey(id string) (*ecdh.PublicKey, error) {
	pk, err := r.get(id)
	if err != nil {
		return nil, err
	}

	return keyset.ParseEncryptionPublicKey(pk.EncryptionKey)
}

func (r *Registry) get(id string) (*keyset.PublicKeys, error) {
	b, err := r.store.Get(did.Normalize(id))
	if err != nil {
		if errors.Is(err, storage.ErrDataNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, id)
		}

		return nil, fmt.Errorf("read key registry: %w", err)
	}

	pk := &keyset.PublicKeys{}

	if err := json.Unmarshal(b, pk); err != nil {
		return nil, fmt.Errorf("decode key registry entry for %s: %w", id, err)
	}

	return pk, nil
}

// Load registers every entry of a YAML registry file read from rd.
func (r *Registry) Load(rd io.Reader) (int, error) {
	f := &File{}

	if err := yaml.NewDecoder(rd).Decode(f); err != nil && !errors.Is(err, io.EOF) {
		return 0, fmt.Errorf("decode key registry file: %w", err)
	}

	for i := range f.Keys {
		if err := r.Register(&f.Keys[i]); err != nil {
			return i, err
		}
	}

	return len(f.Keys), nil
}

// LoadFile registers every entry of the YAML registry file at path.
func (r *Registry) LoadFile(path string) (int, error) {
	f, err := os.Open(path) //nolint:gosec
	if err != nil {
		return 0, fmt.Errorf("open key registry file: %w", err)
	}

	defer func() {
		if e := f.Close(); e != nil {
			logger.Warnf("failed to close key registry file %s: %v", path, e)
		}
	}()

	n, err := r.Load(f)
	if err != nil {
		return n, err
	}

	logger.Infof("loaded %d key registry entries from %s", n, path)

	return n, nil
}
