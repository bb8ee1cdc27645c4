// Copyright 2026 The Anteroom Authors
// SPDX-License-Identifier: Apache-2.0

// Package credstore persists a tenant's API key in encrypted form at
// the well-known path inside that tenant's sandbox filesystem. The
// envelope is CBOR (compact, schema-tagged) sealed with
// credcodec.EncryptSecret; the blob on disk is the only persisted
// artifact. Written once per login (overwriting any prior key), read
// once per backend-provisioning event.
package credstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/anteroom-project/anteroom/lib/credcodec"
	"github.com/anteroom-project/anteroom/lib/secret"
	"github.com/anteroom-project/anteroom/sandbox"
)

// ErrNotFound means the tenant has no stored credential yet.
var ErrNotFound = errors.New("credstore: no stored credential")

// envelope is the CBOR payload inside the encrypted blob.
type envelope struct {
	// APIKey is the tenant's plaintext secret key.
	APIKey string `cbor:"1,keyasint"`

	// SavedAt is the Unix timestamp of the last write.
	SavedAt int64 `cbor:"2,keyasint"`
}

// Store encrypts the tenant's API key and writes it to the sandbox's
// credential path, overwriting any previous credential.
func Store(ctx context.Context, sb sandbox.Sandbox, apiKey, encryptionSecret string) error {
	payload, err := cbor.Marshal(envelope{APIKey: apiKey, SavedAt: time.Now().Unix()})
	if err != nil {
		return fmt.Errorf("credstore: encoding envelope: %w", err)
	}
	defer secret.Zero(payload)

	blob, err := credcodec.EncryptSecret(payload, encryptionSecret)
	if err != nil {
		return fmt.Errorf("credstore: encrypting credential: %w", err)
	}
	if err := sb.WriteFile(ctx, sandbox.CredentialPath, blob); err != nil {
		return fmt.Errorf("credstore: writing credential: %w", err)
	}
	return nil
}

// Load reads and decrypts the tenant's stored API key. Returns
// ErrNotFound when no credential has been stored; any other failure
// (read error, wrong key, tampered blob) is surfaced as an error.
// The returned buffer must be closed by the caller.
func Load(ctx context.Context, sb sandbox.Sandbox, encryptionSecret string) (*secret.Buffer, error) {
	blob, err := sb.ReadFile(ctx, sandbox.CredentialPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("credstore: reading credential: %w", err)
	}

	payload, err := credcodec.DecryptSecret(blob, encryptionSecret)
	if err != nil {
		return nil, fmt.Errorf("credstore: decrypting credential: %w", err)
	}
	defer secret.Zero(payload)

	var env envelope
	if err := cbor.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("credstore: decoding envelope: %w", err)
	}
	return secret.NewFromString(env.APIKey), nil
}
