// Copyright 2026 The Anteroom Authors
// SPDX-License-Identifier: Apache-2.0

// Package credcodec provides the cryptographic primitives for the
// gateway's credential pipeline: tenant identity hashing, session
// token signing and verification, and authenticated encryption of
// stored tenant secrets. Everything here is stateless and pure.
//
// Key exports:
//
//   - [HashIdentity] -- BLAKE3 keyed hash of a tenant secret, truncated
//     hex, used as the backend lookup key and storage namespace
//   - [Sign] / [Verify] -- HMAC-SHA256 session tokens over base64url
//     JSON payloads with an enforced creation-timestamp window
//   - [EncryptSecret] / [DecryptSecret] -- XChaCha20-Poly1305 blobs
//     with a random per-call nonce prepended to the ciphertext
//
// Operator secrets are opaque strings; exact-length keys are derived
// internally via HKDF-SHA256 with per-purpose info strings.
//
// Failure semantics: [Verify] collapses every malformed or
// unverifiable token into [ErrInvalidToken] so callers never need
// structural error handling on the auth path. Encryption and
// decryption return descriptive errors — a wrong key fails loudly,
// never silently.
package credcodec
