// Copyright 2026 The Anteroom Authors
// SPDX-License-Identifier: Apache-2.0

package credcodec

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/anteroom-project/anteroom/lib/secret"
)

// KeySize is the size in bytes of all derived symmetric keys: the
// session signing key and the credential encryption key.
const KeySize = 32

// IdentityHashLength is the length in hex characters of a tenant
// identity hash. The full BLAKE3 digest is 64 hex characters; it is
// truncated to 63 to fit the compute platform's name-length limit.
// At 63 hex characters (252 bits) the collision probability at any
// realistic tenant count is negligible.
const IdentityHashLength = 63

// EncryptedBlobVersion is the version byte prepended to encrypted
// credential blobs. Included as additional authenticated data in the
// AEAD call, so tampering with the version byte causes authentication
// failure.
const EncryptedBlobVersion byte = 0x01

// encryptedBlobOverhead is the minimum size of a valid encrypted blob:
// 1 (version) + 24 (XChaCha20-Poly1305 nonce) + 16 (Poly1305 tag).
const encryptedBlobOverhead = 1 + chacha20poly1305.NonceSizeX + chacha20poly1305.Overhead

// identityDomainKey is the BLAKE3 keyed-hash key for tenant identity
// derivation. A fixed constant — changing it remaps every tenant to a
// fresh identity (and a fresh backend). The byte values are the ASCII
// encoding of the domain name, zero-padded to 32 bytes, so the key is
// inspectable in hex dumps without sacrificing any cryptographic
// property.
var identityDomainKey = [32]byte{
	'a', 'n', 't', 'e', 'r', 'o', 'o', 'm', '.', 'i', 'd', 'e', 'n', 't', 'i', 't',
	'y', '.', 'v', '1', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// HKDF info strings. Domain separation between the two key derivation
// paths: a signing secret and an encryption secret that happen to be
// equal strings still derive independent keys.
var (
	hkdfInfoSigning    = []byte("anteroom.session.sign.v1")
	hkdfInfoEncryption = []byte("anteroom.credential.enc.v1")
)

// ErrInvalidToken is returned by Verify for any token that does not
// verify: wrong structure, bad base64, bad signature, missing or
// non-numeric timestamp, or age beyond the maximum. Callers cannot
// and should not distinguish these cases.
var ErrInvalidToken = errors.New("credcodec: invalid token")

// HashIdentity derives the tenant identity from a secret key: a BLAKE3
// keyed hash, hex-encoded and truncated to IdentityHashLength. The
// result is deterministic, one-way, and safe to use as a lookup key
// and storage namespace.
func HashIdentity(secretKey string) string {
	keyed, err := blake3.NewKeyed(identityDomainKey[:])
	if err != nil {
		// NewKeyed only fails for a key that is not 32 bytes.
		panic("credcodec: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	keyed.Write([]byte(secretKey))
	digest := keyed.Sum(nil)
	return hex.EncodeToString(digest)[:IdentityHashLength]
}

// tokenPayload is the portion of a signed payload the codec itself
// understands: the creation timestamp. The rest of the payload is
// opaque to this package.
type tokenPayload struct {
	IssuedAt int64 `json:"iat"`
}

// Sign signs a JSON payload with an HMAC-SHA256 key derived from the
// operator signing secret. The token format is
// base64url(payload) + "." + base64url(signature). The payload must be
// a JSON object containing a numeric "iat" creation timestamp (Unix
// seconds) — Verify enforces this.
func Sign(payload []byte, signingSecret string) (string, error) {
	key, err := deriveKey(signingSecret, hkdfInfoSigning)
	if err != nil {
		return "", err
	}
	defer key.Close()

	mac := hmac.New(sha256.New, key.Bytes())
	mac.Write(payload)
	signature := mac.Sum(nil)

	encoding := base64.RawURLEncoding
	return encoding.EncodeToString(payload) + "." + encoding.EncodeToString(signature), nil
}

// Verify checks a token's structure, signature, and embedded creation
// timestamp, and returns the raw payload on success. The signature
// comparison is constant-time (hmac.Equal). A token older than maxAge
// is invalid even when the signature verifies.
//
// Every failure mode returns ErrInvalidToken. Malformed input never
// panics or escapes as a parse error — callers do normal auth checks
// with a single errors.Is.
func Verify(token, signingSecret string, maxAge time.Duration, now time.Time) (json.RawMessage, error) {
	encoding := base64.RawURLEncoding

	payloadPart, signaturePart, ok := strings.Cut(token, ".")
	if !ok {
		return nil, ErrInvalidToken
	}
	payload, err := encoding.DecodeString(payloadPart)
	if err != nil {
		return nil, ErrInvalidToken
	}
	signature, err := encoding.DecodeString(signaturePart)
	if err != nil {
		return nil, ErrInvalidToken
	}

	key, err := deriveKey(signingSecret, hkdfInfoSigning)
	if err != nil {
		return nil, err
	}
	defer key.Close()

	mac := hmac.New(sha256.New, key.Bytes())
	mac.Write(payload)
	if !hmac.Equal(signature, mac.Sum(nil)) {
		return nil, ErrInvalidToken
	}

	var claims tokenPayload
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, ErrInvalidToken
	}
	if claims.IssuedAt <= 0 {
		return nil, ErrInvalidToken
	}
	age := now.Sub(time.Unix(claims.IssuedAt, 0))
	if age > maxAge || age < -time.Minute {
		// Tokens from the future beyond small clock skew are as
		// suspect as expired ones.
		return nil, ErrInvalidToken
	}

	return json.RawMessage(payload), nil
}

// EncryptSecret encrypts plaintext with XChaCha20-Poly1305 under a key
// derived from the operator encryption secret. The blob format is
//
//	[Version: 1 byte (0x01)] [Nonce: 24 bytes (random)] [Ciphertext+Tag]
//
// A fresh random nonce is generated per call, so encrypting the same
// plaintext twice yields different blobs. The version byte is bound as
// additional authenticated data.
func EncryptSecret(plaintext []byte, encryptionSecret string) ([]byte, error) {
	key, err := deriveKey(encryptionSecret, hkdfInfoEncryption)
	if err != nil {
		return nil, err
	}
	defer key.Close()

	aead, err := chacha20poly1305.NewX(key.Bytes())
	if err != nil {
		return nil, fmt.Errorf("credcodec: creating XChaCha20-Poly1305 cipher: %w", err)
	}

	var nonce [chacha20poly1305.NonceSizeX]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("credcodec: generating random nonce: %w", err)
	}

	output := make([]byte, 1+chacha20poly1305.NonceSizeX, 1+chacha20poly1305.NonceSizeX+len(plaintext)+aead.Overhead())
	output[0] = EncryptedBlobVersion
	copy(output[1:], nonce[:])
	output = aead.Seal(output, nonce[:], plaintext, []byte{EncryptedBlobVersion})
	return output, nil
}

// DecryptSecret decrypts a blob produced by EncryptSecret. Fails with
// an error — never silent garbage — when the key is wrong, the blob is
// truncated, the version byte is unknown, or the ciphertext has been
// tampered with.
func DecryptSecret(blob []byte, encryptionSecret string) ([]byte, error) {
	if len(blob) < encryptedBlobOverhead {
		return nil, fmt.Errorf("credcodec: encrypted blob is %d bytes, minimum is %d", len(blob), encryptedBlobOverhead)
	}
	if blob[0] != EncryptedBlobVersion {
		return nil, fmt.Errorf("credcodec: encrypted blob version %d is not supported (expected %d)", blob[0], EncryptedBlobVersion)
	}

	key, err := deriveKey(encryptionSecret, hkdfInfoEncryption)
	if err != nil {
		return nil, err
	}
	defer key.Close()

	aead, err := chacha20poly1305.NewX(key.Bytes())
	if err != nil {
		return nil, fmt.Errorf("credcodec: creating XChaCha20-Poly1305 cipher: %w", err)
	}

	nonce := blob[1 : 1+chacha20poly1305.NonceSizeX]
	ciphertext := blob[1+chacha20poly1305.NonceSizeX:]
	plaintext, err := aead.Open(nil, nonce, ciphertext, []byte{blob[0]})
	if err != nil {
		return nil, fmt.Errorf("credcodec: AEAD decryption failed (wrong key or tampered data): %w", err)
	}
	return plaintext, nil
}

// deriveKey stretches an operator-supplied secret string into an
// exact-length symmetric key via HKDF-SHA256. Operators supply opaque
// strings of arbitrary length; the codec never assumes exact-length
// key material. The salt is nil per RFC 5869 — the info string
// provides domain separation.
func deriveKey(operatorSecret string, info []byte) (*secret.Buffer, error) {
	if operatorSecret == "" {
		return nil, errors.New("credcodec: operator secret is empty")
	}
	reader := hkdf.New(sha256.New, []byte(operatorSecret), nil, info)
	derived := make([]byte, KeySize)
	if _, err := io.ReadFull(reader, derived); err != nil {
		secret.Zero(derived)
		return nil, fmt.Errorf("credcodec: HKDF key derivation failed: %w", err)
	}
	return secret.NewFromBytes(derived), nil
}
