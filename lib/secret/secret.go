// Copyright 2026 The Anteroom Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret provides zeroable byte buffers for short-lived secret
// material: decrypted tenant credentials, derived keys, raw login
// bodies. A Buffer owns its bytes and zeroes them on Close so secrets
// do not linger on the heap after use.
//
// This is deliberately lighter than locked-memory schemes: the gateway
// holds each secret only for the duration of one request, so prompt
// zeroing is the property worth paying for.
package secret

// Zero overwrites every byte of b.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// Buffer holds secret bytes that are zeroed on Close.
type Buffer struct {
	data   []byte
	closed bool
}

// NewFromBytes creates a Buffer owning a copy of b and zeroes the
// caller's slice. After the call, b must not be used.
func NewFromBytes(b []byte) *Buffer {
	data := make([]byte, len(b))
	copy(data, b)
	Zero(b)
	return &Buffer{data: data}
}

// NewFromString creates a Buffer holding a copy of s. The string
// itself cannot be zeroed; callers should avoid keeping references.
func NewFromString(s string) *Buffer {
	return &Buffer{data: []byte(s)}
}

// Bytes returns the secret bytes. The slice is borrowed: valid until
// Close, and must not be retained or modified. Panics after Close.
func (b *Buffer) Bytes() []byte {
	if b.closed {
		panic("secret: Bytes called on closed Buffer")
	}
	return b.data
}

// String returns the secret as a string. The copy lives on the heap
// until garbage collected; use only at API boundaries that require a
// string. Panics after Close.
func (b *Buffer) String() string {
	if b.closed {
		panic("secret: String called on closed Buffer")
	}
	return string(b.data)
}

// Len returns the secret length in bytes.
func (b *Buffer) Len() int { return len(b.data) }

// Close zeroes the buffer. Idempotent.
func (b *Buffer) Close() error {
	if !b.closed {
		Zero(b.data)
		b.closed = true
	}
	return nil
}
