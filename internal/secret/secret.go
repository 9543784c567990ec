// Copyright 2023 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0

// Package secret resolves the plaintext credential for a source: either
// a filesystem reference, an encrypted blob, or nothing at all. See
// spec.md §4.1 and §9 "Fallback credential storage".
package secret

import (
	"crypto/rand"
	"crypto/sha256"
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/crypto/chacha20poly1305"
)

// Source is the tagged variant of where a credential lives. Ref wins
// over Enc when both are set, matching the metadata invariant that the
// two are mutually exclusive in effect.
type Source struct {
	Ref *string
	Enc []byte
}

// DeriveKey turns the operator-supplied process secret into the
// chacha20poly1305 key used to decrypt Enc: base64url(sha256(secret)),
// then re-decoded back into raw key bytes — matching the original's
// Fernet key derivation, adapted to this AEAD's 32-byte key.
func DeriveKey(processSecret string) []byte {
	if processSecret == "" {
		return nil
	}
	digest := sha256.Sum256([]byte(processSecret))
	return digest[:]
}

// Seal encrypts plaintext with key using XChaCha20-Poly1305, prefixing
// the nonce to the ciphertext. This is the encryption counterpart to
// Resolve's decryption path and exists so operators and tests can
// produce a valid secret_enc value; the puller itself only ever
// decrypts.
func Seal(key []byte, plaintext string) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return aead.Seal(nonce, nonce, []byte(plaintext), nil), nil
}

// Resolve returns the plaintext credential for src, or false if none
// could be determined. If Ref is set, the file is read and
// whitespace-trimmed. Otherwise Enc is tried: authenticated decryption
// with key first, falling back to treating Enc as raw UTF-8 plaintext
// if decryption fails, matching the original's Fernet/InvalidToken
// fallback.
func Resolve(src Source, key []byte) (string, bool) {
	if src.Ref != nil && *src.Ref != "" {
		data, err := os.ReadFile(*src.Ref)
		if err != nil {
			return "", false
		}
		return strings.TrimSpace(string(data)), true
	}
	return decryptOrPlaintext(src.Enc, key)
}

func decryptOrPlaintext(blob []byte, key []byte) (string, bool) {
	if len(blob) == 0 {
		return "", false
	}
	if len(key) > 0 {
		if plain, ok := tryDecrypt(blob, key); ok {
			return plain, true
		}
	}
	if utf8.Valid(blob) {
		return string(blob), true
	}
	return "", false
}

func tryDecrypt(blob, key []byte) (string, bool) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return "", false
	}
	if len(blob) < aead.NonceSize() {
		return "", false
	}
	nonce, ciphertext := blob[:aead.NonceSize()], blob[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", false
	}
	return string(plain), true
}
