// Package cryptox implements the message ciphers the engine decrypts with:
// a pairwise ratchet for direct conversations and a rotating sender key for
// groups. Key agreement and distribution are out of scope; callers construct
// these types from already-agreed secrets.
package cryptox

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// KeySize is the size in bytes of every symmetric key used here.
const KeySize = chacha20poly1305.KeySize

// Seal encrypts plaintext with the given 32-byte key using ChaCha20-Poly1305.
// A fresh random nonce is generated per call and returned separately.
func Seal(plaintext, key []byte) (ciphertext, nonce []byte, err error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, nil, fmt.Errorf("creating cipher: %w", err)
	}

	nonce = make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, err
	}

	ciphertext = aead.Seal(nil, nonce, plaintext, nil)
	return ciphertext, nonce, nil
}

// Open decrypts ciphertext produced by Seal with the same key and nonce.
func Open(ciphertext, nonce, key []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("opening ciphertext: %w", err)
	}
	return plaintext, nil
}

// wipe overwrites b with zeros so expired chain keys do not linger in memory.
func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
