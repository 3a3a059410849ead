// Package vault provides the cryptographic primitives of the table
// encryption core: AES-256-GCM for field values, keyed HMAC-SHA256 for
// equality hashes and a tokenizer for keyword hashes.
package vault

import (
	"crypto/rand"
	"encoding/hex"
	"io"

	"github.com/grailbio/base/errors"
)

// Encrypt seals plaintext with key and returns the nonce-prefixed
// ciphertext as a hex string.
func Encrypt(plaintext string, key *Key) (string, error) {
	if key == nil {
		return "", ErrMissingKey
	}
	nonce := make([]byte, key.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", errors.E("vault: nonce", err)
	}
	// Prepend the nonce so Decrypt can recover it.
	ciphertext := key.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return hex.EncodeToString(ciphertext), nil
}

// Decrypt opens a hex string produced by Encrypt. Malformed input and
// authentication failures are reported as errors.Integrity.
func Decrypt(cipherHex string, key *Key) (string, error) {
	if key == nil {
		return "", ErrMissingKey
	}
	ciphertext, err := hex.DecodeString(cipherHex)
	if err != nil {
		return "", errors.E(errors.Integrity, "vault: ciphertext is not hex", err)
	}
	nonceSize := key.aead.NonceSize()
	if len(ciphertext) < nonceSize+key.aead.Overhead() {
		return "", errors.E(errors.Integrity, "vault: ciphertext too short")
	}
	nonce, sealed := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := key.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", errors.E(errors.Integrity, "vault: decryption failed (wrong key or tampered data)")
	}
	return string(plaintext), nil
}
