package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"math/big"
	"unicode/utf8"

	"github.com/grailbio/base/errors"
	"golang.org/x/crypto/hkdf"
)

// KeySize is the length of a table key in characters.
const KeySize = 32

const keyAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

var (
	// ErrMissingKey is returned when an operation needs a key and none was supplied.
	ErrMissingKey = errors.E(errors.Precondition, "vault: encryption key required")
	// ErrInvalidKey is returned for keys of the wrong length.
	ErrInvalidKey = errors.E(errors.Invalid, fmt.Sprintf("vault: encryption key must be %d characters", KeySize))
)

var hkdfSalt = []byte("celerix-tablecrypt/v1")

// Key is a parsed table key. The 32 key characters are never used
// directly: independent subkeys for encryption and hashing are derived
// with HKDF-SHA256. A Key is safe for concurrent use.
type Key struct {
	aead        cipher.AEAD
	mac         []byte
	fingerprint string
}

// ParseKey validates s and derives the subkeys. An empty s yields
// ErrMissingKey; any length other than KeySize characters (not bytes)
// yields ErrInvalidKey.
func ParseKey(s string) (*Key, error) {
	if s == "" {
		return nil, ErrMissingKey
	}
	if utf8.RuneCountInString(s) != KeySize {
		return nil, ErrInvalidKey
	}
	encKey, err := derive(s, "field-encryption")
	if err != nil {
		return nil, err
	}
	macKey, err := derive(s, "field-hash")
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(encKey)
	if err != nil {
		return nil, errors.E("vault: aes", err)
	}
	// GCM is a standard mode that provides authenticated encryption
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.E("vault: gcm", err)
	}
	fp := hmac.New(sha256.New, macKey)
	fp.Write([]byte("key-fingerprint"))
	return &Key{
		aead:        gcm,
		mac:         macKey,
		fingerprint: hex.EncodeToString(fp.Sum(nil)[:8]),
	}, nil
}

// Fingerprint identifies the key without revealing it. It is stable for
// a given key string.
func (k *Key) Fingerprint() string {
	return k.fingerprint
}

func derive(secret, purpose string) ([]byte, error) {
	r := hkdf.New(sha256.New, []byte(secret), hkdfSalt, []byte(purpose))
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, errors.E("vault: hkdf derivation failed", err)
	}
	return key, nil
}

// GenerateKey returns a random alphanumeric key of KeySize characters.
func GenerateKey() (string, error) {
	max := big.NewInt(int64(len(keyAlphabet)))
	b := make([]byte, KeySize)
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", errors.E("vault: generate key", err)
		}
		b[i] = keyAlphabet[n.Int64()]
	}
	return string(b), nil
}
