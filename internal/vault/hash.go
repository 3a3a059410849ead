package vault

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"
)

// Domain tags keep the three hash families apart, so an equality hash
// of "alice" never equals the keyword hash of the token "alice".
const (
	domainEquality byte = 'e'
	domainArray    byte = 'a'
	domainKeyword  byte = 'k'
)

func (k *Key) newMAC(domain byte) hash.Hash {
	m := hmac.New(sha256.New, k.mac)
	m.Write([]byte{domain})
	return m
}

// HMAC returns the hex equality hash of value under key.
func HMAC(value string, key *Key) string {
	m := key.newMAC(domainEquality)
	m.Write([]byte(value))
	return hex.EncodeToString(m.Sum(nil))
}

// HashArray returns a single hash of an ordered list. Each element is
// length-prefixed, so ["ab", "c"] and ["a", "bc"] hash differently.
func HashArray(values []string, key *Key) string {
	m := key.newMAC(domainArray)
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(values)))
	m.Write(n[:])
	for _, v := range values {
		binary.BigEndian.PutUint64(n[:], uint64(len(v)))
		m.Write(n[:])
		m.Write([]byte(v))
	}
	return hex.EncodeToString(m.Sum(nil))
}

// HashKeyword tokenizes text and returns one hash per distinct token,
// in first-occurrence order.
func HashKeyword(text string, key *Key) []string {
	tokens := Tokenize(text)
	hashes := make([]string, len(tokens))
	for i, tok := range tokens {
		m := key.newMAC(domainKeyword)
		m.Write([]byte(tok))
		hashes[i] = hex.EncodeToString(m.Sum(nil))
	}
	return hashes
}
