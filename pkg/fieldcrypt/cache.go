package fieldcrypt

import (
	"sync/atomic"

	"github.com/grailbio/base/errors"
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is the number of plaintexts a Cache keeps by default.
const DefaultCacheSize = 10000

// cacheKey identifies one ciphertext in one field of one table under one
// key. The key enters only by fingerprint.
type cacheKey struct {
	scope       string
	field       string
	ciphertext  string
	fingerprint string
}

// CacheStats is a snapshot of cache counters.
type CacheStats struct {
	Hits   int64
	Misses int64
	Len    int
}

// Cache memoizes decrypted plaintexts. It is bounded and evicts the least
// recently used entry first. A Cache is safe for concurrent use and may
// be shared by decryptors of different tables, since every entry is
// scoped by table, field and key fingerprint.
type Cache struct {
	lru    *lru.Cache[cacheKey, string]
	hits   atomic.Int64
	misses atomic.Int64
}

// NewCache returns a cache holding at most size plaintexts. A size of
// zero or less selects DefaultCacheSize.
func NewCache(size int) (*Cache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	l, err := lru.New[cacheKey, string](size)
	if err != nil {
		return nil, errors.E(errors.Invalid, "fieldcrypt: cache", err)
	}
	return &Cache{lru: l}, nil
}

func (c *Cache) get(k cacheKey) (string, bool) {
	v, ok := c.lru.Get(k)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return v, ok
}

func (c *Cache) add(k cacheKey, plaintext string) {
	c.lru.Add(k, plaintext)
}

// Len returns the number of cached plaintexts.
func (c *Cache) Len() int {
	return c.lru.Len()
}

// Purge drops every entry, e.g. when the user's key is replaced.
func (c *Cache) Purge() {
	c.lru.Purge()
}

// Stats returns the current counters.
func (c *Cache) Stats() CacheStats {
	return CacheStats{Hits: c.hits.Load(), Misses: c.misses.Load(), Len: c.lru.Len()}
}
