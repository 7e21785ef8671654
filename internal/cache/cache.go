// Package cache is the per-device store of previously seen content, keyed by
// content hash. It is purely a cache: lookups are best effort and eviction is
// silent; the server ledger remains the durable home of all content.
package cache

import (
	"encoding/hex"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/crypto/sha3"
)

const DefaultSize = 256

type Entry struct {
	ContentType string
	Content     []byte
	StoredAt    time.Time
}

type ContentCache struct {
	lru *lru.Cache[string, Entry]
}

// Hash returns the lowercase hex SHA3-256 digest of content. This is the
// canonical content address used in STORE frames.
func Hash(content []byte) string {
	sum := sha3.Sum256(content)
	return hex.EncodeToString(sum[:])
}

func New(size int) (*ContentCache, error) {
	if size <= 0 {
		size = DefaultSize
	}
	l, err := lru.New[string, Entry](size)
	if err != nil {
		return nil, fmt.Errorf("content cache: %w", err)
	}
	return &ContentCache{lru: l}, nil
}

// Put stores content under its hash and returns the hash. Storing the same
// content twice refreshes its recency but keeps a single entry.
func (c *ContentCache) Put(contentType string, content []byte) string {
	h := Hash(content)
	cp := make([]byte, len(content))
	copy(cp, content)
	c.lru.Add(h, Entry{ContentType: contentType, Content: cp, StoredAt: time.Now()})
	return h
}

func (c *ContentCache) Get(hash string) (Entry, bool) {
	return c.lru.Get(hash)
}

func (c *ContentCache) Contains(hash string) bool {
	return c.lru.Contains(hash)
}

func (c *ContentCache) Len() int {
	return c.lru.Len()
}
