package caskdb

import (
	"fmt"

	"github.com/dgraph-io/ristretto"
)

const (
	cacheCounters    = 1e6 // keys tracked for admission frequency
	cacheBufferItems = 64  // keys per Get buffer
)

// readCache sits in front of the segment lookup path. Values are cached by
// key and dropped whenever the key is written again, so a hit is always the
// newest committed value.
type readCache struct {
	cache *ristretto.Cache
}

func newReadCache(maxBytes int64) (*readCache, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cacheCounters,
		MaxCost:     maxBytes,
		BufferItems: cacheBufferItems,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize read cache: %w", err)
	}
	return &readCache{cache: cache}, nil
}

func (c *readCache) get(key []byte) ([]byte, bool) {
	if val, found := c.cache.Get(string(key)); found {
		if value, ok := val.([]byte); ok {
			return value, true
		}
	}
	return nil, false
}

func (c *readCache) set(key, value []byte) {
	c.cache.Set(string(key), value, int64(len(value)))
	// admission is buffered; drain it so a later invalidate cannot be
	// outrun by this set
	c.cache.Wait()
}

func (c *readCache) invalidate(key []byte) {
	c.cache.Del(string(key))
}

func (c *readCache) close() {
	c.cache.Close()
}
