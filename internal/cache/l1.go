package cache

import (
	"strings"
	"time"

	"github.com/maypok86/otter"
)

// L1 is the in-process tier: a byte-cost bounded cache with TTL
// expiry. Cost is the entry's memory footprint, so the bound tracks
// bytes rather than entry count.
type L1 struct {
	cache otter.Cache[string, []byte]
}

// NewL1 builds the in-process cache bounded to roughly maxBytes.
func NewL1(maxBytes int, ttl time.Duration) (*L1, error) {
	cache, err := otter.MustBuilder[string, []byte](maxBytes).
		Cost(func(key string, value []byte) uint32 {
			return uint32(len(key) + len(value))
		}).
		WithTTL(ttl).
		CollectStats().
		Build()
	if err != nil {
		return nil, err
	}
	return &L1{cache: cache}, nil
}

func (l *L1) Get(key string) ([]byte, bool) {
	return l.cache.Get(key)
}

func (l *L1) Set(key string, value []byte) {
	l.cache.Set(key, value)
}

func (l *L1) Delete(key string) {
	l.cache.Delete(key)
}

// DeletePrefix removes every entry whose key starts with prefix.
func (l *L1) DeletePrefix(prefix string) int {
	var keys []string
	l.cache.Range(func(key string, _ []byte) bool {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return true
	})
	for _, key := range keys {
		l.cache.Delete(key)
	}
	return len(keys)
}

func (l *L1) Clear() {
	l.cache.Clear()
}

func (l *L1) Close() {
	l.cache.Close()
}
