package cache

import (
	"crypto/sha256"
	"encoding/hex"
)

// Key prefixes. Invalidation matches on these, so every producer of a
// cache key goes through the builders below.
const (
	prefixSearch       = "search:v1:"
	prefixChunksRepo   = "chunks:repo:"
	prefixChunksFile   = "chunks:file:"
	prefixMemoryList   = "memory_list:"
	prefixMemorySearch = "memory_search:"
)

func hashPayload(payload string) string {
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// SearchKey keys a search response by the hash of its canonical
// request payload.
func SearchKey(payload string) string {
	return prefixSearch + hashPayload(payload)
}

// ChunksRepoKey keys repository-scoped chunk listings.
func ChunksRepoKey(repository string) string {
	return prefixChunksRepo + repository
}

// ChunksFileKey keys file-scoped chunk listings.
func ChunksFileKey(repository, filePath string) string {
	return prefixChunksFile + repository + ":" + filePath
}

// MemoryListKey keys memory list responses.
func MemoryListKey(payload string) string {
	return prefixMemoryList + hashPayload(payload)
}

// MemorySearchKey keys memory search responses.
func MemorySearchKey(payload string) string {
	return prefixMemorySearch + hashPayload(payload)
}
