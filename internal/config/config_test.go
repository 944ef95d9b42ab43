package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 768, cfg.Embedding.Dim)
	assert.Equal(t, 4, cfg.Indexing.Workers)
	assert.Equal(t, 16, cfg.Indexing.QueueSize())
	assert.Equal(t, 5*time.Minute, cfg.Cache.L1TTL)
	assert.Equal(t, 60, cfg.Hybrid.RRFK)
	assert.Equal(t, 0.4, cfg.Hybrid.LexicalWeight)
	assert.Equal(t, 0.6, cfg.Hybrid.VectorWeight)
	assert.Equal(t, 100, cfg.Vector.EfSearch)
	assert.Equal(t, 0.1, cfg.Lexical.SimilarityThreshold)
	assert.Equal(t, 10*time.Second, cfg.Timeouts.ASTParse)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mnemo.yml")
	yaml := `
embedding:
  dim: 384
indexing:
  workers: 8
hybrid:
  lexical_weight: 0.5
  vector_weight: 0.5
cache:
  l1_ttl: 2m
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 384, cfg.Embedding.Dim)
	assert.Equal(t, 8, cfg.Indexing.Workers)
	assert.Equal(t, 32, cfg.Indexing.QueueSize())
	assert.Equal(t, 0.5, cfg.Hybrid.LexicalWeight)
	assert.Equal(t, 2*time.Minute, cfg.Cache.L1TTL)
	// Untouched keys keep defaults.
	assert.Equal(t, 60, cfg.Hybrid.RRFK)
}

func TestLoadWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 768, cfg.Embedding.Dim)
}

func TestValidateRejectsOutOfRange(t *testing.T) {
	cfg := Default()
	cfg.Vector.EfSearch = 5
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Hybrid.VectorWeight = 1.5
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Embedding.Dim = 0
	assert.Error(t, cfg.Validate())
}
