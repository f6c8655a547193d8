package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "public", cfg.Schema.Name)
	assert.Equal(t, []string{"alembic_version", "rag_chunks", "rag_sources"}, cfg.Schema.ExcludeTables)
	assert.Equal(t, 300*time.Second, cfg.Schema.TTL)
	assert.Equal(t, 8*time.Second, cfg.Analytics.SQLTimeout)
	assert.Equal(t, 3, cfg.Analytics.MaxJoinHops)
	assert.Equal(t, 200, cfg.Analytics.MaxGroupRows)
	assert.Equal(t, 2, cfg.ChatLLM.Retries)
	assert.Equal(t, 400*time.Millisecond, cfg.ChatLLM.RetryDelay)
	assert.InDelta(t, 0.1, cfg.ChatLLM.Temperature, 1e-9)
	assert.Equal(t, 1024, cfg.Store.Dimension)
	assert.InDelta(t, 0.50, cfg.Retrieval.LowConfidence, 1e-9)
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
database:
  url: postgres://file/db
  driver: pq
schema:
  name: maxula
  ttl: 1m
retrieval:
  top_k: 5
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Setenv("MAXULA_EXCLUDE_TABLES", " a , b,,c ")
	t.Setenv("ANALYTICS_SCHEMA_TTL", "12")
	t.Setenv("KPI_MAX_GROUP_ROWS", "50")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "postgres://file/db", cfg.Database.URL)
	assert.Equal(t, "pq", cfg.Database.Driver)
	assert.Equal(t, "maxula", cfg.Schema.Name)
	assert.Equal(t, []string{"a", "b", "c"}, cfg.Schema.ExcludeTables)
	assert.Equal(t, 12*time.Second, cfg.Schema.TTL)
	assert.Equal(t, 50, cfg.Analytics.MaxGroupRows)
	assert.Equal(t, 5, cfg.Retrieval.TopK)
}

func TestLoadConfigErrors(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T) string
	}{
		{
			name: "missing file",
			setup: func(t *testing.T) string {
				return filepath.Join(t.TempDir(), "nope.yaml")
			},
		},
		{
			name: "invalid yaml",
			setup: func(t *testing.T) string {
				p := filepath.Join(t.TempDir(), "bad.yaml")
				require.NoError(t, os.WriteFile(p, []byte("database: [unclosed"), 0o600))
				return p
			},
		},
		{
			name: "invalid env number",
			setup: func(t *testing.T) string {
				t.Setenv("KPI_MAX_JOIN_HOPS", "three")
				return ""
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(tt.setup(t))
			assert.Error(t, err)
		})
	}
}
