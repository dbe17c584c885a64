package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "/v0", cfg.Server.BasePath)
	assert.Equal(t, 500*time.Millisecond, cfg.PollInterval())
	assert.Equal(t, time.Hour, cfg.SessionTTL())
}

func TestFromYAMLOverridesDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte(`
model:
  provider: gemini
  name: gemini-2.0-flash
webhooks:
  - id: audit
    url: https://hooks.example.com/deskline
    tables: [users]
`))
	require.NoError(t, err)
	assert.Equal(t, ProviderGemini, cfg.Model.Provider)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	require.Len(t, cfg.Webhooks, 1)
	assert.True(t, cfg.Webhooks[0].IsEnabled())
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"postgres without url": "database:\n  driver: postgres\n",
		"unknown provider":     "model:\n  provider: mystery\n",
		"relative webhook":     "webhooks:\n  - id: a\n    url: /hook\n",
		"duplicate webhook":    "webhooks:\n  - id: a\n    url: http://x\n  - id: a\n    url: http://y\n",
		"zero poll interval":   "feed:\n  poll_interval_ms: 0\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromYAML([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, dir, cfg.Database.Workspace)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "deskline.yml"), []byte("server:\n  addr: :9000\n"), 0o644))
	cfg, err = Load(dir)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Server.Addr)
}
