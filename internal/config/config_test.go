package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDefaultConfig(t *testing.T) {
	cfg, err := parse(DefaultConfigYAML)
	require.NoError(t, err, "failed to parse default config")

	assert.Len(t, cfg.Sources.Communities, 3)
	assert.Equal(t, "openai", cfg.Analysis.Provider)
	assert.Equal(t, 1500*time.Millisecond, cfg.Sources.RequestDelay.Duration)
	assert.Equal(t, 500*time.Millisecond, cfg.Analysis.CallDelay.Duration)
	assert.True(t, cfg.Analysis.Features.ReplyRoles, "extended features enabled by default")
	assert.True(t, cfg.Analysis.Features.ExtendedDiagnosis)
	assert.Empty(t, cfg.Categories, "no category override")
	assert.Equal(t, 8000, cfg.Server.Port)
}

func TestParseMinimalConfig(t *testing.T) {
	data := []byte(`
sources:
  client: feed
  communities: [lawns]
analysis:
  provider: ollama
  features:
    reply_roles: false
categories:
  - name: moss_invasion
    keywords: [moss]
  - name: grubs
    keywords: [grubs, grub damage]
server:
  port: 9000
`)
	cfg, err := parse(data)
	require.NoError(t, err, "failed to parse minimal config")

	assert.Equal(t, "feed", cfg.Sources.Client)
	assert.Equal(t, "ollama", cfg.Analysis.Provider)
	assert.False(t, cfg.Analysis.Features.ReplyRoles)
	require.Len(t, cfg.Categories, 2)
	assert.Equal(t, "grubs", cfg.Categories[1].Name, "category order is kept")
	assert.Equal(t, 9000, cfg.Server.Port)

	// Defaults should still be set for unspecified fields
	assert.Equal(t, 25, cfg.Sources.MaxReplies)
	assert.Equal(t, "http://localhost:11434", cfg.Analysis.OllamaURL)
}

func TestParseInvalidDuration(t *testing.T) {
	_, err := parse([]byte("sources:\n  request_delay: soon\n"))
	assert.Error(t, err)
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, DefaultConfigYAML, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 15, cfg.Sources.SearchLimit)
}

func TestGetDataDir(t *testing.T) {
	cfg := &Config{}
	assert.NotEmpty(t, cfg.GetDataDir())

	cfg.Output.DataDir = "/custom/path"
	assert.Equal(t, "/custom/path", cfg.GetDataDir())
	assert.Equal(t, filepath.Join("/custom/path", "images"), cfg.GetAssetsDir())
}

func TestRedditCredentials(t *testing.T) {
	cfg := Default()
	t.Setenv(cfg.Sources.ClientIDEnv, "")
	t.Setenv(cfg.Sources.ClientSecretEnv, "")

	_, _, err := cfg.RedditCredentials()
	assert.ErrorIs(t, err, ErrMissingCredentials)

	t.Setenv(cfg.Sources.ClientIDEnv, "id")
	t.Setenv(cfg.Sources.ClientSecretEnv, "secret")
	id, secret, err := cfg.RedditCredentials()
	require.NoError(t, err)
	assert.Equal(t, "id", id)
	assert.Equal(t, "secret", secret)
}
