package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_FileEnvAndDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  port: ":9090"
gemini:
  api_key: from-file
  video_poll_interval: 2s
pipeline:
  speaking_rate: 3
  render_concurrency: 0
`)
	t.Setenv("GEMINI_API_KEY", "from-env")
	t.Setenv("JWT_SECRET", "  s3cret  ")
	t.Setenv("REDIS_ADDR", "")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Port)
	assert.Equal(t, "from-env", cfg.Gemini.APIKey)
	assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)
	assert.Empty(t, cfg.Redis.Addr)
	assert.Equal(t, 2*time.Second, cfg.Gemini.VideoPollInterval)
	assert.Equal(t, 3.0, cfg.Pipeline.SpeakingRate)

	// unset values fall back to defaults
	assert.Equal(t, 3, cfg.Pipeline.RenderConcurrency)
	assert.Equal(t, 7, cfg.Pipeline.ContinuityThreshold)
	assert.Equal(t, "16:9", cfg.Pipeline.AspectRatio)
	assert.Equal(t, 120*time.Second, cfg.Gemini.Timeout)
	assert.Equal(t, "prompt-to-video", cfg.MinIO.Bucket)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "open config")

	_, err = Load(writeConfig(t, "server: [unclosed"))
	assert.ErrorContains(t, err, "decode config")
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, ":8080", cfg.Server.Port)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 3, cfg.Pipeline.DefaultShotCount)
	assert.Equal(t, 64, cfg.Pipeline.EventBuffer)
	assert.Equal(t, 2.5, cfg.Pipeline.SpeakingRate)
}

func TestShippedConfigLoads(t *testing.T) {
	cfg, err := Load("config.yaml")
	require.NoError(t, err)
	assert.Equal(t, "prompt-to-video", cfg.Auth.Issuer)
	assert.Equal(t, 10*time.Minute, cfg.Gemini.VideoTimeout)
}
