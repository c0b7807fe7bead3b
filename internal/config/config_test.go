package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	content := `
server:
  port: 9091
  host: "127.0.0.1"

database:
  enabled: true
  host: "testdb"
  user: "testuser"
  dbname: "frames"

extractor:
  seekMode: fast
  jpegQuality: 80
  outputDirName: stills
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9091, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.True(t, cfg.Database.Enabled)
	assert.Equal(t, "testdb", cfg.Database.Host)
	assert.Equal(t, "frames", cfg.Database.DBName)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "fast", cfg.Extractor.SeekMode)
	assert.Equal(t, 80, cfg.Extractor.JPEGQuality)
	assert.Equal(t, "stills", cfg.Extractor.OutputDirName)
	assert.Equal(t, 10, cfg.Extractor.ProgressEvery)
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 20, cfg.Server.RateLimitRPS)
	assert.Equal(t, "ffmpeg", cfg.Extractor.FFmpegPath)
	assert.Equal(t, "exact", cfg.Extractor.SeekMode)
	assert.Equal(t, 95, cfg.Extractor.JPEGQuality)
	assert.Equal(t, 3, cfg.Extractor.MaxDecodeFailures)
	assert.Equal(t, "frames_output", cfg.Extractor.OutputDirName)
	assert.Equal(t, 24*time.Hour, cfg.Redis.TTL)
	assert.Equal(t, "frame_extraction", cfg.Queue.ExtractionQueue)
	assert.False(t, cfg.Tracing.Enabled)
	assert.False(t, cfg.Database.Enabled)
	assert.False(t, cfg.Webhook.Enabled)
	assert.Equal(t, 10*time.Second, cfg.Webhook.Timeout)
	assert.Equal(t, 3, cfg.Webhook.MaxAttempts)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("FRAMEFLOW_EXTRACTOR_FFMPEGPATH", "/opt/ffmpeg/bin/ffmpeg")
	t.Setenv("FRAMEFLOW_SERVER_PORT", "7000")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "/opt/ffmpeg/bin/ffmpeg", cfg.Extractor.FFmpegPath)
	assert.Equal(t, 7000, cfg.Server.Port)
}

func TestLoadNonExistentFile(t *testing.T) {
	_, err := Load("nonexistent.yaml")
	assert.Error(t, err)
}
