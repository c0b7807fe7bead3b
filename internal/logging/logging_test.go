package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{
			name:   "JSON format to stdout",
			config: Config{Level: "info", Format: "json", Output: "stdout"},
		},
		{
			name:   "Console format to stderr",
			config: Config{Level: "debug", Format: "console", Output: "stderr"},
		},
		{
			name:   "Invalid log level defaults to info",
			config: Config{Level: "invalid", Format: "json", Output: "stdout"},
		},
		{
			name:    "Unwritable file",
			config:  Config{Level: "info", Format: "json", Output: "/nonexistent/dir/frameflow.log"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := NewLogger(tt.config)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, logger)
		})
	}
}

func TestNewLoggerToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frameflow.log")
	logger, err := NewLogger(Config{Level: "info", Format: "json", Output: path})
	require.NoError(t, err)
	logger.Info("written to file")
}

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	buf.Reset()
	return entry
}

func TestLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, zerolog.DebugLevel)

	logger.WithJobID("job-456").WithVideoPath("/videos/a.mp4").Info("started")
	entry := decodeLine(t, &buf)
	assert.Equal(t, "job-456", entry["job_id"])
	assert.Equal(t, "/videos/a.mp4", entry["video_path"])
	assert.Equal(t, "started", entry["message"])

	logger.WithFields(map[string]interface{}{"stride": 10}).WithWorkerID("w-1").Warn("slow")
	entry = decodeLine(t, &buf)
	assert.Equal(t, float64(10), entry["stride"])
	assert.Equal(t, "w-1", entry["worker_id"])
	assert.Equal(t, "warn", entry["level"])
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, zerolog.InfoLevel)

	logger.Debug("hidden")
	assert.Zero(t, buf.Len())

	logger.Error("shown")
	assert.NotZero(t, buf.Len())
}

func TestLogJobEvent(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, zerolog.InfoLevel)

	logger.LogJobEvent("job-123", "completed", "completed", map[string]interface{}{
		"frames_saved": 10,
	})

	entry := decodeLine(t, &buf)
	assert.Equal(t, "job-123", entry["job_id"])
	assert.Equal(t, "completed", entry["event"])
	assert.Equal(t, float64(10), entry["frames_saved"])
}

func TestLogExtractionProgress(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, zerolog.DebugLevel)

	logger.LogExtractionProgress("job-123", 45, 4, "processing frame 45")

	entry := decodeLine(t, &buf)
	assert.Equal(t, float64(45), entry["percent"])
	assert.Equal(t, float64(4), entry["frames_saved"])
	assert.Equal(t, "processing frame 45", entry["progress"])
}

func TestLogFrameSkipped(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, zerolog.InfoLevel)

	logger.LogFrameSkipped("job-1", 30, "encode", errors.New("disk full"))

	entry := decodeLine(t, &buf)
	assert.Equal(t, float64(30), entry["frame"])
	assert.Equal(t, "encode", entry["stage"])
	assert.Equal(t, "disk full", entry["error"])
}

func TestLogStorageAndDatabase(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, zerolog.DebugLevel)

	logger.LogStorageOperation("upload", "frames", "job/frame_000000.jpg", 2048, 20*time.Millisecond, nil)
	entry := decodeLine(t, &buf)
	assert.Equal(t, "debug", entry["level"])
	assert.Equal(t, "job/frame_000000.jpg", entry["key"])

	logger.LogDatabaseOperation("update_job", 5*time.Millisecond, errors.New("conn reset"))
	entry = decodeLine(t, &buf)
	assert.Equal(t, "error", entry["level"])
}

func TestNop(t *testing.T) {
	logger := Nop()
	logger.Error("dropped")
	assert.Equal(t, zerolog.Disabled, logger.logger.GetLevel())
}

func TestNewDefaultLogger(t *testing.T) {
	logger, err := NewDefaultLogger()
	require.NoError(t, err)
	assert.NotNil(t, logger)
}

func TestNewConsoleLogger(t *testing.T) {
	logger, err := NewConsoleLogger()
	require.NoError(t, err)
	assert.NotNil(t, logger)
}

func BenchmarkLogWithFields(b *testing.B) {
	logger := New(&bytes.Buffer{}, zerolog.InfoLevel)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		logger.WithFields(map[string]interface{}{
			"key1": "value1",
			"key2": 123,
		}).Info("benchmark message")
	}
}
