package database

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/therealutkarshpriyadarshi/frameflow/internal/config"
	"github.com/therealutkarshpriyadarshi/frameflow/internal/logging"
	"github.com/therealutkarshpriyadarshi/frameflow/internal/metrics"
	"github.com/therealutkarshpriyadarshi/frameflow/pkg/models"
)

func TestDSN(t *testing.T) {
	dsn := DSN(config.DatabaseConfig{
		Host: "db", Port: 5433, User: "u", Password: "p", DBName: "frameflow",
		SSLMode: "disable", MaxConns: 4, MinConns: 1,
	})

	assert.Contains(t, dsn, "host=db")
	assert.Contains(t, dsn, "port=5433")
	assert.Contains(t, dsn, "dbname=frameflow")
	assert.Contains(t, dsn, "pool_max_conns=4")
}

func TestRepositoryObserve(t *testing.T) {
	metrics.DatabaseOperationsTotal.Reset()
	var buf bytes.Buffer
	repo := NewRepository(nil, logging.New(&buf, zerolog.DebugLevel))

	repo.observe("update_job", time.Now(), errors.New("conn reset"))

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.DatabaseOperationsTotal.WithLabelValues("update_job", "error")))
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "error", entry["level"])
	assert.Equal(t, "update_job", entry["operation"])
	assert.Equal(t, "conn reset", entry["error"])
}

// testRepository connects to FRAMEFLOW_TEST_DATABASE_URL or skips
func testRepository(t *testing.T) *Repository {
	t.Helper()
	url := os.Getenv("FRAMEFLOW_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("Skipping integration test - FRAMEFLOW_TEST_DATABASE_URL not set")
	}

	db, err := Open(url)
	require.NoError(t, err)
	t.Cleanup(db.Close)
	require.NoError(t, db.Migrate(context.Background()))

	return NewRepository(db, nil)
}

func TestRepository_JobLifecycle(t *testing.T) {
	repo := testRepository(t)
	ctx := context.Background()

	job := &models.ExtractionJob{
		ID:        uuid.New().String(),
		VideoPath: "/videos/clip.mp4",
		OutputDir: "/videos/frames_output",
		Range:     models.FrameRange{Start: 0, End: 99, Stride: 10},
		Status:    models.JobStatusPending,
		WorkerID:  "worker-1",
	}
	require.NoError(t, repo.CreateJob(ctx, job))
	t.Cleanup(func() {
		repo.db.Pool.Exec(context.Background(), `DELETE FROM extraction_jobs WHERE id = $1`, job.ID)
	})
	assert.False(t, job.CreatedAt.IsZero())

	started := time.Now().UTC().Truncate(time.Millisecond)
	job.Status = models.JobStatusCompleted
	job.Progress = models.JobProgress{Percent: 100, Message: "saved 10 frames", FramesSaved: 10}
	job.FramesDecoded = 100
	job.StartedAt = &started
	job.CompletedAt = &started
	require.NoError(t, repo.UpdateJob(ctx, job))

	got, err := repo.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, job.Range, got.Range)
	assert.Equal(t, job.Progress, got.Progress)
	assert.Equal(t, 100, got.FramesDecoded)
	assert.Equal(t, models.JobStatusCompleted, got.Status)

	list, err := repo.ListJobs(ctx, models.JobStatusCompleted, 50, 0)
	require.NoError(t, err)
	found := false
	for _, j := range list {
		if j.ID == job.ID {
			found = true
		}
	}
	assert.True(t, found)

	missing, err := repo.GetJob(ctx, uuid.New().String())
	require.NoError(t, err)
	assert.Nil(t, missing)
}
