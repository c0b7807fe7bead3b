package extract

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/therealutkarshpriyadarshi/frameflow/internal/sampler"
	"github.com/therealutkarshpriyadarshi/frameflow/pkg/models"
)

func waitDone(t *testing.T, job *Job) Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := job.Wait(ctx)
	require.NoError(t, err, "job did not finish")
	return res
}

func drain(job *Job) []Event {
	var events []Event
	for ev := range job.Events() {
		events = append(events, ev)
	}
	return events
}

func testRequest(t *testing.T) Request {
	return Request{
		VideoPath: "/videos/clip.mp4",
		OutputDir: t.TempDir(),
		Range:     sampler.Range{Start: 0, End: 99, Stride: 10},
	}
}

func TestManagerStartRunsJob(t *testing.T) {
	m := NewManager(NewExtractor(&fakeOpener{src: fakeSource{total: 100}}, Options{}, nil), nil)

	job, err := m.Start(context.Background(), testRequest(t))
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)

	events := drain(job)
	res := waitDone(t, job)

	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.True(t, last.Terminal)
	assert.Equal(t, job.ID, last.JobID)
	assert.Equal(t, 10, res.FramesSaved)

	snap := job.Snapshot()
	assert.Equal(t, models.JobStatusCompleted, snap.Status)
	assert.Equal(t, 100, snap.Progress.Percent)
	assert.Equal(t, 10, snap.Progress.FramesSaved)
	assert.Equal(t, 100, snap.FramesDecoded)
	assert.NotNil(t, snap.StartedAt)
	assert.NotNil(t, snap.CompletedAt)
	assert.Nil(t, m.Running())
}

func TestManagerTerminalEventSurvivesSlowReader(t *testing.T) {
	m := NewManager(
		NewExtractor(&fakeOpener{src: fakeSource{total: 1000}}, Options{ProgressEvery: 1}, nil),
		nil,
		WithEventBuffer(2),
	)

	job, err := m.Start(context.Background(), Request{
		VideoPath: "/videos/long.mp4",
		OutputDir: t.TempDir(),
		Range:     sampler.Range{Start: 0, End: 999, Stride: 100},
	})
	require.NoError(t, err)

	waitDone(t, job)
	events := drain(job)

	require.NotEmpty(t, events)
	assert.LessOrEqual(t, len(events), 2)
	assert.True(t, events[len(events)-1].Terminal)
}

func TestManagerRejectsConcurrentJob(t *testing.T) {
	m := NewManager(NewExtractor(&fakeOpener{src: fakeSource{total: 100, block: true}}, Options{}, nil), nil)

	job, err := m.Start(context.Background(), testRequest(t))
	require.NoError(t, err)

	_, err = m.Start(context.Background(), testRequest(t))
	assert.ErrorIs(t, err, ErrJobRunning)
	assert.Equal(t, job, m.Running())

	require.NoError(t, m.Cancel(job.ID))
	res := waitDone(t, job)
	assert.Equal(t, models.JobStatusCancelled, res.Status)
	assert.Equal(t, models.JobStatusCancelled, job.Snapshot().Status)

	again, err := m.Start(context.Background(), testRequest(t))
	require.NoError(t, err)
	again.Cancel()
	waitDone(t, again)
}

func TestManagerJobOutlivesRequestContext(t *testing.T) {
	m := NewManager(NewExtractor(&fakeOpener{src: fakeSource{total: 100}}, Options{}, nil), nil)

	ctx, cancel := context.WithCancel(context.Background())
	job, err := m.Start(ctx, testRequest(t))
	require.NoError(t, err)
	cancel()

	res := waitDone(t, job)
	assert.Equal(t, models.JobStatusCompleted, res.Status)
}

func TestManagerValidatesRequest(t *testing.T) {
	m := NewManager(NewExtractor(&fakeOpener{src: fakeSource{total: 100}}, Options{}, nil), nil)

	req := testRequest(t)
	req.Range = sampler.Range{Start: 10, End: 5, Stride: 1}
	_, err := m.Start(context.Background(), req)
	assert.ErrorIs(t, err, sampler.ErrInvalidRange)

	req = testRequest(t)
	req.Range.Stride = 0
	_, err = m.Start(context.Background(), req)
	assert.ErrorIs(t, err, sampler.ErrInvalidRange)

	req = testRequest(t)
	req.VideoPath = ""
	_, err = m.Start(context.Background(), req)
	assert.Error(t, err)

	assert.Nil(t, m.Running())
	assert.Empty(t, m.List())
}

func TestManagerPersistsAndCaches(t *testing.T) {
	store := newFakeStore()
	cache := newFakeCache()
	m := NewManager(
		NewExtractor(&fakeOpener{src: fakeSource{total: 100}}, Options{}, nil),
		nil,
		WithJobStore(store),
		WithProgressCache(cache, time.Minute),
		WithWorkerID("worker-7"),
	)

	req := testRequest(t)
	req.JobID = "job-fixed"
	job, err := m.Start(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "job-fixed", job.ID)
	waitDone(t, job)

	stored := store.get("job-fixed")
	assert.Equal(t, models.JobStatusCompleted, stored.Status)
	assert.Equal(t, "worker-7", stored.WorkerID)
	assert.Equal(t, models.FrameRange{Start: 0, End: 99, Stride: 10}, stored.Range)
	assert.GreaterOrEqual(t, store.updates, 2)

	cached, err := cache.GetJob(context.Background(), "job-fixed")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, cached.Status)
	assert.NotEmpty(t, cache.progress["job-fixed"])
	assert.False(t, cache.locked(lockKey(req.VideoPath)), "lock must be released")
}

func TestManagerHonoursDistributedLock(t *testing.T) {
	cache := newFakeCache()
	m := NewManager(
		NewExtractor(&fakeOpener{src: fakeSource{total: 100}}, Options{}, nil),
		nil,
		WithProgressCache(cache, 0),
	)

	req := testRequest(t)
	_, err := cache.AcquireLock(context.Background(), lockKey(req.VideoPath), time.Minute)
	require.NoError(t, err)

	_, err = m.Start(context.Background(), req)
	assert.ErrorIs(t, err, ErrJobRunning)
}

func TestManagerStoreFailureAbortsStart(t *testing.T) {
	store := newFakeStore()
	store.err = errors.New("connection refused")
	cache := newFakeCache()
	m := NewManager(
		NewExtractor(&fakeOpener{src: fakeSource{total: 100}}, Options{}, nil),
		nil,
		WithJobStore(store),
		WithProgressCache(cache, 0),
	)

	req := testRequest(t)
	_, err := m.Start(context.Background(), req)
	assert.Error(t, err)
	assert.Nil(t, m.Running())
	assert.False(t, cache.locked(lockKey(req.VideoPath)))
}

func TestManagerGetAndList(t *testing.T) {
	store := newFakeStore()
	m := NewManager(NewExtractor(&fakeOpener{src: fakeSource{total: 20}}, Options{}, nil), nil, WithJobStore(store))
	ctx := context.Background()

	first, err := m.Start(ctx, testRequest(t))
	require.NoError(t, err)
	waitDone(t, first)
	time.Sleep(2 * time.Millisecond)
	second, err := m.Start(ctx, testRequest(t))
	require.NoError(t, err)
	waitDone(t, second)

	got, err := m.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)

	list := m.List()
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)

	store.records["from-other-worker"] = models.ExtractionJob{ID: "from-other-worker", Status: models.JobStatusRunning}
	other, err := m.Get(ctx, "from-other-worker")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, other.Status)

	_, err = m.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
	assert.ErrorIs(t, m.Cancel("missing"), ErrJobNotFound)
}

func TestManagerFailedOpen(t *testing.T) {
	m := NewManager(NewExtractor(&fakeOpener{err: errors.New("no such file")}, Options{}, nil), nil)

	job, err := m.Start(context.Background(), testRequest(t))
	require.NoError(t, err)
	res := waitDone(t, job)

	assert.Equal(t, models.JobStatusFailed, res.Status)
	snap := job.Snapshot()
	assert.Equal(t, models.JobStatusFailed, snap.Status)
	assert.Contains(t, snap.ErrorMsg, "no such file")
	assert.Equal(t, 100, snap.Progress.Percent)
}

func TestManagerNotifiesFinishedJob(t *testing.T) {
	notifier := &fakeNotifier{}
	m := NewManager(NewExtractor(&fakeOpener{src: fakeSource{total: 100}}, Options{}, nil), nil, WithNotifier(notifier))

	job, err := m.Start(context.Background(), testRequest(t))
	require.NoError(t, err)
	waitDone(t, job)

	require.Len(t, notifier.jobs, 1)
	assert.Equal(t, job.ID, notifier.jobs[0].ID)
	assert.Equal(t, models.JobStatusCompleted, notifier.jobs[0].Status)
	assert.Equal(t, 10, notifier.jobs[0].Progress.FramesSaved)
}

func TestManagerNotifierFailureIsSoft(t *testing.T) {
	notifier := &fakeNotifier{err: errors.New("endpoint down")}
	m := NewManager(NewExtractor(&fakeOpener{err: errors.New("no such file")}, Options{}, nil), nil, WithNotifier(notifier))

	job, err := m.Start(context.Background(), testRequest(t))
	require.NoError(t, err)
	res := waitDone(t, job)

	assert.Equal(t, models.JobStatusFailed, res.Status)
	require.Len(t, notifier.jobs, 1)
	assert.Equal(t, models.JobStatusFailed, notifier.jobs[0].Status)
	assert.Nil(t, m.Running())
}
