package main

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/therealutkarshpriyadarshi/frameflow/internal/extract"
	"github.com/therealutkarshpriyadarshi/frameflow/internal/frame"
	"github.com/therealutkarshpriyadarshi/frameflow/internal/logging"
	"github.com/therealutkarshpriyadarshi/frameflow/internal/sampler"
	"github.com/therealutkarshpriyadarshi/frameflow/internal/studio"
	"github.com/therealutkarshpriyadarshi/frameflow/pkg/models"
)

// JobHistory lists persisted extraction jobs
type JobHistory interface {
	ListJobs(ctx context.Context, status string, limit, offset int) ([]*models.ExtractionJob, error)
}

// Dispatcher hands extraction requests to remote workers
type Dispatcher interface {
	PublishExtraction(ctx context.Context, req *models.ExtractionRequest) error
}

// FrameLinker returns download links for the frames mirrored by a job
type FrameLinker interface {
	FrameURLs(ctx context.Context, jobID string) ([]string, error)
}

// HealthCheck reports whether a dependency is usable
type HealthCheck func(ctx context.Context) error

type API struct {
	studio     *studio.Studio
	logger     *logging.Logger
	history    JobHistory
	dispatcher Dispatcher
	frames     FrameLinker
	checks     map[string]HealthCheck

	previewWidth  int
	previewHeight int
	pollInterval  time.Duration
}

// NewAPI creates the HTTP handlers around one studio session
func NewAPI(st *studio.Studio, logger *logging.Logger) *API {
	return &API{
		studio:        st,
		logger:        logger,
		checks:        make(map[string]HealthCheck),
		previewWidth:  640,
		previewHeight: 360,
		pollInterval:  250 * time.Millisecond,
	}
}

type loadRequest struct {
	Path string `json:"path" binding:"required"`
}

type rangeRequest struct {
	Start  int `json:"start"`
	End    int `json:"end"`
	Stride int `json:"stride"`
}

type outputRequest struct {
	Dir string `json:"dir" binding:"required"`
}

type scrubRequest struct {
	Index *int `json:"index" binding:"required"`
}

// respondError maps domain errors to HTTP status codes
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, studio.ErrNoVideo):
		status = http.StatusConflict
	case errors.Is(err, extract.ErrJobRunning):
		status = http.StatusConflict
	case errors.Is(err, extract.ErrJobNotFound):
		status = http.StatusNotFound
	case errors.Is(err, sampler.ErrInvalidRange):
		status = http.StatusBadRequest
	case errors.Is(err, frame.ErrCannotOpen):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, frame.ErrEndOfStream), errors.Is(err, frame.ErrDecodeFailed):
		status = http.StatusUnprocessableEntity
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// Health check endpoint
func (api *API) healthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	for name, check := range api.checks {
		if err := check(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":    "unhealthy",
				"component": name,
				"error":     err.Error(),
			})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
	})
}

func (api *API) loadVideo(c *gin.Context) {
	var req loadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sess, err := api.studio.Load(c.Request.Context(), req.Path)
	if err != nil {
		api.logger.WithVideoPath(req.Path).WithError(err).Warn("Failed to load video")
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, sess)
}

func (api *API) getSession(c *gin.Context) {
	c.JSON(http.StatusOK, api.studio.Session())
}

func (api *API) setRange(c *gin.Context) {
	var req rangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sess, err := api.studio.SetRange(sampler.Range{Start: req.Start, End: req.End, Stride: req.Stride})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (api *API) setOutputDir(c *gin.Context) {
	var req outputRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sess, err := api.studio.SetOutputDir(req.Dir)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (api *API) markIn(c *gin.Context) {
	api.respondSession(c, api.studio.MarkIn)
}

func (api *API) markOut(c *gin.Context) {
	api.respondSession(c, api.studio.MarkOut)
}

func (api *API) togglePlayback(c *gin.Context) {
	api.respondSession(c, api.studio.Toggle)
}

func (api *API) stepPlayback(c *gin.Context) {
	api.respondSession(c, func() (studio.Session, error) {
		return api.studio.Step(c.Request.Context())
	})
}

func (api *API) scrubPlayback(c *gin.Context) {
	var req scrubRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sess, err := api.studio.Scrub(c.Request.Context(), *req.Index)
	if err != nil {
		if errors.Is(err, studio.ErrNoVideo) {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (api *API) respondSession(c *gin.Context, fn func() (studio.Session, error)) {
	sess, err := fn()
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (api *API) captureSnapshot(c *gin.Context) {
	snap, err := api.studio.Capture(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, snap)
}

// Create extraction job endpoint. With ?dispatch=queue the request goes to
// a worker instead of running in this process.
func (api *API) createExtraction(c *gin.Context) {
	if c.Query("dispatch") == "queue" {
		api.dispatchExtraction(c)
		return
	}

	job, err := api.studio.StartExtraction(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, job.Snapshot())
}

func (api *API) dispatchExtraction(c *gin.Context) {
	if api.dispatcher == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "queue dispatch is not configured"})
		return
	}

	req, err := api.studio.Request()
	if err != nil {
		respondError(c, err)
		return
	}
	req.JobID = uuid.New().String()

	msg := req.Message()
	if err := api.dispatcher.PublishExtraction(c.Request.Context(), &msg); err != nil {
		api.logger.WithJobID(req.JobID).WithError(err).Error("Failed to dispatch extraction")
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to dispatch extraction"})
		return
	}

	api.logger.LogJobEvent(req.JobID, "dispatched", models.JobStatusPending, map[string]interface{}{
		"video_path": req.VideoPath,
	})
	c.JSON(http.StatusAccepted, gin.H{
		"id":     req.JobID,
		"status": models.JobStatusPending,
		"range":  msg.Range,
	})
}

type extractionResponse struct {
	models.ExtractionJob
	FrameURLs []string `json:"frame_urls,omitempty"`
}

// Get extraction job endpoint. Links to mirrored frames are included when
// object storage is configured.
func (api *API) getExtraction(c *gin.Context) {
	job, err := api.studio.Manager().Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if api.frames == nil {
		c.JSON(http.StatusOK, job)
		return
	}

	urls, err := api.frames.FrameURLs(c.Request.Context(), job.ID)
	if err != nil {
		api.logger.WithJobID(job.ID).WithError(err).Warn("Failed to list mirrored frames")
	}
	c.JSON(http.StatusOK, extractionResponse{ExtractionJob: job, FrameURLs: urls})
}

// List extraction jobs endpoint. Persisted history is used when a database
// is configured, otherwise the jobs run by this process.
func (api *API) listExtractions(c *gin.Context) {
	if api.history == nil {
		c.JSON(http.StatusOK, gin.H{"jobs": api.studio.Manager().List()})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	jobs, err := api.history.ListJobs(c.Request.Context(), c.Query("status"), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list jobs"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"jobs":   jobs,
		"limit":  limit,
		"offset": offset,
	})
}

// Cancel extraction job endpoint
func (api *API) cancelExtraction(c *gin.Context) {
	id := c.Param("id")
	if err := api.studio.Manager().Cancel(id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Job cancelled", "id": id})
}

// extractionEvents streams a job's progress as server-sent events until
// it reaches a terminal state.
func (api *API) extractionEvents(c *gin.Context) {
	job, ok := api.studio.Manager().Job(c.Param("id"))
	if !ok {
		respondError(c, extract.ErrJobNotFound)
		return
	}

	ticker := time.NewTicker(api.pollInterval)
	defer ticker.Stop()

	last := models.JobProgress{Percent: -1}
	for {
		select {
		case <-c.Request.Context().Done():
			return
		case <-job.Done():
			c.SSEvent("complete", job.Snapshot())
			c.Writer.Flush()
			return
		case <-ticker.C:
			rec := job.Snapshot()
			if rec.Progress != last {
				last = rec.Progress
				c.SSEvent("progress", rec.Progress)
				c.Writer.Flush()
			}
		}
	}
}
