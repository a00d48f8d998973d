package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-staff-assistant/internal/domain"
	"github.com/tbourn/go-staff-assistant/internal/scheduler"
	"github.com/tbourn/go-staff-assistant/internal/utils"
)

// RunHistory reads job run records. *repo.Store implements it.
type RunHistory interface {
	CountJobRuns(ctx context.Context, job string) (int64, error)
	ListJobRunsPage(ctx context.Context, job string, offset, limit int) ([]domain.JobRun, error)
	JobRunsStats(ctx context.Context, job string) (int64, *time.Time, error)
}

// JobTrigger runs registered jobs on demand. *scheduler.Scheduler
// implements it.
type JobTrigger interface {
	Names() []string
	RunNow(ctx context.Context, name string) (scheduler.Result, error)
}

// Pinger checks the local store. *repo.Store implements it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handlers groups the ops endpoints.
type Handlers struct {
	runs  RunHistory
	jobs  JobTrigger
	store Pinger
}

// New binds the handlers to their dependencies.
func New(runs RunHistory, jobs JobTrigger, store Pinger) *Handlers {
	return &Handlers{runs: runs, jobs: jobs, store: store}
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListJobRunsResponse wraps a page of runs.
type ListJobRunsResponse struct {
	Runs       []domain.JobRun `json:"runs"`
	Pagination Pagination      `json:"pagination"`
}

// RunResponse reports the outcome of a manual run.
type RunResponse struct {
	RunID      string `json:"run_id"`
	Job        string `json:"job"`
	Outcome    string `json:"outcome"`
	DurationMS int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

// Healthz reports liveness.
func (h *Handlers) Healthz(c *gin.Context) {
	ok(c, http.StatusOK, gin.H{"status": "ok"})
}

// Readyz reports readiness: the local store must answer a ping.
func (h *Handlers) Readyz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if err := h.store.Ping(ctx); err != nil {
		fail(c, http.StatusServiceUnavailable, ErrCodeNotReady, "store unavailable")
		return
	}
	ok(c, http.StatusOK, gin.H{"status": "ready"})
}

// ListJobs returns the registered job names.
func (h *Handlers) ListJobs(c *gin.Context) {
	ok(c, http.StatusOK, gin.H{"jobs": h.jobs.Names()})
}

// ListJobRuns returns run history newest first, optionally filtered by
// ?job=. Supports a weak ETag via If-None-Match.
func (h *Handlers) ListJobRuns(c *gin.Context) {
	ctx := c.Request.Context()
	job := strings.TrimSpace(c.Query("job"))
	offset, limit := utils.PageBounds(c.Query("page"), c.Query("page_size"))

	if count, last, err := h.runs.JobRunsStats(ctx, job); err == nil {
		var ts int64
		if last != nil {
			ts = last.UnixNano()
		}
		etag := fmt.Sprintf(`W/"runs:%s:%d:%d"`, job, count, ts)
		c.Header("ETag", etag)
		if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
			c.Status(http.StatusNotModified)
			return
		}
	}

	total, err := h.runs.CountJobRuns(ctx, job)
	if err != nil {
		failErr(c, err, ErrCodeListFailed)
		return
	}
	items, err := h.runs.ListJobRunsPage(ctx, job, offset, limit)
	if err != nil {
		failErr(c, err, ErrCodeListFailed)
		return
	}
	if items == nil {
		items = []domain.JobRun{}
	}

	page := offset/limit + 1
	totalPages := int((total + int64(limit) - 1) / int64(limit))
	ok(c, http.StatusOK, ListJobRunsResponse{
		Runs: items,
		Pagination: Pagination{
			Page:       page,
			PageSize:   limit,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}

// RunJob executes the named job synchronously. The run is detached from the
// request's cancellation so a dropped connection does not abort it halfway.
// A run that overlaps a scheduled one reports outcome "skipped".
func (h *Handlers) RunJob(c *gin.Context) {
	name := c.Param("name")
	res, err := h.jobs.RunNow(context.WithoutCancel(c.Request.Context()), name)
	if err != nil {
		failErr(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, RunResponse{
		RunID:      res.RunID,
		Job:        res.Job,
		Outcome:    res.Outcome,
		DurationMS: res.Duration.Milliseconds(),
		Error:      scheduler.Summarize(res.Err),
	})
}
