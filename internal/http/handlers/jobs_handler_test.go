package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-staff-assistant/internal/domain"
	"github.com/tbourn/go-staff-assistant/internal/scheduler"
)

type fakeRuns struct {
	runs []domain.JobRun
	err  error
}

func (f *fakeRuns) filter(job string) []domain.JobRun {
	var out []domain.JobRun
	for _, r := range f.runs {
		if job == "" || r.Job == job {
			out = append(out, r)
		}
	}
	return out
}

func (f *fakeRuns) CountJobRuns(_ context.Context, job string) (int64, error) {
	return int64(len(f.filter(job))), f.err
}

func (f *fakeRuns) ListJobRunsPage(_ context.Context, job string, offset, limit int) ([]domain.JobRun, error) {
	all := f.filter(job)
	if offset >= len(all) {
		return nil, f.err
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], f.err
}

func (f *fakeRuns) JobRunsStats(_ context.Context, job string) (int64, *time.Time, error) {
	all := f.filter(job)
	if len(all) == 0 {
		return 0, nil, f.err
	}
	ts := all[0].StartedAt
	return int64(len(all)), &ts, f.err
}

type fakeJobs struct {
	res  scheduler.Result
	seen context.Context
}

func (f *fakeJobs) Names() []string { return []string{"birthdays", "payments"} }

func (f *fakeJobs) RunNow(ctx context.Context, name string) (scheduler.Result, error) {
	f.seen = ctx
	if name != "payments" {
		return scheduler.Result{}, fmt.Errorf("%w: %s", scheduler.ErrUnknownJob, name)
	}
	return f.res, nil
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

func newRouter(h *Handlers) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/healthz", h.Healthz)
	r.GET("/readyz", h.Readyz)
	r.GET("/jobs", h.ListJobs)
	r.GET("/jobs/runs", h.ListJobRuns)
	r.POST("/jobs/:name/run", h.RunJob)
	return r
}

func serve(r *gin.Engine, method, path string, hdr map[string]string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	r.ServeHTTP(w, req)
	return w
}

func TestProbes(t *testing.T) {
	r := newRouter(New(&fakeRuns{}, &fakeJobs{}, fakePinger{}))
	if w := serve(r, http.MethodGet, "/healthz", nil); w.Code != http.StatusOK {
		t.Fatalf("healthz = %d", w.Code)
	}
	if w := serve(r, http.MethodGet, "/readyz", nil); w.Code != http.StatusOK {
		t.Fatalf("readyz = %d", w.Code)
	}

	down := newRouter(New(&fakeRuns{}, &fakeJobs{}, fakePinger{err: errors.New("db gone")}))
	w := serve(down, http.MethodGet, "/readyz", nil)
	var er ErrorResponse
	_ = json.Unmarshal(w.Body.Bytes(), &er)
	if w.Code != http.StatusServiceUnavailable || er.Code != ErrCodeNotReady {
		t.Fatalf("readyz down = %d %+v", w.Code, er)
	}
}

func TestListJobRuns_PagingFilterAndETag(t *testing.T) {
	base := time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)
	runs := &fakeRuns{}
	for i := 0; i < 5; i++ {
		runs.runs = append(runs.runs, domain.JobRun{
			ID: fmt.Sprintf("r%d", i), Job: "payments", Outcome: domain.OutcomeCompleted,
			StartedAt: base.Add(-time.Duration(i) * time.Hour),
		})
	}
	runs.runs = append(runs.runs, domain.JobRun{ID: "b0", Job: "birthdays", Outcome: domain.OutcomeFailed, StartedAt: base})
	r := newRouter(New(runs, &fakeJobs{}, fakePinger{}))

	w := serve(r, http.MethodGet, "/jobs/runs?job=payments&page=2&page_size=2", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp ListJobRunsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Runs) != 2 || resp.Runs[0].ID != "r2" {
		t.Fatalf("unexpected page: %+v", resp.Runs)
	}
	p := resp.Pagination
	if p.Page != 2 || p.PageSize != 2 || p.Total != 5 || p.TotalPages != 3 || !p.HasNext {
		t.Fatalf("unexpected pagination: %+v", p)
	}

	etag := w.Header().Get("ETag")
	if etag == "" {
		t.Fatalf("expected ETag")
	}
	if w := serve(r, http.MethodGet, "/jobs/runs?job=payments", map[string]string{"If-None-Match": etag}); w.Code != http.StatusNotModified {
		t.Fatalf("expected 304, got %d", w.Code)
	}
	if w := serve(r, http.MethodGet, "/jobs/runs", map[string]string{"If-None-Match": etag}); w.Code != http.StatusOK {
		t.Fatalf("different filter must not match the ETag, got %d", w.Code)
	}
}

func TestListJobRuns_EmptyIsArray(t *testing.T) {
	r := newRouter(New(&fakeRuns{}, &fakeJobs{}, fakePinger{}))
	w := serve(r, http.MethodGet, "/jobs/runs?job=none", nil)
	var body map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	if runs, ok := body["runs"].([]any); !ok || len(runs) != 0 {
		t.Fatalf("expected empty runs array, got %s", w.Body.String())
	}
}

func TestListJobRuns_StoreError(t *testing.T) {
	r := newRouter(New(&fakeRuns{err: errors.New("boom")}, &fakeJobs{}, fakePinger{}))
	if w := serve(r, http.MethodGet, "/jobs/runs", nil); w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
}

func TestRunJob(t *testing.T) {
	jobs := &fakeJobs{res: scheduler.Result{
		RunID: "run-1", Job: "payments", Outcome: domain.OutcomeFailed,
		Duration: 1500 * time.Millisecond, Err: errors.New("pbi query: status 500"),
	}}
	r := newRouter(New(&fakeRuns{}, jobs, fakePinger{}))

	w := serve(r, http.MethodPost, "/jobs/payments/run", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp RunResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.RunID != "run-1" || resp.Outcome != domain.OutcomeFailed || resp.DurationMS != 1500 || resp.Error == "" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if jobs.seen == nil || jobs.seen.Done() != nil {
		t.Fatalf("manual run context must not be cancellable by the request")
	}

	w = serve(r, http.MethodPost, "/jobs/payroll/run", nil)
	var er ErrorResponse
	_ = json.Unmarshal(w.Body.Bytes(), &er)
	if w.Code != http.StatusNotFound || er.Code != ErrCodeUnknownJob {
		t.Fatalf("unknown job = %d %+v", w.Code, er)
	}
}

func TestListJobs(t *testing.T) {
	r := newRouter(New(&fakeRuns{}, &fakeJobs{}, fakePinger{}))
	w := serve(r, http.MethodGet, "/jobs", nil)
	var body struct {
		Jobs []string `json:"jobs"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil || len(body.Jobs) != 2 {
		t.Fatalf("unexpected body: %s", w.Body.String())
	}
}
