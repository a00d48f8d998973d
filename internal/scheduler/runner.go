// Package scheduler runs the engine's periodic jobs. Runner executes one job
// at a time per name and records the outcome; Scheduler drives Runner from
// gocron triggers.
package scheduler

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-staff-assistant/internal/domain"
)

// Job is a named unit of scheduled work. Exactly one of Every and DailyAt
// should be set for jobs registered with a Scheduler.
type Job struct {
	Name    string
	Every   time.Duration
	DailyAt string // "HH:MM" in the scheduler's location
	Run     func(ctx context.Context) error
}

// Result describes one run.
type Result struct {
	RunID    string
	Job      string
	Outcome  string
	Started  time.Time
	Duration time.Duration
	Err      error
}

// RunRecorder persists run history. *repo.Store implements it.
type RunRecorder interface {
	RecordJobRun(ctx context.Context, run *domain.JobRun) error
}

// Runner executes jobs with per-name mutual exclusion.
type Runner struct {
	Recorder RunRecorder
	Now      func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewRunner returns a Runner recording into rec (which may be nil).
func NewRunner(rec RunRecorder) *Runner {
	return &Runner{Recorder: rec, Now: time.Now}
}

func (r *Runner) lockFor(name string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.locks == nil {
		r.locks = make(map[string]*sync.Mutex)
	}
	l, ok := r.locks[name]
	if !ok {
		l = &sync.Mutex{}
		r.locks[name] = l
	}
	return l
}

// Run executes job unless a run of the same name is already in progress, in
// which case the outcome is skipped. Errors never escape: they become a
// failed outcome.
func (r *Runner) Run(ctx context.Context, job Job) Result {
	now := r.Now
	if now == nil {
		now = time.Now
	}
	res := Result{RunID: uuid.NewString(), Job: job.Name, Started: now().UTC()}
	lg := log.With().Str("job", job.Name).Str("run_id", res.RunID).Logger()

	l := r.lockFor(job.Name)
	if !l.TryLock() {
		res.Outcome = domain.OutcomeSkipped
		lg.Info().Msg("previous run still in progress; skipping")
		r.finish(ctx, res)
		return res
	}
	defer l.Unlock()

	tr := otel.Tracer("scheduler/Runner")
	ctx, span := tr.Start(ctx, "Run", trace.WithAttributes(
		attribute.String("job", job.Name),
		attribute.String("run_id", res.RunID),
	))
	defer span.End()

	jobsInFlight.WithLabelValues(job.Name).Inc()
	defer jobsInFlight.WithLabelValues(job.Name).Dec()

	lg.Info().Msg("job started")
	err := runSafely(lg.WithContext(ctx), job)
	res.Duration = now().UTC().Sub(res.Started)
	jobDuration.WithLabelValues(job.Name).Observe(res.Duration.Seconds())

	if err != nil {
		res.Outcome = domain.OutcomeFailed
		res.Err = err
		span.RecordError(err)
		span.SetStatus(codes.Error, Summarize(err))
		lg.Error().Err(err).Dur("duration", res.Duration).Msg("job failed")
	} else {
		res.Outcome = domain.OutcomeCompleted
		lg.Info().Dur("duration", res.Duration).Msg("job completed")
	}
	r.finish(ctx, res)
	return res
}

func runSafely(ctx context.Context, job Job) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &PanicError{Value: p}
		}
	}()
	return job.Run(ctx)
}

func (r *Runner) finish(ctx context.Context, res Result) {
	jobRuns.WithLabelValues(res.Job, res.Outcome).Inc()
	if r.Recorder == nil {
		return
	}
	rec := &domain.JobRun{
		ID:         res.RunID,
		Job:        res.Job,
		Outcome:    res.Outcome,
		StartedAt:  res.Started,
		DurationMS: res.Duration.Milliseconds(),
	}
	if res.Err != nil {
		rec.Error = Summarize(res.Err)
	}
	// A cancelled run is still recorded.
	if err := r.Recorder.RecordJobRun(context.WithoutCancel(ctx), rec); err != nil {
		log.Warn().Err(err).Str("job", res.Job).Str("run_id", res.RunID).Msg("recording job run failed")
	}
}

const maxSummary = 500

// Summarize renders err as a single bounded line for run history.
func Summarize(err error) string {
	if err == nil {
		return ""
	}
	s := strings.Join(strings.Fields(err.Error()), " ")
	if len(s) > maxSummary {
		s = s[:maxSummary] + "…"
	}
	return s
}
