package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/rs/zerolog/log"
)

// Scheduler binds jobs to gocron triggers in one location.
type Scheduler struct {
	cron   *gocron.Scheduler
	runner *Runner

	mu   sync.RWMutex
	jobs map[string]Job
	base context.Context
}

// New returns a Scheduler evaluating daily triggers in loc.
func New(loc *time.Location, runner *Runner) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	return &Scheduler{
		cron:   gocron.NewScheduler(loc),
		runner: runner,
		jobs:   make(map[string]Job),
		base:   context.Background(),
	}
}

// Register adds job to the schedule. Interval jobs first fire when the
// scheduler starts; daily jobs first fire at their next DailyAt.
func (s *Scheduler) Register(job Job) error {
	if job.Name == "" || job.Run == nil {
		return fmt.Errorf("scheduler: job needs a name and a run func")
	}
	s.mu.Lock()
	if _, dup := s.jobs[job.Name]; dup {
		s.mu.Unlock()
		return fmt.Errorf("scheduler: job %q registered twice", job.Name)
	}
	s.jobs[job.Name] = job
	s.mu.Unlock()

	var err error
	switch {
	case job.Every > 0:
		_, err = s.cron.Every(job.Every).Tag(job.Name).Do(s.tick, job.Name)
	case job.DailyAt != "":
		_, err = s.cron.Every(1).Day().At(job.DailyAt).Tag(job.Name).Do(s.tick, job.Name)
	default:
		err = fmt.Errorf("no trigger")
	}
	if err != nil {
		s.mu.Lock()
		delete(s.jobs, job.Name)
		s.mu.Unlock()
		return fmt.Errorf("scheduler: register %q: %w", job.Name, err)
	}
	return nil
}

func (s *Scheduler) tick(name string) {
	s.mu.RLock()
	job, ok := s.jobs[name]
	ctx := s.base
	s.mu.RUnlock()
	if !ok {
		return
	}
	s.runner.Run(ctx, job)
}

// Start begins firing triggers. Runs started by triggers observe ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.base = ctx
	s.mu.Unlock()
	s.cron.StartAsync()
	log.Info().Strs("jobs", s.Names()).Msg("scheduler started")
}

// Stop stops firing triggers. Runs already in progress are not interrupted
// here; cancel the Start context for that.
func (s *Scheduler) Stop() {
	s.cron.Stop()
	log.Info().Msg("scheduler stopped")
}

// Names lists registered jobs, sorted.
func (s *Scheduler) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.jobs))
	for n := range s.jobs {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// RunNow executes the named job immediately through the same Runner, so a
// manual run and a scheduled tick never overlap.
func (s *Scheduler) RunNow(ctx context.Context, name string) (Result, error) {
	s.mu.RLock()
	job, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return s.runner.Run(ctx, job), nil
}
