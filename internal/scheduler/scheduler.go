// internal/scheduler/scheduler.go
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is one maintenance task run on a cron schedule.
type Job struct {
	Name     string
	Schedule string
	Run      func(ctx context.Context) error
}

// Scheduler runs jobs on their cron schedules.
type Scheduler struct {
	jobs   []Job
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
}

// cronParser accepts both standard 5-field cron expressions and 6-field
// expressions with an optional seconds field.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

func New(jobs ...Job) *Scheduler {
	return &Scheduler{jobs: jobs, cron: cron.New(cron.WithParser(cronParser))}
}

// Validate checks a schedule expression. An empty schedule is valid and
// means disabled.
func Validate(schedule string) error {
	if schedule == "" {
		return nil
	}
	if _, err := cronParser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}
	return nil
}

// Start registers every job with a schedule and starts the ticker. Jobs
// with an invalid schedule are logged and skipped.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)
	for _, job := range s.jobs {
		if job.Schedule == "" {
			slog.Debug("job disabled", "name", job.Name)
			continue
		}
		_, err := s.cron.AddFunc(job.Schedule, func() { s.fire(job) })
		if err != nil {
			slog.Error("invalid cron schedule", "name", job.Name, "schedule", job.Schedule, "error", err)
			continue
		}
		slog.Info("scheduled job", "name", job.Name, "schedule", job.Schedule)
	}
	s.cron.Start()
}

func (s *Scheduler) fire(job Job) {
	start := time.Now()
	if err := job.Run(s.ctx); err != nil {
		slog.Error("job failed", "name", job.Name, "error", err)
		return
	}
	slog.Info("job complete", "name", job.Name, "duration", time.Since(start))
}

// Entries reports how many jobs are scheduled.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}

// Reload replaces the jobs and restarts the ticker.
func (s *Scheduler) Reload(ctx context.Context, jobs ...Job) {
	s.Stop()
	s.jobs = jobs
	s.cron = cron.New(cron.WithParser(cronParser))
	s.Start(ctx)
}

// Stop stops the ticker and waits for running jobs to return.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	<-s.cron.Stop().Done()
}
