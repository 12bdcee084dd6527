// Package scheduler runs periodic jobs with a skip-if-busy policy.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"metro_alerts/internal/metrics"
	"metro_alerts/internal/storage"
)

// Tick outcomes, also used as metric labels.
const (
	outcomeOK      = "ok"
	outcomeError   = "error"
	outcomeSkipped = "skipped"
)

// Job is a named unit of periodic work. A tick that finds the job still
// running is dropped.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error

	running atomic.Bool
	runs    atomic.Int64
}

// Runs returns how many times the job body has executed.
func (j *Job) Runs() int64 {
	return j.runs.Load()
}

// Scheduler triggers registered jobs on their intervals.
type Scheduler struct {
	jobs  []*Job
	log   *slog.Logger
	fatal chan error
}

// New creates an empty Scheduler.
func New(log *slog.Logger) *Scheduler {
	return &Scheduler{
		log:   log,
		fatal: make(chan error, 1),
	}
}

// Add registers a job. Jobs must be added before Run.
func (s *Scheduler) Add(name string, interval time.Duration, run func(ctx context.Context) error) *Job {
	j := &Job{Name: name, Interval: interval, Run: run}
	s.jobs = append(s.jobs, j)
	return j
}

// Run executes every job once, then on its interval, until ctx is cancelled.
// It returns early with the error of a job that hit storage.ErrUnavailable.
func (s *Scheduler) Run(ctx context.Context) error {
	if len(s.jobs) == 0 {
		return fmt.Errorf("no jobs registered")
	}

	c := cron.New()
	for _, j := range s.jobs {
		if j.Interval <= 0 {
			return fmt.Errorf("job %s: interval must be positive", j.Name)
		}
		c.Schedule(cron.Every(j.Interval), cron.FuncJob(func() { s.tick(ctx, j) }))
		s.log.Info("job scheduled", "job", j.Name, "interval", j.Interval)
	}

	c.Start()
	for _, j := range s.jobs {
		go s.tick(ctx, j)
	}

	var err error
	select {
	case <-ctx.Done():
	case err = <-s.fatal:
		s.log.Error("scheduler stopping on fatal error", "error", err)
	}

	<-c.Stop().Done()
	return err
}

// tick runs j unless a previous tick of j is still in progress.
func (s *Scheduler) tick(ctx context.Context, j *Job) {
	if !j.running.CompareAndSwap(false, true) {
		s.log.Debug("job still running, tick skipped", "job", j.Name)
		metrics.RecordJobRun(j.Name, outcomeSkipped, 0)
		return
	}
	defer j.running.Store(false)

	start := time.Now()
	err := s.execute(ctx, j)
	took := time.Since(start)

	if err == nil {
		metrics.RecordJobRun(j.Name, outcomeOK, took)
		return
	}

	metrics.RecordJobRun(j.Name, outcomeError, took)
	s.log.Error("job failed", "job", j.Name, "duration", took, "error", err)

	if errors.Is(err, storage.ErrUnavailable) {
		select {
		case s.fatal <- err:
		default:
		}
	}
}

func (s *Scheduler) execute(ctx context.Context, j *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	j.runs.Add(1)
	return j.Run(ctx)
}
