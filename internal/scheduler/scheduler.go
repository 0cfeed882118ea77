// Package scheduler fires cron-scheduled workflow runs. Jobs carry their
// workflow document; the scheduler polls the store for due jobs and hands
// them to the engine through a bounded worker pool.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/Phazzie/autoclick/internal/engine"
	"github.com/Phazzie/autoclick/internal/run"
	"github.com/Phazzie/autoclick/internal/store"
	"github.com/Phazzie/autoclick/internal/streaming"
	"github.com/Phazzie/autoclick/internal/workerpool"
	"github.com/Phazzie/autoclick/pkg/schema"
)

// Runner launches workflow runs. The engine satisfies it.
type Runner interface {
	Execute(ctx context.Context, wf *schema.Workflow, opts ...engine.ExecOption) (*run.Report, error)
}

// Config wires the scheduler's collaborators.
type Config struct {
	Store  store.Store
	Runner Runner
	Hub    streaming.EventHub // optional; schedule_triggered events
	Logger *slog.Logger
	// Workers bounds concurrently running jobs. Default 4.
	Workers int
	// Tick is the poll interval. Default 60s.
	Tick time.Duration
}

// Scheduler polls the store for due scheduled jobs and runs them.
type Scheduler struct {
	store   store.Store
	runner  Runner
	hub     streaming.EventHub
	parser  cron.Parser
	logger  *slog.Logger
	tick    time.Duration
	workers int

	mu     sync.Mutex
	pool   *workerpool.Pool
	cancel context.CancelFunc
	done   chan struct{}

	inflightMu sync.Mutex
	inflight   map[string]struct{} // job IDs currently executing (dedup)
}

// New creates a Scheduler. It does not start polling until Start.
func New(cfg Config) *Scheduler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	tick := cfg.Tick
	if tick <= 0 {
		tick = 60 * time.Second
	}
	return &Scheduler{
		store:    cfg.Store,
		runner:   cfg.Runner,
		hub:      cfg.Hub,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		logger:   logger,
		tick:     tick,
		workers:  workers,
		pool:     workerpool.New(workers),
		inflight: make(map[string]struct{}),
	}
}

// Add registers a scheduled job: validates the cron expression, stamps
// ID and timestamps, computes the first next_run_at and persists the job.
func (s *Scheduler) Add(ctx context.Context, job *store.ScheduledJob) error {
	if job == nil {
		return schema.NewError(schema.ErrCodeValidation, "scheduled job is nil")
	}
	if len(job.Workflow.Steps) == 0 {
		return schema.NewError(schema.ErrCodeValidation, "scheduled job has no workflow steps")
	}
	next, err := s.NextRun(job.CronExpr, time.Now().UTC())
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "invalid cron expression %q", job.CronExpr).WithCause(err)
	}

	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Name == "" {
		job.Name = job.Workflow.Name
	}
	job.CreatedAt = time.Now().UTC()
	job.NextRunAt = &next
	return s.store.CreateScheduledJob(ctx, job)
}

// Start launches the background polling loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}

	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	if s.pool == nil {
		s.pool = workerpool.New(s.workers)
	}
	s.mu.Unlock()

	go s.loop(schedCtx)
	s.logger.Info("scheduler started",
		slog.Duration("tick", s.tick),
		slog.Int("workers", s.workers),
	)
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	// Run an initial pass immediately.
	s.pass(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.pass(ctx)
		}
	}
}

// pass checks all enabled jobs and submits those that are due.
func (s *Scheduler) pass(ctx context.Context) {
	enabled := true
	jobs, err := s.store.ListScheduledJobs(ctx, store.ScheduledJobFilter{Enabled: &enabled})
	if err != nil {
		s.logger.Error("list scheduled jobs failed", slog.String("error", err.Error()))
		return
	}

	now := time.Now().UTC()
	for _, job := range jobs {
		if job.NextRunAt != nil && job.NextRunAt.After(now) {
			continue
		}
		if !s.tryAcquire(job.ID) {
			continue // previous fire still running
		}

		err := s.pool.Submit(ctx, func(ctx context.Context) error {
			defer s.release(job.ID)
			return s.runJob(ctx, job, now)
		})
		if err != nil {
			s.release(job.ID)
			if !errors.Is(err, context.Canceled) && !errors.Is(err, workerpool.ErrShutdown) {
				s.logger.Error("submit scheduled job failed",
					slog.String("job_id", job.ID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// runJob executes one job fire and updates its timestamps.
func (s *Scheduler) runJob(ctx context.Context, job *store.ScheduledJob, now time.Time) error {
	runID := uuid.NewString()
	s.logger.Info("scheduled run starting",
		slog.String("job_id", job.ID),
		slog.String("job", job.Name),
		slog.String("run_id", runID),
	)

	s.publishTrigger(ctx, job, runID)

	wf := job.Workflow
	report, err := s.runner.Execute(ctx, &wf,
		engine.WithRunID(runID),
		engine.WithParams(job.Params),
		engine.WithScheduleID(job.ID),
	)

	status := "error"
	switch {
	case err != nil:
		s.logger.Error("scheduled run failed to start",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
	case report != nil:
		status = string(report.Status)
	}
	return s.updateJobStatus(ctx, job, now, status)
}

func (s *Scheduler) publishTrigger(ctx context.Context, job *store.ScheduledJob, runID string) {
	if s.hub == nil {
		return
	}
	ev := streaming.StreamEvent{
		RunID:     runID,
		Workflow:  job.Workflow.Name,
		EventType: schema.EventScheduleTriggered,
		Payload:   map[string]any{"job_id": job.ID, "job": job.Name, "cron": job.CronExpr},
		At:        time.Now().UTC(),
	}
	if err := s.hub.Publish(ctx, ev); err != nil {
		s.logger.Warn("schedule event publish failed",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Scheduler) updateJobStatus(ctx context.Context, job *store.ScheduledJob, now time.Time, status string) error {
	next, err := s.NextRun(job.CronExpr, now)
	if err != nil {
		return fmt.Errorf("next run for job %q: %w", job.ID, err)
	}

	// Shutdown cancels the job context; the final state write must still
	// land.
	if ctx.Err() != nil {
		ctx = context.Background()
	}
	return s.store.UpdateScheduledJob(ctx, job.ID, store.ScheduledJobUpdate{
		LastRunAt:     &now,
		NextRunAt:     &next,
		LastRunStatus: status,
	})
}

// tryAcquire marks the job in-flight; false if it already is.
func (s *Scheduler) tryAcquire(jobID string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[jobID]; ok {
		return false
	}
	s.inflight[jobID] = struct{}{}
	return true
}

func (s *Scheduler) release(jobID string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, jobID)
}

// NextRun computes the next fire time for a cron expression.
func (s *Scheduler) NextRun(cronExpr string, from time.Time) (time.Time, error) {
	schedule, err := s.parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	return schedule.Next(from), nil
}

// Stop halts polling and waits for in-flight runs to settle.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}

	s.cancel()
	<-s.done
	s.pool.Shutdown()
	s.cancel = nil
	s.done = nil
	s.pool = nil

	s.logger.Info("scheduler stopped")
	return nil
}

// RecoverMissed runs jobs whose next_run_at passed while the process was
// down. Runs are serial; call before Start.
func (s *Scheduler) RecoverMissed(ctx context.Context) error {
	enabled := true
	jobs, err := s.store.ListScheduledJobs(ctx, store.ScheduledJobFilter{Enabled: &enabled})
	if err != nil {
		return fmt.Errorf("list missed jobs: %w", err)
	}

	now := time.Now().UTC()
	recovered := 0
	for _, job := range jobs {
		if job.NextRunAt == nil || !job.NextRunAt.Before(now) {
			continue
		}
		if !s.tryAcquire(job.ID) {
			continue
		}
		err := s.runJob(ctx, job, now)
		s.release(job.ID)
		if err != nil {
			s.logger.Error("recover missed job failed",
				slog.String("job_id", job.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		recovered++
	}

	if recovered > 0 {
		s.logger.Info("recovered missed jobs", slog.Int("count", recovered))
	}
	return nil
}
