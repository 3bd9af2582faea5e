// Package scheduler runs periodic housekeeping for a workspace.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/harunnryd/inspect/internal/config"
	apperrors "github.com/harunnryd/inspect/internal/errors"

	"github.com/robfig/cron/v3"
)

// Job is one housekeeping task.
type Job struct {
	Name string
	Run  func(ctx context.Context) error
}

type Scheduler struct {
	schedule        string
	shutdownTimeout time.Duration
	jobs            []Job

	mu      sync.RWMutex
	cron    *cron.Cron
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
	lastRun time.Time
	lastErr error
}

func NewScheduler(cfg config.MaintenanceConfig, shutdownTimeout time.Duration, jobs ...Job) (*Scheduler, error) {
	schedule := cfg.Schedule
	if schedule == "" {
		schedule = config.DefaultMaintenanceSchedule
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid maintenance schedule %q: %w", schedule, err)
	}
	if shutdownTimeout <= 0 {
		shutdownTimeout = config.MustDuration(config.DefaultDaemonShutdownTimeout)
	}
	return &Scheduler{
		schedule:        schedule,
		shutdownTimeout: shutdownTimeout,
		jobs:            jobs,
	}, nil
}

func (s *Scheduler) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron = cron.New(cron.WithChain(cron.Recover(cron.DiscardLogger)))
	if _, err := s.cron.AddFunc(s.schedule, func() { s.RunOnce(s.ctx) }); err != nil {
		return fmt.Errorf("register maintenance job: %w", err)
	}

	slog.Info("Scheduler initialized", "schedule", s.schedule, "jobs", len(s.jobs))
	return nil
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	if s.cron == nil {
		return apperrors.Internal("scheduler not initialized", nil)
	}
	s.cron.Start()
	s.running = true
	slog.Info("Scheduler started")
	return nil
}

// Stop cancels the job context and waits for a running pass to finish.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.cancel()
	done := s.cron.Stop().Done()
	s.mu.Unlock()

	select {
	case <-done:
		slog.Info("Scheduler stopped gracefully")
		return nil
	case <-time.After(s.shutdownTimeout):
		slog.Warn("Scheduler shutdown timeout, force stopping")
		return apperrors.New(apperrors.ErrTransient, "scheduler shutdown timeout")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) Health(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cron == nil {
		return apperrors.Internal("scheduler not initialized", nil)
	}
	if !s.running {
		return apperrors.Internal("scheduler not running", nil)
	}
	return nil
}

func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// LastRun reports when the last pass finished and the first error it hit.
func (s *Scheduler) LastRun() (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastRun, s.lastErr
}

// RunOnce runs every job in order. A failing job does not stop the others.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	var first error
	for _, job := range s.jobs {
		if ctx.Err() != nil {
			break
		}
		start := time.Now()
		if err := job.Run(ctx); err != nil {
			slog.Error("Maintenance job failed", "job", job.Name, "error", err)
			if first == nil {
				first = fmt.Errorf("%s: %w", job.Name, err)
			}
			continue
		}
		slog.Debug("Maintenance job done", "job", job.Name, "duration", time.Since(start))
	}

	s.mu.Lock()
	s.lastRun = time.Now()
	s.lastErr = first
	s.mu.Unlock()
	return first
}
