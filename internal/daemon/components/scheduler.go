package components

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/harunnryd/inspect/internal/config"
	"github.com/harunnryd/inspect/internal/daemon"
	"github.com/harunnryd/inspect/internal/scheduler"
)

type SchedulerComponent struct {
	cfg       *config.Config
	storeComp *StoreComponent
	sched     *scheduler.Scheduler
	mu        sync.RWMutex
}

func NewSchedulerComponent(cfg *config.Config, storeComp *StoreComponent) *SchedulerComponent {
	return &SchedulerComponent{cfg: cfg, storeComp: storeComp}
}

func (s *SchedulerComponent) Name() string {
	return "Scheduler"
}

func (s *SchedulerComponent) Dependencies() []string {
	return []string{"Store"}
}

func (s *SchedulerComponent) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.cfg.Maintenance.Enabled {
		slog.Info("Maintenance disabled", "component", s.Name())
		return nil
	}
	if s.storeComp == nil || s.storeComp.Manager() == nil {
		return fmt.Errorf("store not initialized")
	}
	manager := s.storeComp.Manager()

	shutdownTimeout, err := config.DurationOrDefault(s.cfg.Daemon.ShutdownTimeout, config.DefaultDaemonShutdownTimeout)
	if err != nil {
		return fmt.Errorf("parse daemon shutdown timeout: %w", err)
	}

	sched, err := scheduler.NewScheduler(s.cfg.Maintenance, shutdownTimeout,
		scheduler.PruneClaims(manager.Claims()),
		scheduler.CheckpointStore(manager),
	)
	if err != nil {
		return err
	}
	// The scheduler outlives Init's context.
	if err := sched.Init(context.WithoutCancel(ctx)); err != nil {
		return err
	}
	s.sched = sched
	return nil
}

func (s *SchedulerComponent) Start(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.sched == nil {
		return nil
	}
	return s.sched.Start(ctx)
}

func (s *SchedulerComponent) Stop(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.sched == nil {
		return nil
	}
	return s.sched.Stop(ctx)
}

func (s *SchedulerComponent) Health(ctx context.Context) (*daemon.ComponentHealth, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.sched == nil {
		return daemon.Healthy(s.Name()), nil
	}
	if err := s.sched.Health(ctx); err != nil {
		return daemon.Unhealthy(s.Name(), err), nil
	}
	if _, lastErr := s.sched.LastRun(); lastErr != nil {
		return daemon.Unhealthy(s.Name(), lastErr), nil
	}
	return daemon.Healthy(s.Name()), nil
}
