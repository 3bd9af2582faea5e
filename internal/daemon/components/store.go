package components

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/harunnryd/inspect/internal/config"
	"github.com/harunnryd/inspect/internal/daemon"
	"github.com/harunnryd/inspect/internal/store"
)

type StoreComponent struct {
	workspaceID string
	storeCfg    *config.StoreConfig
	manager     *store.Manager
	initialized bool
	started     bool
	mu          sync.RWMutex
}

func NewStoreComponent(workspaceID string, storeCfg *config.StoreConfig) *StoreComponent {
	return &StoreComponent{workspaceID: workspaceID, storeCfg: storeCfg}
}

func (s *StoreComponent) Name() string {
	return "Store"
}

func (s *StoreComponent) Dependencies() []string {
	return []string{}
}

func (s *StoreComponent) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("store init cancelled: %w", err)
	}

	cfg := config.StoreConfig{}
	if s.storeCfg != nil {
		cfg = *s.storeCfg
	}
	runtimeCfg, err := store.RuntimeConfigFrom(cfg)
	if err != nil {
		return fmt.Errorf("store config: %w", err)
	}

	manager, err := store.NewManager(s.workspaceID, cfg.WorkspacePath, runtimeCfg)
	if err != nil {
		return fmt.Errorf("open session store for workspace %s: %w", s.workspaceID, err)
	}

	s.manager = manager
	s.initialized = true
	slog.Info("Store initialized", "component", s.Name(), "workspace", s.workspaceID, "path", manager.BasePath())
	return nil
}

// Start is a no-op: session workers start lazily on first use.
func (s *StoreComponent) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return fmt.Errorf("store not initialized")
	}
	s.started = true
	return nil
}

func (s *StoreComponent) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.manager == nil {
		return nil
	}
	s.manager.Stop()
	s.started = false
	slog.Info("Store stopped", "component", s.Name())
	return nil
}

func (s *StoreComponent) Health(ctx context.Context) (*daemon.ComponentHealth, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	switch {
	case !s.initialized:
		return daemon.Unhealthy(s.Name(), fmt.Errorf("not initialized")), nil
	case !s.started:
		return daemon.Unhealthy(s.Name(), fmt.Errorf("not started")), nil
	case !s.manager.IsLockHeld():
		return daemon.Unhealthy(s.Name(), fmt.Errorf("lock not held")).With("workspace", s.workspaceID), nil
	}

	var health *daemon.ComponentHealth
	if err := s.manager.Ping(ctx); err != nil {
		health = daemon.Unhealthy(s.Name(), fmt.Errorf("database unreachable: %w", err)).With("database", "unreachable")
	} else {
		health = daemon.Healthy(s.Name()).With("database", "ok")
	}
	return health.
		With("workspace", s.workspaceID).
		With("active_workers", strconv.Itoa(s.manager.ActiveWorkers())).
		With("publish_claims", strconv.Itoa(s.manager.Claims().Active())), nil
}

func (s *StoreComponent) Manager() *store.Manager {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.manager
}
