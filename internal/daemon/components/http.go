package components

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/harunnryd/inspect/internal/config"
	"github.com/harunnryd/inspect/internal/daemon"
	"github.com/harunnryd/inspect/internal/ingress"
)

type HTTPServerComponent struct {
	cfg           *config.ServerConfig
	storeComp     *StoreComponent
	publisherComp *PublisherComponent
	server        *http.Server
	listener      net.Listener
	shutdownTTL   time.Duration
	initialized   bool
	started       bool
	mu            sync.RWMutex
}

func NewHTTPServerComponent(cfg *config.ServerConfig, storeComp *StoreComponent, publisherComp *PublisherComponent) *HTTPServerComponent {
	return &HTTPServerComponent{cfg: cfg, storeComp: storeComp, publisherComp: publisherComp}
}

func (h *HTTPServerComponent) Name() string {
	return "HTTPServer"
}

func (h *HTTPServerComponent) Dependencies() []string {
	return []string{"Store", "Publisher"}
}

func (h *HTTPServerComponent) Init(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.storeComp == nil || h.publisherComp == nil {
		return fmt.Errorf("required component dependencies not provided")
	}
	manager := h.storeComp.Manager()
	orchestrator := h.publisherComp.Orchestrator()
	if manager == nil || orchestrator == nil {
		return fmt.Errorf("required dependencies not initialized")
	}

	readTimeout, err := config.DurationOrDefault(h.cfg.ReadTimeout, config.DefaultServerReadTimeout)
	if err != nil {
		return fmt.Errorf("parse server read timeout: %w", err)
	}
	writeTimeout, err := config.DurationOrDefault(h.cfg.WriteTimeout, config.DefaultServerWriteTimeout)
	if err != nil {
		return fmt.Errorf("parse server write timeout: %w", err)
	}
	idleTimeout, err := config.DurationOrDefault(h.cfg.IdleTimeout, config.DefaultServerIdleTimeout)
	if err != nil {
		return fmt.Errorf("parse server idle timeout: %w", err)
	}
	shutdownTimeout, err := config.DurationOrDefault(h.cfg.ShutdownTimeout, config.DefaultServerShutdownTimeout)
	if err != nil {
		return fmt.Errorf("parse server shutdown timeout: %w", err)
	}

	h.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", h.cfg.Port),
		Handler:      ingress.NewHandler(manager, orchestrator),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}
	h.shutdownTTL = shutdownTimeout
	h.initialized = true
	slog.Info("HTTPServer initialized", "component", h.Name(), "port", h.cfg.Port)
	return nil
}

func (h *HTTPServerComponent) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.initialized {
		return fmt.Errorf("HTTPServer not initialized")
	}

	ln, err := net.Listen("tcp", h.server.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", h.server.Addr, err)
	}
	h.listener = ln

	go func() {
		slog.Info("HTTP server listening", "component", h.Name(), "addr", ln.Addr().String())
		if err := h.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server failed", "component", h.Name(), "error", err)
		}
	}()

	h.started = true
	return nil
}

func (h *HTTPServerComponent) Stop(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.started {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, h.shutdownTTL)
	defer cancel()
	if err := h.server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTPServer shutdown error", "component", h.Name(), "error", err)
		return err
	}

	h.started = false
	slog.Info("HTTPServer stopped", "component", h.Name())
	return nil
}

func (h *HTTPServerComponent) Health(ctx context.Context) (*daemon.ComponentHealth, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if !h.initialized {
		return daemon.Unhealthy(h.Name(), fmt.Errorf("not initialized")), nil
	}
	if !h.started {
		return daemon.Unhealthy(h.Name(), fmt.Errorf("not started")), nil
	}
	return daemon.Healthy(h.Name()), nil
}

// Addr returns the bound listen address once started.
func (h *HTTPServerComponent) Addr() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.listener == nil {
		return ""
	}
	return h.listener.Addr().String()
}
