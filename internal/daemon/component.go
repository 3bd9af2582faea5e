package daemon

import (
	"context"
)

type HealthStatus string

const (
	StatusStarting HealthStatus = "starting"
	StatusRunning  HealthStatus = "running"
	StatusStopping HealthStatus = "stopping"
	StatusStopped  HealthStatus = "stopped"
)

type ComponentHealth struct {
	Name    string            `json:"name"`
	Healthy bool              `json:"healthy"`
	Error   error             `json:"-"`
	Details map[string]string `json:"details,omitempty"`
}

// With records a detail such as a queue depth or the database state.
func (h *ComponentHealth) With(key, value string) *ComponentHealth {
	if h.Details == nil {
		h.Details = make(map[string]string)
	}
	h.Details[key] = value
	return h
}

// Component is one long-lived part of the server. Components are
// initialized in dependency order and stopped in reverse registration order.
type Component interface {
	Name() string
	Dependencies() []string
	Init(ctx context.Context) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Health(ctx context.Context) (*ComponentHealth, error)
}

func Healthy(name string) *ComponentHealth {
	return &ComponentHealth{Name: name, Healthy: true}
}

func Unhealthy(name string, err error) *ComponentHealth {
	return &ComponentHealth{Name: name, Healthy: false, Error: err}
}
