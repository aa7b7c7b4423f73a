package app

import (
	"context"
	"sync"
	"time"

	"cvadapt/internal/billing/ports"
)

// HealthStatus of a component.
type HealthStatus string

const (
	HealthStatusReady    HealthStatus = "ready"
	HealthStatusDisabled HealthStatus = "disabled"
	HealthStatusError    HealthStatus = "error"
)

// ComponentHealth is the result of one probe.
type ComponentHealth struct {
	Name    string         `json:"name"`
	Status  HealthStatus   `json:"status"`
	Message string         `json:"message,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// HealthProbe checks one dependency.
type HealthProbe interface {
	Check(ctx context.Context) ComponentHealth
}

// HealthChecker aggregates health probes for all components.
type HealthChecker struct {
	probes []HealthProbe
	mu     sync.RWMutex
}

// NewHealthChecker creates a new health checker.
func NewHealthChecker() *HealthChecker {
	return &HealthChecker{}
}

// RegisterProbe adds a health probe.
func (h *HealthChecker) RegisterProbe(probe HealthProbe) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.probes = append(h.probes, probe)
}

// CheckAll returns health status for all components.
func (h *HealthChecker) CheckAll(ctx context.Context) []ComponentHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()

	results := make([]ComponentHealth, 0, len(h.probes))
	for _, probe := range h.probes {
		results = append(results, probe.Check(ctx))
	}
	return results
}

// StoreProbe reads a sentinel key from the ledger store.
type StoreProbe struct {
	store   ports.LedgerStore
	backend string
}

// NewStoreProbe creates a probe for the configured store backend.
func NewStoreProbe(store ports.LedgerStore, backend string) *StoreProbe {
	return &StoreProbe{store: store, backend: backend}
}

func (p *StoreProbe) Check(ctx context.Context) ComponentHealth {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	started := time.Now()
	if _, _, err := p.store.LoadAccount(ctx, "__health__"); err != nil {
		return ComponentHealth{
			Name:    "store",
			Status:  HealthStatusError,
			Message: err.Error(),
			Details: map[string]any{"backend": p.backend},
		}
	}
	return ComponentHealth{
		Name:   "store",
		Status: HealthStatusReady,
		Details: map[string]any{
			"backend":    p.backend,
			"latency_ms": time.Since(started).Milliseconds(),
		},
	}
}

// ConfiguredProbe reports whether an optional collaborator has credentials.
type ConfiguredProbe struct {
	name       string
	configured bool
}

// NewConfiguredProbe creates a probe that only reflects configuration.
func NewConfiguredProbe(name string, configured bool) *ConfiguredProbe {
	return &ConfiguredProbe{name: name, configured: configured}
}

func (p *ConfiguredProbe) Check(context.Context) ComponentHealth {
	if !p.configured {
		return ComponentHealth{Name: p.name, Status: HealthStatusDisabled, Message: "not configured"}
	}
	return ComponentHealth{Name: p.name, Status: HealthStatusReady}
}
