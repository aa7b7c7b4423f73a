package adapters

import (
	"context"
	"sync"

	"cvadapt/internal/billing/domain"
	"cvadapt/internal/billing/ports"
)

// MemoryEventPublisher collects emitted events for inspection in tests or local dev.
type MemoryEventPublisher struct {
	mu     sync.Mutex
	events []domain.CreditEvent
}

// NewMemoryEventPublisher constructs an in-memory publisher that satisfies ports.EventPublisher.
func NewMemoryEventPublisher() *MemoryEventPublisher {
	return &MemoryEventPublisher{}
}

// PublishCreditEvent appends the event to the in-memory slice.
func (m *MemoryEventPublisher) PublishCreditEvent(_ context.Context, event domain.CreditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

// CreditEvents returns a copy of the collected events.
func (m *MemoryEventPublisher) CreditEvents() []domain.CreditEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.CreditEvent, len(m.events))
	copy(out, m.events)
	return out
}

var _ ports.EventPublisher = (*MemoryEventPublisher)(nil)
