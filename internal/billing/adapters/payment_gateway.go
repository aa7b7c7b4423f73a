package adapters

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"cvadapt/internal/billing/domain"
	"cvadapt/internal/billing/ports"
	apperrors "cvadapt/internal/errors"
)

// FakePaymentGateway satisfies ports.PaymentGateway for local/test usage.
// Sessions start unpaid; MarkPaid flips them.
type FakePaymentGateway struct {
	mu         sync.Mutex
	sessions   map[string]domain.CheckoutSession
	requests   []domain.CheckoutRequest
	retrievals int
}

// NewFakePaymentGateway constructs an in-memory gateway facade.
func NewFakePaymentGateway() *FakePaymentGateway {
	return &FakePaymentGateway{sessions: map[string]domain.CheckoutSession{}}
}

func (g *FakePaymentGateway) CreateCheckoutSession(_ context.Context, req domain.CheckoutRequest) (domain.CheckoutSession, error) {
	if req.PriceID == "" {
		return domain.CheckoutSession{}, fmt.Errorf("price id required")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	id := "cs_test_" + uuid.NewString()
	metadata := make(map[string]string, len(req.Metadata))
	for k, v := range req.Metadata {
		metadata[k] = v
	}
	session := domain.CheckoutSession{
		ID:            id,
		URL:           "https://checkout.example.test/pay/" + id,
		PaymentStatus: domain.PaymentStatusUnpaid,
		Metadata:      metadata,
	}
	g.sessions[id] = session
	g.requests = append(g.requests, req)
	return session, nil
}

func (g *FakePaymentGateway) RetrieveCheckoutSession(_ context.Context, sessionID string) (domain.CheckoutSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.retrievals++
	session, ok := g.sessions[sessionID]
	if !ok {
		return domain.CheckoutSession{}, apperrors.Collaborator("stripe", 404, "No such checkout.session: "+sessionID, nil)
	}
	return session, nil
}

// PutSession registers or replaces a session as the provider would report it.
func (g *FakePaymentGateway) PutSession(session domain.CheckoutSession) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sessions[session.ID] = session
}

// MarkPaid sets the payment status of an existing session to paid.
func (g *FakePaymentGateway) MarkPaid(sessionID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	session, ok := g.sessions[sessionID]
	if !ok {
		return false
	}
	session.PaymentStatus = domain.PaymentStatusPaid
	g.sessions[sessionID] = session
	return true
}

// Requests returns a copy of the checkout requests received so far.
func (g *FakePaymentGateway) Requests() []domain.CheckoutRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]domain.CheckoutRequest, len(g.requests))
	copy(out, g.requests)
	return out
}

// Retrievals counts RetrieveCheckoutSession calls.
func (g *FakePaymentGateway) Retrievals() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.retrievals
}

var _ ports.PaymentGateway = (*FakePaymentGateway)(nil)
