// Package settlement turns completed checkout sessions into credit grants,
// at most once per session.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"

	"cvadapt/internal/billing/domain"
	"cvadapt/internal/billing/ports"
	apperrors "cvadapt/internal/errors"
	"cvadapt/internal/observability"
)

// Ledger is the slice of the credit ledger settlement needs.
type Ledger interface {
	GetBalance(ctx context.Context, userID string) (int64, error)
	AdjustOnce(ctx context.Context, userID string, delta int64, reason domain.Reason, metadata map[string]any, key string) (int64, bool, error)
}

// MarkerReader reports whether a session was already settled.
type MarkerReader interface {
	SessionSettled(ctx context.Context, sessionID string) (bool, error)
}

// Config holds checkout settings.
type Config struct {
	// BaseURL is the front-end origin used for the redirect URLs.
	BaseURL string
	// Prices maps each package to the provider price id.
	Prices map[domain.PackageID]string
	// ReconcileTimeout bounds one shared reconciliation. Defaults to 30s.
	ReconcileTimeout time.Duration
}

const defaultReconcileTimeout = 30 * time.Second

// Outcome labels for settlement metrics.
const (
	OutcomeApplied        = "applied"
	OutcomeAlreadyApplied = "already_applied"
	OutcomeNotPaid        = "not_paid"
	OutcomeInvalid        = "invalid_metadata"
	OutcomeError          = "error"
)

// Result is what a reconciliation reports back to the caller.
type Result struct {
	Balance           int64
	Added             int64
	WasAlreadyApplied bool
}

// Service creates checkout sessions and reconciles them.
type Service struct {
	ledger  Ledger
	markers MarkerReader
	gateway ports.PaymentGateway
	config  Config
	flights singleflight.Group
	logger  *observability.Logger
	tracer  *observability.TracerProvider
	metrics *observability.CreditMetrics
}

// NewService wires settlement. gateway may be nil when payments are not configured.
func NewService(ledger Ledger, markers MarkerReader, gateway ports.PaymentGateway, cfg Config) *Service {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:5173"
	}
	if cfg.ReconcileTimeout <= 0 {
		cfg.ReconcileTimeout = defaultReconcileTimeout
	}
	return &Service{
		ledger:  ledger,
		markers: markers,
		gateway: gateway,
		config:  cfg,
		logger:  observability.NewNopLogger(),
	}
}

// AttachObservability wires logging, tracing and settlement counters.
func (s *Service) AttachObservability(obs *observability.Observability) {
	if obs == nil {
		return
	}
	s.logger = observability.OrNop(obs.Logger).With("component", "settlement")
	s.tracer = obs.Tracer
	s.metrics = obs.Credits
}

// Configured reports whether a payment gateway is available.
func (s *Service) Configured() bool {
	return s.gateway != nil
}

// CreateCheckout opens a hosted payment page for one credit package.
func (s *Service) CreateCheckout(ctx context.Context, userID, packageID string) (domain.CheckoutSession, error) {
	if s.gateway == nil {
		return domain.CheckoutSession{}, apperrors.Configuration("Stripe non configuré")
	}
	userID = strings.TrimSpace(userID)
	packageID = strings.TrimSpace(packageID)
	if userID == "" || packageID == "" {
		return domain.CheckoutSession{}, apperrors.Validation("userId et packageId requis")
	}
	pkg, ok := domain.LookupPackage(domain.PackageID(packageID))
	if !ok {
		return domain.CheckoutSession{}, apperrors.Validation("Pack invalide")
	}
	price := strings.TrimSpace(s.config.Prices[pkg.ID])
	if price == "" {
		return domain.CheckoutSession{}, apperrors.Configuration(pkg.PriceEnv + " manquant")
	}

	ctx, span := s.tracer.StartSpan(ctx, observability.SpanCheckoutCreate,
		attribute.String("cvadapt.package_id", string(pkg.ID)),
	)
	defer span.End()

	session, err := s.gateway.CreateCheckoutSession(ctx, domain.CheckoutRequest{
		PriceID:  price,
		Quantity: 1,
		Metadata: map[string]string{
			domain.MetadataUserID:    userID,
			domain.MetadataPackageID: string(pkg.ID),
			domain.MetadataCredits:   strconv.FormatInt(pkg.Credits, 10),
		},
		SuccessURL: s.config.BaseURL + "/?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:  s.config.BaseURL + "/",
	})
	if err != nil {
		span.SetAttributes(observability.ErrorAttrs(err)...)
		return domain.CheckoutSession{}, asCollaborator(err, "Erreur Stripe")
	}
	s.metrics.RecordCheckout(string(pkg.ID))
	s.logger.InfoContext(ctx, "checkout session created", "session", session.ID, "package", pkg.ID)
	return session, nil
}

// Reconcile credits the user for a paid session exactly once. Concurrent
// calls for the same user and session share one execution; across processes
// the store's atomic settlement key decides the winner.
func (s *Service) Reconcile(ctx context.Context, userID, sessionID string) (Result, error) {
	if s.gateway == nil {
		return Result{}, apperrors.Configuration("Stripe non configuré")
	}
	userID = strings.TrimSpace(userID)
	sessionID = strings.TrimSpace(sessionID)
	if userID == "" || sessionID == "" {
		return Result{}, apperrors.Validation("userId et sessionId requis")
	}

	// The shared call outlives any single caller so a disconnect does not fail
	// the others waiting on the same session.
	ch := s.flights.DoChan(userID+"\x00"+sessionID, func() (any, error) {
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.ReconcileTimeout)
		defer cancel()
		return s.reconcile(flightCtx, userID, sessionID)
	})
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Result{}, res.Err
		}
		return res.Val.(Result), nil
	}
}

func (s *Service) reconcile(ctx context.Context, userID, sessionID string) (result Result, err error) {
	ctx, span := s.tracer.StartSpan(ctx, observability.SpanSettlement,
		attribute.String(observability.AttrSessionID, sessionID),
	)
	started := time.Now()
	outcome := OutcomeError
	defer func() {
		span.SetAttributes(attribute.String(observability.AttrOutcome, outcome))
		if err != nil {
			span.SetAttributes(observability.ErrorAttrs(err)...)
		}
		span.End()
		s.metrics.RecordSettlement(outcome)
		s.logger.InfoContext(ctx, "settlement finished",
			"session", sessionID,
			"outcome", outcome,
			"latency_ms", time.Since(started).Milliseconds(),
		)
	}()

	settled, err := s.markers.SessionSettled(ctx, sessionID)
	if err != nil {
		return Result{}, fmt.Errorf("check session %s: %w", sessionID, err)
	}
	if settled {
		balance, err := s.ledger.GetBalance(ctx, userID)
		if err != nil {
			return Result{}, err
		}
		outcome = OutcomeAlreadyApplied
		return Result{Balance: balance, WasAlreadyApplied: true}, nil
	}

	session, err := s.gateway.RetrieveCheckoutSession(ctx, sessionID)
	if err != nil {
		return Result{}, asCollaborator(err, "Erreur confirmation paiement")
	}
	if session.PaymentStatus != domain.PaymentStatusPaid {
		outcome = OutcomeNotPaid
		return Result{}, apperrors.ErrPaymentNotCompleted
	}
	credits, packageID, err := validateMetadata(session.Metadata, userID)
	if err != nil {
		outcome = OutcomeInvalid
		return Result{}, err
	}

	balance, applied, err := s.ledger.AdjustOnce(ctx, userID, credits, domain.ReasonPurchase, map[string]any{
		"sessionId": sessionID,
		"packageId": packageID,
	}, sessionID)
	if err != nil {
		return Result{}, err
	}
	if !applied {
		outcome = OutcomeAlreadyApplied
		return Result{Balance: balance, WasAlreadyApplied: true}, nil
	}
	outcome = OutcomeApplied
	return Result{Balance: balance, Added: credits}, nil
}

// validateMetadata checks the session belongs to userID and carries a
// positive credit amount.
func validateMetadata(metadata map[string]string, userID string) (int64, string, error) {
	if metadata[domain.MetadataUserID] != userID {
		return 0, "", apperrors.ErrInvalidSettlementMetadata
	}
	credits, err := strconv.ParseInt(strings.TrimSpace(metadata[domain.MetadataCredits]), 10, 64)
	if err != nil || credits <= 0 {
		return 0, "", apperrors.ErrInvalidSettlementMetadata
	}
	return credits, metadata[domain.MetadataPackageID], nil
}

func asCollaborator(err error, fallback string) error {
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return apperrors.Collaborator("stripe", 0, fallback, err)
	}
	return apperrors.Collaborator("stripe", 0, err.Error(), err)
}
