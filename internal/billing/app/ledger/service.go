package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"cvadapt/internal/billing/domain"
	"cvadapt/internal/billing/ports"
	apperrors "cvadapt/internal/errors"
	"cvadapt/internal/observability"
)

// Config controls ledger defaults.
type Config struct {
	// StartingCredits is granted when an unseen user is provisioned.
	// Nil means domain.DefaultStartingCredits; an explicit zero is honored.
	StartingCredits *int64
}

// Service owns the per-user balance and its transaction log. The balance is
// stored on the account and advanced in the same store commit as the log
// entry; it is never recomputed from the log.
type Service struct {
	store   ports.LedgerStore
	events  ports.EventPublisher
	logger  *observability.Logger
	tracer  *observability.TracerProvider
	metrics *observability.CreditMetrics
	// starting is the resolved StartingCredits.
	starting int64
	now      func() time.Time
}

// NewService constructs the ledger service.
func NewService(store ports.LedgerStore, cfg Config) *Service {
	starting := domain.DefaultStartingCredits
	if cfg.StartingCredits != nil {
		starting = max(*cfg.StartingCredits, 0)
	}
	return &Service{
		store:    store,
		starting: starting,
		logger:   observability.NewNopLogger(),
		now:      time.Now,
	}
}

// WithNow injects a deterministic clock for tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// AttachPublisher wires the optional event publisher so committed adjustments propagate outward.
func (s *Service) AttachPublisher(publisher ports.EventPublisher) {
	s.events = publisher
}

// AttachObservability wires logging, tracing and credit counters.
func (s *Service) AttachObservability(obs *observability.Observability) {
	if obs == nil {
		return
	}
	s.logger = observability.OrNop(obs.Logger).With("component", "ledger")
	s.tracer = obs.Tracer
	s.metrics = obs.Credits
}

// StartingCredits reports the balance granted on provisioning.
func (s *Service) StartingCredits() int64 {
	return s.starting
}

// GetBalance returns the user's credits, provisioning the account on first sight.
func (s *Service) GetBalance(ctx context.Context, userID string) (int64, error) {
	acct, err := s.Account(ctx, userID)
	if err != nil {
		return 0, err
	}
	return acct.Credits, nil
}

// Account returns the full account record, provisioning it on first sight.
func (s *Service) Account(ctx context.Context, userID string) (domain.Account, error) {
	userID, err := normalizeUserID(userID)
	if err != nil {
		return domain.Account{}, err
	}
	acct, ok, err := s.store.LoadAccount(ctx, userID)
	if err != nil {
		return domain.Account{}, fmt.Errorf("load account %s: %w", userID, err)
	}
	if ok {
		acct.UserID = userID
		return acct, nil
	}
	created, err := s.store.CreateAccount(ctx, domain.NewAccount(userID, s.starting, s.now().UTC()))
	if err != nil {
		return domain.Account{}, fmt.Errorf("provision account %s: %w", userID, err)
	}
	created.UserID = userID
	s.logger.InfoContext(ctx, "account provisioned", "user", userID, "credits", created.Credits)
	return created, nil
}

// Adjust applies delta with a floor at zero and appends a transaction holding
// the requested delta. Over-debits clamp instead of failing; callers needing a
// hard guarantee check the balance first.
func (s *Service) Adjust(ctx context.Context, userID string, delta int64, reason domain.Reason, metadata map[string]any) (int64, error) {
	evt, err := s.commit(ctx, userID, delta, reason, metadata, "")
	if err != nil {
		return 0, err
	}
	return evt.BalanceAfter, nil
}

// AdjustOnce is Adjust keyed by an idempotency key claimed in the same store
// commit. When the key was already claimed nothing is written and the current
// balance is returned with applied=false.
func (s *Service) AdjustOnce(ctx context.Context, userID string, delta int64, reason domain.Reason, metadata map[string]any, key string) (balance int64, applied bool, err error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return 0, false, apperrors.Validation("idempotency key is required")
	}
	evt, err := s.commit(ctx, userID, delta, reason, metadata, key)
	if errors.Is(err, domain.ErrSessionAlreadySettled) {
		balance, err := s.GetBalance(ctx, userID)
		if err != nil {
			return 0, false, err
		}
		return balance, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return evt.BalanceAfter, true, nil
}

// History lists the user's transactions, newest first.
func (s *Service) History(ctx context.Context, userID string, limit int) ([]domain.Transaction, error) {
	userID, err := normalizeUserID(userID)
	if err != nil {
		return nil, err
	}
	txs, err := s.store.ListTransactions(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list transactions for %s: %w", userID, err)
	}
	return txs, nil
}

func (s *Service) commit(ctx context.Context, userID string, delta int64, reason domain.Reason, metadata map[string]any, key string) (domain.CreditEvent, error) {
	userID, err := normalizeUserID(userID)
	if err != nil {
		return domain.CreditEvent{}, err
	}
	if reason == "" {
		return domain.CreditEvent{}, apperrors.Validation("reason is required")
	}

	ctx, span := s.tracer.StartSpan(ctx, observability.SpanLedgerAdjust,
		attribute.Int64(observability.AttrDelta, delta),
		attribute.String(observability.AttrReason, string(reason)),
	)
	defer span.End()

	now := s.now().UTC()
	tx := domain.Transaction{
		ID:        uuid.NewString(),
		UserID:    userID,
		Delta:     delta,
		Reason:    reason,
		Metadata:  domain.CloneMetadata(metadata),
		CreatedAt: now,
	}

	// The closure may run more than once on optimistic backends; the last
	// run is the one committed.
	var before int64
	acct, err := s.store.Commit(ctx, userID, func(current *domain.Account) (domain.Mutation, error) {
		next := domain.NewAccount(userID, s.starting, now)
		if current != nil {
			next = *current
			next.UserID = userID
		}
		before = next.Credits
		next.Credits = clampedSum(next.Credits, delta)
		next.UpdatedAt = now
		return domain.Mutation{Account: next, Transaction: tx, SettlementKey: key}, nil
	})
	if err != nil {
		span.SetAttributes(observability.ErrorAttrs(err)...)
		if errors.Is(err, domain.ErrSessionAlreadySettled) {
			return domain.CreditEvent{}, err
		}
		return domain.CreditEvent{}, fmt.Errorf("commit adjustment for %s: %w", userID, err)
	}

	eventType := domain.CreditEventCredited
	if delta <= 0 {
		eventType = domain.CreditEventDebited
	}
	evt := domain.CreditEvent{
		Type:          eventType,
		Transaction:   tx,
		BalanceBefore: before,
		BalanceAfter:  acct.Credits,
		OccurredAt:    now,
	}
	s.metrics.RecordAdjustment(string(reason), delta, evt.Clamped())
	s.logger.InfoContext(ctx, "credits adjusted",
		"user", userID,
		"delta", delta,
		"reason", string(reason),
		"balance_before", before,
		"balance_after", acct.Credits,
	)
	s.publish(ctx, evt)
	return evt, nil
}

// publish never fails the adjustment; the commit already happened.
func (s *Service) publish(ctx context.Context, evt domain.CreditEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishCreditEvent(ctx, evt); err != nil {
		s.logger.WarnContext(ctx, "credit event publish failed", "transaction", evt.Transaction.ID, "error", err)
	}
}

// clampedSum returns max(0, balance+delta) without overflowing.
func clampedSum(balance, delta int64) int64 {
	sum := balance + delta
	if delta > 0 && sum < balance {
		return math.MaxInt64
	}
	if sum < 0 {
		return 0
	}
	return sum
}

func normalizeUserID(userID string) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", apperrors.Validation("userId requis")
	}
	return userID, nil
}
