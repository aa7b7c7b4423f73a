package ports

import (
	"context"

	"cvadapt/internal/billing/domain"
)

// MutateFunc derives the commit for an account. current is nil when the
// account does not exist yet. Optimistic backends may call it more than once,
// so it must not have side effects.
type MutateFunc func(current *domain.Account) (domain.Mutation, error)

// LedgerStore persists accounts, the transaction log and settlement markers.
// Every method is all-or-nothing per call.
type LedgerStore interface {
	LoadAccount(ctx context.Context, userID string) (domain.Account, bool, error)
	// CreateAccount inserts the account unless one exists and returns the stored record.
	CreateAccount(ctx context.Context, account domain.Account) (domain.Account, error)
	// Commit writes the account, appends the transaction and claims the
	// settlement key as one unit. A claimed key yields domain.ErrSessionAlreadySettled.
	Commit(ctx context.Context, userID string, mutate MutateFunc) (domain.Account, error)
	SessionSettled(ctx context.Context, sessionID string) (bool, error)
	// ListTransactions returns the user's transactions newest first; limit <= 0 means all.
	ListTransactions(ctx context.Context, userID string, limit int) ([]domain.Transaction, error)
	Close() error
}

// PaymentGateway encapsulates the hosted checkout provider.
type PaymentGateway interface {
	CreateCheckoutSession(ctx context.Context, req domain.CheckoutRequest) (domain.CheckoutSession, error)
	RetrieveCheckoutSession(ctx context.Context, sessionID string) (domain.CheckoutSession, error)
}

// EventPublisher fans committed ledger events out to other systems.
type EventPublisher interface {
	PublishCreditEvent(ctx context.Context, event domain.CreditEvent) error
}
