package domain

import (
	"errors"
	"time"
)

// DefaultStartingCredits is granted to an account the first time it is seen.
const DefaultStartingCredits int64 = 3

// ErrSessionAlreadySettled is returned by a store commit whose settlement key
// was already consumed. Nothing is written in that case.
var ErrSessionAlreadySettled = errors.New("payment session already settled")

// Account is the denormalized per-user balance.
type Account struct {
	UserID    string    `json:"-"`
	Credits   int64     `json:"credits"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewAccount provisions an account with the given starting balance.
func NewAccount(userID string, credits int64, now time.Time) Account {
	if credits < 0 {
		credits = 0
	}
	return Account{
		UserID:    userID,
		Credits:   credits,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Reason tags a transaction.
type Reason string

const (
	// ReasonGeneration debits one credit per résumé generation.
	ReasonGeneration Reason = "cv_generation"
	// ReasonPurchase credits a settled checkout session.
	ReasonPurchase Reason = "stripe_checkout"
	// ReasonManual is an operator adjustment from the CLI.
	ReasonManual Reason = "manual_adjustment"
)

// Transaction is an append-only audit record. Delta is the requested change,
// not the clamped one.
type Transaction struct {
	ID        string         `json:"id"`
	UserID    string         `json:"userId"`
	Delta     int64          `json:"delta"`
	Reason    Reason         `json:"reason"`
	Metadata  map[string]any `json:"metadata"`
	CreatedAt time.Time      `json:"createdAt"`
}

// Mutation is what a store commit writes as one unit.
type Mutation struct {
	Account     Account
	Transaction Transaction
	// SettlementKey, when set, is claimed as an idempotency marker in the same commit.
	SettlementKey string
}

// CloneMetadata returns a shallow copy that is never nil.
func CloneMetadata(meta map[string]any) map[string]any {
	if meta == nil {
		return map[string]any{}
	}
	cloned := make(map[string]any, len(meta))
	for key, value := range meta {
		cloned[key] = value
	}
	return cloned
}

// CloneTransaction copies the metadata map so callers cannot alias stored records.
func CloneTransaction(tx Transaction) Transaction {
	tx.Metadata = CloneMetadata(tx.Metadata)
	return tx
}
