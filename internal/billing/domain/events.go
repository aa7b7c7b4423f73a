package domain

import "time"

// CreditEventType enumerates ledger events.
type CreditEventType string

const (
	// CreditEventCredited fires when delta > 0 is committed.
	CreditEventCredited CreditEventType = "credits.credited"
	// CreditEventDebited fires when delta <= 0 is committed.
	CreditEventDebited CreditEventType = "credits.debited"
)

// CreditEvent is broadcast after a committed adjustment.
type CreditEvent struct {
	Type          CreditEventType
	Transaction   Transaction
	BalanceBefore int64
	BalanceAfter  int64
	OccurredAt    time.Time
}

// Clamped reports whether the floor at zero absorbed part of the delta.
func (e CreditEvent) Clamped() bool {
	return e.BalanceBefore+e.Transaction.Delta != e.BalanceAfter
}
