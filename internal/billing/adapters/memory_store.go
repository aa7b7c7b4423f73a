package adapters

import (
	"context"
	"sync"

	"cvadapt/internal/billing/domain"
	"cvadapt/internal/billing/ports"
)

// ledgerState is the whole local dataset. Its JSON shape is the one the file
// backend writes to disk.
type ledgerState struct {
	Users              map[string]domain.Account `json:"users"`
	UsedStripeSessions map[string]bool           `json:"usedStripeSessions"`
	Transactions       []domain.Transaction      `json:"transactions"`
}

func newLedgerState() ledgerState {
	return ledgerState{
		Users:              map[string]domain.Account{},
		UsedStripeSessions: map[string]bool{},
		Transactions:       []domain.Transaction{},
	}
}

// MemoryLedgerStore keeps every record in process memory. It is the default
// backend and is reset on restart.
type MemoryLedgerStore struct {
	mu    sync.RWMutex
	state ledgerState
	// persist runs under the write lock after each mutation; a failure reverts it.
	persist func(ledgerState) error
}

// NewMemoryLedgerStore creates an empty in-memory store.
func NewMemoryLedgerStore() *MemoryLedgerStore {
	return &MemoryLedgerStore{state: newLedgerState()}
}

func (s *MemoryLedgerStore) LoadAccount(ctx context.Context, userID string) (domain.Account, bool, error) {
	if err := ctx.Err(); err != nil {
		return domain.Account{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	acct, ok := s.state.Users[userID]
	return acct, ok, nil
}

func (s *MemoryLedgerStore) CreateAccount(ctx context.Context, account domain.Account) (domain.Account, error) {
	if err := ctx.Err(); err != nil {
		return domain.Account{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.state.Users[account.UserID]; ok {
		return existing, nil
	}
	s.state.Users[account.UserID] = account
	if err := s.flush(); err != nil {
		delete(s.state.Users, account.UserID)
		return domain.Account{}, err
	}
	return account, nil
}

func (s *MemoryLedgerStore) Commit(ctx context.Context, userID string, mutate ports.MutateFunc) (domain.Account, error) {
	if err := ctx.Err(); err != nil {
		return domain.Account{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, hadPrev := s.state.Users[userID]
	var current *domain.Account
	if hadPrev {
		snapshot := prev
		current = &snapshot
	}
	m, err := mutate(current)
	if err != nil {
		return domain.Account{}, err
	}
	key := m.SettlementKey
	if key != "" && s.state.UsedStripeSessions[key] {
		return domain.Account{}, domain.ErrSessionAlreadySettled
	}

	m.Account.UserID = userID
	s.state.Users[userID] = m.Account
	s.state.Transactions = append(s.state.Transactions, domain.CloneTransaction(m.Transaction))
	if key != "" {
		s.state.UsedStripeSessions[key] = true
	}

	if err := s.flush(); err != nil {
		if hadPrev {
			s.state.Users[userID] = prev
		} else {
			delete(s.state.Users, userID)
		}
		s.state.Transactions = s.state.Transactions[:len(s.state.Transactions)-1]
		if key != "" {
			delete(s.state.UsedStripeSessions, key)
		}
		return domain.Account{}, err
	}
	return m.Account, nil
}

func (s *MemoryLedgerStore) SessionSettled(ctx context.Context, sessionID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.UsedStripeSessions[sessionID], nil
}

func (s *MemoryLedgerStore) ListTransactions(ctx context.Context, userID string, limit int) ([]domain.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := []domain.Transaction{}
	for i := len(s.state.Transactions) - 1; i >= 0; i-- {
		tx := s.state.Transactions[i]
		if tx.UserID != userID {
			continue
		}
		result = append(result, domain.CloneTransaction(tx))
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
}

func (s *MemoryLedgerStore) Close() error {
	return nil
}

func (s *MemoryLedgerStore) flush() error {
	if s.persist == nil {
		return nil
	}
	return s.persist(s.state)
}

var _ ports.LedgerStore = (*MemoryLedgerStore)(nil)
