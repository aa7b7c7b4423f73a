package adapters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"cvadapt/internal/billing/domain"
	"cvadapt/internal/billing/ports"
	"cvadapt/internal/jsonx"
)

// pgPool abstracts the subset of pgxpool.Pool used by the store for easier testing.
type pgPool interface {
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Close()
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS credit_accounts (
    user_id TEXT PRIMARY KEY,
    credits BIGINT NOT NULL CHECK (credits >= 0),
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS credit_transactions (
    seq BIGSERIAL PRIMARY KEY,
    id TEXT NOT NULL UNIQUE,
    user_id TEXT NOT NULL,
    delta BIGINT NOT NULL,
    reason TEXT NOT NULL,
    metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
    created_at TIMESTAMPTZ NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS credit_transactions_user_idx ON credit_transactions (user_id, seq DESC)`,
	`CREATE TABLE IF NOT EXISTS settled_sessions (
    session_id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    settled_at TIMESTAMPTZ NOT NULL
)`,
}

// PostgresLedgerStore persists the ledger in three tables. Commits hold a
// per-user advisory lock so provisioning and updates serialize even before
// the account row exists.
type PostgresLedgerStore struct {
	pool pgPool
}

// NewPostgresLedgerStore builds a store on an existing pool.
func NewPostgresLedgerStore(pool pgPool) (*PostgresLedgerStore, error) {
	if pool == nil {
		return nil, errors.New("postgres store requires pool")
	}
	return &PostgresLedgerStore{pool: pool}, nil
}

// OpenPostgresLedgerStore connects with dsn and applies the schema.
func OpenPostgresLedgerStore(ctx context.Context, dsn string) (*PostgresLedgerStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	store, err := NewPostgresLedgerStore(pool)
	if err != nil {
		pool.Close()
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// Migrate creates the tables when missing.
func (s *PostgresLedgerStore) Migrate(ctx context.Context) error {
	for _, stmt := range postgresSchema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate ledger schema: %w", err)
		}
	}
	return nil
}

func (s *PostgresLedgerStore) LoadAccount(ctx context.Context, userID string) (domain.Account, bool, error) {
	return scanPostgresAccount(s.pool.QueryRow(ctx,
		`SELECT credits, created_at, updated_at FROM credit_accounts WHERE user_id = $1`, userID), userID)
}

func (s *PostgresLedgerStore) CreateAccount(ctx context.Context, account domain.Account) (domain.Account, error) {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO credit_accounts (user_id, credits, created_at, updated_at) VALUES ($1, $2, $3, $4) ON CONFLICT (user_id) DO NOTHING`,
		account.UserID, account.Credits, account.CreatedAt, account.UpdatedAt)
	if err != nil {
		return domain.Account{}, fmt.Errorf("create account: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return account, nil
	}
	existing, ok, err := s.LoadAccount(ctx, account.UserID)
	if err != nil {
		return domain.Account{}, err
	}
	if !ok {
		return domain.Account{}, fmt.Errorf("account %s vanished after conflicting create", account.UserID)
	}
	return existing, nil
}

func (s *PostgresLedgerStore) Commit(ctx context.Context, userID string, mutate ports.MutateFunc) (domain.Account, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.Account{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // no-op if committed

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, userID); err != nil {
		return domain.Account{}, fmt.Errorf("lock account: %w", err)
	}
	acct, ok, err := scanPostgresAccount(tx.QueryRow(ctx,
		`SELECT credits, created_at, updated_at FROM credit_accounts WHERE user_id = $1 FOR UPDATE`, userID), userID)
	if err != nil {
		return domain.Account{}, err
	}
	var current *domain.Account
	if ok {
		current = &acct
	}
	m, err := mutate(current)
	if err != nil {
		return domain.Account{}, err
	}

	if m.SettlementKey != "" {
		tag, err := tx.Exec(ctx,
			`INSERT INTO settled_sessions (session_id, user_id, settled_at) VALUES ($1, $2, $3) ON CONFLICT (session_id) DO NOTHING`,
			m.SettlementKey, userID, m.Transaction.CreatedAt)
		if err != nil {
			return domain.Account{}, fmt.Errorf("claim session: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return domain.Account{}, domain.ErrSessionAlreadySettled
		}
	}

	m.Account.UserID = userID
	if _, err := tx.Exec(ctx,
		`INSERT INTO credit_accounts (user_id, credits, created_at, updated_at) VALUES ($1, $2, $3, $4) ON CONFLICT (user_id) DO UPDATE SET credits = EXCLUDED.credits, updated_at = EXCLUDED.updated_at`,
		userID, m.Account.Credits, m.Account.CreatedAt, m.Account.UpdatedAt); err != nil {
		return domain.Account{}, fmt.Errorf("write account: %w", err)
	}

	metadata, err := jsonx.Marshal(domain.CloneMetadata(m.Transaction.Metadata))
	if err != nil {
		return domain.Account{}, fmt.Errorf("encode metadata: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO credit_transactions (id, user_id, delta, reason, metadata, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		m.Transaction.ID, userID, m.Transaction.Delta, string(m.Transaction.Reason), metadata, m.Transaction.CreatedAt); err != nil {
		return domain.Account{}, fmt.Errorf("append transaction: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Account{}, fmt.Errorf("commit: %w", err)
	}
	return m.Account, nil
}

func (s *PostgresLedgerStore) SessionSettled(ctx context.Context, sessionID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM settled_sessions WHERE session_id = $1)`, sessionID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("read session marker: %w", err)
	}
	return exists, nil
}

func (s *PostgresLedgerStore) ListTransactions(ctx context.Context, userID string, limit int) ([]domain.Transaction, error) {
	var limitArg *int64
	if limit > 0 {
		l := int64(limit)
		limitArg = &l
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, delta, reason, metadata, created_at FROM credit_transactions WHERE user_id = $1 ORDER BY seq DESC LIMIT $2`,
		userID, limitArg)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	result := []domain.Transaction{}
	for rows.Next() {
		var (
			tx       domain.Transaction
			reason   string
			metadata []byte
		)
		if err := rows.Scan(&tx.ID, &tx.Delta, &reason, &metadata, &tx.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		tx.UserID = userID
		tx.Reason = domain.Reason(reason)
		if len(metadata) > 0 {
			if err := jsonx.Unmarshal(metadata, &tx.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata for %s: %w", tx.ID, err)
			}
		}
		tx.Metadata = domain.CloneMetadata(tx.Metadata)
		result = append(result, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}
	return result, nil
}

func (s *PostgresLedgerStore) Close() error {
	s.pool.Close()
	return nil
}

func scanPostgresAccount(row pgx.Row, userID string) (domain.Account, bool, error) {
	var (
		credits            int64
		createdAt, updated time.Time
	)
	if err := row.Scan(&credits, &createdAt, &updated); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Account{}, false, nil
		}
		return domain.Account{}, false, fmt.Errorf("load account: %w", err)
	}
	return domain.Account{UserID: userID, Credits: credits, CreatedAt: createdAt, UpdatedAt: updated}, true, nil
}

var _ ports.LedgerStore = (*PostgresLedgerStore)(nil)
