package adapters

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	"cvadapt/internal/billing/domain"
	"cvadapt/internal/billing/ports"
	"cvadapt/internal/jsonx"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS credit_accounts (
    user_id TEXT PRIMARY KEY,
    credits INTEGER NOT NULL CHECK (credits >= 0),
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS credit_transactions (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    id TEXT NOT NULL UNIQUE,
    user_id TEXT NOT NULL,
    delta INTEGER NOT NULL,
    reason TEXT NOT NULL,
    metadata TEXT NOT NULL DEFAULT '{}',
    created_at TEXT NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS credit_transactions_user_idx ON credit_transactions (user_id, seq)`,
	`CREATE TABLE IF NOT EXISTS settled_sessions (
    session_id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    settled_at TEXT NOT NULL
)`,
}

// SQLiteLedgerStore keeps the ledger in a local SQLite file. A single
// connection serializes writers.
type SQLiteLedgerStore struct {
	db *sql.DB
}

// OpenSQLiteLedgerStore opens (or creates) the database at path and migrates it.
func OpenSQLiteLedgerStore(path string) (*SQLiteLedgerStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, stmt := range sqliteSchema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}
	return &SQLiteLedgerStore{db: db}, nil
}

func (s *SQLiteLedgerStore) LoadAccount(ctx context.Context, userID string) (domain.Account, bool, error) {
	return scanSQLiteAccount(s.db.QueryRowContext(ctx,
		`SELECT credits, created_at, updated_at FROM credit_accounts WHERE user_id = ?`, userID), userID)
}

func (s *SQLiteLedgerStore) CreateAccount(ctx context.Context, account domain.Account) (domain.Account, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO credit_accounts (user_id, credits, created_at, updated_at) VALUES (?, ?, ?, ?) ON CONFLICT (user_id) DO NOTHING`,
		account.UserID, account.Credits, formatSQLiteTime(account.CreatedAt), formatSQLiteTime(account.UpdatedAt))
	if err != nil {
		return domain.Account{}, fmt.Errorf("failed to create account: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.Account{}, fmt.Errorf("failed to create account: %w", err)
	}
	if n == 1 {
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

func (s *SQLiteLedgerStore) Commit(ctx context.Context, userID string, mutate ports.MutateFunc) (domain.Account, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Account{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	acct, ok, err := scanSQLiteAccount(tx.QueryRowContext(ctx,
		`SELECT credits, created_at, updated_at FROM credit_accounts WHERE user_id = ?`, userID), userID)
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
		res, err := tx.ExecContext(ctx,
			`INSERT INTO settled_sessions (session_id, user_id, settled_at) VALUES (?, ?, ?) ON CONFLICT (session_id) DO NOTHING`,
			m.SettlementKey, userID, formatSQLiteTime(m.Transaction.CreatedAt))
		if err != nil {
			return domain.Account{}, fmt.Errorf("failed to claim session: %w", err)
		}
		if err := sessionClaimed(res); err != nil {
			return domain.Account{}, err
		}
	}

	m.Account.UserID = userID
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO credit_accounts (user_id, credits, created_at, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (user_id) DO UPDATE SET credits = excluded.credits, updated_at = excluded.updated_at`,
		userID, m.Account.Credits, formatSQLiteTime(m.Account.CreatedAt), formatSQLiteTime(m.Account.UpdatedAt)); err != nil {
		return domain.Account{}, fmt.Errorf("failed to write account: %w", err)
	}

	metadata, err := jsonx.Marshal(domain.CloneMetadata(m.Transaction.Metadata))
	if err != nil {
		return domain.Account{}, fmt.Errorf("failed to encode metadata: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO credit_transactions (id, user_id, delta, reason, metadata, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		m.Transaction.ID, userID, m.Transaction.Delta, string(m.Transaction.Reason), string(metadata),
		formatSQLiteTime(m.Transaction.CreatedAt)); err != nil {
		return domain.Account{}, fmt.Errorf("failed to append transaction: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return domain.Account{}, fmt.Errorf("failed to commit: %w", err)
	}
	return m.Account, nil
}

func (s *SQLiteLedgerStore) SessionSettled(ctx context.Context, sessionID string) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM settled_sessions WHERE session_id = ?)`, sessionID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to read session marker: %w", err)
	}
	return exists == 1, nil
}

func (s *SQLiteLedgerStore) ListTransactions(ctx context.Context, userID string, limit int) ([]domain.Transaction, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, delta, reason, metadata, created_at FROM credit_transactions
		 WHERE user_id = ? ORDER BY seq DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	result := []domain.Transaction{}
	for rows.Next() {
		var (
			tx                          domain.Transaction
			reason, metadata, createdAt string
		)
		if err := rows.Scan(&tx.ID, &tx.Delta, &reason, &metadata, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		tx.UserID = userID
		tx.Reason = domain.Reason(reason)
		if tx.CreatedAt, err = parseSQLiteTime(createdAt); err != nil {
			return nil, err
		}
		if err := jsonx.Unmarshal([]byte(metadata), &tx.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata for %s: %w", tx.ID, err)
		}
		tx.Metadata = domain.CloneMetadata(tx.Metadata)
		result = append(result, tx)
	}
	return result, rows.Err()
}

func (s *SQLiteLedgerStore) Close() error {
	return s.db.Close()
}

func scanSQLiteAccount(row *sql.Row, userID string) (domain.Account, bool, error) {
	var (
		credits              int64
		createdAt, updatedAt string
	)
	if err := row.Scan(&credits, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Account{}, false, nil
		}
		return domain.Account{}, false, fmt.Errorf("failed to load account: %w", err)
	}
	acct := domain.Account{UserID: userID, Credits: credits}
	var err error
	if acct.CreatedAt, err = parseSQLiteTime(createdAt); err != nil {
		return domain.Account{}, false, err
	}
	if acct.UpdatedAt, err = parseSQLiteTime(updatedAt); err != nil {
		return domain.Account{}, false, err
	}
	return acct, true, nil
}

func formatSQLiteTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseSQLiteTime(value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", value, err)
	}
	return t, nil
}

var _ ports.LedgerStore = (*SQLiteLedgerStore)(nil)

// sessionClaimed reports ErrSessionAlreadySettled when the insert into
// settled_sessions hit an existing row.
func sessionClaimed(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to claim session: %w", err)
	}
	if n == 0 {
		return domain.ErrSessionAlreadySettled
	}
	return nil
}
