package adapters

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"cvadapt/internal/billing/domain"
	"cvadapt/internal/billing/ports"
	"cvadapt/internal/jsonx"
)

const (
	redisTransactionsKey   = "transactions"
	defaultRedisMaxRetries = 50
)

func redisUserKey(userID string) string             { return "user:" + userID }
func redisSessionKey(sessionID string) string       { return "stripe:session:" + sessionID }
func redisUserTransactionsKey(userID string) string { return "transactions:" + userID }

// RedisLedgerStore is the durable key-value backend. Commits use
// WATCH/MULTI so concurrent writers on one account retry instead of losing updates.
type RedisLedgerStore struct {
	client     redis.UniversalClient
	maxRetries int
}

// NewRedisLedgerStore wraps an existing client.
func NewRedisLedgerStore(client redis.UniversalClient) (*RedisLedgerStore, error) {
	if client == nil {
		return nil, errors.New("redis store requires client")
	}
	return &RedisLedgerStore{client: client, maxRetries: defaultRedisMaxRetries}, nil
}

// OpenRedisLedgerStore dials the server at url (redis:// or rediss://) and pings it.
func OpenRedisLedgerStore(ctx context.Context, url string) (*RedisLedgerStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedisLedgerStore(client)
}

func (s *RedisLedgerStore) LoadAccount(ctx context.Context, userID string) (domain.Account, bool, error) {
	return loadRedisAccount(ctx, s.client, userID)
}

func (s *RedisLedgerStore) CreateAccount(ctx context.Context, account domain.Account) (domain.Account, error) {
	payload, err := jsonx.Marshal(account)
	if err != nil {
		return domain.Account{}, fmt.Errorf("encode account: %w", err)
	}
	created, err := s.client.SetNX(ctx, redisUserKey(account.UserID), payload, 0).Result()
	if err != nil {
		return domain.Account{}, fmt.Errorf("create account: %w", err)
	}
	if created {
		return account, nil
	}
	existing, ok, err := loadRedisAccount(ctx, s.client, account.UserID)
	if err != nil {
		return domain.Account{}, err
	}
	if !ok {
		return domain.Account{}, fmt.Errorf("account %s vanished after conflicting create", account.UserID)
	}
	return existing, nil
}

func (s *RedisLedgerStore) Commit(ctx context.Context, userID string, mutate ports.MutateFunc) (domain.Account, error) {
	userKey := redisUserKey(userID)
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		var committed domain.Account
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			acct, ok, err := loadRedisAccount(ctx, tx, userID)
			if err != nil {
				return err
			}
			var current *domain.Account
			if ok {
				current = &acct
			}
			m, err := mutate(current)
			if err != nil {
				return err
			}

			key := m.SettlementKey
			if key != "" {
				sessionKey := redisSessionKey(key)
				if err := tx.Watch(ctx, sessionKey).Err(); err != nil {
					return fmt.Errorf("watch session marker: %w", err)
				}
				exists, err := tx.Exists(ctx, sessionKey).Result()
				if err != nil {
					return fmt.Errorf("read session marker: %w", err)
				}
				if exists > 0 {
					return domain.ErrSessionAlreadySettled
				}
			}

			m.Account.UserID = userID
			accountJSON, err := jsonx.Marshal(m.Account)
			if err != nil {
				return fmt.Errorf("encode account: %w", err)
			}
			txJSON, err := jsonx.Marshal(m.Transaction)
			if err != nil {
				return fmt.Errorf("encode transaction: %w", err)
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, userKey, accountJSON, 0)
				pipe.RPush(ctx, redisTransactionsKey, txJSON)
				pipe.RPush(ctx, redisUserTransactionsKey(userID), txJSON)
				if key != "" {
					pipe.Set(ctx, redisSessionKey(key), 1, 0)
				}
				return nil
			})
			if err != nil {
				return err
			}
			committed = m.Account
			return nil
		}, userKey)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return domain.Account{}, err
		}
		return committed, nil
	}
	return domain.Account{}, fmt.Errorf("commit for %s: too much contention after %d attempts", userID, s.maxRetries)
}

func (s *RedisLedgerStore) SessionSettled(ctx context.Context, sessionID string) (bool, error) {
	n, err := s.client.Exists(ctx, redisSessionKey(sessionID)).Result()
	if err != nil {
		return false, fmt.Errorf("read session marker: %w", err)
	}
	return n > 0, nil
}

func (s *RedisLedgerStore) ListTransactions(ctx context.Context, userID string, limit int) ([]domain.Transaction, error) {
	start := int64(0)
	if limit > 0 {
		start = -int64(limit)
	}
	raw, err := s.client.LRange(ctx, redisUserTransactionsKey(userID), start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	result := make([]domain.Transaction, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		var tx domain.Transaction
		if err := jsonx.Unmarshal([]byte(raw[i]), &tx); err != nil {
			return nil, fmt.Errorf("decode transaction: %w", err)
		}
		tx.Metadata = domain.CloneMetadata(tx.Metadata)
		result = append(result, tx)
	}
	return result, nil
}

func (s *RedisLedgerStore) Close() error {
	return s.client.Close()
}

// redisGetter is satisfied by both *redis.Client and *redis.Tx.
type redisGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func loadRedisAccount(ctx context.Context, client redisGetter, userID string) (domain.Account, bool, error) {
	raw, err := client.Get(ctx, redisUserKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Account{}, false, nil
	}
	if err != nil {
		return domain.Account{}, false, fmt.Errorf("load account: %w", err)
	}
	var acct domain.Account
	if err := jsonx.Unmarshal(raw, &acct); err != nil {
		return domain.Account{}, false, fmt.Errorf("decode account %s: %w", userID, err)
	}
	acct.UserID = userID
	return acct, true, nil
}

var _ ports.LedgerStore = (*RedisLedgerStore)(nil)
