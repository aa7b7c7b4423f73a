package adapters

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cvadapt/internal/billing/domain"
	"cvadapt/internal/billing/ports"
)

func newTestRedisStore(t *testing.T) (*RedisLedgerStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store, err := NewRedisLedgerStore(client)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

func TestRedisLedgerStoreContract(t *testing.T) {
	runLedgerStoreContract(t, func(t *testing.T) ports.LedgerStore {
		store, _ := newTestRedisStore(t)
		return store
	})
}

func TestRedisLedgerStoreKeyLayout(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestRedisStore(t)

	_, err := store.Commit(ctx, "u1", addCredits("u1", 5, "cs_42"))
	require.NoError(t, err)

	assert.True(t, mr.Exists("user:u1"))
	assert.True(t, mr.Exists("stripe:session:cs_42"))
	global, err := mr.List("transactions")
	require.NoError(t, err)
	assert.Len(t, global, 1)
	perUser, err := mr.List("transactions:u1")
	require.NoError(t, err)
	assert.Len(t, perUser, 1)
}

func TestRedisLedgerStoreSurfacesConnectionErrors(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestRedisStore(t)
	mr.Close()

	_, _, err := store.LoadAccount(ctx, "u1")
	require.Error(t, err)
	_, err = store.Commit(ctx, "u1", addCredits("u1", 1, ""))
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrSessionAlreadySettled)
}
