package di

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cvadapt/internal/billing/adapters"
	"cvadapt/internal/billing/domain"
	"cvadapt/internal/config"
	"cvadapt/internal/llm"
	"cvadapt/internal/observability"
	serverApp "cvadapt/internal/server/app"
)

func testConfig() config.Config {
	return config.Config{
		Server: config.ServerConfig{Port: 8787, BaseURL: "http://localhost:5173"},
		Stripe: config.StripeConfig{Prices: config.PriceConfig{Pro: "price_pro"}},
		Ledger: config.LedgerConfig{DefaultCredits: 3},
	}
}

func TestOpenStoreBackends(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	mr := miniredis.RunT(t)

	tests := []struct {
		name  string
		store config.StoreConfig
		want  string
	}{
		{name: "memory", store: config.StoreConfig{}, want: config.BackendMemory},
		{name: "file", store: config.StoreConfig{Backend: config.BackendFile, Path: filepath.Join(dir, "store.json")}, want: config.BackendFile},
		{name: "sqlite", store: config.StoreConfig{Backend: config.BackendSQLite, Path: filepath.Join(dir, "ledger.db")}, want: config.BackendSQLite},
		{name: "redis", store: config.StoreConfig{RedisURL: "redis://" + mr.Addr()}, want: config.BackendRedis},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, backend, err := OpenStore(ctx, tt.store)
			require.NoError(t, err)
			t.Cleanup(func() { _ = store.Close() })
			assert.Equal(t, tt.want, backend)

			_, _, err = store.LoadAccount(ctx, "nobody")
			require.NoError(t, err)
		})
	}
}

func TestOpenStoreRejectsUnknownBackend(t *testing.T) {
	_, _, err := OpenStore(context.Background(), config.StoreConfig{Backend: "etcd"})
	require.Error(t, err)
}

func TestBuildContainerWiresServices(t *testing.T) {
	ctx := context.Background()
	gateway := adapters.NewFakePaymentGateway()
	events := adapters.NewMemoryEventPublisher()
	container, err := BuildContainer(ctx, testConfig(),
		WithEventPublisher(events),
		WithObservability(observability.NewNop()),
		WithStore(adapters.NewMemoryLedgerStore(), config.BackendMemory),
		WithPaymentGateway(gateway),
		WithCompleter(llm.NewMockCompleter("# CV")),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Cleanup(ctx) })

	assert.Equal(t, config.BackendMemory, container.Backend)
	assert.True(t, container.Settlement.Configured())

	balance, err := container.Ledger.GetBalance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(3), balance)

	session, err := container.Settlement.CreateCheckout(ctx, "alice", string(domain.PackagePro))
	require.NoError(t, err)
	require.True(t, gateway.MarkPaid(session.ID))
	result, err := container.Settlement.Reconcile(ctx, "alice", session.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(18), result.Balance)
	require.NotEmpty(t, events.CreditEvents())
	assert.Equal(t, domain.CreditEventCredited, events.CreditEvents()[len(events.CreditEvents())-1].Type)

	statuses := map[string]serverApp.HealthStatus{}
	for _, component := range container.Health.CheckAll(ctx) {
		statuses[component.Name] = component.Status
	}
	assert.Equal(t, serverApp.HealthStatusReady, statuses["store"])
	assert.Equal(t, serverApp.HealthStatusReady, statuses["anthropic"])
	assert.Equal(t, serverApp.HealthStatusReady, statuses["stripe"])
}

func TestBuildContainerWithoutSecrets(t *testing.T) {
	ctx := context.Background()
	container, err := BuildContainer(ctx, testConfig(),
		WithObservability(observability.NewNop()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Cleanup(ctx) })

	assert.Equal(t, config.BackendMemory, container.Backend)
	assert.False(t, container.Settlement.Configured())

	rec := httptest.NewRecorder()
	container.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok":true`)
	assert.Contains(t, rec.Body.String(), `"disabled"`)
}

func TestBuildContainerHonorsZeroDefaultCredits(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.Ledger.DefaultCredits = 0
	container, err := BuildContainer(ctx, cfg,
		WithObservability(observability.NewNop()),
		WithStore(adapters.NewMemoryLedgerStore(), config.BackendMemory),
		WithCompleter(llm.NewMockCompleter("# CV")),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Cleanup(ctx) })

	balance, err := container.Ledger.GetBalance(ctx, "newcomer")
	require.NoError(t, err)
	assert.Zero(t, balance)
}
