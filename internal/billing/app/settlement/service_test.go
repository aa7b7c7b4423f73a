package settlement

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cvadapt/internal/billing/adapters"
	"cvadapt/internal/billing/app/ledger"
	"cvadapt/internal/billing/domain"
	apperrors "cvadapt/internal/errors"
)

type fixture struct {
	svc     *Service
	ledger  *ledger.Service
	store   *adapters.MemoryLedgerStore
	gateway *adapters.FakePaymentGateway
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	store := adapters.NewMemoryLedgerStore()
	ledgerSvc := ledger.NewService(store, ledger.Config{})
	gateway := adapters.NewFakePaymentGateway()
	svc := NewService(ledgerSvc, store, gateway, Config{
		BaseURL: "https://cvadapt.example/",
		Prices: map[domain.PackageID]string{
			domain.PackageStarter: "price_starter",
			domain.PackagePro:     "price_pro",
			domain.PackageGrowth:  "price_growth",
		},
	})
	return fixture{svc: svc, ledger: ledgerSvc, store: store, gateway: gateway}
}

func paidSession(id, userID, credits string) domain.CheckoutSession {
	return domain.CheckoutSession{
		ID:            id,
		PaymentStatus: domain.PaymentStatusPaid,
		Metadata: map[string]string{
			domain.MetadataUserID:    userID,
			domain.MetadataPackageID: "pro",
			domain.MetadataCredits:   credits,
		},
	}
}

func TestCreateCheckoutBuildsRequest(t *testing.T) {
	f := newFixture(t)

	session, err := f.svc.CreateCheckout(context.Background(), "user-1", "pro")
	require.NoError(t, err)
	assert.NotEmpty(t, session.URL)

	reqs := f.gateway.Requests()
	require.Len(t, reqs, 1)
	req := reqs[0]
	assert.Equal(t, "price_pro", req.PriceID)
	assert.Equal(t, int64(1), req.Quantity)
	assert.Equal(t, "https://cvadapt.example/?session_id={CHECKOUT_SESSION_ID}", req.SuccessURL)
	assert.Equal(t, "https://cvadapt.example/", req.CancelURL)
	assert.Equal(t, map[string]string{"userId": "user-1", "packageId": "pro", "credits": "15"}, req.Metadata)
}

func TestCreateCheckoutValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateCheckout(ctx, "", "pro")
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))

	_, err = f.svc.CreateCheckout(ctx, "u", "platinum")
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))
	assert.Equal(t, "Pack invalide", apperrors.PublicMessage(err, ""))
}

func TestCreateCheckoutMissingPrice(t *testing.T) {
	store := adapters.NewMemoryLedgerStore()
	svc := NewService(ledger.NewService(store, ledger.Config{}), store, adapters.NewFakePaymentGateway(), Config{})

	_, err := svc.CreateCheckout(context.Background(), "u", "growth")
	require.Error(t, err)
	assert.Equal(t, apperrors.KindConfiguration, apperrors.KindOf(err))
	assert.Equal(t, "STRIPE_PRICE_GROWTH manquant", apperrors.PublicMessage(err, ""))
}

func TestUnconfiguredGateway(t *testing.T) {
	store := adapters.NewMemoryLedgerStore()
	svc := NewService(ledger.NewService(store, ledger.Config{}), store, nil, Config{})
	assert.False(t, svc.Configured())

	_, err := svc.CreateCheckout(context.Background(), "u", "pro")
	assert.Equal(t, apperrors.KindConfiguration, apperrors.KindOf(err))
	_, err = svc.Reconcile(context.Background(), "u", "cs_1")
	assert.Equal(t, apperrors.KindConfiguration, apperrors.KindOf(err))
}

func TestReconcileProPackageAddsFifteen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	before, err := f.ledger.GetBalance(ctx, "user-1")
	require.NoError(t, err)

	session, err := f.svc.CreateCheckout(ctx, "user-1", "pro")
	require.NoError(t, err)
	require.True(t, f.gateway.MarkPaid(session.ID))

	result, err := f.svc.Reconcile(ctx, "user-1", session.ID)
	require.NoError(t, err)
	assert.Equal(t, before+15, result.Balance)
	assert.Equal(t, int64(15), result.Added)
	assert.False(t, result.WasAlreadyApplied)

	history, err := f.ledger.History(ctx, "user-1", 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, domain.ReasonPurchase, history[0].Reason)
	assert.Equal(t, session.ID, history[0].Metadata["sessionId"])
	assert.Equal(t, "pro", history[0].Metadata["packageId"])
}

func TestReconcileIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.gateway.PutSession(paidSession("cs_twice", "user-1", "15"))

	first, err := f.svc.Reconcile(ctx, "user-1", "cs_twice")
	require.NoError(t, err)
	assert.Equal(t, int64(18), first.Balance)

	second, err := f.svc.Reconcile(ctx, "user-1", "cs_twice")
	require.NoError(t, err)
	assert.True(t, second.WasAlreadyApplied)
	assert.Equal(t, int64(18), second.Balance)
	assert.Zero(t, second.Added)

	assert.Equal(t, 1, f.gateway.Retrievals(), "settled sessions are not fetched again")
}

func TestReconcileRejectsForeignSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.gateway.PutSession(paidSession("cs_other", "someone-else", "15"))

	_, err := f.svc.Reconcile(ctx, "user-1", "cs_other")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidSettlementMetadata))
	assert.Equal(t, 400, apperrors.HTTPStatus(err))

	settled, err := f.store.SessionSettled(ctx, "cs_other")
	require.NoError(t, err)
	assert.False(t, settled)
}

func TestReconcileRejectsMissingCredits(t *testing.T) {
	f := newFixture(t)
	for _, credits := range []string{"", "0", "-4", "abc"} {
		id := "cs_bad_" + credits
		f.gateway.PutSession(paidSession(id, "user-1", credits))
		_, err := f.svc.Reconcile(context.Background(), "user-1", id)
		assert.ErrorIs(t, err, apperrors.ErrInvalidSettlementMetadata, "credits=%q", credits)
	}
}

func TestReconcileUnpaidSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session, err := f.svc.CreateCheckout(ctx, "user-1", "starter")
	require.NoError(t, err)

	_, err = f.svc.Reconcile(ctx, "user-1", session.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrPaymentNotCompleted)
	assert.Equal(t, "Paiement non validé", apperrors.PublicMessage(err, ""))

	balance, err := f.ledger.GetBalance(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), balance)
}

func TestReconcileUnknownSessionIsCollaboratorFailure(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Reconcile(context.Background(), "user-1", "cs_missing")
	require.Error(t, err)
	assert.Equal(t, apperrors.KindCollaborator, apperrors.KindOf(err))
	assert.Equal(t, 500, apperrors.HTTPStatus(err))
}

func TestReconcileValidation(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Reconcile(context.Background(), "user-1", " ")
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))
	assert.Equal(t, 0, f.gateway.Retrievals())
}

func TestConcurrentReconcileCreditsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.gateway.PutSession(paidSession("cs_race", "user-1", "50"))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		applied int
	)
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.svc.Reconcile(ctx, "user-1", "cs_race")
			assert.NoError(t, err)
			if err == nil && !res.WasAlreadyApplied {
				mu.Lock()
				applied++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	balance, err := f.ledger.GetBalance(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(53), balance)
	assert.GreaterOrEqual(t, applied, 1)

	history, err := f.ledger.History(ctx, "user-1", 0)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

// blockingGateway holds RetrieveCheckoutSession until release is closed or
// the call context ends.
type blockingGateway struct {
	*adapters.FakePaymentGateway
	entered chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func (g *blockingGateway) RetrieveCheckoutSession(ctx context.Context, sessionID string) (domain.CheckoutSession, error) {
	if g.calls.Add(1) == 1 {
		close(g.entered)
	}
	select {
	case <-g.release:
		return g.FakePaymentGateway.RetrieveCheckoutSession(ctx, sessionID)
	case <-ctx.Done():
		return domain.CheckoutSession{}, ctx.Err()
	}
}

func TestReconcileSurvivesCancelledPeer(t *testing.T) {
	store := adapters.NewMemoryLedgerStore()
	ledgerSvc := ledger.NewService(store, ledger.Config{})
	gateway := &blockingGateway{
		FakePaymentGateway: adapters.NewFakePaymentGateway(),
		entered:            make(chan struct{}),
		release:            make(chan struct{}),
	}
	gateway.PutSession(paidSession("cs_1", "u1", "15"))
	svc := NewService(ledgerSvc, store, gateway, Config{})

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := svc.Reconcile(ctxA, "u1", "cs_1")
		errA <- err
	}()
	<-gateway.entered

	type outcome struct {
		res Result
		err error
	}
	doneB := make(chan outcome, 1)
	go func() {
		res, err := svc.Reconcile(context.Background(), "u1", "cs_1")
		doneB <- outcome{res: res, err: err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelA()
	require.ErrorIs(t, <-errA, context.Canceled)

	close(gateway.release)
	select {
	case b := <-doneB:
		require.NoError(t, b.err)
		assert.Equal(t, int64(15), b.res.Added)
		assert.Equal(t, int64(18), b.res.Balance)
	case <-time.After(5 * time.Second):
		t.Fatal("live caller never returned")
	}
	assert.Equal(t, int32(1), gateway.calls.Load())

	balance, err := ledgerSvc.GetBalance(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(18), balance)
}

func TestReconcileTimeoutDefault(t *testing.T) {
	svc := NewService(nil, nil, nil, Config{})
	assert.Equal(t, defaultReconcileTimeout, svc.config.ReconcileTimeout)
}
