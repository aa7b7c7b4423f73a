package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cvadapt/internal/billing/adapters"
	"cvadapt/internal/billing/app/ledger"
	"cvadapt/internal/billing/app/settlement"
	"cvadapt/internal/billing/domain"
	apperrors "cvadapt/internal/errors"
	"cvadapt/internal/llm"
	"cvadapt/internal/resume"
	"cvadapt/internal/server/app"
)

type testServer struct {
	engine    *gin.Engine
	ledger    *ledger.Service
	gateway   *adapters.FakePaymentGateway
	completer *llm.MockCompleter
}

func newTestServer(t *testing.T, replies ...string) *testServer {
	t.Helper()
	store := adapters.NewMemoryLedgerStore()
	ledgerSvc := ledger.NewService(store, ledger.Config{})
	gateway := adapters.NewFakePaymentGateway()
	settlementSvc := settlement.NewService(ledgerSvc, store, gateway, settlement.Config{
		BaseURL: "http://localhost:5173",
		Prices:  map[domain.PackageID]string{domain.PackagePro: "price_pro"},
	})
	completer := llm.NewMockCompleter(replies...)
	analyzer := resume.NewAnalyzer(completer, resume.Config{})
	health := app.NewHealthChecker()
	health.RegisterProbe(app.NewStoreProbe(store, "memory"))

	engine := NewRouter(RouterDeps{
		Ledger:     ledgerSvc,
		Settlement: settlementSvc,
		Analyzer:   analyzer,
		Generation: app.NewGenerationCoordinator(ledgerSvc, analyzer, nil),
		Health:     health,
	})
	return &testServer{engine: engine, ledger: ledgerSvc, gateway: gateway, completer: completer}
}

func (s *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t)
	rec := srv.do(t, http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["ok"])
	assert.NotEmpty(t, rec.Header().Get(headerRequestID))
}

func TestGetCredits(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(t, http.MethodGet, "/api/credits?userId=alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"credits":3}`, rec.Body.String())

	rec = srv.do(t, http.MethodGet, "/api/credits", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"userId requis"}`, rec.Body.String())
}

func TestMethodNotAllowedAndNotFound(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(t, http.MethodPost, "/api/credits", `{}`)
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.JSONEq(t, `{"error":"Method not allowed"}`, rec.Body.String())
	assert.Equal(t, "GET", rec.Header().Get("Allow"))

	rec = srv.do(t, http.MethodGet, "/api/nope", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, decodeBody(t, rec), "error")
}

func TestAnalyzeCV(t *testing.T) {
	srv := newTestServer(t, `{"nom":"Ada","titre":"Dev"}`)

	rec := srv.do(t, http.MethodPost, "/api/cv/analyze", `{"cvText":"Ada, développeuse"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	profile := decodeBody(t, rec)["profile"].(map[string]any)
	assert.Equal(t, "Ada", profile["nom"])

	rec = srv.do(t, http.MethodPost, "/api/cv/analyze", `{}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"cvText requis"}`, rec.Body.String())

	rec = srv.do(t, http.MethodPost, "/api/cv/analyze", `{"cvText":`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAnalyzeCVCollaboratorFailure(t *testing.T) {
	srv := newTestServer(t)
	srv.completer.FailWith(apperrors.Collaborator("anthropic", 529, "Erreur Anthropic: 529 overloaded", errors.New("overloaded")))

	rec := srv.do(t, http.MethodPost, "/api/cv/analyze", `{"cvText":"cv"}`)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"Erreur Anthropic: 529 overloaded"}`, rec.Body.String())
}

func TestAnalyzeOffer(t *testing.T) {
	srv := newTestServer(t, `{"titre_poste":"Dev Go","secteur":"SaaS","competences_requises":["Go"],"mots_cles_ats":["API"],"responsabilites":[]}`)

	rec := srv.do(t, http.MethodPost, "/api/offer/analyze", `{"mode":"text","text":"Nous recrutons"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	offer := decodeBody(t, rec)["offer"].(map[string]any)
	assert.Equal(t, "Dev Go", offer["titre_poste"])
	assert.Equal(t, "Nous recrutons", offer["text"])
	assert.NotContains(t, offer, "url")

	rec = srv.do(t, http.MethodPost, "/api/offer/analyze", `{"mode":"pdf"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"mode invalide"}`, rec.Body.String())
}

func TestGenerateScenarioLastCredit(t *testing.T) {
	srv := newTestServer(t, "# CV optimisé")
	ctx := context.Background()
	_, err := srv.ledger.Adjust(ctx, "bob", -2, domain.ReasonManual, nil)
	require.NoError(t, err)

	body := `{"userId":"bob","cvText":"mon cv","offer":{"titre_poste":"Dev Go","competences_requises":["Go"]}}`
	rec := srv.do(t, http.MethodPost, "/api/cv/generate", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"result":"# CV optimisé","remainingCredits":0}`, rec.Body.String())

	rec = srv.do(t, http.MethodPost, "/api/cv/generate", body)
	require.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.JSONEq(t, `{"error":"Crédits insuffisants"}`, rec.Body.String())
	assert.Equal(t, 1, srv.completer.Calls())
}

func TestGenerateMissingFields(t *testing.T) {
	srv := newTestServer(t, "x")
	rec := srv.do(t, http.MethodPost, "/api/cv/generate", `{"userId":"bob","cvText":"cv"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"userId, cvText et offer requis"}`, rec.Body.String())
}

func TestCheckoutAndConfirmProPackage(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(t, http.MethodPost, "/api/credits/checkout-session", `{"userId":"carol","packageId":"pro"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	url, _ := decodeBody(t, rec)["url"].(string)
	require.NotEmpty(t, url)

	reqs := srv.gateway.Requests()
	require.Len(t, reqs, 1)
	sessionID := strings.TrimPrefix(url, "https://checkout.example.test/pay/")
	require.True(t, srv.gateway.MarkPaid(sessionID))

	confirm := `{"userId":"carol","sessionId":"` + sessionID + `"}`
	rec = srv.do(t, http.MethodPost, "/api/credits/confirm", confirm)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"credits":18,"added":15}`, rec.Body.String())

	rec = srv.do(t, http.MethodPost, "/api/credits/confirm", confirm)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"credits":18,"alreadyApplied":true}`, rec.Body.String())
}

func TestCheckoutErrors(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(t, http.MethodPost, "/api/credits/checkout-session", `{"userId":"carol"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"userId et packageId requis"}`, rec.Body.String())

	rec = srv.do(t, http.MethodPost, "/api/credits/checkout-session", `{"userId":"carol","packageId":"gold"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"Pack invalide"}`, rec.Body.String())

	rec = srv.do(t, http.MethodPost, "/api/credits/checkout-session", `{"userId":"carol","packageId":"starter"}`)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"STRIPE_PRICE_STARTER manquant"}`, rec.Body.String())
}

func TestConfirmRejections(t *testing.T) {
	srv := newTestServer(t)
	srv.gateway.PutSession(domain.CheckoutSession{
		ID:            "cs_unpaid",
		PaymentStatus: domain.PaymentStatusUnpaid,
		Metadata:      map[string]string{"userId": "dave", "credits": "5"},
	})
	srv.gateway.PutSession(domain.CheckoutSession{
		ID:            "cs_foreign",
		PaymentStatus: domain.PaymentStatusPaid,
		Metadata:      map[string]string{"userId": "erin", "credits": "5"},
	})

	rec := srv.do(t, http.MethodPost, "/api/credits/confirm", `{"userId":"dave","sessionId":"cs_unpaid"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"Paiement non validé"}`, rec.Body.String())

	rec = srv.do(t, http.MethodPost, "/api/credits/confirm", `{"userId":"dave","sessionId":"cs_foreign"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"Métadonnées Stripe invalides"}`, rec.Body.String())

	rec = srv.do(t, http.MethodPost, "/api/credits/confirm", `{"userId":"dave"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"userId et sessionId requis"}`, rec.Body.String())
}

func TestBodyLimit(t *testing.T) {
	store := adapters.NewMemoryLedgerStore()
	ledgerSvc := ledger.NewService(store, ledger.Config{})
	analyzer := resume.NewAnalyzer(llm.NewMockCompleter("{}"), resume.Config{})
	engine := NewRouter(RouterDeps{
		Ledger:       ledgerSvc,
		Analyzer:     analyzer,
		MaxBodyBytes: 64,
	})

	body := `{"cvText":"` + strings.Repeat("a", 200) + `"}`
	req := httptest.NewRequest(http.MethodPost, "/api/cv/analyze", strings.NewReader(body))
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.JSONEq(t, `{"error":"Requête trop volumineuse"}`, rec.Body.String())
}

func TestRateLimitOnAIRoutes(t *testing.T) {
	store := adapters.NewMemoryLedgerStore()
	ledgerSvc := ledger.NewService(store, ledger.Config{})
	analyzer := resume.NewAnalyzer(llm.NewMockCompleter(`{"nom":"A"}`), resume.Config{})
	engine := NewRouter(RouterDeps{
		Ledger:    ledgerSvc,
		Analyzer:  analyzer,
		RateLimit: RateLimitConfig{RequestsPerMinute: 1, Burst: 2},
	})

	send := func(path, body string) int {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
		req.RemoteAddr = "203.0.113.7:5000"
		rec := httptest.NewRecorder()
		engine.ServeHTTP(rec, req)
		return rec.Code
	}
	assert.Equal(t, http.StatusOK, send("/api/cv/analyze", `{"cvText":"a"}`))
	assert.Equal(t, http.StatusOK, send("/api/cv/analyze", `{"cvText":"b"}`))
	assert.Equal(t, http.StatusTooManyRequests, send("/api/cv/analyze", `{"cvText":"c"}`))

	req := httptest.NewRequest(http.MethodGet, "/api/credits?userId=x", nil)
	req.RemoteAddr = "203.0.113.7:5000"
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code, "credit reads are not throttled")
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/cv/generate", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	srv.engine.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRequestIDIsPropagated(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set(headerRequestID, "req-123")
	rec := httptest.NewRecorder()
	srv.engine.ServeHTTP(rec, req)
	assert.Equal(t, "req-123", rec.Header().Get(headerRequestID))
}

func TestAnalyzeCVPlaceholderOnUnreadableReply(t *testing.T) {
	srv := newTestServer(t, "Désolé, je ne peux pas répondre.")

	rec := srv.do(t, http.MethodPost, "/api/cv/analyze", `{"cvText":"cv"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	profile := decodeBody(t, rec)["profile"].(map[string]any)
	assert.Equal(t, "Profil", profile["nom"])
}
