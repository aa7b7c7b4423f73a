package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"cvadapt/internal/billing/app/ledger"
	"cvadapt/internal/billing/app/settlement"
	apperrors "cvadapt/internal/errors"
	"cvadapt/internal/observability"
	"cvadapt/internal/resume"
	"cvadapt/internal/server/app"
)

type apiHandler struct {
	ledger     *ledger.Service
	settlement *settlement.Service
	analyzer   *resume.Analyzer
	generation *app.GenerationCoordinator
	health     *app.HealthChecker
	logger     *observability.Logger
}

type creditsResponse struct {
	Credits int64 `json:"credits"`
}

// handleGetCredits serves GET /api/credits?userId=.
func (h *apiHandler) handleGetCredits(c *gin.Context) {
	userID := strings.TrimSpace(c.Query("userId"))
	if userID == "" {
		writeError(c, h.logger, apperrors.Validation("userId requis"), "")
		return
	}
	credits, err := h.ledger.GetBalance(observability.ContextWithUserID(c.Request.Context(), userID), userID)
	if err != nil {
		writeError(c, h.logger, err, "Erreur lecture crédits")
		return
	}
	c.JSON(http.StatusOK, creditsResponse{Credits: credits})
}

type analyzeCVRequest struct {
	CVText string `json:"cvText"`
}

type analyzeCVResponse struct {
	Profile resume.Profile `json:"profile"`
}

// handleAnalyzeCV serves POST /api/cv/analyze.
func (h *apiHandler) handleAnalyzeCV(c *gin.Context) {
	var req analyzeCVRequest
	if err := decodeJSON(c, &req); err != nil {
		writeError(c, h.logger, err, "")
		return
	}
	if strings.TrimSpace(req.CVText) == "" {
		writeError(c, h.logger, apperrors.Validation("cvText requis"), "")
		return
	}
	result, err := h.analyzer.AnalyzeCV(c.Request.Context(), req.CVText)
	if err != nil {
		writeError(c, h.logger, err, "Erreur analyse CV")
		return
	}
	c.JSON(http.StatusOK, analyzeCVResponse{Profile: result.Profile})
}

type analyzeOfferResponse struct {
	Offer resume.Offer `json:"offer"`
}

// handleAnalyzeOffer serves POST /api/offer/analyze.
func (h *apiHandler) handleAnalyzeOffer(c *gin.Context) {
	var req resume.OfferRequest
	if err := decodeJSON(c, &req); err != nil {
		writeError(c, h.logger, err, "")
		return
	}
	result, err := h.analyzer.AnalyzeOffer(c.Request.Context(), req)
	if err != nil {
		writeError(c, h.logger, err, "Erreur analyse offre")
		return
	}
	c.JSON(http.StatusOK, analyzeOfferResponse{Offer: result.Offer})
}

type generateRequest struct {
	UserID string        `json:"userId"`
	CVText string        `json:"cvText"`
	Offer  *resume.Offer `json:"offer"`
}

type generateResponse struct {
	Result           string `json:"result"`
	RemainingCredits int64  `json:"remainingCredits"`
}

// handleGenerate serves POST /api/cv/generate.
func (h *apiHandler) handleGenerate(c *gin.Context) {
	var req generateRequest
	if err := decodeJSON(c, &req); err != nil {
		writeError(c, h.logger, err, "")
		return
	}
	result, err := h.generation.Generate(c.Request.Context(), app.GenerateRequest{
		UserID: req.UserID,
		CVText: req.CVText,
		Offer:  req.Offer,
	})
	if err != nil {
		writeError(c, h.logger, err, "Erreur génération")
		return
	}
	c.JSON(http.StatusOK, generateResponse{Result: result.Result, RemainingCredits: result.RemainingCredits})
}

type checkoutRequest struct {
	UserID    string `json:"userId"`
	PackageID string `json:"packageId"`
}

type checkoutResponse struct {
	URL string `json:"url"`
}

// handleCheckoutSession serves POST /api/credits/checkout-session.
func (h *apiHandler) handleCheckoutSession(c *gin.Context) {
	var req checkoutRequest
	if err := decodeJSON(c, &req); err != nil {
		writeError(c, h.logger, err, "")
		return
	}
	session, err := h.settlement.CreateCheckout(c.Request.Context(), req.UserID, req.PackageID)
	if err != nil {
		writeError(c, h.logger, err, "Erreur Stripe")
		return
	}
	c.JSON(http.StatusOK, checkoutResponse{URL: session.URL})
}

type confirmRequest struct {
	UserID    string `json:"userId"`
	SessionID string `json:"sessionId"`
}

type confirmResponse struct {
	Credits        int64 `json:"credits"`
	Added          int64 `json:"added,omitempty"`
	AlreadyApplied bool  `json:"alreadyApplied,omitempty"`
}

// handleConfirm serves POST /api/credits/confirm.
func (h *apiHandler) handleConfirm(c *gin.Context) {
	var req confirmRequest
	if err := decodeJSON(c, &req); err != nil {
		writeError(c, h.logger, err, "")
		return
	}
	ctx := observability.ContextWithUserID(c.Request.Context(), strings.TrimSpace(req.UserID))
	result, err := h.settlement.Reconcile(ctx, req.UserID, req.SessionID)
	if err != nil {
		writeError(c, h.logger, err, "Erreur confirmation paiement")
		return
	}
	c.JSON(http.StatusOK, confirmResponse{
		Credits:        result.Balance,
		Added:          result.Added,
		AlreadyApplied: result.WasAlreadyApplied,
	})
}

type healthResponse struct {
	OK         bool                  `json:"ok"`
	Components []app.ComponentHealth `json:"components,omitempty"`
}

// handleHealth serves GET /api/health. It always reports ok; component
// details are informational.
func (h *apiHandler) handleHealth(c *gin.Context) {
	resp := healthResponse{OK: true}
	if h.health != nil {
		resp.Components = h.health.CheckAll(c.Request.Context())
	}
	c.JSON(http.StatusOK, resp)
}
