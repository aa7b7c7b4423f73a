package app

import (
	"context"
	"strings"

	"cvadapt/internal/billing/domain"
	apperrors "cvadapt/internal/errors"
	"cvadapt/internal/observability"
	"cvadapt/internal/resume"
)

// CreditLedger is the ledger surface the generation flow needs.
type CreditLedger interface {
	GetBalance(ctx context.Context, userID string) (int64, error)
	Adjust(ctx context.Context, userID string, delta int64, reason domain.Reason, metadata map[string]any) (int64, error)
}

// Generator rewrites a résumé for an offer.
type Generator interface {
	Generate(ctx context.Context, cvText string, offer resume.Offer) (string, error)
}

// GenerateRequest is one credit-metered generation.
type GenerateRequest struct {
	UserID string
	CVText string
	Offer  *resume.Offer
}

// GenerateResult carries the rewrite and the balance after the debit.
type GenerateResult struct {
	Result           string
	RemainingCredits int64
}

// GenerationCoordinator gates the AI rewrite behind the credit balance.
type GenerationCoordinator struct {
	ledger    CreditLedger
	generator Generator
	logger    *observability.Logger
}

// NewGenerationCoordinator wires the flow.
func NewGenerationCoordinator(ledger CreditLedger, generator Generator, logger *observability.Logger) *GenerationCoordinator {
	return &GenerationCoordinator{
		ledger:    ledger,
		generator: generator,
		logger:    observability.OrNop(logger).With("component", "generation"),
	}
}

// Generate checks the balance, calls the AI service and debits one credit on
// success. No credit is taken when the call fails or the context ends first.
func (c *GenerationCoordinator) Generate(ctx context.Context, req GenerateRequest) (GenerateResult, error) {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" || strings.TrimSpace(req.CVText) == "" || req.Offer == nil {
		return GenerateResult{}, apperrors.Validation("userId, cvText et offer requis")
	}
	ctx = observability.ContextWithUserID(ctx, userID)

	credits, err := c.ledger.GetBalance(ctx, userID)
	if err != nil {
		return GenerateResult{}, err
	}
	if credits <= 0 {
		c.logger.InfoContext(ctx, "generation refused, no credits left")
		return GenerateResult{}, apperrors.ErrInsufficientCredits
	}

	result, err := c.generator.Generate(ctx, req.CVText, *req.Offer)
	if err != nil {
		return GenerateResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return GenerateResult{}, err
	}

	remaining, err := c.ledger.Adjust(ctx, userID, -1, domain.ReasonGeneration, map[string]any{
		"offerTitle": req.Offer.TitrePoste,
	})
	if err != nil {
		return GenerateResult{}, err
	}
	return GenerateResult{Result: result, RemainingCredits: remaining}, nil
}
