package adapters

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"

	"cvadapt/internal/billing/domain"
	"cvadapt/internal/billing/ports"
	apperrors "cvadapt/internal/errors"
)

// StripeConfig configures the Stripe checkout gateway.
type StripeConfig struct {
	SecretKey string
	// APIURL overrides the Stripe endpoint, used by tests.
	APIURL     string
	HTTPClient *http.Client
}

// StripeGateway creates and retrieves hosted checkout sessions.
type StripeGateway struct {
	api *client.API
}

// NewStripeGateway builds a gateway. Network retries are disabled so failures
// surface immediately to the caller.
func NewStripeGateway(cfg StripeConfig) (*StripeGateway, error) {
	if cfg.SecretKey == "" {
		return nil, apperrors.Configuration("Stripe non configuré")
	}
	backendCfg := &stripe.BackendConfig{
		HTTPClient:        cfg.HTTPClient,
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	}
	if cfg.APIURL != "" {
		backendCfg.URL = stripe.String(cfg.APIURL)
	}
	backends := &stripe.Backends{
		API:     stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg),
		Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, backendCfg),
		Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, backendCfg),
	}
	api := &client.API{}
	api.Init(cfg.SecretKey, backends)
	return &StripeGateway{api: api}, nil
}

func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, req domain.CheckoutRequest) (domain.CheckoutSession, error) {
	quantity := req.Quantity
	if quantity <= 0 {
		quantity = 1
	}
	params := &stripe.CheckoutSessionParams{
		Params:             stripe.Params{Context: ctx},
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Price:    stripe.String(req.PriceID),
			Quantity: stripe.Int64(quantity),
		}},
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
	}
	for key, value := range req.Metadata {
		params.AddMetadata(key, value)
	}
	session, err := g.api.CheckoutSessions.New(params)
	if err != nil {
		return domain.CheckoutSession{}, mapStripeError(err)
	}
	return toCheckoutSession(session), nil
}

func (g *StripeGateway) RetrieveCheckoutSession(ctx context.Context, sessionID string) (domain.CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{Params: stripe.Params{Context: ctx}}
	session, err := g.api.CheckoutSessions.Get(sessionID, params)
	if err != nil {
		return domain.CheckoutSession{}, mapStripeError(err)
	}
	return toCheckoutSession(session), nil
}

func toCheckoutSession(session *stripe.CheckoutSession) domain.CheckoutSession {
	metadata := make(map[string]string, len(session.Metadata))
	for k, v := range session.Metadata {
		metadata[k] = v
	}
	return domain.CheckoutSession{
		ID:            session.ID,
		URL:           session.URL,
		PaymentStatus: domain.PaymentStatus(session.PaymentStatus),
		Metadata:      metadata,
	}
}

func mapStripeError(err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		msg := stripeErr.Msg
		if msg == "" {
			msg = fmt.Sprintf("Erreur Stripe (%d)", stripeErr.HTTPStatusCode)
		}
		return apperrors.Collaborator("stripe", stripeErr.HTTPStatusCode, msg, err)
	}
	return apperrors.Collaborator("stripe", 0, "Erreur Stripe", err)
}

var _ ports.PaymentGateway = (*StripeGateway)(nil)
