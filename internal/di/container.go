package di

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/gin-gonic/gin"

	"cvadapt/internal/billing/adapters"
	"cvadapt/internal/billing/app/ledger"
	"cvadapt/internal/billing/app/settlement"
	"cvadapt/internal/billing/ports"
	"cvadapt/internal/config"
	"cvadapt/internal/llm"
	"cvadapt/internal/observability"
	"cvadapt/internal/resume"
	serverApp "cvadapt/internal/server/app"
	serverHTTP "cvadapt/internal/server/http"
)

// Container holds the wired service graph.
type Container struct {
	Config        config.Config
	Backend       string
	Observability *observability.Observability
	Store         ports.LedgerStore
	Ledger        *ledger.Service
	Settlement    *settlement.Service
	Analyzer      *resume.Analyzer
	Generation    *serverApp.GenerationCoordinator
	Health        *serverApp.HealthChecker
}

type buildOptions struct {
	observability *observability.Observability
	logOutput     io.Writer
	store         ports.LedgerStore
	backend       string
	gateway       ports.PaymentGateway
	completer     llm.Completer
	publisher     ports.EventPublisher
}

// Option overrides one collaborator of the container, mostly for tests.
type Option func(*buildOptions)

func WithObservability(obs *observability.Observability) Option {
	return func(o *buildOptions) { o.observability = obs }
}

func WithLogOutput(w io.Writer) Option {
	return func(o *buildOptions) { o.logOutput = w }
}

// WithStore skips backend resolution and uses store as is.
func WithStore(store ports.LedgerStore, backend string) Option {
	return func(o *buildOptions) {
		o.store = store
		o.backend = backend
	}
}

func WithPaymentGateway(gateway ports.PaymentGateway) Option {
	return func(o *buildOptions) { o.gateway = gateway }
}

func WithCompleter(completer llm.Completer) Option {
	return func(o *buildOptions) { o.completer = completer }
}

// WithEventPublisher receives every committed credit adjustment.
func WithEventPublisher(publisher ports.EventPublisher) Option {
	return func(o *buildOptions) { o.publisher = publisher }
}

// BuildContainer wires the store, the services and the health probes from cfg.
func BuildContainer(ctx context.Context, cfg config.Config, opts ...Option) (*Container, error) {
	options := buildOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	obs := options.observability
	if obs == nil {
		var err error
		obs, err = observability.New(cfg.Observability, options.logOutput)
		if err != nil {
			return nil, err
		}
	}
	logger := observability.OrNop(obs.Logger).With("component", "di")

	store, backend := options.store, options.backend
	if store == nil {
		var err error
		store, backend, err = OpenStore(ctx, cfg.Store)
		if err != nil {
			_ = obs.Shutdown(ctx)
			return nil, err
		}
	}
	logger.Info("ledger store ready", "backend", backend)

	startingCredits := cfg.Ledger.DefaultCredits
	ledgerSvc := ledger.NewService(store, ledger.Config{StartingCredits: &startingCredits})
	ledgerSvc.AttachObservability(obs)
	if options.publisher != nil {
		ledgerSvc.AttachPublisher(options.publisher)
	}

	gateway := options.gateway
	if gateway == nil && cfg.Stripe.Configured() {
		stripeGateway, err := adapters.NewStripeGateway(adapters.StripeConfig{SecretKey: cfg.Stripe.SecretKey})
		if err != nil {
			_ = store.Close()
			_ = obs.Shutdown(ctx)
			return nil, err
		}
		gateway = stripeGateway
	}
	settlementSvc := settlement.NewService(ledgerSvc, store, gateway, settlement.Config{
		BaseURL: cfg.Server.BaseURL,
		Prices:  cfg.Stripe.Prices.ByPackage(),
	})
	settlementSvc.AttachObservability(obs)
	if !settlementSvc.Configured() {
		logger.Warn("payment provider not configured, checkout disabled")
	}

	completer := options.completer
	if completer == nil {
		client := llm.NewAnthropicClient(llm.Config{
			APIKey:  cfg.Anthropic.APIKey,
			Model:   cfg.Anthropic.Model,
			BaseURL: cfg.Anthropic.BaseURL,
			Timeout: cfg.Anthropic.Timeout,
		})
		client.AttachObservability(obs)
		completer = client
		if cfg.Anthropic.APIKey == "" {
			logger.Warn("ANTHROPIC_API_KEY not set, AI routes will fail")
		} else {
			logger.Info("anthropic client ready", "model", client.Model(), "api_key", observability.SanitizeAPIKey(cfg.Anthropic.APIKey))
		}
	}
	analyzer := resume.NewAnalyzer(completer, resume.Config{})
	analyzer.AttachObservability(obs)

	health := serverApp.NewHealthChecker()
	health.RegisterProbe(serverApp.NewStoreProbe(store, backend))
	health.RegisterProbe(serverApp.NewConfiguredProbe("anthropic", options.completer != nil || cfg.Anthropic.APIKey != ""))
	health.RegisterProbe(serverApp.NewConfiguredProbe("stripe", settlementSvc.Configured()))

	return &Container{
		Config:        cfg,
		Backend:       backend,
		Observability: obs,
		Store:         store,
		Ledger:        ledgerSvc,
		Settlement:    settlementSvc,
		Analyzer:      analyzer,
		Generation:    serverApp.NewGenerationCoordinator(ledgerSvc, analyzer, obs.Logger),
		Health:        health,
	}, nil
}

// Router builds the HTTP surface over the container services.
func (c *Container) Router() *gin.Engine {
	return serverHTTP.NewRouter(serverHTTP.RouterDeps{
		Ledger:        c.Ledger,
		Settlement:    c.Settlement,
		Analyzer:      c.Analyzer,
		Generation:    c.Generation,
		Health:        c.Health,
		Observability: c.Observability,
		RateLimit: serverHTTP.RateLimitConfig{
			RequestsPerMinute: c.Config.Server.RateLimit.RequestsPerMinute,
			Burst:             c.Config.Server.RateLimit.Burst,
		},
		MaxBodyBytes: c.Config.Server.MaxBodyBytes,
		Debug:        c.Config.Server.Debug,
	})
}

// Cleanup closes the store and flushes observability exporters.
func (c *Container) Cleanup(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	if c.Store != nil {
		if err := c.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}
	if err := c.Observability.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown observability: %w", err))
	}
	return errors.Join(errs...)
}
