// Package resume analyzes résumés and job offers and generates ATS rewrites
// through the AI completion collaborator.
package resume

import (
	"context"
	"net/http"
	"strings"
	"time"

	apperrors "cvadapt/internal/errors"
	"cvadapt/internal/llm"
	"cvadapt/internal/observability"
)

// Config tunes the analyzer.
type Config struct {
	// HTTPClient fetches offer pages.
	HTTPClient     *http.Client
	OfferCacheSize int
	OfferCacheTTL  time.Duration
}

// Analyzer runs the three AI-backed operations. Collaborator failures always
// propagate; a reply that cannot be decoded yields a placeholder flagged as such.
type Analyzer struct {
	completer llm.Completer
	fetcher   *pageFetcher
	offers    *offerCache
	logger    *observability.Logger
	metrics   *observability.MetricsCollector
	tracer    *observability.TracerProvider
}

// NewAnalyzer constructs an Analyzer around completer.
func NewAnalyzer(completer llm.Completer, cfg Config) *Analyzer {
	return &Analyzer{
		completer: completer,
		fetcher:   newPageFetcher(cfg.HTTPClient),
		offers:    newOfferCache(cfg.OfferCacheSize, cfg.OfferCacheTTL),
		logger:    observability.NewNopLogger(),
	}
}

// AttachObservability wires logging, metrics and tracing.
func (a *Analyzer) AttachObservability(obs *observability.Observability) {
	if obs == nil {
		return
	}
	a.logger = observability.OrNop(obs.Logger).With("component", "resume")
	a.metrics = obs.Metrics
	a.tracer = obs.Tracer
}

// AnalyzeCV extracts a structured profile from résumé text.
func (a *Analyzer) AnalyzeCV(ctx context.Context, cvText string) (ProfileResult, error) {
	if strings.TrimSpace(cvText) == "" {
		return ProfileResult{}, apperrors.Validation("cvText requis")
	}
	reply, err := a.completer.Complete(ctx, llm.CompletionRequest{
		System:    analyzeCVSystemPrompt,
		Messages:  llm.UserMessage(analyzeCVUserContent(cvText)),
		MaxTokens: analyzeCVMaxTokens,
	})
	if err != nil {
		return ProfileResult{}, err
	}

	profile, repaired, err := decodeModelJSON[Profile](reply)
	if err != nil {
		a.logger.WarnContext(ctx, "profile reply not decodable, using placeholder", "error", err)
		return ProfileResult{Profile: placeholderProfile(), Placeholder: true}, nil
	}
	if repaired {
		a.logger.InfoContext(ctx, "profile reply repaired")
	}
	return ProfileResult{Profile: normalizeProfile(profile)}, nil
}

// AnalyzeOffer extracts the requirements of a job offer given as text or URL.
func (a *Analyzer) AnalyzeOffer(ctx context.Context, req OfferRequest) (OfferResult, error) {
	var content string
	switch req.Mode {
	case ModeURL:
		if strings.TrimSpace(req.URL) == "" {
			return OfferResult{}, apperrors.Validation("url requise")
		}
		fetchCtx, span := a.tracer.StartSpan(ctx, observability.SpanOfferFetch)
		text, err := a.fetcher.Fetch(fetchCtx, req.URL)
		span.End()
		if err != nil {
			return OfferResult{}, err
		}
		content = text
	case ModeText:
		if strings.TrimSpace(req.Text) == "" {
			return OfferResult{}, apperrors.Validation("text requis")
		}
		content = truncateRunes(req.Text, offerTextLimit)
	default:
		return OfferResult{}, apperrors.Validation("mode invalide")
	}

	withSource := func(o Offer) Offer {
		o.Text = content
		o.URL = ""
		if req.Mode == ModeURL {
			o.URL = strings.TrimSpace(req.URL)
		}
		return o
	}

	key := offerCacheKey(content)
	if cached, ok := a.offers.get(key); ok {
		a.metrics.RecordOfferCacheLookup(ctx, true)
		return OfferResult{Offer: withSource(cached), Cached: true}, nil
	}
	a.metrics.RecordOfferCacheLookup(ctx, false)

	reply, err := a.completer.Complete(ctx, llm.CompletionRequest{
		System:    analyzeOfferSystemPrompt,
		Messages:  llm.UserMessage(analyzeOfferUserContent(content)),
		MaxTokens: analyzeOfferTokens,
	})
	if err != nil {
		return OfferResult{}, err
	}

	offer, _, err := decodeModelJSON[Offer](reply)
	if err != nil {
		a.logger.WarnContext(ctx, "offer reply not decodable, using placeholder", "error", err)
		return OfferResult{Offer: withSource(placeholderOffer()), Placeholder: true}, nil
	}
	offer = normalizeOffer(offer)
	a.offers.put(key, offer)
	return OfferResult{Offer: withSource(offer)}, nil
}

// Generate rewrites the résumé for the offer and returns markdown.
func (a *Analyzer) Generate(ctx context.Context, cvText string, offer Offer) (string, error) {
	return a.completer.Complete(ctx, llm.CompletionRequest{
		System:    generateSystemPrompt,
		Messages:  llm.UserMessage(generateUserContent(cvText, offer)),
		MaxTokens: generateMaxTokens,
	})
}

func normalizeProfile(p Profile) Profile {
	if p.CompetencesCles == nil {
		p.CompetencesCles = []string{}
	}
	if p.Experiences == nil {
		p.Experiences = []Experience{}
	}
	if p.Formations == nil {
		p.Formations = []Formation{}
	}
	if p.Langues == nil {
		p.Langues = []string{}
	}
	if p.SoftSkills == nil {
		p.SoftSkills = []string{}
	}
	return p
}

func normalizeOffer(o Offer) Offer {
	if o.CompetencesRequises == nil {
		o.CompetencesRequises = []string{}
	}
	if o.MotsClesATS == nil {
		o.MotsClesATS = []string{}
	}
	if o.Responsabilites == nil {
		o.Responsabilites = []string{}
	}
	return o
}
