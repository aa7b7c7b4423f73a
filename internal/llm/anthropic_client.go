package llm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	apperrors "cvadapt/internal/errors"
	"cvadapt/internal/jsonx"
	"cvadapt/internal/observability"
)

const (
	defaultAnthropicBaseURL     = "https://api.anthropic.com/v1"
	defaultAnthropicVersion     = "2023-06-01"
	defaultAnthropicModel       = "claude-sonnet-4-5-20250929"
	anthropicVersionHeaderKey   = "anthropic-version"
	anthropicRequestHeaderKey   = "x-api-key"
	anthropicMessagesPath       = "/messages"
	anthropicRequestContentType = "application/json"
	collaboratorName            = "anthropic"
	maxResponseBytes            = 8 << 20
)

// Config configures the Anthropic client.
type Config struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
	// HTTPClient overrides the transport, mostly for tests.
	HTTPClient *http.Client
}

// AnthropicClient calls the Anthropic messages API.
type AnthropicClient struct {
	model      string
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *observability.Logger
	metrics    *observability.MetricsCollector
	tracer     *observability.TracerProvider
}

// NewAnthropicClient builds a client. A missing key is reported on the first
// Complete call so the server can still start without one.
func NewAnthropicClient(config Config) *AnthropicClient {
	if config.BaseURL == "" {
		config.BaseURL = defaultAnthropicBaseURL
	}
	if config.Model == "" {
		config.Model = defaultAnthropicModel
	}
	httpClient := config.HTTPClient
	if httpClient == nil {
		timeout := 120 * time.Second
		if config.Timeout > 0 {
			timeout = config.Timeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &AnthropicClient{
		model:      config.Model,
		apiKey:     strings.TrimSpace(config.APIKey),
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		httpClient: httpClient,
		logger:     observability.NewNopLogger(),
	}
}

// AttachObservability wires logging, metrics and tracing.
func (c *AnthropicClient) AttachObservability(obs *observability.Observability) {
	if obs == nil {
		return
	}
	c.logger = observability.OrNop(obs.Logger).With("component", "llm", "provider", collaboratorName)
	c.metrics = obs.Metrics
	c.tracer = obs.Tracer
}

func (c *AnthropicClient) Model() string {
	return c.model
}

type anthropicRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system,omitempty"`
	Messages  []Message `json:"messages"`
}

type anthropicContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type anthropicResponse struct {
	ID         string                  `json:"id"`
	Content    []anthropicContentBlock `json:"content"`
	StopReason string                  `json:"stop_reason"`
	Error      *anthropicError         `json:"error,omitempty"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Complete sends one request and returns the first text block. An empty
// completion is not an error.
func (c *AnthropicClient) Complete(ctx context.Context, req CompletionRequest) (text string, err error) {
	if c.apiKey == "" {
		return "", apperrors.Configuration("ANTHROPIC_API_KEY manquant")
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = 2000
	}

	ctx, span := c.tracer.StartSpan(ctx, observability.SpanLLMComplete)
	started := time.Now()
	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
			span.SetAttributes(observability.ErrorAttrs(err)...)
		}
		span.End()
		c.metrics.RecordLLMRequest(ctx, c.model, status, time.Since(started))
	}()

	body, err := jsonx.Marshal(anthropicRequest{
		Model:     c.model,
		MaxTokens: req.MaxTokens,
		System:    req.System,
		Messages:  req.Messages,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	endpoint := c.baseURL + anthropicMessagesPath
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", anthropicRequestContentType)
	httpReq.Header.Set(anthropicRequestHeaderKey, c.apiKey)
	httpReq.Header.Set(anthropicVersionHeaderKey, defaultAnthropicVersion)

	c.logger.DebugContext(ctx, "llm request", "model", c.model, "max_tokens", req.MaxTokens, "messages", len(req.Messages))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", apperrors.Collaborator(collaboratorName, 0, "Erreur Anthropic: service injoignable", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", apperrors.Collaborator(collaboratorName, resp.StatusCode, "Erreur Anthropic: réponse illisible", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.WarnContext(ctx, "llm request failed", "status", resp.StatusCode)
		return "", mapHTTPError(resp.StatusCode, respBody)
	}

	var apiResp anthropicResponse
	if err := jsonx.Unmarshal(respBody, &apiResp); err != nil {
		return "", apperrors.Collaborator(collaboratorName, resp.StatusCode, "Erreur Anthropic: réponse invalide", err)
	}
	if apiResp.Error != nil && apiResp.Error.Message != "" {
		return "", mapHTTPError(resp.StatusCode, respBody)
	}

	for _, block := range apiResp.Content {
		if block.Type == "text" {
			text = block.Text
			break
		}
	}
	c.logger.DebugContext(ctx, "llm response", "id", apiResp.ID, "stop_reason", apiResp.StopReason, "chars", len(text))
	return text, nil
}

// mapHTTPError turns an upstream error payload into a collaborator error
// carrying the upstream status and message.
func mapHTTPError(status int, body []byte) error {
	detail := strings.TrimSpace(string(body))
	var parsed anthropicResponse
	if err := jsonx.Unmarshal(body, &parsed); err == nil && parsed.Error != nil && parsed.Error.Message != "" {
		detail = parsed.Error.Message
		if parsed.Error.Type != "" {
			detail = parsed.Error.Type + ": " + parsed.Error.Message
		}
	}
	if len(detail) > 500 {
		detail = detail[:500]
	}
	return apperrors.Collaborator(collaboratorName, status,
		fmt.Sprintf("Erreur Anthropic: %d %s", status, detail),
		errors.New(detail))
}

var _ Completer = (*AnthropicClient)(nil)
