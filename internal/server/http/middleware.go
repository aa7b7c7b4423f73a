package http

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"cvadapt/internal/observability"
)

const (
	headerRequestID        = "X-Request-ID"
	defaultMaxBodyBytes    = 2 << 20
	maxRequestIDLength     = 128
	errorBodyTooLarge      = "Requête trop volumineuse"
	errorMalformedJSONBody = "JSON invalide"
	errorMethodNotAllowed  = "Method not allowed"
	errorRouteNotFound     = "Route introuvable"
	errorInternalFallback  = "Erreur interne"
)

// RequestIDMiddleware propagates or assigns a request id.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(headerRequestID))
		if id == "" || len(id) > maxRequestIDLength {
			id = uuid.NewString()
		}
		c.Header(headerRequestID, id)
		ctx := observability.ContextWithRequestID(c.Request.Context(), id)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// BodyLimitMiddleware caps request bodies.
func BodyLimitMiddleware(limit int64) gin.HandlerFunc {
	if limit <= 0 {
		limit = defaultMaxBodyBytes
	}
	return func(c *gin.Context) {
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		}
		c.Next()
	}
}

// ObservabilityMiddleware instruments requests with a span, metrics and one log line.
func ObservabilityMiddleware(obs *observability.Observability) gin.HandlerFunc {
	if obs == nil {
		obs = observability.NewNop()
	}
	logger := observability.OrNop(obs.Logger).With("component", "http")
	return func(c *gin.Context) {
		start := time.Now()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		ctx, span := obs.Tracer.StartSpan(c.Request.Context(), observability.SpanHTTPServer,
			attribute.String("http.route", route),
			attribute.String("http.method", c.Request.Method),
		)
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		status := c.Writer.Status()
		latency := time.Since(start)
		bytes := int64(c.Writer.Size())
		if bytes < 0 {
			bytes = 0
		}
		span.SetAttributes(attribute.Int("http.status_code", status))
		if status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(status))
		}
		if len(c.Errors) > 0 {
			span.RecordError(errors.New(c.Errors.String()))
		}
		span.End()

		obs.Metrics.RecordHTTPServerRequest(ctx, c.Request.Method, route, status, latency, bytes)
		logger.InfoContext(ctx, "http request",
			"method", c.Request.Method,
			"route", route,
			"status", status,
			"latency_ms", float64(latency.Microseconds())/1000.0,
			"bytes", bytes,
		)
	}
}
