package http

import (
	"bytes"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "cvadapt/internal/errors"
	"cvadapt/internal/jsonx"
	"cvadapt/internal/observability"
)

type errorResponse struct {
	Error string `json:"error"`
}

var errBodyTooLarge = errors.New(errorBodyTooLarge)

// decodeJSON reads the request body into v. An empty body decodes to the zero value.
func decodeJSON(c *gin.Context, v any) error {
	if c.Request.Body == nil {
		return nil
	}
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return errBodyTooLarge
		}
		return apperrors.Validation(errorMalformedJSONBody)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := jsonx.Unmarshal(body, v); err != nil {
		return apperrors.Validation(errorMalformedJSONBody)
	}
	return nil
}

// writeError maps err onto the {error} envelope. fallback is shown when err
// carries no client-safe message.
func writeError(c *gin.Context, logger *observability.Logger, err error, fallback string) {
	if errors.Is(err, errBodyTooLarge) {
		c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, errorResponse{Error: errorBodyTooLarge})
		return
	}
	status := apperrors.HTTPStatus(err)
	ctx := c.Request.Context()
	if status >= http.StatusInternalServerError {
		logger.ErrorContext(ctx, "request failed",
			"route", c.FullPath(),
			"kind", apperrors.KindOf(err).String(),
			"transient", apperrors.IsTransient(err),
			"error", err,
		)
	} else {
		logger.WarnContext(ctx, "request rejected", "route", c.FullPath(), "status", status, "error", err)
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, errorResponse{Error: apperrors.PublicMessage(err, fallback)})
}
