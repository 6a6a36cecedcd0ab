package httpapi

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/aegislabs/aegis-memory/pkg/apierr"
)

// statusForKind maps an apierr.Kind to the HTTP status it surfaces as.
func statusForKind(kind apierr.Kind) int {
	switch kind {
	case apierr.KindValidation:
		return http.StatusBadRequest
	case apierr.KindUnauthorized:
		return http.StatusUnauthorized
	case apierr.KindForbidden:
		return http.StatusForbidden
	case apierr.KindNotFound:
		return http.StatusNotFound
	case apierr.KindConflict:
		return http.StatusConflict
	case apierr.KindInvalidTransition:
		return http.StatusConflict
	case apierr.KindRateLimited:
		return http.StatusTooManyRequests
	case apierr.KindExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err as {"error": kind, "message": ..., "details": ...},
// logging server-kind errors since those represent our own bugs rather than
// caller mistakes.
func writeError(c *gin.Context, err error) {
	kind := apierr.KindOf(err)
	status := statusForKind(kind)

	if kind == apierr.KindServer {
		slog.Error("unhandled request error",
			"correlation_id", c.GetString(correlationIDKey),
			"path", c.Request.URL.Path,
			"error", err)
	}

	body := gin.H{"error": string(kind), "message": err.Error()}
	var apiErr *apierr.Error
	if errors.As(err, &apiErr) {
		body["message"] = apiErr.Message
		if apiErr.Details != nil {
			body["details"] = apiErr.Details
		}
	}
	c.AbortWithStatusJSON(status, body)
}
