package httpapi

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/aegislabs/aegis-memory/pkg/apierr"
	"github.com/aegislabs/aegis-memory/pkg/metrics"
)

const (
	correlationIDKey = "correlation_id"
	projectIDKey     = "project_id"
)

// correlationID assigns or forwards an X-Correlation-Id, echoing it on the
// response so a caller can correlate logs across a request.
func correlationID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Correlation-Id")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(correlationIDKey, id)
		c.Writer.Header().Set("X-Correlation-Id", id)
		c.Next()
	}
}

// securityHeaders sets a fixed set of defensive response headers.
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
		c.Next()
	}
}

// requestMetrics observes RequestDuration for every request.
func requestMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.RequestDuration.WithLabelValues(
			route, c.Request.Method, strconv.Itoa(c.Writer.Status()),
		).Observe(time.Since(start).Seconds())
	}
}

// authenticate resolves the bearer token into a project identity, rejecting
// the request with 401 on failure.
func (s *Server) authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		var token string
		if strings.HasPrefix(header, "Bearer ") {
			token = strings.TrimPrefix(header, "Bearer ")
		}

		identity, err := s.authn.Authenticate(c.Request.Context(), token)
		if err != nil {
			writeError(c, err)
			return
		}
		c.Set(projectIDKey, identity.ProjectID)
		c.Next()
	}
}

// rateLimit enforces the per-project sliding window, attaching quota
// headers and returning 429 with Retry-After on denial.
func (s *Server) rateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		projectID := c.GetString(projectIDKey)
		result, err := s.limiter.Check(c.Request.Context(), projectID)
		if err != nil {
			writeError(c, err)
			return
		}

		c.Writer.Header().Set("X-RateLimit-Remaining-Minute", strconv.Itoa(result.RemainingMinute))
		c.Writer.Header().Set("X-RateLimit-Remaining-Hour", strconv.Itoa(result.RemainingHour))
		if !result.Allowed {
			metrics.RateLimitDenials.WithLabelValues(projectID).Inc()
			c.Writer.Header().Set("Retry-After", strconv.Itoa(result.RetryAfterSeconds))
			writeError(c, apierr.RateLimited(result.RetryAfterSeconds))
			return
		}
		c.Next()
	}
}

func projectID(c *gin.Context) string {
	return c.GetString(projectIDKey)
}
