package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/cyphera/sponsor-relay/libs/go/logger"
	"github.com/cyphera/sponsor-relay/libs/go/relayerr"
)

// APIKeyHeader carries operator credentials.
const APIKeyHeader = "X-API-Key"

// KeySource returns the expected API key. It is called per request so a
// gate-released key never has to live in a long-lived variable.
type KeySource func(ctx context.Context) (string, error)

// RequireAPIKey rejects requests whose X-API-Key does not match.
func RequireAPIKey(expected KeySource) gin.HandlerFunc {
	return func(c *gin.Context) {
		want, err := expected(c.Request.Context())
		if err != nil || want == "" {
			if logger.Log != nil {
				logger.Log.Error("Operator API key unavailable",
					zap.String("correlation_id", GetCorrelationID(c)),
					zap.Error(err),
				)
			}
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"ok":        false,
				"error":     "operator authentication unavailable",
				"category":  relayerr.CategoryNetwork,
				"code":      "api_key_unavailable",
				"retryable": true,
			})
			return
		}

		got := c.GetHeader(APIKeyHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"ok":       false,
				"error":    "invalid API key",
				"category": relayerr.CategoryAuthorization,
				"code":     "invalid_api_key",
			})
			return
		}
		c.Next()
	}
}
