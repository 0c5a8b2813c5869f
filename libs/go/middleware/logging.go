package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/cyphera/sponsor-relay/libs/go/logger"
)

// Headers and body fields whose values never reach the logs.
var (
	sensitiveHeaders = map[string]bool{
		"Authorization":     true,
		"X-Api-Key":         true,
		"Cookie":            true,
		"X-Relay-Signature": true,
	}
	sensitiveFields = map[string]bool{
		"signature":  true,
		"signed_tx":  true,
		"api_key":    true,
		"ciphertext": true,
	}
)

// bodyLogWriter is a wrapper around gin.ResponseWriter that captures the response body
type bodyLogWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w bodyLogWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func redactHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for key, values := range h {
		if sensitiveHeaders[http.CanonicalHeaderKey(key)] {
			out[key] = "[REDACTED]"
			continue
		}
		if len(values) > 0 {
			out[key] = values[0]
		}
	}
	return out
}

// redactBody parses a JSON object and blanks sensitive top-level fields.
func redactBody(body []byte) interface{} {
	if len(body) == 0 {
		return nil
	}
	var parsed interface{}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil
	}
	if obj, ok := parsed.(map[string]interface{}); ok {
		for k := range obj {
			if sensitiveFields[k] {
				obj[k] = "[REDACTED]"
			}
		}
	}
	return parsed
}

// EnhancedLoggingMiddleware logs request and response bodies in development.
func EnhancedLoggingMiddleware(isDevelopment bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !isDevelopment || logger.Log == nil {
			c.Next()
			return
		}

		startTime := time.Now()
		log := logger.Log.With(zap.String("correlation_id", GetCorrelationID(c)))

		var requestBody []byte
		if c.Request.Body != nil {
			requestBody, _ = io.ReadAll(c.Request.Body)
			c.Request.Body = io.NopCloser(bytes.NewReader(requestBody))
		}

		var requestJSON interface{}
		if strings.HasPrefix(c.GetHeader("Content-Type"), "application/json") {
			requestJSON = redactBody(requestBody)
		}

		log.Info("Detailed request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("query", c.Request.URL.RawQuery),
			zap.Any("headers", redactHeaders(c.Request.Header)),
			zap.Any("body", requestJSON),
			zap.Int("body_size", len(requestBody)),
		)

		blw := &bodyLogWriter{body: bytes.NewBufferString(""), ResponseWriter: c.Writer}
		c.Writer = blw

		c.Next()

		var responseJSON interface{}
		responseBody := blw.body.Bytes()
		if strings.HasPrefix(c.Writer.Header().Get("Content-Type"), "application/json") {
			responseJSON = redactBody(responseBody)
		}

		log.Info("Detailed response",
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(startTime)),
			zap.Any("headers", redactHeaders(c.Writer.Header())),
			zap.Any("body", responseJSON),
			zap.Int("body_size", len(responseBody)),
			zap.Int("errors_count", len(c.Errors)),
		)

		for _, err := range c.Errors {
			log.Error("Request error",
				zap.Error(err.Err),
				zap.Uint64("type", uint64(err.Type)),
				zap.Any("meta", err.Meta),
			)
		}
	}
}

// RequestLoggingMiddleware provides basic request logging for production
func RequestLoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()

		c.Next()

		if logger.Log != nil {
			logger.Log.Info("Request completed",
				zap.String("correlation_id", GetCorrelationID(c)),
				zap.String("method", c.Request.Method),
				zap.String("path", c.Request.URL.Path),
				zap.Int("status", c.Writer.Status()),
				zap.Duration("duration", time.Since(startTime)),
				zap.String("client_ip", c.ClientIP()),
				zap.Int("body_size", c.Writer.Size()),
			)
		}
	}
}
