package controller

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	_uuid "github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"relaychat/platform"
	"relaychat/service"
)

const (
	requestIDKey = "requestId"
	userIDKey    = "userId"
)

// CORSMiddleware allows the configured web origins, with credentials.
func CORSMiddleware(cfg platform.CORSConfig) gin.HandlerFunc {
	allowed := make(map[string]bool, len(cfg.AllowOrigins))
	allowAll := false
	for _, origin := range cfg.AllowOrigins {
		if origin == "*" {
			allowAll = true
		}
		allowed[strings.TrimRight(origin, "/")] = true
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && (allowAll || allowed[origin]) {
			h := c.Writer.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Add("Vary", "Origin")
			h.Set("Access-Control-Max-Age", "86400")
			h.Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, PATCH, DELETE")
			h.Set("Access-Control-Allow-Headers", "X-Requested-With, Content-Type, Origin, Authorization, Accept, Accept-Encoding")
			h.Set("Access-Control-Expose-Headers", "Content-Length, X-Request-Id, X-Chat-Id")
			h.Set("Access-Control-Allow-Credentials", "true")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// RequestIDMiddleware attaches a unique id to each request for log correlation.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		uuid := _uuid.New()
		c.Writer.Header().Set("X-Request-Id", uuid.String())
		c.Set(requestIDKey, uuid.String())
		c.Next()
	}
}

func LogMiddleware(logger *logrus.Logger, metrics *platform.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery
		if raw != "" {
			path = path + "?" + raw
		}

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.HTTPRequest(c.Request.Method, route, status)

		logger.Infof(
			" [%s] %d | %v | %s | %s | %s | %s ",
			c.GetString(requestIDKey),
			status,
			latency,
			c.ClientIP(),
			c.Request.Method,
			path,
			c.Request.UserAgent(),
		)
	}
}

// RequireAuth rejects requests without a valid bearer token.
func RequireAuth(tokens *service.TokenService, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		details, err := tokens.ExtractTokenMetadata(c.Request)
		if err != nil {
			//Token either missing, expired or not valid
			logger.Debugf("[%s] unauthenticated request, %s", c.GetString(requestIDKey), err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		c.Set(userIDKey, details.UserID)
		c.Next()
	}
}

// OptionalAuth records the caller when a valid token is present and lets everyone through.
func OptionalAuth(tokens *service.TokenService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if details, err := tokens.ExtractTokenMetadata(c.Request); err == nil {
			c.Set(userIDKey, details.UserID)
		}
		c.Next()
	}
}
