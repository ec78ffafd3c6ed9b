package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gptproxy/gptproxy/internal/config"
	"github.com/gptproxy/gptproxy/internal/security"
)

// adminAuthMiddleware validates admin JWTs issued by the token endpoint.
func adminAuthMiddleware(adminCfg config.AdminConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			return
		}

		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token == authHeader {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization format"})
			return
		}
		token = strings.TrimSpace(token)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "empty token"})
			return
		}

		claims, errJWT := security.ParseAdminToken(adminCfg.JWTSecret, token)
		if errJWT != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set("admin_user", claims.Username)
		c.Next()
	}
}

// proxyAuthMiddleware gates the relay endpoints behind the configured client
// API keys. An empty key list leaves the relay open, which is only sane on a
// private network; startup logs a warning about it.
func proxyAuthMiddleware(proxyCfg config.ProxyAuthConfig) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(proxyCfg.APIKeys))
	for _, key := range proxyCfg.APIKeys {
		if key = strings.TrimSpace(key); key != "" {
			allowed[key] = struct{}{}
		}
	}
	return func(c *gin.Context) {
		if len(allowed) == 0 {
			c.Next()
			return
		}
		candidate := strings.TrimSpace(c.GetHeader(proxyCfg.Header))
		if candidate == "" {
			// Fall back to the conventional bearer header so OpenAI SDKs
			// work without custom header plumbing.
			bearer := c.GetHeader("Authorization")
			candidate = strings.TrimSpace(strings.TrimPrefix(bearer, "Bearer "))
		}
		if _, ok := allowed[candidate]; !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or missing proxy api key"})
			return
		}
		c.Next()
	}
}
