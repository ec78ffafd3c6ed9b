package http

import (
	"github.com/gin-gonic/gin"
	"github.com/gptproxy/gptproxy/internal/config"
	"github.com/gptproxy/gptproxy/internal/http/handlers"
	"github.com/gptproxy/gptproxy/internal/keypool"
	"gorm.io/gorm"
)

// RegisterRoutes wires the relay surface, the admin API, and health checks
// onto the engine.
func RegisterRoutes(r *gin.Engine, cfg *config.Config, conn *gorm.DB, manager *keypool.Manager) {
	if r == nil || cfg == nil || manager == nil {
		return
	}

	healthHandler := handlers.NewHealthHandler(conn)
	r.GET("/healthz", healthHandler.Check)

	relayHandler := NewRelayHandler(manager, cfg.Upstream, cfg.ProxyAuth.Header)
	relay := r.Group("/v1")
	relay.Use(proxyAuthMiddleware(cfg.ProxyAuth))
	relay.POST("/chat/completions", relayHandler.ChatCompletions)
	relay.GET("/models", relayHandler.Models)

	api := r.Group("/api")

	authHandler := handlers.NewAuthHandler(cfg.Admin)
	api.POST("/token", authHandler.Token)

	admin := api.Group("")
	admin.Use(adminAuthMiddleware(cfg.Admin))

	keyHandler := handlers.NewKeyHandler(manager)
	admin.GET("/stats", keyHandler.Stats)
	admin.GET("/keys/paginated", keyHandler.List)
	admin.POST("/keys", keyHandler.Create)
	admin.POST("/keys/bulk", keyHandler.BulkAdd)
	admin.GET("/keys/:id", keyHandler.Get)
	admin.PUT("/keys/:id/status", keyHandler.SetStatus)
	admin.PUT("/keys/:id/name", keyHandler.Rename)
	admin.DELETE("/keys/:id", keyHandler.Delete)
	admin.POST("/keys/reset_all_keys", keyHandler.ResetAll)
	admin.POST("/validate_keys", keyHandler.ValidateNow)
}
