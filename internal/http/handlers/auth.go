package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gptproxy/gptproxy/internal/config"
	"github.com/gptproxy/gptproxy/internal/security"
	log "github.com/sirupsen/logrus"
)

// AuthHandler issues admin tokens.
type AuthHandler struct {
	adminCfg config.AdminConfig
}

// NewAuthHandler constructs an AuthHandler.
func NewAuthHandler(adminCfg config.AdminConfig) *AuthHandler {
	return &AuthHandler{adminCfg: adminCfg}
}

// tokenRequest defines the login payload.
type tokenRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Token exchanges admin credentials for a bearer token.
func (h *AuthHandler) Token(c *gin.Context) {
	var req tokenRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and password are required"})
		return
	}

	if h.adminCfg.Username == "" || h.adminCfg.PasswordHash == "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "admin login is not configured"})
		return
	}
	if req.Username != h.adminCfg.Username || !security.VerifyAdminPassword(h.adminCfg.PasswordHash, req.Password) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	token, errToken := security.GenerateAdminToken(h.adminCfg.JWTSecret, req.Username, h.adminCfg.TokenExpiry())
	if errToken != nil {
		log.WithError(errToken).Error("failed to sign admin token")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"access_token": token,
		"token_type":   "bearer",
		"expires_in":   int(h.adminCfg.TokenExpiry().Seconds()),
	})
}
