package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gptproxy/gptproxy/internal/keypool"
	log "github.com/sirupsen/logrus"
)

// KeyHandler exposes pool administration over the Manager.
type KeyHandler struct {
	manager *keypool.Manager
}

// NewKeyHandler constructs a KeyHandler.
func NewKeyHandler(manager *keypool.Manager) *KeyHandler {
	return &KeyHandler{manager: manager}
}

// listKeysQuery defines query parameters for listing keys.
type listKeysQuery struct {
	Page     int    `form:"page,default=1"`
	PageSize int    `form:"page_size,default=20"`
	Status   string `form:"status"`
}

// List returns a paginated list of keys with masked secrets and live usage.
func (h *KeyHandler) List(c *gin.Context) {
	var q listKeysQuery
	if errBind := c.ShouldBindQuery(&q); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid query"})
		return
	}
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize < 1 || q.PageSize > 100 {
		q.PageSize = 20
	}

	views, total, errList := h.manager.ListKeys(c.Request.Context(), q.Status, q.Page, q.PageSize)
	if errList != nil {
		if errors.Is(errList, keypool.ErrInvalidStatus) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status filter"})
			return
		}
		log.WithError(errList).Error("failed to list keys")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list keys failed"})
		return
	}

	totalPages := total / int64(q.PageSize)
	if total%int64(q.PageSize) != 0 {
		totalPages++
	}
	c.JSON(http.StatusOK, gin.H{
		"items": views,
		"page_info": gin.H{
			"page":        q.Page,
			"page_size":   q.PageSize,
			"total":       total,
			"total_pages": totalPages,
		},
	})
}

// Get returns a single key view.
func (h *KeyHandler) Get(c *gin.Context) {
	view, errGet := h.manager.GetKey(c.Request.Context(), c.Param("id"))
	if errGet != nil {
		if errors.Is(errGet, keypool.ErrKeyNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "key not found"})
			return
		}
		log.WithError(errGet).Error("failed to load key")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "get key failed"})
		return
	}
	c.JSON(http.StatusOK, view)
}

// createKeyRequest defines the single-key creation payload.
type createKeyRequest struct {
	Secret string `json:"secret" binding:"required"`
	Name   string `json:"name"`
}

// Create stores one new key.
func (h *KeyHandler) Create(c *gin.Context) {
	var req createKeyRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "secret is required"})
		return
	}

	view, errAdd := h.manager.AddKey(c.Request.Context(), req.Secret, req.Name)
	switch {
	case errAdd == nil:
		c.JSON(http.StatusCreated, view)
	case errors.Is(errAdd, keypool.ErrMalformedKey):
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed key secret"})
	case errors.Is(errAdd, keypool.ErrDuplicateKey):
		c.JSON(http.StatusConflict, gin.H{"error": "key already exists"})
	default:
		log.WithError(errAdd).Error("failed to create key")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create key failed"})
	}
}

// bulkAddRequest carries newline-separated "secret" or "secret,name" lines.
type bulkAddRequest struct {
	APIKeys string `json:"api_keys" binding:"required"`
}

// BulkAdd ingests a batch of keys, reporting per-line outcomes.
func (h *KeyHandler) BulkAdd(c *gin.Context) {
	var req bulkAddRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "api_keys text is required"})
		return
	}

	report, errBulk := h.manager.BulkAdd(c.Request.Context(), req.APIKeys)
	if errBulk != nil {
		log.WithError(errBulk).Error("bulk key add failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "bulk add failed"})
		return
	}
	c.JSON(http.StatusOK, report)
}

// setStatusRequest defines the status update payload.
type setStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// SetStatus moves a key to an explicit status.
func (h *KeyHandler) SetStatus(c *gin.Context) {
	var req setStatusRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "status is required"})
		return
	}

	view, errSet := h.manager.SetStatus(c.Request.Context(), c.Param("id"), req.Status)
	switch {
	case errSet == nil:
		c.JSON(http.StatusOK, view)
	case errors.Is(errSet, keypool.ErrInvalidStatus):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
	case errors.Is(errSet, keypool.ErrKeyNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "key not found"})
	default:
		log.WithError(errSet).Error("failed to update key status")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update status failed"})
	}
}

// renameRequest defines the rename payload.
type renameRequest struct {
	Name string `json:"name"`
}

// Rename changes a key's display name.
func (h *KeyHandler) Rename(c *gin.Context) {
	var req renameRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	view, errRename := h.manager.Rename(c.Request.Context(), c.Param("id"), req.Name)
	switch {
	case errRename == nil:
		c.JSON(http.StatusOK, view)
	case errors.Is(errRename, keypool.ErrKeyNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "key not found"})
	default:
		log.WithError(errRename).Error("failed to rename key")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "rename failed"})
	}
}

// Delete removes a key permanently.
func (h *KeyHandler) Delete(c *gin.Context) {
	errDelete := h.manager.Delete(c.Request.Context(), c.Param("id"))
	switch {
	case errDelete == nil:
		c.Status(http.StatusNoContent)
	case errors.Is(errDelete, keypool.ErrKeyNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "key not found"})
	default:
		log.WithError(errDelete).Error("failed to delete key")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete failed"})
	}
}

// ResetAll returns deactivated keys to rotation.
func (h *KeyHandler) ResetAll(c *gin.Context) {
	count, errReset := h.manager.ResetAll(c.Request.Context())
	if errReset != nil {
		log.WithError(errReset).Error("failed to reset keys")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "reset failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "keys reset", "count": count})
}

// ValidateNow triggers an immediate validation cycle.
func (h *KeyHandler) ValidateNow(c *gin.Context) {
	errValidate := h.manager.ValidateNow(c.Request.Context())
	if errors.Is(errValidate, keypool.ErrCycleRunning) {
		c.JSON(http.StatusConflict, gin.H{"error": "validation cycle already running"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": "validation started"})
}

// Stats returns pool-wide composition and traffic aggregates.
func (h *KeyHandler) Stats(c *gin.Context) {
	stats, errStats := h.manager.GlobalStats(c.Request.Context())
	if errStats != nil {
		log.WithError(errStats).Error("failed to compute pool stats")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stats failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"global_stats": stats})
}
