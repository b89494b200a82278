package handlers

import (
	"errors"
	"io"
	"net/http"

	"catalog-admin-api/internal/cache"

	"github.com/gin-gonic/gin"
	perrors "github.com/jmgilman/go/errors"
)

// CachePatternsRequest lists glob patterns matched against keys and tags
type CachePatternsRequest struct {
	Patterns []string `json:"patterns"`
}

// InvalidateCache handles POST /api/admin/cache/invalidate
func (h *Handler) InvalidateCache(c *gin.Context) {
	var req CachePatternsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	removed, err := h.cache.Invalidate(c.Request.Context(), req.Patterns)
	if err != nil {
		h.respondCacheError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"removed":  removed,
		"patterns": req.Patterns,
	})
}

/*
ClearCache handles POST /api/admin/cache/clear
An empty body or empty pattern list clears everything. Identical requests
from the same admin and address within the debounce window share one result.
*/
func (h *Handler) ClearCache(c *gin.Context) {
	var req CachePatternsRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	caller := c.GetString("user_id") + "@" + c.ClientIP()
	res, err := h.cache.ClearDebounced(c.Request.Context(), caller, req.Patterns)
	if err != nil {
		h.respondCacheError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// SweepCache handles POST /api/admin/cache/sweep
func (h *Handler) SweepCache(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"evicted": h.cache.Sweep()})
}

// CacheStats handles GET /api/admin/cache/stats
func (h *Handler) CacheStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"cache":       h.cache.Stats(),
		"connections": h.hub.Connections(),
	})
}

func (h *Handler) respondCacheError(c *gin.Context, err error) {
	if errors.Is(err, cache.ErrInvalidPattern) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
			"code":  string(perrors.CodeInvalidInput),
		})
		return
	}
	h.respondError(c, err)
}
