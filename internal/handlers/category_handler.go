package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// CreateCategoryRequest is the payload for creating a category
type CreateCategoryRequest struct {
	Name string `json:"name" binding:"required"`
	Slug string `json:"slug"`
}

// GetCategories handles GET /api/categories
func (h *Handler) GetCategories(c *gin.Context) {
	cats, err := h.catalog.ListCategories(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"categories": cats, "count": len(cats)})
}

// CreateCategory handles POST /api/admin/categories
func (h *Handler) CreateCategory(c *gin.Context) {
	var req CreateCategoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cat, err := h.catalog.CreateCategory(c.Request.Context(), c.GetString("user_id"), req.Name, req.Slug)
	h.respondWrite(c, http.StatusCreated, cat, err)
}
