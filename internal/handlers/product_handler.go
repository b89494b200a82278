package handlers

import (
	"net/http"
	"strconv"

	"catalog-admin-api/internal/catalog"

	"github.com/gin-gonic/gin"
)

// UpdateStockRequest is the payload of the stock sync endpoint
type UpdateStockRequest struct {
	Stock *int `json:"stock" binding:"required"`
}

// ImportProductsRequest is the payload of the bulk import endpoint
type ImportProductsRequest struct {
	Products []catalog.ProductInput `json:"products" binding:"required"`
}

/*
GetProducts handles GET /api/products
Query params: page (default 1), limit (default 20, max 100),
sort (desc|asc on created_at, name, price_asc, price_desc), categoryId.
*/
func (h *Handler) GetProducts(c *gin.Context) {
	categoryID, ok := parseUintQuery(c, "categoryId")
	if !ok {
		return
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(catalog.DefaultPageLimit)))

	result, err := h.catalog.ListProducts(c.Request.Context(), catalog.ProductFilter{
		CategoryID: categoryID,
		Page:       page,
		Limit:      limit,
		Sort:       c.DefaultQuery("sort", "desc"),
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// GetProductByID handles GET /api/products/:id
func (h *Handler) GetProductByID(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	p, err := h.catalog.GetProduct(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// CountProducts handles GET /api/products/count
func (h *Handler) CountProducts(c *gin.Context) {
	categoryID, ok := parseUintQuery(c, "categoryId")
	if !ok {
		return
	}
	total, err := h.catalog.CountProducts(c.Request.Context(), categoryID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"total": total, "categoryId": categoryID})
}

// CreateProduct handles POST /api/admin/products
func (h *Handler) CreateProduct(c *gin.Context) {
	var req catalog.ProductInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	p, err := h.catalog.CreateProduct(c.Request.Context(), c.GetString("user_id"), req)
	h.respondWrite(c, http.StatusCreated, p, err)
}

// UpdateProduct handles PUT /api/admin/products/:id
func (h *Handler) UpdateProduct(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req catalog.ProductPatch
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	p, err := h.catalog.UpdateProduct(c.Request.Context(), c.GetString("user_id"), id, req)
	h.respondWrite(c, http.StatusOK, p, err)
}

// UpdateProductStock handles PATCH /api/admin/products/:id/stock
func (h *Handler) UpdateProductStock(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req UpdateStockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	p, err := h.catalog.SyncStock(c.Request.Context(), c.GetString("user_id"), id, *req.Stock)
	h.respondWrite(c, http.StatusOK, p, err)
}

// DeleteProduct handles DELETE /api/admin/products/:id
func (h *Handler) DeleteProduct(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	p, err := h.catalog.DeleteProduct(c.Request.Context(), c.GetString("user_id"), id)
	if err != nil && p.ID == 0 {
		h.respondError(c, err)
		return
	}
	h.respondWrite(c, http.StatusOK, gin.H{
		"message": "Product deleted successfully",
		"id":      p.ID,
	}, err)
}

// ImportProducts handles POST /api/admin/products/import
func (h *Handler) ImportProducts(c *gin.Context) {
	var req ImportProductsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, err := h.catalog.ImportProducts(c.Request.Context(), c.GetString("user_id"), req.Products)
	h.respondWrite(c, http.StatusOK, res, err)
}
