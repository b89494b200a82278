package handlers

import (
	"net/http"

	"catalog-admin-api/internal/models"

	"github.com/gin-gonic/gin"
)

type UserResponse struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

// GetAllUsers returns all users (admin only)
// GET /api/admin/users
func (h *Handler) GetAllUsers(c *gin.Context) {
	var users []models.User
	if err := h.db.WithContext(c.Request.Context()).Order("username").Find(&users).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch users"})
		return
	}

	// Map to safe response payload
	resp := make([]UserResponse, 0, len(users))
	for _, u := range users {
		resp = append(resp, UserResponse{
			ID:       u.ID,
			Username: u.Username,
			Role:     string(u.Role),
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"users": resp,
		"count": len(resp),
	})
}
