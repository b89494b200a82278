package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"catalog-admin-api/internal/auth"
	"catalog-admin-api/internal/cache"
	"catalog-admin-api/internal/catalog"
	"catalog-admin-api/internal/middleware"
	"catalog-admin-api/internal/realtime"

	"github.com/gin-gonic/gin"
	perrors "github.com/jmgilman/go/errors"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// staleMessage is returned when a write committed but the cache could not be scrubbed.
const staleMessage = "Change saved, but the cache could not be invalidated; recently modified data may appear stale until it expires"

// Deps are the collaborators the handlers need.
type Deps struct {
	DB      *gorm.DB
	Catalog *catalog.Service
	Cache   *cache.Service
	Tokens  *auth.Manager
	Hub     *realtime.Hub
	Logger  zerolog.Logger
}

// Handler serves the HTTP API.
type Handler struct {
	db      *gorm.DB
	catalog *catalog.Service
	cache   *cache.Service
	tokens  *auth.Manager
	hub     *realtime.Hub
	logger  zerolog.Logger
}

// New builds the handler set.
func New(d Deps) *Handler {
	return &Handler{
		db:      d.DB,
		catalog: d.Catalog,
		cache:   d.Cache,
		tokens:  d.Tokens,
		hub:     d.Hub,
		logger:  d.Logger,
	}
}

// statusFor maps an error code to an HTTP status.
func statusFor(code perrors.ErrorCode) int {
	switch code {
	case perrors.CodeInvalidInput, perrors.CodeSchemaFailed:
		return http.StatusBadRequest
	case perrors.CodeUnauthorized:
		return http.StatusUnauthorized
	case perrors.CodeForbidden:
		return http.StatusForbidden
	case perrors.CodeNotFound:
		return http.StatusNotFound
	case perrors.CodeAlreadyExists, perrors.CodeConflict:
		return http.StatusConflict
	case perrors.CodeRateLimit:
		return http.StatusTooManyRequests
	case perrors.CodeUnavailable, perrors.CodeTimeout, perrors.CodeNetwork:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondError renders err as {"error", "code", "classification"}.
func (h *Handler) respondError(c *gin.Context, err error) {
	resp := perrors.ToJSON(err)
	status := statusFor(perrors.ErrorCode(resp.Code))
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
		middleware.Logger(c, h.logger).Error().Err(err).Msg("request failed")
	}
	body := gin.H{
		"error":          resp.Message,
		"code":           resp.Code,
		"classification": resp.Classification,
	}
	if len(resp.Context) > 0 {
		body["context"] = resp.Context
	}
	c.JSON(status, body)
}

// respondWrite renders the result of a committed write. An invalidation
// failure after the commit is reported as 503 alongside the saved data.
func (h *Handler) respondWrite(c *gin.Context, status int, data any, err error) {
	if err == nil {
		c.JSON(status, data)
		return
	}
	if errors.Is(err, cache.ErrBackendUnavailable) {
		_ = c.Error(err)
		middleware.Logger(c, h.logger).Error().Err(err).Msg("cache invalidation failed after commit")
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":          staleMessage,
			"code":           string(perrors.CodeUnavailable),
			"classification": string(perrors.GetClassification(err)),
			"data":           data,
		})
		return
	}
	h.respondError(c, err)
}

func parseID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "A valid numeric id is required"})
		return 0, false
	}
	return uint(id), true
}

func parseUintQuery(c *gin.Context, key string) (uint, bool) {
	raw := c.Query(key)
	if raw == "" {
		return 0, true
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": key + " must be a positive integer"})
		return 0, false
	}
	return uint(v), true
}
