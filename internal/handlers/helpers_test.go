package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"catalog-admin-api/internal/auth"
	"catalog-admin-api/internal/cache"
	"catalog-admin-api/internal/catalog"
	"catalog-admin-api/internal/database"
	"catalog-admin-api/internal/middleware"
	"catalog-admin-api/internal/models"
	"catalog-admin-api/internal/realtime"
	"catalog-admin-api/internal/testutil"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const testAdminPassword = "s3cret-pass"

type testEnv struct {
	router  *gin.Engine
	db      *gorm.DB
	cache   *cache.Service
	clock   *cache.ManualClock
	hub     *realtime.Hub
	tokens  *auth.Manager
	kitchen models.Category
	garden  models.Category
}

// downBackend is a remote tier that is always unreachable.
type downBackend struct{}

var errDown = errors.New("connection refused")

func (downBackend) Get(context.Context, string) ([]byte, bool, error) { return nil, false, errDown }

func (downBackend) Set(context.Context, string, []byte, time.Duration, []string) error {
	return errDown
}

func (downBackend) Delete(context.Context, string) error { return errDown }

func (downBackend) RemoveMatching(context.Context, []*cache.Pattern) ([]string, error) {
	return nil, errDown
}

func (downBackend) Flush(context.Context) (int, error) { return 0, errDown }

func (downBackend) Close() error { return nil }

func newTestEnv(t *testing.T, opts ...cache.Option) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := testutil.NewInMemoryDB()
	require.NoError(t, err)

	hash, err := auth.HashPassword(testAdminPassword)
	require.NoError(t, err)
	_, err = database.EnsureAdmin(db, "admin", hash)
	require.NoError(t, err)
	require.NoError(t, db.Create(&models.User{ID: "u-viewer", Username: "viewer", PasswordHash: hash, Role: models.RoleViewer}).Error)

	kitchen := models.Category{Name: "Kitchen", Slug: "kitchen"}
	garden := models.Category{Name: "Garden", Slug: "garden"}
	require.NoError(t, db.Create(&kitchen).Error)
	require.NoError(t, db.Create(&garden).Error)

	clock := cache.NewManualClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	cfg := cache.DefaultConfig()
	cfg.SweepInterval = 0
	c := cache.New(cfg, append([]cache.Option{cache.WithClock(clock)}, opts...)...)
	c.Init(context.Background())
	t.Cleanup(c.Shutdown)

	hub := realtime.NewHub()
	tokens := auth.NewManager("test-secret", "catalog-admin-api", "catalog-admin-clients", time.Hour)
	svc := catalog.NewService(catalog.NewRepository(db, database.NewGormExecutor(db)), c, hub, zerolog.Nop())

	h := New(Deps{DB: db, Catalog: svc, Cache: c, Tokens: tokens, Hub: hub, Logger: zerolog.Nop()})

	r := gin.New()
	api := r.Group("/api")
	api.POST("/login", h.Login)
	api.GET("/products", h.GetProducts)
	api.GET("/products/count", h.CountProducts)
	api.GET("/products/:id", h.GetProductByID)
	api.GET("/categories", h.GetCategories)

	admin := api.Group("/admin")
	admin.Use(middleware.JWTAuthMiddleware(tokens), middleware.RequireRole(string(models.RoleAdmin)))
	admin.GET("/users", h.GetAllUsers)
	admin.POST("/products", h.CreateProduct)
	admin.POST("/products/import", h.ImportProducts)
	admin.PUT("/products/:id", h.UpdateProduct)
	admin.PATCH("/products/:id/stock", h.UpdateProductStock)
	admin.DELETE("/products/:id", h.DeleteProduct)
	admin.POST("/categories", h.CreateCategory)
	admin.POST("/cache/invalidate", h.InvalidateCache)
	admin.POST("/cache/clear", h.ClearCache)
	admin.POST("/cache/sweep", h.SweepCache)
	admin.GET("/cache/stats", h.CacheStats)

	return &testEnv{
		router:  r,
		db:      db,
		cache:   c,
		clock:   clock,
		hub:     hub,
		tokens:  tokens,
		kitchen: kitchen,
		garden:  garden,
	}
}

func (e *testEnv) adminToken(t *testing.T) string {
	t.Helper()
	var admin models.User
	require.NoError(t, e.db.Where("username = ?", "admin").First(&admin).Error)
	token, err := e.tokens.GenerateToken(admin.ID, admin.Username, string(admin.Role))
	require.NoError(t, err)
	return token
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func (e *testEnv) createProduct(t *testing.T, sku string, categoryID uint, token string) models.Product {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/admin/products", token, map[string]any{
		"sku":        sku,
		"name":       "Item " + sku,
		"categoryId": categoryID,
		"priceCents": 1299,
		"stock":      3,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var p models.Product
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &p))
	return p
}
