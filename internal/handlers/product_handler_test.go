package handlers

import (
	"fmt"
	"net/http"
	"testing"

	"catalog-admin-api/internal/cache"
	"catalog-admin-api/internal/models"

	"github.com/stretchr/testify/require"
)

func TestGetProducts_ServedFromCacheUntilWrite(t *testing.T) {
	env := newTestEnv(t)
	token := env.adminToken(t)
	env.createProduct(t, "KIT-1", env.kitchen.ID, token)

	w := env.do(t, http.MethodGet, "/api/products", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, float64(1), decode(t, w)["total"])

	// a row written behind the cache's back is not visible until invalidation
	require.NoError(t, env.db.Create(&models.Product{
		SKU: "KIT-2", Name: "Ladle", CategoryID: env.kitchen.ID, PriceCents: 500, Active: true,
	}).Error)
	w = env.do(t, http.MethodGet, "/api/products", "", nil)
	require.Equal(t, float64(1), decode(t, w)["total"])

	env.createProduct(t, "GAR-1", env.garden.ID, token)
	w = env.do(t, http.MethodGet, "/api/products", "", nil)
	require.Equal(t, float64(3), decode(t, w)["total"])
}

func TestGetProducts_FilterAndPaging(t *testing.T) {
	env := newTestEnv(t)
	token := env.adminToken(t)
	for i := 0; i < 3; i++ {
		env.createProduct(t, fmt.Sprintf("KIT-%d", i), env.kitchen.ID, token)
	}
	env.createProduct(t, "GAR-1", env.garden.ID, token)

	w := env.do(t, http.MethodGet, fmt.Sprintf("/api/products?categoryId=%d&limit=2&sort=asc", env.kitchen.ID), "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	require.Equal(t, float64(3), resp["total"])
	require.Equal(t, float64(2), resp["count"])
	require.Equal(t, "asc", resp["sort"])

	w = env.do(t, http.MethodGet, "/api/products?categoryId=abc", "", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCountProducts(t *testing.T) {
	env := newTestEnv(t)
	token := env.adminToken(t)
	env.createProduct(t, "KIT-1", env.kitchen.ID, token)
	env.createProduct(t, "GAR-1", env.garden.ID, token)

	w := env.do(t, http.MethodGet, "/api/products/count", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, float64(2), decode(t, w)["total"])

	w = env.do(t, http.MethodGet, fmt.Sprintf("/api/products/count?categoryId=%d", env.garden.ID), "", nil)
	require.Equal(t, float64(1), decode(t, w)["total"])
}

func TestGetProductByID(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProduct(t, "KIT-1", env.kitchen.ID, env.adminToken(t))

	w := env.do(t, http.MethodGet, fmt.Sprintf("/api/products/%d", p.ID), "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "KIT-1", decode(t, w)["sku"])

	w = env.do(t, http.MethodGet, "/api/products/9999", "", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	require.Equal(t, "NOT_FOUND", decode(t, w)["code"])

	w = env.do(t, http.MethodGet, "/api/products/abc", "", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateProduct_ValidationAndConflict(t *testing.T) {
	env := newTestEnv(t)
	token := env.adminToken(t)

	w := env.do(t, http.MethodPost, "/api/admin/products", token, map[string]any{"name": "No SKU", "categoryId": env.kitchen.ID})
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "INVALID_INPUT", decode(t, w)["code"])

	env.createProduct(t, "KIT-1", env.kitchen.ID, token)
	w = env.do(t, http.MethodPost, "/api/admin/products", token, map[string]any{
		"sku": "KIT-1", "name": "Again", "categoryId": env.kitchen.ID, "priceCents": 100,
	})
	require.Equal(t, http.StatusConflict, w.Code)

	w = env.do(t, http.MethodPost, "/api/admin/products", "", map[string]any{"sku": "X"})
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestUpdateProduct_MovesBetweenCategories(t *testing.T) {
	env := newTestEnv(t)
	token := env.adminToken(t)
	p := env.createProduct(t, "KIT-1", env.kitchen.ID, token)

	gardenCount := fmt.Sprintf("/api/products/count?categoryId=%d", env.garden.ID)
	require.Equal(t, float64(0), decode(t, env.do(t, http.MethodGet, gardenCount, "", nil))["total"])
	w := env.do(t, http.MethodGet, fmt.Sprintf("/api/products/%d", p.ID), "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodPut, fmt.Sprintf("/api/admin/products/%d", p.ID), token, map[string]any{
		"name":       "Hose",
		"categoryId": env.garden.ID,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	require.Equal(t, float64(1), decode(t, env.do(t, http.MethodGet, gardenCount, "", nil))["total"])
	w = env.do(t, http.MethodGet, fmt.Sprintf("/api/products/%d", p.ID), "", nil)
	require.Equal(t, "Hose", decode(t, w)["name"])
}

func TestUpdateProductStock(t *testing.T) {
	env := newTestEnv(t)
	token := env.adminToken(t)
	p := env.createProduct(t, "KIT-1", env.kitchen.ID, token)
	path := fmt.Sprintf("/api/products/%d", p.ID)

	require.Equal(t, float64(3), decode(t, env.do(t, http.MethodGet, path, "", nil))["stock"])

	w := env.do(t, http.MethodPatch, fmt.Sprintf("/api/admin/products/%d/stock", p.ID), token, map[string]any{"stock": 42})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, float64(42), decode(t, env.do(t, http.MethodGet, path, "", nil))["stock"])

	w = env.do(t, http.MethodPatch, fmt.Sprintf("/api/admin/products/%d/stock", p.ID), token, map[string]any{"stock": -1})
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPatch, fmt.Sprintf("/api/admin/products/%d/stock", p.ID), token, map[string]any{})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeleteProduct(t *testing.T) {
	env := newTestEnv(t)
	token := env.adminToken(t)
	p := env.createProduct(t, "KIT-1", env.kitchen.ID, token)
	path := fmt.Sprintf("/api/products/%d", p.ID)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, path, "", nil).Code)

	w := env.do(t, http.MethodDelete, fmt.Sprintf("/api/admin/products/%d", p.ID), token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, path, "", nil).Code)

	w = env.do(t, http.MethodDelete, fmt.Sprintf("/api/admin/products/%d", p.ID), token, nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestImportProducts(t *testing.T) {
	env := newTestEnv(t)
	token := env.adminToken(t)
	env.createProduct(t, "KIT-1", env.kitchen.ID, token)
	require.Equal(t, float64(1), decode(t, env.do(t, http.MethodGet, "/api/products/count", "", nil))["total"])

	w := env.do(t, http.MethodPost, "/api/admin/products/import", token, map[string]any{
		"products": []map[string]any{
			{"sku": "KIT-1", "name": "Renamed", "categoryId": env.kitchen.ID, "priceCents": 100},
			{"sku": "GAR-1", "name": "Rake", "categoryId": env.garden.ID, "priceCents": 900},
		},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode(t, w)
	require.Equal(t, float64(1), resp["created"])
	require.Equal(t, float64(1), resp["updated"])

	require.Equal(t, float64(2), decode(t, env.do(t, http.MethodGet, "/api/products/count", "", nil))["total"])

	w = env.do(t, http.MethodPost, "/api/admin/products/import", token, map[string]any{"products": []any{}})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWrite_InvalidationFailureReturnsServiceUnavailable(t *testing.T) {
	env := newTestEnv(t, cache.WithRemote(downBackend{}))
	token := env.adminToken(t)

	w := env.do(t, http.MethodPost, "/api/admin/products", token, map[string]any{
		"sku": "KIT-1", "name": "Kettle", "categoryId": env.kitchen.ID, "priceCents": 2500,
	})
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	resp := decode(t, w)
	require.Equal(t, "SERVICE_UNAVAILABLE", resp["code"])
	require.Equal(t, "RETRYABLE", resp["classification"])
	require.Contains(t, resp["error"], "stale")
	require.Equal(t, "KIT-1", resp["data"].(map[string]any)["sku"])

	// the write itself committed
	var n int64
	require.NoError(t, env.db.Model(&models.Product{}).Where("sku = ?", "KIT-1").Count(&n).Error)
	require.Equal(t, int64(1), n)

	// reads still work against the database
	w = env.do(t, http.MethodGet, "/api/products", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, float64(1), decode(t, w)["total"])
}
