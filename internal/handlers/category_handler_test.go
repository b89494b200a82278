package handlers

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCategories_CreateInvalidatesListing(t *testing.T) {
	env := newTestEnv(t)
	token := env.adminToken(t)

	w := env.do(t, http.MethodGet, "/api/categories", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, float64(2), decode(t, w)["count"])

	w = env.do(t, http.MethodPost, "/api/admin/categories", token, map[string]string{"name": "Power Tools"})
	require.Equal(t, http.StatusCreated, w.Code)
	require.Equal(t, "power-tools", decode(t, w)["slug"])

	w = env.do(t, http.MethodGet, "/api/categories", "", nil)
	require.Equal(t, float64(3), decode(t, w)["count"])
}

func TestCreateCategory_DuplicateSlug(t *testing.T) {
	env := newTestEnv(t)
	token := env.adminToken(t)

	w := env.do(t, http.MethodPost, "/api/admin/categories", token, map[string]string{"name": "Kitchen Two", "slug": "kitchen"})
	require.Equal(t, http.StatusConflict, w.Code)

	w = env.do(t, http.MethodPost, "/api/admin/categories", token, map[string]string{})
	require.Equal(t, http.StatusBadRequest, w.Code)
}
