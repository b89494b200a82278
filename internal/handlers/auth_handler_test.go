package handlers

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLogin_Success(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/login", "", map[string]string{
		"username": "admin",
		"password": testAdminPassword,
	})
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode(t, w)
	require.NotEmpty(t, resp["token"])
	require.Equal(t, "admin", resp["role"])

	claims, err := env.tokens.ValidateToken(resp["token"].(string))
	require.NoError(t, err)
	require.Equal(t, resp["user_id"], claims.UserID)
}

func TestLogin_WrongPasswordOrUnknownUser(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/login", "", map[string]string{"username": "admin", "password": "nope"})
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(t, http.MethodPost, "/api/login", "", map[string]string{"username": "ghost", "password": testAdminPassword})
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLogin_MissingFields(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodPost, "/api/login", "", map[string]string{"username": "admin"})
	require.Equal(t, http.StatusBadRequest, w.Code)
}
