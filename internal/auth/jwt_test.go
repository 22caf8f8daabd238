package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/isdelr/alertflow/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_RoundTrip(t *testing.T) {
	m, err := NewManager("secret", time.Hour)
	require.NoError(t, err)

	token, err := m.GenerateJWT(models.User{ID: "u1", Username: "ana", Role: models.RoleSupervisor})
	require.NoError(t, err)

	claims, err := m.ValidateJWT(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, "ana", claims.Username)
	assert.Equal(t, models.RoleSupervisor, claims.Role)

	other, err := NewManager("other", time.Hour)
	require.NoError(t, err)
	_, err = other.ValidateJWT(token)
	assert.Error(t, err)
}

func TestManager_Expired(t *testing.T) {
	m, err := NewManager("secret", time.Nanosecond)
	require.NoError(t, err)
	token, err := m.GenerateJWT(models.User{ID: "u1"})
	require.NoError(t, err)
	time.Sleep(1100 * time.Millisecond)
	_, err = m.ValidateJWT(token)
	assert.Error(t, err)
}

func TestNewManager_EmptySecret(t *testing.T) {
	_, err := NewManager("", time.Hour)
	assert.Error(t, err)
}

func TestTokenFromRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws?token=q", nil)
	assert.Equal(t, "q", TokenFromRequest(r, true))
	assert.Empty(t, TokenFromRequest(r, false))

	r.AddCookie(&http.Cookie{Name: TokenCookie, Value: "c"})
	assert.Equal(t, "c", TokenFromRequest(r, true))

	r.Header.Set("Authorization", "Bearer h")
	assert.Equal(t, "h", TokenFromRequest(r, true))
}

func TestMiddlewareAndRequireRole(t *testing.T) {
	m, err := NewManager("secret", time.Hour)
	require.NoError(t, err)
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, found := ClaimsFrom(r.Context())
		require.True(t, found)
		w.Write([]byte(claims.UserID))
	})
	h := m.Middleware()(RequireRole(models.RoleAdmin)(ok))

	do := func(token string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusUnauthorized, do("").Code)
	assert.Equal(t, http.StatusUnauthorized, do("garbage").Code)

	viewer, _ := m.GenerateJWT(models.User{ID: "v", Role: models.RoleViewer})
	assert.Equal(t, http.StatusForbidden, do(viewer).Code)

	admin, _ := m.GenerateJWT(models.User{ID: "a", Role: models.RoleAdmin})
	rec := do(admin)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "a", rec.Body.String())
}
