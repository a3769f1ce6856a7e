package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "test-secret"

func sign(t *testing.T, key string, claims Claims) string {
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	require.NoError(t, err)
	return s
}

func claimsFor(sub string, exp time.Time) Claims {
	return Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: sub, ExpiresAt: jwt.NewNumericDate(exp)}}
}

func newEcho() *echo.Echo {
	e := echo.New()
	e.GET("/whoami", func(c echo.Context) error {
		return c.String(http.StatusOK, TenantID(c))
	}, Middleware(secret))
	return e
}

func do(e *echo.Echo, authz string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	if authz != "" {
		req.Header.Set(echo.HeaderAuthorization, authz)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestValidToken(t *testing.T) {
	rec := do(newEcho(), "Bearer "+sign(t, secret, claimsFor("tenant-a", time.Now().Add(time.Hour))))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "tenant-a", rec.Body.String())
}

func TestMissingToken(t *testing.T) {
	e := newEcho()
	for _, h := range []string{"", "Bearer", "Bearer "} {
		rec := do(e, h)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "header %q", h)
		assert.Contains(t, rec.Body.String(), "error")
	}
}

func TestInvalidToken(t *testing.T) {
	e := newEcho()
	tests := map[string]string{
		"garbage":      "Bearer not.a.jwt",
		"wrong secret": "Bearer " + sign(t, "other", claimsFor("tenant-a", time.Now().Add(time.Hour))),
		"expired":      "Bearer " + sign(t, secret, claimsFor("tenant-a", time.Now().Add(-time.Minute))),
		"no subject":   "Bearer " + sign(t, secret, claimsFor("", time.Now().Add(time.Hour))),
	}
	for name, h := range tests {
		rec := do(e, h)
		assert.Equal(t, http.StatusForbidden, rec.Code, name)
	}
}

func TestWrongAlgorithm(t *testing.T) {
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claimsFor("tenant-a", time.Now().Add(time.Hour))).SignedString([]byte(secret))
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, do(newEcho(), "Bearer "+tok).Code)
}
