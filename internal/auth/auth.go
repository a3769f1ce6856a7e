package auth

import (
	"errors"
	"net/http"

	"github.com/golang-jwt/jwt/v5"
	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

const (
	tokenKey  = "user"
	tenantKey = "tenant_id"
)

// Claims of an identity provider access token. The subject is the tenant id.
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
}

// Middleware authenticates bearer tokens signed with secret (HS256) and
// stores the tenant id in the request context. A missing token is answered
// with 401, an invalid or expired one with 403.
func Middleware(secret string) echo.MiddlewareFunc {
	verify := echojwt.WithConfig(echojwt.Config{
		SigningKey:    []byte(secret),
		SigningMethod: echojwt.AlgorithmHS256,
		ContextKey:    tokenKey,
		NewClaimsFunc: func(c echo.Context) jwt.Claims { return new(Claims) },
		ErrorHandler: func(c echo.Context, err error) error {
			var missing *echojwt.TokenExtractionError
			if errors.As(err, &missing) {
				zap.L().Debug("auth: missing token", zap.String("path", c.Path()), zap.Error(err))
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "No token provided. Unauthorized."})
			}
			zap.L().Debug("auth: invalid token", zap.String("path", c.Path()), zap.Error(err))
			return forbidden(c)
		},
	})
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return verify(withTenant(next))
	}
}

func forbidden(c echo.Context) error {
	return c.JSON(http.StatusForbidden, echo.Map{"error": "Invalid or expired token. Forbidden."})
}

func withTenant(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		token, ok := c.Get(tokenKey).(*jwt.Token)
		if !ok {
			return forbidden(c)
		}
		sub, err := token.Claims.GetSubject()
		if err != nil || sub == "" {
			zap.L().Debug("auth: token without subject", zap.String("path", c.Path()))
			return forbidden(c)
		}
		c.Set(tenantKey, sub)
		return next(c)
	}
}

// TenantID returns the authenticated tenant of the request.
func TenantID(c echo.Context) string {
	s, _ := c.Get(tenantKey).(string)
	return s
}

// SetTenantID stores id as the authenticated tenant.
func SetTenantID(c echo.Context, id string) {
	c.Set(tenantKey, id)
}
