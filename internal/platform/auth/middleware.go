// Package auth provides session-token authentication for the portal API.
// The portal issues its own HS256 session tokens at login; this package
// verifies them, places the caller's identity on the request context, and
// enforces role requirements. Credential validation itself (passwords,
// external IdPs) is the identity collaborator's concern.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	userIDKey contextKey = "user_id"
	roleKey   contextKey = "user_role"
	emailKey  contextKey = "user_email"
)

// Claims are the session token claims the portal issues at login.
type Claims struct {
	jwt.RegisteredClaims
	Role  string `json:"role"`
	Email string `json:"email"`
}

// IssueToken creates a signed session token for the given user. Used by the
// login flow and by tests.
func IssueToken(secret []byte, userID, role, email string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role:  role,
		Email: email,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// ParseToken verifies a session token and returns its claims.
func ParseToken(secret []byte, tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("token has no subject")
	}
	return claims, nil
}

// JWTMiddleware returns middleware that requires a valid Bearer session
// token and stores the caller's identity on the request context.
func JWTMiddleware(secret []byte) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get("Authorization")
			if header == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
			}

			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization header")
			}

			claims, err := ParseToken(secret, parts[1])
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid or expired token")
			}

			ctx := WithIdentity(c.Request().Context(), claims.Subject, claims.Role, claims.Email)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

// DevAuthMiddleware grants every request an admin identity. Development
// only; Config.Validate refuses production without a JWT secret.
func DevAuthMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := WithIdentity(c.Request().Context(), "dev-admin", "admin", "dev-admin@localhost")
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

// WithIdentity returns a context carrying the given user identity.
func WithIdentity(ctx context.Context, userID, role, email string) context.Context {
	ctx = context.WithValue(ctx, userIDKey, userID)
	ctx = context.WithValue(ctx, roleKey, role)
	return context.WithValue(ctx, emailKey, email)
}

// UserIDFromContext returns the authenticated user id, or "" if absent.
func UserIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey).(string)
	return id
}

// RoleFromContext returns the authenticated user's role, or "" if absent.
func RoleFromContext(ctx context.Context) string {
	role, _ := ctx.Value(roleKey).(string)
	return role
}

// EmailFromContext returns the authenticated user's email, or "" if absent.
func EmailFromContext(ctx context.Context) string {
	email, _ := ctx.Value(emailKey).(string)
	return email
}
