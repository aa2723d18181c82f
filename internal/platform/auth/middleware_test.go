package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

var testSecret = []byte("test-secret")

func TestIssueAndParseToken(t *testing.T) {
	token, err := IssueToken(testSecret, "p1", "patient", "p1@example.com", time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	claims, err := ParseToken(testSecret, token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if claims.Subject != "p1" {
		t.Errorf("expected subject p1, got %s", claims.Subject)
	}
	if claims.Role != "patient" {
		t.Errorf("expected role patient, got %s", claims.Role)
	}
	if claims.Email != "p1@example.com" {
		t.Errorf("expected email p1@example.com, got %s", claims.Email)
	}
}

func TestParseToken_RejectsWrongSecret(t *testing.T) {
	token, err := IssueToken(testSecret, "p1", "patient", "p1@example.com", time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := ParseToken([]byte("other-secret"), token); err == nil {
		t.Error("expected error for token signed with a different secret")
	}
}

func TestParseToken_RejectsExpired(t *testing.T) {
	token, err := IssueToken(testSecret, "p1", "patient", "p1@example.com", -time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := ParseToken(testSecret, token); err == nil {
		t.Error("expected error for expired token")
	}
}

func TestJWTMiddleware_SetsIdentity(t *testing.T) {
	token, _ := IssueToken(testSecret, "d1", "doctor", "d1@example.com", time.Hour)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := func(c echo.Context) error {
		ctx := c.Request().Context()
		if UserIDFromContext(ctx) != "d1" {
			t.Errorf("expected user d1, got %s", UserIDFromContext(ctx))
		}
		if RoleFromContext(ctx) != "doctor" {
			t.Errorf("expected role doctor, got %s", RoleFromContext(ctx))
		}
		return c.String(http.StatusOK, "ok")
	}

	if err := JWTMiddleware(testSecret)(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestJWTMiddleware_RejectsMissingHeader(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	}

	err := JWTMiddleware(testSecret)(handler)(c)
	if err == nil {
		t.Fatal("expected error for missing header")
	}
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %v", err)
	}
}

func TestRequireRole(t *testing.T) {
	e := echo.New()

	run := func(role string, required ...string) error {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		c.SetRequest(req.WithContext(WithIdentity(req.Context(), "u1", role, "u1@example.com")))

		handler := func(c echo.Context) error {
			return c.String(http.StatusOK, "ok")
		}
		return RequireRole(required...)(handler)(c)
	}

	if err := run("doctor", "doctor"); err != nil {
		t.Errorf("doctor should access doctor route: %v", err)
	}
	if err := run("admin", "doctor"); err != nil {
		t.Errorf("admin should access any route: %v", err)
	}
	if err := run("patient", "doctor"); err == nil {
		t.Error("patient should not access doctor route")
	}
}
