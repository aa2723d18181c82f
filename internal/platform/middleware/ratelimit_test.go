package middleware

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

// historyServer mounts the limiter in front of a stand-in for the chat
// history endpoint, the busiest REST surface the limiter protects.
func historyServer(rps float64, burst int) *echo.Echo {
	e := echo.New()
	api := e.Group("/api/v1", RateLimit(rps, burst))
	api.GET("/chat/:patientID/:doctorID/messages", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"room": c.Param("patientID") + ":" + c.Param("doctorID"),
		})
	})
	return e
}

func getHistory(e *echo.Echo, ip string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/chat/p1/d1/messages", nil)
	req.Header.Set("X-Real-IP", ip)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestRateLimit_AllowsWithinBurst(t *testing.T) {
	e := historyServer(10, 5)

	for i := 0; i < 5; i++ {
		rec := getHistory(e, "203.0.113.7")
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, rec.Code)
		}
		if got := rec.Header().Get("X-RateLimit-Limit"); got != "10" {
			t.Errorf("request %d: expected X-RateLimit-Limit 10, got %q", i+1, got)
		}
	}
}

func TestRateLimit_RejectsPastBurst(t *testing.T) {
	e := historyServer(1, 2)

	for i := 0; i < 2; i++ {
		if rec := getHistory(e, "203.0.113.7"); rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, rec.Code)
		}
	}

	rec := getHistory(e, "203.0.113.7")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 past the burst, got %d", rec.Code)
	}
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Errorf("expected X-RateLimit-Remaining 0, got %q", got)
	}
	retryAfter, err := strconv.Atoi(rec.Header().Get("Retry-After"))
	if err != nil {
		t.Fatalf("Retry-After is not an integer: %q", rec.Header().Get("Retry-After"))
	}
	if retryAfter < 1 {
		t.Errorf("expected Retry-After >= 1, got %d", retryAfter)
	}
}

func TestRateLimit_ClientsAreIsolated(t *testing.T) {
	e := historyServer(1, 1)

	if rec := getHistory(e, "203.0.113.7"); rec.Code != http.StatusOK {
		t.Fatalf("first client: expected 200, got %d", rec.Code)
	}
	if rec := getHistory(e, "203.0.113.7"); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("first client repeat: expected 429, got %d", rec.Code)
	}

	// A second patient's device must not inherit the first one's budget.
	if rec := getHistory(e, "198.51.100.23"); rec.Code != http.StatusOK {
		t.Fatalf("second client: expected 200, got %d", rec.Code)
	}
}

func TestIPLimiter_RefillsOverTime(t *testing.T) {
	l := newIPLimiter(2, 1)
	clock := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return clock }

	if ok, _ := l.take("c1"); !ok {
		t.Fatal("expected the initial token to be available")
	}
	if ok, retryAfter := l.take("c1"); ok || retryAfter != 1 {
		t.Fatalf("expected rejection with Retry-After 1, got ok=%v retryAfter=%d", ok, retryAfter)
	}

	// Half a second at 2 rps earns the token back.
	clock = clock.Add(500 * time.Millisecond)
	if ok, _ := l.take("c1"); !ok {
		t.Fatal("expected a refilled token after the wait")
	}
}

func TestIPLimiter_RefillNeverExceedsBurst(t *testing.T) {
	l := newIPLimiter(100, 2)
	clock := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return clock }

	l.take("c1")
	clock = clock.Add(time.Hour)

	granted := 0
	for i := 0; i < 5; i++ {
		if ok, _ := l.take("c1"); ok {
			granted++
		}
	}
	if granted != 2 {
		t.Fatalf("expected the hour idle to restore at most the burst of 2, got %d", granted)
	}
}

func TestIPLimiter_ZeroRateNeverRefills(t *testing.T) {
	l := newIPLimiter(0, 1)
	clock := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return clock }

	l.take("c1")
	clock = clock.Add(time.Hour)
	if ok, retryAfter := l.take("c1"); ok || retryAfter != 1 {
		t.Fatalf("expected a permanent rejection at zero rate, got ok=%v retryAfter=%d", ok, retryAfter)
	}
}

func TestIPLimiter_SweepsIdleClients(t *testing.T) {
	l := newIPLimiter(1, 1)
	clock := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return clock }

	l.take("idle")
	clock = clock.Add(staleAfter + time.Minute)

	// A new client triggers the sweep.
	l.take("fresh")

	l.mu.Lock()
	_, idleKept := l.clients["idle"]
	_, freshKept := l.clients["fresh"]
	l.mu.Unlock()
	if idleKept {
		t.Error("expected the idle client's bucket to be reclaimed")
	}
	if !freshKept {
		t.Error("expected the fresh client's bucket to be kept")
	}
}
