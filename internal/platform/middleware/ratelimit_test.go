package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/ehr/ips/internal/platform/fhir"
)

func newLimited(t *testing.T, cfg RateLimitConfig) echo.HandlerFunc {
	t.Helper()
	mw, err := RateLimit(cfg)
	if err != nil {
		t.Fatalf("RateLimit: %v", err)
	}
	return mw(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
}

func callFrom(e *echo.Echo, h echo.HandlerFunc, ip, user string) (*httptest.ResponseRecorder, error) {
	req := httptest.NewRequest(http.MethodPost, "/fhir/Bundle/$summary", nil)
	req.RemoteAddr = ip + ":1234"
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if user != "" {
		c.Set("user_id", user)
	}
	return rec, h(c)
}

func TestRateLimit_RequestsWithinBurst(t *testing.T) {
	e := echo.New()
	h := newLimited(t, RateLimitConfig{RequestsPerSecond: 1, BurstSize: 5})

	for i := 0; i < 5; i++ {
		rec, err := callFrom(e, h, "10.0.0.1", "")
		if err != nil {
			t.Fatalf("request %d: expected no error, got %v", i+1, err)
		}
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, rec.Code)
		}
		if got := rec.Header().Get("X-RateLimit-Limit"); got != "1" {
			t.Errorf("expected X-RateLimit-Limit 1, got %q", got)
		}
	}
}

func TestRateLimit_ExceedsBurst(t *testing.T) {
	e := echo.New()
	h := newLimited(t, RateLimitConfig{RequestsPerSecond: 0.5, BurstSize: 2})

	for i := 0; i < 2; i++ {
		if _, err := callFrom(e, h, "10.0.0.1", ""); err != nil {
			t.Fatalf("request %d: unexpected error %v", i+1, err)
		}
	}

	rec, err := callFrom(e, h, "10.0.0.1", "")
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %v", err)
	}
	outcome, ok := he.Message.(*fhir.OperationOutcome)
	if !ok || outcome.Issue[0].Code != fhir.IssueTypeThrottled {
		t.Errorf("expected a throttled OperationOutcome, got %#v", he.Message)
	}
	retry, convErr := strconv.Atoi(rec.Header().Get("Retry-After"))
	if convErr != nil || retry < 1 {
		t.Errorf("expected a positive Retry-After, got %q", rec.Header().Get("Retry-After"))
	}
	if rec.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Error("expected X-RateLimit-Remaining 0")
	}
}

func TestRateLimit_SeparateClients(t *testing.T) {
	e := echo.New()
	h := newLimited(t, RateLimitConfig{RequestsPerSecond: 0.5, BurstSize: 1})

	if _, err := callFrom(e, h, "10.0.0.1", ""); err != nil {
		t.Fatalf("first client: %v", err)
	}
	if _, err := callFrom(e, h, "10.0.0.2", ""); err != nil {
		t.Errorf("expected a second address to have its own budget, got %v", err)
	}
	if _, err := callFrom(e, h, "10.0.0.1", "clinician-1"); err != nil {
		t.Errorf("expected an authenticated user to be keyed by id, got %v", err)
	}
	if _, err := callFrom(e, h, "10.0.0.3", "clinician-1"); err == nil {
		t.Error("expected the same user on another address to share the budget")
	}
}

func TestRateLimit_Skipper(t *testing.T) {
	e := echo.New()
	h := newLimited(t, RateLimitConfig{
		RequestsPerSecond: 0.5,
		BurstSize:         1,
		Skipper:           func(echo.Context) bool { return true },
	})
	for i := 0; i < 3; i++ {
		if _, err := callFrom(e, h, "10.0.0.1", ""); err != nil {
			t.Fatalf("request %d: expected skipped request to pass, got %v", i+1, err)
		}
	}
}

func TestRateLimit_EvictsLeastRecentClient(t *testing.T) {
	store, err := newRateLimiterStore(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1, MaxClients: 2})
	if err != nil {
		t.Fatalf("newRateLimiterStore: %v", err)
	}
	a := store.get("a")
	if store.get("a") != a {
		t.Fatal("expected the same limiter for a repeated key")
	}
	store.get("b")
	store.get("c")
	if store.limiters.Len() != 2 {
		t.Errorf("expected 2 tracked clients, got %d", store.limiters.Len())
	}
	if store.limiters.Contains("a") {
		t.Error("expected the least recently seen client to be evicted")
	}
}
