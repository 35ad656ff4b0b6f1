package middleware

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/labstack/echo/v4"
)

func rateLimitedHandler(cfg RateLimitConfig) (*echo.Echo, echo.HandlerFunc) {
	e := echo.New()
	handler := RateLimit(cfg)(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	return e, handler
}

func claimRequest(e *echo.Echo, tenant string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/claims", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if tenant != "" {
		c.Set("jwt_tenant_id", tenant)
	}
	return c, rec
}

func TestRateLimit_WithinBurst(t *testing.T) {
	e, handler := rateLimitedHandler(RateLimitConfig{RequestsPerSecond: 10, BurstSize: 5})

	for i := 0; i < 5; i++ {
		c, rec := claimRequest(e, "billing_office_1")
		if err := handler(c); err != nil {
			t.Fatalf("request %d: %v", i+1, err)
		}
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: code = %d, want 200", i+1, rec.Code)
		}
		if got := rec.Header().Get("X-RateLimit-Limit"); got != "10" {
			t.Errorf("request %d: X-RateLimit-Limit = %q, want 10", i+1, got)
		}
	}
}

func TestRateLimit_ExhaustedBucket(t *testing.T) {
	e, handler := rateLimitedHandler(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 2})

	for i := 0; i < 2; i++ {
		c, _ := claimRequest(e, "billing_office_1")
		if err := handler(c); err != nil {
			t.Fatalf("request %d: %v", i+1, err)
		}
	}

	c, rec := claimRequest(e, "billing_office_1")
	err := handler(c)
	if err == nil {
		t.Fatal("expected rate limit error on third request")
	}
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != http.StatusTooManyRequests {
		t.Errorf("code = %d, want 429", httpErr.Code)
	}

	if rec.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Errorf("X-RateLimit-Remaining = %q, want 0", rec.Header().Get("X-RateLimit-Remaining"))
	}
	retryAfter, parseErr := strconv.Atoi(rec.Header().Get("Retry-After"))
	if parseErr != nil || retryAfter < 1 {
		t.Errorf("Retry-After = %q, want an integer >= 1", rec.Header().Get("Retry-After"))
	}
}

func TestRateLimit_TenantsShareOneBucket(t *testing.T) {
	// Two workstations in the same billing office draw from the same
	// bucket regardless of source address.
	e, handler := rateLimitedHandler(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1})

	c, _ := claimRequest(e, "billing_office_1")
	if err := handler(c); err != nil {
		t.Fatalf("first request: %v", err)
	}

	c2, _ := claimRequest(e, "billing_office_1")
	c2.Request().Header.Set("X-Forwarded-For", "10.0.0.99")
	if err := handler(c2); err == nil {
		t.Fatal("second request from same tenant should be limited")
	}
}

func TestRateLimit_TenantsAreIsolated(t *testing.T) {
	e, handler := rateLimitedHandler(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1})

	c, _ := claimRequest(e, "billing_office_1")
	if err := handler(c); err != nil {
		t.Fatalf("office 1: %v", err)
	}
	c2, _ := claimRequest(e, "billing_office_1")
	if err := handler(c2); err == nil {
		t.Fatal("office 1 should be exhausted")
	}

	// A different office still has its full burst.
	c3, _ := claimRequest(e, "billing_office_2")
	if err := handler(c3); err != nil {
		t.Fatalf("office 2 should not be limited: %v", err)
	}
}

func TestRateLimit_AnonymousFallsBackToIP(t *testing.T) {
	e, handler := rateLimitedHandler(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1})

	c, _ := claimRequest(e, "")
	if err := handler(c); err != nil {
		t.Fatalf("first anonymous request: %v", err)
	}
	c2, _ := claimRequest(e, "")
	if err := handler(c2); err == nil {
		t.Fatal("second anonymous request from same IP should be limited")
	}
}

func TestRateLimit_DefaultConfig(t *testing.T) {
	cfg := DefaultRateLimitConfig()
	if cfg.RequestsPerSecond != 100 {
		t.Errorf("RequestsPerSecond = %f, want 100", cfg.RequestsPerSecond)
	}
	if cfg.BurstSize != 200 {
		t.Errorf("BurstSize = %d, want 200", cfg.BurstSize)
	}
}

func TestTokenBucket_RetryAfterWithZeroRate(t *testing.T) {
	b := newTokenBucket(0, 1)
	b.allow()
	if ra := b.retryAfter(); ra != 1 {
		t.Errorf("retryAfter with zero refill rate = %d, want 1", ra)
	}
}

func TestRateLimiterStore_ReusesBuckets(t *testing.T) {
	store := newRateLimiterStore(RateLimitConfig{RequestsPerSecond: 10, BurstSize: 5})

	b1 := store.getBucket("tenant:billing_office_1")
	b2 := store.getBucket("tenant:billing_office_1")
	if b1 != b2 {
		t.Error("same key must return the same bucket")
	}

	b3 := store.getBucket("tenant:billing_office_2")
	if b1 == b3 {
		t.Error("different keys must get different buckets")
	}
}
