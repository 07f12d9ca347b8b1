package middleware

import (
	"fmt"
	"net/http"
	"strconv"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"

	"github.com/ehr/ips/internal/platform/fhir"
)

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
	// MaxClients bounds the number of tracked limiters. The least recently
	// seen client is forgotten first.
	MaxClients        int
	Skipper           func(c echo.Context) bool
}

// DefaultRateLimitConfig returns default rate limiting settings.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 10,
		BurstSize:         20,
		MaxClients:        10000,
	}
}

// rateLimiterStore holds one limiter per client key.
type rateLimiterStore struct {
	limiters *lru.Cache[string, *rate.Limiter]
	config   RateLimitConfig
}

func newRateLimiterStore(cfg RateLimitConfig) (*rateLimiterStore, error) {
	if cfg.MaxClients <= 0 {
		cfg.MaxClients = DefaultRateLimitConfig().MaxClients
	}
	if cfg.BurstSize <= 0 {
		cfg.BurstSize = 1
	}
	cache, err := lru.New[string, *rate.Limiter](cfg.MaxClients)
	if err != nil {
		return nil, fmt.Errorf("create limiter cache: %w", err)
	}
	return &rateLimiterStore{limiters: cache, config: cfg}, nil
}

func (s *rateLimiterStore) get(key string) *rate.Limiter {
	if l, ok := s.limiters.Get(key); ok {
		return l
	}
	l := rate.NewLimiter(rate.Limit(s.config.RequestsPerSecond), s.config.BurstSize)
	// Another request may have raced us; keep whichever landed first.
	if prev, ok, _ := s.limiters.PeekOrAdd(key, l); ok {
		return prev
	}
	return l
}

// clientKey identifies the caller by authenticated user when available,
// otherwise by address.
func clientKey(c echo.Context) string {
	if uid, ok := c.Get("user_id").(string); ok && uid != "" {
		return "user:" + uid
	}
	return "ip:" + c.RealIP()
}

// RateLimit returns a per-client rate limiting middleware. Rejected requests
// get 429 with a throttled OperationOutcome and a Retry-After header.
func RateLimit(cfg RateLimitConfig) (echo.MiddlewareFunc, error) {
	store, err := newRateLimiterStore(cfg)
	if err != nil {
		return nil, err
	}
	limit := strconv.FormatFloat(cfg.RequestsPerSecond, 'f', -1, 64)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if cfg.Skipper != nil && cfg.Skipper(c) {
				return next(c)
			}

			limiter := store.get(clientKey(c))
			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", limit)

			r := limiter.Reserve()
			if delay := r.Delay(); delay > 0 {
				r.Cancel()
				h.Set("Retry-After", strconv.Itoa(int(delay.Seconds())+1))
				h.Set("X-RateLimit-Remaining", "0")
				outcome := fhir.NewOperationOutcome(fhir.IssueSeverityError, fhir.IssueTypeThrottled, "rate limit exceeded")
				return echo.NewHTTPError(http.StatusTooManyRequests, outcome)
			}
			return next(c)
		}
	}, nil
}
