package middleware

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

type requestInfo struct {
	count     int
	expiresAt time.Time
}

// EndpointLimit is a stricter per-endpoint limit keyed by path prefix.
type EndpointLimit struct {
	Limit  int
	Window time.Duration

	mu       sync.Mutex
	requests map[string]*requestInfo
}

// RateLimitConfig holds configuration for rate limiting
type RateLimitConfig struct {
	IPLimit   int           // Requests per IP (unauthenticated)
	UserLimit int           // Requests per user (authenticated)
	Window    time.Duration
}

// DefaultRateLimitConfig returns default configuration
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		IPLimit:   300,
		UserLimit: 1200,
		Window:    time.Minute,
	}
}

// RateLimiter applies a general per-user (or per-IP) limit plus stricter
// limits on sensitive endpoint prefixes. Counters are in-process; each
// replica enforces its own share.
type RateLimiter struct {
	mu         sync.Mutex
	ipLimits   map[string]*requestInfo
	userLimits map[string]*requestInfo

	ipLimit   int
	userLimit int
	window    time.Duration

	endpointLimits map[string]*EndpointLimit
}

func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	rl := &RateLimiter{
		ipLimits:       make(map[string]*requestInfo),
		userLimits:     make(map[string]*requestInfo),
		ipLimit:        config.IPLimit,
		userLimit:      config.UserLimit,
		window:         config.Window,
		endpointLimits: make(map[string]*EndpointLimit),
	}

	// Calendar OAuth and hierarchy creation hit external services; keep
	// them on tighter budgets.
	rl.RegisterEndpoint("/api/v1/calendar/connect", 10, time.Minute)
	rl.RegisterEndpoint("/api/v1/calendar/callback", 10, time.Minute)
	rl.RegisterEndpoint("/api/v1/calendar/busy", 30, time.Minute)
	rl.RegisterEndpoint("/api/v1/appointments", 120, time.Minute)

	go func() {
		ticker := time.NewTicker(time.Minute)
		for range ticker.C {
			rl.cleanup()
		}
	}()

	return rl
}

// RegisterEndpoint adds a custom rate limit for a path prefix.
func (rl *RateLimiter) RegisterEndpoint(prefix string, limit int, window time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.endpointLimits[prefix] = &EndpointLimit{
		Limit:    limit,
		Window:   window,
		requests: make(map[string]*requestInfo),
	}
}

func (rl *RateLimiter) cleanup() {
	now := time.Now()

	rl.mu.Lock()
	for key, info := range rl.ipLimits {
		if now.After(info.expiresAt) {
			delete(rl.ipLimits, key)
		}
	}
	for key, info := range rl.userLimits {
		if now.After(info.expiresAt) {
			delete(rl.userLimits, key)
		}
	}
	limits := make([]*EndpointLimit, 0, len(rl.endpointLimits))
	for _, el := range rl.endpointLimits {
		limits = append(limits, el)
	}
	rl.mu.Unlock()

	for _, el := range limits {
		el.mu.Lock()
		for key, info := range el.requests {
			if now.After(info.expiresAt) {
				delete(el.requests, key)
			}
		}
		el.mu.Unlock()
	}
}

// Handler returns the rate limiting middleware
func (rl *RateLimiter) Handler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		// Skip rate limiting for CORS preflight requests
		if c.Method() == "OPTIONS" {
			return c.Next()
		}

		now := time.Now()
		key := c.IP()
		userID, authenticated := c.Locals("user_id").(uuid.UUID)
		if authenticated {
			key = userID.String()
		}

		path := c.Path()
		for prefix, el := range rl.endpointLimits {
			if !strings.HasPrefix(path, prefix) {
				continue
			}
			if retryAfter, limited := el.take(key, now); limited {
				setRateLimitHeaders(c, el.Limit, 0)
				return c.Status(429).JSON(fiber.Map{
					"error":       "rate limit exceeded for this endpoint",
					"code":        "RATE_LIMITED",
					"retry_after": retryAfter,
				})
			}
		}

		limit := rl.ipLimit
		bucket := rl.ipLimits
		if authenticated {
			limit = rl.userLimit
			bucket = rl.userLimits
		}

		rl.mu.Lock()
		info, exists := bucket[key]
		if !exists || now.After(info.expiresAt) {
			bucket[key] = &requestInfo{count: 1, expiresAt: now.Add(rl.window)}
			rl.mu.Unlock()
			setRateLimitHeaders(c, limit, limit-1)
			return c.Next()
		}
		if info.count >= limit {
			retryAfter := int(info.expiresAt.Sub(now).Seconds())
			rl.mu.Unlock()
			setRateLimitHeaders(c, limit, 0)
			return c.Status(429).JSON(fiber.Map{
				"error":       "rate limit exceeded",
				"code":        "RATE_LIMITED",
				"retry_after": retryAfter,
			})
		}
		info.count++
		remaining := limit - info.count
		rl.mu.Unlock()

		setRateLimitHeaders(c, limit, remaining)
		return c.Next()
	}
}

// take counts one request against the endpoint limit and reports whether
// it pushed the caller over.
func (el *EndpointLimit) take(key string, now time.Time) (retryAfter int, limited bool) {
	el.mu.Lock()
	defer el.mu.Unlock()

	info, exists := el.requests[key]
	if !exists || now.After(info.expiresAt) {
		el.requests[key] = &requestInfo{count: 1, expiresAt: now.Add(el.Window)}
		return 0, false
	}
	if info.count >= el.Limit {
		return int(info.expiresAt.Sub(now).Seconds()), true
	}
	info.count++
	return 0, false
}

func setRateLimitHeaders(c *fiber.Ctx, limit, remaining int) {
	c.Set("X-RateLimit-Limit", fmt.Sprintf("%d", limit))
	c.Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))
}
