package security

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
)

// RateLimiter is a fixed-window per-IP limiter backed by redis, shared
// across instances.
type RateLimiter struct {
	rdb    *redis.Client
	limit  int
	window time.Duration
	scope  string
}

func NewRateLimiter(rdb *redis.Client, scope string, limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		rdb:    rdb,
		limit:  limit,
		window: window,
		scope:  scope,
	}
}

// Allow counts a request for the given client and reports whether it is
// within the window limit. Redis being down fails open; rate limiting is
// protection, not correctness.
func (rl *RateLimiter) Allow(ctx context.Context, client string) bool {
	key := fmt.Sprintf("ratelimit:%s:%s", rl.scope, client)

	count, err := rl.rdb.Incr(ctx, key).Result()
	if err != nil {
		slog.Warn("rate limiter unavailable", "scope", rl.scope, "error", err)
		return true
	}
	if count == 1 {
		rl.rdb.Expire(ctx, key, rl.window)
	}

	if count > int64(rl.limit) {
		slog.Warn("rate limit exceeded", "scope", rl.scope, "client", client, "count", count)
		return false
	}
	return true
}

// Middleware rejects requests over the limit with 429.
func (rl *RateLimiter) Middleware() func(*core.RequestEvent) error {
	return func(e *core.RequestEvent) error {
		if !rl.Allow(e.Request.Context(), clientIP(e)) {
			return e.JSON(429, map[string]any{
				"success": false,
				"message": "too many requests, slow down",
			})
		}
		return e.Next()
	}
}

func clientIP(e *core.RequestEvent) string {
	if ip := e.Request.Header.Get("X-Forwarded-For"); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(e.Request.RemoteAddr)
	if err != nil {
		return e.Request.RemoteAddr
	}
	return host
}

// AdminGuard authenticates operator endpoints with a shared token carried
// in the x-admin-token header and compared against a bcrypt hash.
type AdminGuard struct {
	tokenHash string
}

func NewAdminGuard(tokenHash string) *AdminGuard {
	return &AdminGuard{tokenHash: tokenHash}
}

// Check verifies a presented token against the configured hash.
func (g *AdminGuard) Check(token string) error {
	if g.tokenHash == "" {
		return errors.New("admin access is not configured")
	}
	if token == "" {
		return errors.New("missing admin token")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(g.tokenHash), []byte(token)); err != nil {
		return errors.New("invalid admin token")
	}
	return nil
}

func (g *AdminGuard) Middleware() func(*core.RequestEvent) error {
	return func(e *core.RequestEvent) error {
		if err := g.Check(e.Request.Header.Get("x-admin-token")); err != nil {
			return apis.NewUnauthorizedError(err.Error(), nil)
		}
		return e.Next()
	}
}
