// Package ratelimit implements the general API request throttle
// (RATE_LIMIT_WINDOW_SECONDS / RATE_LIMIT_MAX_REQUESTS). It is distinct
// from the account-lockout counters on the User row, which gate login
// attempts specifically and are tracked in the database, not Redis.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wisbric/safeguard/internal/errs"
	"github.com/wisbric/safeguard/internal/httpserver"
)

// Limiter counts requests per key using Redis INCR + EXPIRE.
type Limiter struct {
	redis  *redis.Client
	max    int
	window time.Duration
}

// New creates a rate limiter. max is the maximum number of requests allowed
// per key within the given window.
func New(rdb *redis.Client, max int, window time.Duration) *Limiter {
	return &Limiter{redis: rdb, max: max, window: window}
}

// Result holds the outcome of a rate limit check.
type Result struct {
	Allowed   bool
	Remaining int
	RetryAt   time.Time
}

// Check reports whether key may proceed, without recording an attempt.
func (l *Limiter) Check(ctx context.Context, key string) (*Result, error) {
	count, err := l.redis.Get(ctx, redisKey(key)).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("checking rate limit: %w", err)
	}

	if count >= l.max {
		ttl, err := l.redis.TTL(ctx, redisKey(key)).Result()
		if err != nil {
			return nil, fmt.Errorf("getting TTL: %w", err)
		}
		return &Result{Allowed: false, RetryAt: time.Now().Add(ttl)}, nil
	}

	return &Result{Allowed: true, Remaining: l.max - count}, nil
}

// Record increments the counter for key, setting the window expiry on the
// first increment.
func (l *Limiter) Record(ctx context.Context, key string) error {
	rk := redisKey(key)
	pipe := l.redis.Pipeline()
	incr := pipe.Incr(ctx, rk)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("recording rate limit: %w", err)
	}
	if incr.Val() == 1 {
		l.redis.Expire(ctx, rk, l.window)
	}
	return nil
}

// Reset clears the counter for key.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	return l.redis.Del(ctx, redisKey(key)).Err()
}

func redisKey(key string) string {
	return fmt.Sprintf("safeguard:ratelimit:%s", key)
}

// Middleware throttles every request by client IP, returning the RATE_LIMIT
// error class on rejection.
func Middleware(l *Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := ClientIP(r)
			res, err := l.Check(r.Context(), ip)
			if err != nil {
				httpserver.RespondError(w, nil, errs.Wrap(errs.Dependency, "RateLimitUnavailable", "rate limiter unavailable", err))
				return
			}
			if !res.Allowed {
				httpserver.RespondError(w, nil, errs.New(errs.RateLimited, "TooManyRequests", "too many requests, try again later"))
				return
			}
			if err := l.Record(r.Context(), ip); err != nil {
				httpserver.RespondError(w, nil, errs.Wrap(errs.Dependency, "RateLimitUnavailable", "rate limiter unavailable", err))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP extracts the originating client address, preferring
// X-Forwarded-For then X-Real-IP then the connection's remote address.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if idx := indexByte(fwd, ','); idx >= 0 {
			return fwd[:idx]
		}
		return fwd
	}
	if real := r.Header.Get("X-Real-IP"); real != "" {
		return real
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}
