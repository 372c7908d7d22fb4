// Package ratelimit counts attempts per key inside fixed windows.
//
// Two backends share the Limiter interface: Memory for a single process and
// Redis when several instances must agree on the same counters. Both
// increment and compare in one atomic step, so concurrent requests can never
// both observe the last free slot.
package ratelimit

import (
	"context"
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

var ErrInvalidLimit = errors.New("ratelimit: limit and window must be positive")

// Result describes the state of a key's window after an attempt.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter is how long a rejected caller should wait, never less than a second.
func (r Result) RetryAfter(now time.Time) time.Duration {
	d := r.ResetAt.Sub(now)
	if d < time.Second {
		return time.Second
	}
	return d.Round(time.Second)
}

// Limiter admits or rejects one attempt for key. It only returns an error
// for misconfiguration or an unreachable backend, never to signal a denial.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (Result, error)
}

func validate(limit int, window time.Duration) error {
	if limit <= 0 || window <= 0 {
		return ErrInvalidLimit
	}
	return nil
}

// Policy is a named limit. The name prefixes every key so policies never
// share counters.
type Policy struct {
	Name   string
	Limit  int
	Window time.Duration
}

var (
	// Login guards credential submission per IP.
	Login = Policy{Name: "login", Limit: 5, Window: 15 * time.Minute}

	// General guards unauthenticated endpoints per IP.
	General = Policy{Name: "general", Limit: 100, Window: 15 * time.Minute}

	// User guards authenticated actions per user id.
	User = Policy{Name: "user", Limit: 100, Window: 15 * time.Minute}
)

// Allow applies the policy to key using l.
func (p Policy) Allow(ctx context.Context, l Limiter, key string) (Result, error) {
	return l.Allow(ctx, p.Name+":"+key, p.Limit, p.Window)
}

// FromEnv overrides a policy from RATELIMIT_<NAME>_REQUESTS and
// RATELIMIT_<NAME>_WINDOW_SEC. Invalid values are ignored.
func (p Policy) FromEnv() Policy {
	prefix := "RATELIMIT_" + strings.ToUpper(p.Name)

	if v := os.Getenv(prefix + "_REQUESTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			p.Limit = n
		}
	}
	if v := os.Getenv(prefix + "_WINDOW_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			p.Window = time.Duration(n) * time.Second
		}
	}
	return p
}
