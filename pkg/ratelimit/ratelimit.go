// Package ratelimit provides the per-source token bucket that gates every
// outbound call made by the source adapters. One Limiter instance is shared
// by all concurrent fetch tasks targeting the same source.
package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Policy is a (max requests, time period) request ceiling.
type Policy struct {
	MaxRequests int           `json:"max_requests" yaml:"max_requests"`
	PeriodMs    int           `json:"period_ms" yaml:"period_ms"`
	Period      time.Duration `json:"-" yaml:"-"`
}

// DefaultPolicy mirrors the conservative ceiling used when a source declares none.
var DefaultPolicy = Policy{MaxRequests: 10, Period: 3 * time.Second}

// Normalize fills derived and defaulted fields.
func (p Policy) Normalize() Policy {
	if p.Period <= 0 && p.PeriodMs > 0 {
		p.Period = time.Duration(p.PeriodMs) * time.Millisecond
	}
	if p.MaxRequests <= 0 || p.Period <= 0 {
		return DefaultPolicy
	}
	return p
}

// Limiter is a blocking token bucket. Acquire never rejects; callers wait
// until a token frees up or their context ends. Waiters are served in
// FIFO-ish order, which is all the adapters need.
type Limiter struct {
	limiter *rate.Limiter
	policy  Policy
}

// New builds a limiter for the given policy. Tokens are spaced evenly across
// the period so no sliding window of one period length ever sees more than
// MaxRequests acquisitions.
func New(policy Policy) *Limiter {
	policy = policy.Normalize()
	interval := policy.Period / time.Duration(policy.MaxRequests)
	return &Limiter{
		limiter: rate.NewLimiter(rate.Every(interval), 1),
		policy:  policy,
	}
}

// PerSecond builds a limiter from a flat requests-per-second override,
// as supplied by the CLI --rate-limit flag.
func PerSecond(rps float64) *Limiter {
	if rps <= 0 {
		return New(DefaultPolicy)
	}
	// The reported policy is one request per token interval, which stays
	// exact for fractional rates.
	return &Limiter{
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		policy:  Policy{MaxRequests: 1, Period: time.Duration(float64(time.Second) / rps)},
	}
}

// Acquire blocks until a token is available or ctx is done.
func (l *Limiter) Acquire(ctx context.Context) error {
	if l == nil || l.limiter == nil {
		return nil
	}
	return l.limiter.Wait(ctx)
}

// Policy returns the normalized policy the limiter enforces.
func (l *Limiter) Policy() Policy {
	if l == nil {
		return Policy{}
	}
	return l.policy
}
