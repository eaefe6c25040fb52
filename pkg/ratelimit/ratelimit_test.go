package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestLimiterEnforcesTokenSpacing(t *testing.T) {
	const (
		maxRequests = 5
		period      = 100 * time.Millisecond
		workers     = 20
	)
	interval := period / maxRequests
	limiter := New(Policy{MaxRequests: maxRequests, Period: period})

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := limiter.Acquire(context.Background()); err != nil {
				t.Errorf("Acquire: %v", err)
			}
		}()
	}
	wg.Wait()
	elapsed := time.Since(start)

	// The first token is granted immediately and every later one on the
	// even schedule, so N acquisitions cannot finish before (N-1)
	// intervals have passed.
	if min := time.Duration(workers-1) * interval; elapsed < min {
		t.Fatalf("%d acquisitions finished in %v, schedule floor is %v", workers, elapsed, min)
	}
}

func TestLimiterAcquireHonorsContext(t *testing.T) {
	limiter := New(Policy{MaxRequests: 1, Period: time.Hour})
	if err := limiter.Acquire(context.Background()); err != nil {
		t.Fatalf("first Acquire: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := limiter.Acquire(ctx); err == nil {
		t.Fatal("expected context error while waiting for next token")
	}
}

func TestPolicyNormalizeFallsBackToDefault(t *testing.T) {
	p := Policy{}.Normalize()
	if p != DefaultPolicy {
		t.Fatalf("expected default policy, got %+v", p)
	}

	p = Policy{MaxRequests: 2, PeriodMs: 4000}.Normalize()
	if p.Period != 4*time.Second {
		t.Fatalf("expected derived period, got %v", p.Period)
	}
}

func TestPerSecondReportsFractionalRates(t *testing.T) {
	p := PerSecond(0.5).Policy()
	if p.MaxRequests != 1 || p.Period != 2*time.Second {
		t.Fatalf("PerSecond(0.5) policy = %+v", p)
	}

	p = PerSecond(4).Policy()
	if p.MaxRequests != 1 || p.Period != 250*time.Millisecond {
		t.Fatalf("PerSecond(4) policy = %+v", p)
	}

	if p := PerSecond(0).Policy(); p != DefaultPolicy {
		t.Fatalf("PerSecond(0) policy = %+v", p)
	}
}
