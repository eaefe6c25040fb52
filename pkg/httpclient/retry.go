package httpclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gamelens-hq/gamelens-review-harvester/internal/logger"
)

// ErrUnavailable marks an outcome the caller should skip rather than abort on.
var ErrUnavailable = errors.New("resource unavailable")

// TokenSource gates outbound calls. Implemented by ratelimit.Limiter.
type TokenSource interface {
	Acquire(ctx context.Context) error
}

// Outcome is the classified result of a single logical fetch. An outcome with
// a non-nil Err is "unavailable": the resource could not be fetched after
// retries, or failed permanently, and the caller should skip it and continue.
type Outcome struct {
	Body        []byte
	StatusCode  int
	ContentType string
	Attempts    int
	Err         error
}

// Available reports whether the fetch produced a usable body.
func (o Outcome) Available() bool { return o.Err == nil }

// RetryClient wraps a Client with rate limiting, bounded retry on transient
// failures, and response validation. Permanent failures (bad status, wrong
// content type) are never retried.
type RetryClient struct {
	client      Client
	limiter     TokenSource
	contentType string
	maxRetries  int
	backoff     time.Duration
	log         logger.Logger
}

// RetryOptions configures a RetryClient.
type RetryOptions struct {
	// ContentType is the substring expected in the response Content-Type
	// header. Empty accepts anything.
	ContentType string
	// MaxRetries bounds re-attempts after the first try on transient failures.
	MaxRetries int
	// Backoff is slept between transient attempts. Zero disables the delay.
	Backoff time.Duration
}

// NewRetryClient builds a retrying client. A nil limiter disables gating and
// a nil log discards diagnostics.
func NewRetryClient(client Client, limiter TokenSource, opts RetryOptions, log logger.Logger) *RetryClient {
	if client == nil {
		client = NewRestyClient(15 * time.Second)
	}
	if log == nil {
		log = logger.NopLogger{}
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	return &RetryClient{
		client:      client,
		limiter:     limiter,
		contentType: strings.ToLower(strings.TrimSpace(opts.ContentType)),
		maxRetries:  opts.MaxRetries,
		backoff:     opts.Backoff,
		log:         log,
	}
}

// Get fetches url, classifying the result. Every attempt acquires a token
// from the limiter first so the total request rate to the source stays under
// its ceiling regardless of how many tasks are in flight.
func (c *RetryClient) Get(ctx context.Context, url string, params map[string]string) Outcome {
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Acquire(ctx); err != nil {
				return c.record(url, Outcome{Attempts: attempt, Err: fmt.Errorf("%w: acquire rate token: %v", ErrUnavailable, err)})
			}
		}

		resp, err := c.client.Get(ctx, url, params, nil)
		if err != nil {
			// Transient: connect error, timeout, reset. Retry unless the
			// caller's context is gone.
			lastErr = err
			if ctx.Err() != nil {
				return c.record(url, Outcome{Attempts: attempt + 1, Err: fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())})
			}
			if attempt < c.maxRetries && c.backoff > 0 {
				timer := time.NewTimer(c.backoff)
				select {
				case <-ctx.Done():
					timer.Stop()
					return c.record(url, Outcome{Attempts: attempt + 1, Err: fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())})
				case <-timer.C:
				}
			}
			continue
		}

		out := Outcome{
			Body:        resp.Body(),
			StatusCode:  resp.StatusCode(),
			ContentType: resp.ContentType(),
			Attempts:    attempt + 1,
		}
		if resp.StatusCode() != http.StatusOK {
			out.Err = fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode())
			return c.record(url, out)
		}
		if c.contentType != "" && !strings.Contains(strings.ToLower(resp.ContentType()), c.contentType) {
			out.Err = fmt.Errorf("%w: content type %q, want %q", ErrUnavailable, resp.ContentType(), c.contentType)
			return c.record(url, out)
		}
		return c.record(url, out)
	}

	return c.record(url, Outcome{
		Attempts: c.maxRetries + 1,
		Err:      fmt.Errorf("%w: retries exhausted: %v", ErrUnavailable, lastErr),
	})
}

// record emits one structured line per logical call. These lines are the
// primary evidence when diagnosing upstream rate-limit bans.
func (c *RetryClient) record(url string, out Outcome) Outcome {
	fields := map[string]any{
		"url":      url,
		"status":   out.StatusCode,
		"attempts": out.Attempts,
	}
	if out.Err != nil {
		fields["error"] = out.Err.Error()
		c.log.WarnObj("fetch unavailable", "fetch_result", fields)
		return out
	}
	c.log.DebugObj("fetch ok", "fetch_result", fields)
	return out
}
