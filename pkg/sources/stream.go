package sources

import (
	"context"
	"errors"
	"sync"
)

// Stream is a lazy, finite, non-restartable sequence of record batches. One
// batch corresponds to one upstream pagination step and batches arrive in
// upstream page order. No batch is delivered twice within one consumption.
type Stream[T any] struct {
	batches chan []T
	cancel  context.CancelFunc

	mu     sync.Mutex
	err    error
	failed []string
}

// Producer is the write side handed to the adapter goroutine.
type Producer[T any] struct {
	stream *Stream[T]
	ctx    context.Context
}

// NewStream starts run in its own goroutine and returns the consumable
// stream. run yields batches through the producer and returns when the
// upstream is exhausted; a non-nil return marks the stream as failed, which
// consumers observe via Err after the last batch.
func NewStream[T any](ctx context.Context, run func(ctx context.Context, p *Producer[T]) error) *Stream[T] {
	ctx, cancel := context.WithCancel(ctx)
	s := &Stream[T]{
		batches: make(chan []T),
		cancel:  cancel,
	}
	p := &Producer[T]{stream: s, ctx: ctx}

	go func() {
		defer close(s.batches)
		defer cancel()
		if err := run(ctx, p); err != nil && !errors.Is(err, context.Canceled) {
			s.mu.Lock()
			if s.err == nil {
				s.err = err
			}
			s.mu.Unlock()
		}
	}()

	return s
}

// FailedStream returns an already-exhausted stream carrying err.
func FailedStream[T any](err error) *Stream[T] {
	s := &Stream[T]{batches: make(chan []T), cancel: func() {}, err: err}
	close(s.batches)
	return s
}

// Yield hands one batch to the consumer. It blocks until the consumer pulls
// the batch and returns false once the consumer has closed the stream, at
// which point the producer should stop fetching.
func (p *Producer[T]) Yield(batch []T) bool {
	if len(batch) == 0 {
		return p.ctx.Err() == nil
	}
	select {
	case p.stream.batches <- batch:
		return true
	case <-p.ctx.Done():
		return false
	}
}

// RecordFailure notes a page/item URL that permanently failed and was
// skipped. Failed URLs are enumerated in the job summary, never silently
// dropped.
func (p *Producer[T]) RecordFailure(url string) {
	p.stream.mu.Lock()
	p.stream.failed = append(p.stream.failed, url)
	p.stream.mu.Unlock()
}

// Next pulls the next batch. ok is false once the stream is exhausted or the
// consumer's context ends; check Err afterwards for a fatal producer error.
func (s *Stream[T]) Next(ctx context.Context) (batch []T, ok bool) {
	select {
	case b, open := <-s.batches:
		if !open {
			return nil, false
		}
		return b, true
	case <-ctx.Done():
		s.Close()
		s.mu.Lock()
		if s.err == nil {
			s.err = ctx.Err()
		}
		s.mu.Unlock()
		return nil, false
	}
}

// Close stops the producer. Safe to call more than once; in-flight fetches
// are abandoned, not rolled back.
func (s *Stream[T]) Close() {
	s.cancel()
}

// Err reports the fatal error that ended the stream early, if any. Skippable
// per-page failures are never reported here; they land in FailedURLs.
func (s *Stream[T]) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// FailedURLs returns the URLs dropped with skip semantics during production.
func (s *Stream[T]) FailedURLs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.failed))
	copy(out, s.failed)
	return out
}
