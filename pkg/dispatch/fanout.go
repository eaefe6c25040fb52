package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/gamelens-hq/gamelens-review-harvester/internal/domain"
)

// Fanout dispatches events to all configured senders.
type Fanout struct {
	senders []Sender
}

// NewFanout builds a dispatcher that fans out events across senders.
func NewFanout(senders []Sender) *Fanout {
	cp := make([]Sender, 0, len(senders))
	for _, s := range senders {
		if s == nil {
			continue
		}
		cp = append(cp, s)
	}
	return &Fanout{senders: cp}
}

// Dispatch forwards the event to every registered sender.
// It returns the number of senders that successfully handled the event.
func (f *Fanout) Dispatch(ctx context.Context, evt Event) (int, error) {
	if f == nil || len(f.senders) == 0 {
		return 0, nil
	}

	var errs []error
	successful := 0
	for _, s := range f.senders {
		if err := s.Send(ctx, evt); err != nil {
			errs = append(errs, fmt.Errorf("%s sender[%s]: %w", s.Type(), s.ID(), err))
		} else {
			successful++
		}
	}
	return successful, errors.Join(errs...)
}

// Size returns the number of active senders.
func (f *Fanout) Size() int {
	if f == nil {
		return 0
	}
	return len(f.senders)
}

// EventSink bridges the ingestion pipeline to the fanout. Delivery is
// best-effort: a failed dispatch is logged, never surfaced, so a slow or
// broken sink cannot stall ingestion.
type EventSink struct {
	source string
	fanout *Fanout
	log    Logger
}

// NewEventSink wraps a fanout for reviews ingested from the named source.
func NewEventSink(source string, fanout *Fanout, log Logger) *EventSink {
	return &EventSink{
		source: source,
		fanout: fanout,
		log:    ensureLogger(log),
	}
}

// ReviewIngested dispatches an event for a freshly persisted review.
func (s *EventSink) ReviewIngested(ctx context.Context, review domain.Review) {
	if s == nil || s.fanout.Size() == 0 {
		return
	}

	if _, err := s.fanout.Dispatch(ctx, NewEvent(s.source, review)); err != nil {
		s.log.WarnObj("review event dispatch failed", "dispatch_fanout_error", map[string]any{
			"source":           s.source,
			"source_review_id": review.SourceReviewID,
			"error":            err.Error(),
		})
	}
}
