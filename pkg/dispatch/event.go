package dispatch

import (
	"time"

	"github.com/gamelens-hq/gamelens-review-harvester/internal/domain"
)

// Event represents the payload delivered to downstream sinks after a review
// has been persisted.
type Event struct {
	Source         string     `json:"source"`
	SourceReviewID string     `json:"source_review_id"`
	ReviewID       int64      `json:"review_id"`
	GameID         int64      `json:"game_id"`
	Language       string     `json:"language"`
	Score          string     `json:"score"`
	Text           string     `json:"text"`
	ReviewedAt     *time.Time `json:"reviewed_at,omitempty"`
	IngestedAt     time.Time  `json:"ingested_at"`
}

// NewEvent constructs an Event for the given source + stored review.
func NewEvent(source string, review domain.Review) Event {
	return Event{
		Source:         source,
		SourceReviewID: review.SourceReviewID,
		ReviewID:       review.ID,
		GameID:         review.GameID,
		Language:       review.Language,
		Score:          review.Score,
		Text:           review.Text,
		ReviewedAt:     review.CreatedAt,
		IngestedAt:     time.Now().UTC(),
	}
}
