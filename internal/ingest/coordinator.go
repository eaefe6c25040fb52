package ingest

import (
	"context"
	"fmt"

	"github.com/gamelens-hq/gamelens-review-harvester/internal/domain"
	"github.com/gamelens-hq/gamelens-review-harvester/internal/logger"
	"github.com/gamelens-hq/gamelens-review-harvester/internal/store"
	"github.com/gamelens-hq/gamelens-review-harvester/pkg/sources"
)

// Package ingest pulls scraped-record streams into the store. Idempotency
// lives here and in the store's unique keys: re-running any job over
// already-ingested data produces skips, not duplicates.

// EventSink receives newly committed reviews. Delivery is best effort and
// happens after the database commit; a sink failure never fails the job.
type EventSink interface {
	ReviewIngested(ctx context.Context, review domain.Review)
}

// Summary is one ingestion run's outcome. Failed lists URLs the adapter
// dropped with skip semantics so operators can re-run them.
type Summary struct {
	Ingested int
	Skipped  int
	Failed   []string
}

// Coordinator drives streams from a source adapter into the store.
type Coordinator struct {
	store store.Store
	sink  EventSink
	log   logger.Logger
}

// New builds a coordinator. sink may be nil when no downstream cares.
func New(st store.Store, sink EventSink, log logger.Logger) *Coordinator {
	if log == nil {
		log = logger.NopLogger{}
	}
	return &Coordinator{store: st, sink: sink, log: log}
}

// IngestGames consumes a games stream. Known games are skipped, non-game
// apps are recorded as placeholders, and new games get their categories and
// developers resolved-or-created and attached.
func (c *Coordinator) IngestGames(ctx context.Context, sourceID int64, stream *sources.Stream[domain.ScrapedGame]) (Summary, error) {
	defer stream.Close()
	var sum Summary

	for {
		batch, ok := stream.Next(ctx)
		if !ok {
			break
		}
		for _, g := range batch {
			if g.NonGameApp {
				if err := c.store.MarkNonGameApp(ctx, sourceID, g.SourceGameID); err != nil {
					return c.finish(sum, stream), fmt.Errorf("mark non-game app: %w", err)
				}
				sum.Skipped++
				continue
			}

			game, created, err := c.store.GetOrCreateGame(ctx, sourceID, g)
			if err != nil {
				return c.finish(sum, stream), fmt.Errorf("ingest game %q: %w", g.SourceGameID, err)
			}
			if !created {
				sum.Skipped++
				continue
			}
			if err := c.attachGameMetadata(ctx, game.ID, g); err != nil {
				return c.finish(sum, stream), err
			}
			sum.Ingested++
		}
	}

	return c.finish(sum, stream), stream.Err()
}

func (c *Coordinator) attachGameMetadata(ctx context.Context, gameID int64, g domain.ScrapedGame) error {
	var categoryIDs []int64
	for _, name := range g.Categories {
		cat, err := c.store.GetOrCreateCategory(ctx, name)
		if err != nil {
			return fmt.Errorf("resolve category %q: %w", name, err)
		}
		categoryIDs = append(categoryIDs, cat.ID)
	}
	if err := c.store.AttachGameCategories(ctx, gameID, categoryIDs); err != nil {
		return err
	}

	var developerIDs []int64
	for _, name := range g.Developers {
		dev, err := c.store.GetOrCreateDeveloper(ctx, name)
		if err != nil {
			return fmt.Errorf("resolve developer %q: %w", name, err)
		}
		developerIDs = append(developerIDs, dev.ID)
	}
	return c.store.AttachGameDevelopers(ctx, gameID, developerIDs)
}

// IngestReviews consumes a reviews stream. gameID is the target game for
// per-game scrapes; zero means each review must carry its game inline, and
// reviews that carry neither are counted skipped. Each committed review is
// handed to the sink after the insert.
func (c *Coordinator) IngestReviews(ctx context.Context, sourceID, gameID int64, stream *sources.Stream[domain.ScrapedReview]) (Summary, error) {
	defer stream.Close()
	var sum Summary

	for {
		batch, ok := stream.Next(ctx)
		if !ok {
			break
		}
		for _, r := range batch {
			created, err := c.ingestReview(ctx, sourceID, gameID, r)
			if err != nil {
				return c.finish(sum, stream), err
			}
			if created {
				sum.Ingested++
			} else {
				sum.Skipped++
			}
		}
	}

	return c.finish(sum, stream), stream.Err()
}

func (c *Coordinator) ingestReview(ctx context.Context, sourceID, gameID int64, r domain.ScrapedReview) (bool, error) {
	targetGame := gameID
	if r.Game != nil {
		if r.Game.NonGameApp {
			if err := c.store.MarkNonGameApp(ctx, sourceID, r.Game.SourceGameID); err != nil {
				return false, fmt.Errorf("mark non-game app: %w", err)
			}
			return false, nil
		}
		game, created, err := c.store.GetOrCreateGame(ctx, sourceID, *r.Game)
		if err != nil {
			return false, fmt.Errorf("resolve game for review %q: %w", r.SourceReviewID, err)
		}
		if created {
			if err := c.attachGameMetadata(ctx, game.ID, *r.Game); err != nil {
				return false, err
			}
		}
		targetGame = game.ID
	}
	if targetGame == 0 {
		c.log.WarnObj("review dropped: no game", "review_skip", map[string]any{
			"source_id":        sourceID,
			"source_review_id": r.SourceReviewID,
		})
		return false, nil
	}

	var reviewerID *int64
	if r.Reviewer != nil && r.Reviewer.SourceReviewerID != "" {
		reviewer, err := c.store.GetOrCreateReviewer(ctx, sourceID, *r.Reviewer)
		if err != nil {
			return false, fmt.Errorf("resolve reviewer for review %q: %w", r.SourceReviewID, err)
		}
		reviewerID = &reviewer.ID
	}

	review := domain.Review{
		SourceID:         sourceID,
		SourceReviewID:   r.SourceReviewID,
		GameID:           targetGame,
		ReviewerID:       reviewerID,
		Language:         r.Language,
		Text:             r.Text,
		Summary:          r.Summary,
		Score:            r.Score,
		HelpfulScore:     r.HelpfulScore,
		Good:             r.Good,
		Bad:              r.Bad,
		VotedUp:          r.VotedUp,
		CreatedAt:        r.CreatedAt,
		PlaytimeAtReview: r.PlaytimeAtReview,
	}

	created, err := c.store.CreateReview(ctx, review)
	if err != nil {
		return false, fmt.Errorf("insert review %q: %w", r.SourceReviewID, err)
	}
	if created && c.sink != nil {
		c.sink.ReviewIngested(ctx, review)
	}
	return created, nil
}

func (c *Coordinator) finish(sum Summary, failers interface{ FailedURLs() []string }) Summary {
	sum.Failed = append(sum.Failed, failers.FailedURLs()...)
	if len(sum.Failed) > 0 {
		c.log.WarnObj("ingestion finished with skipped urls", "ingest_failures", map[string]any{
			"count": len(sum.Failed),
			"urls":  sum.Failed,
		})
	}
	return sum
}
