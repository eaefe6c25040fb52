package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gamelens-hq/gamelens-review-harvester/internal/analyzer"
	"github.com/gamelens-hq/gamelens-review-harvester/internal/ingest"
	"github.com/gamelens-hq/gamelens-review-harvester/internal/store"
	"github.com/gamelens-hq/gamelens-review-harvester/pkg/sources"
)

const (
	jobScrapeGames   = "scrape-games"
	jobScrapeReviews = "scrape-reviews"
	jobScrapePending = "scrape-pending"

	defaultStaleAfter     = 24 * time.Hour
	defaultPendingWorkers = 4
	defaultAnnotateLimit  = 100
)

// ScrapeGames discovers games from one source and persists the new ones.
// Already-linked source game ids, non-game placeholders included, are handed
// to the adapter so their detail fetches are skipped entirely.
func (h *Harvester) ScrapeGames(ctx context.Context, opts JobOptions) error {
	rt, err := h.sourceRuntime(ctx, opts)
	if err != nil {
		return err
	}
	h.logPreviousRun(jobScrapeGames, rt.cfg.ID)

	known, err := h.store.GameSourceIDs(ctx, rt.row.ID)
	if err != nil {
		return err
	}

	stream := rt.adapter.Games(ctx, sources.GamesQuery{
		BulkSize: opts.BulkSize,
		Known:    known,
	})
	sum, err := rt.coord.IngestGames(ctx, rt.row.ID, stream)
	h.recordRunOutcome(jobScrapeGames, rt.cfg.ID, sum, err)
	return err
}

// ScrapeReviews ingests reviews from one source. With --game set it scrapes
// that game's listing; otherwise the source-wide listing, in which case each
// review must carry its game inline.
func (h *Harvester) ScrapeReviews(ctx context.Context, opts JobOptions) error {
	rt, err := h.sourceRuntime(ctx, opts)
	if err != nil {
		return err
	}
	h.logPreviousRun(jobScrapeReviews, rt.cfg.ID)

	game := strings.TrimSpace(opts.Game)
	var gameID int64
	if game != "" {
		gameID, err = h.store.GameIDBySource(ctx, rt.row.ID, game)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("game %q is unknown for source %q; run scrape-games first", game, rt.cfg.ID)
		}
		if err != nil {
			return err
		}
	}

	stream := rt.adapter.GameReviews(ctx, game, sources.ReviewsQuery{
		MaxReviews: opts.MaxReviews,
		Language:   opts.Language,
	})
	sum, err := rt.coord.IngestReviews(ctx, rt.row.ID, gameID, stream)
	if err == nil && game != "" {
		if terr := h.store.TouchGameSource(ctx, rt.row.ID, game, time.Now().UTC()); terr != nil {
			h.log.WarnObj("touch game source failed", "error", terr)
		}
	}
	h.recordRunOutcome(jobScrapeReviews, rt.cfg.ID, sum, err)
	return err
}

// ScrapePending re-scrapes reviews for games whose source link has not been
// touched recently, a few games at a time. A game counts as done, and its
// link touched, only after its whole stream ingested cleanly.
func (h *Harvester) ScrapePending(ctx context.Context, opts JobOptions) error {
	rt, err := h.sourceRuntime(ctx, opts)
	if err != nil {
		return err
	}
	h.logPreviousRun(jobScrapePending, rt.cfg.ID)

	staleAfter := opts.StaleAfter
	if staleAfter <= 0 {
		staleAfter = defaultStaleAfter
	}
	olderThan := time.Now().UTC().Add(-staleAfter)

	pending, err := h.store.ListStaleGameSources(ctx, rt.row.ID, olderThan, opts.Limit)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		h.log.InfoObj("no stale games to scrape", "source_id", rt.cfg.ID)
		return nil
	}

	workers := opts.BulkSize
	if workers <= 0 {
		workers = defaultPendingWorkers
	}

	var (
		mu    sync.Mutex
		total ingest.Summary
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, gs := range pending {
		if gs.GameID == nil {
			continue
		}
		g.Go(func() error {
			stream := rt.adapter.GameReviews(gctx, gs.SourceGameID, sources.ReviewsQuery{
				MaxReviews: opts.MaxReviews,
				Language:   opts.Language,
			})
			sum, err := rt.coord.IngestReviews(gctx, rt.row.ID, *gs.GameID, stream)

			mu.Lock()
			total.Ingested += sum.Ingested
			total.Skipped += sum.Skipped
			total.Failed = append(total.Failed, sum.Failed...)
			mu.Unlock()

			if err != nil {
				return fmt.Errorf("game %q: %w", gs.SourceGameID, err)
			}
			if terr := h.store.TouchGameSource(gctx, rt.row.ID, gs.SourceGameID, time.Now().UTC()); terr != nil {
				h.log.WarnObj("touch game source failed", "error", terr)
			}
			return nil
		})
	}
	err = g.Wait()
	h.recordRunOutcome(jobScrapePending, rt.cfg.ID, total, err)
	return err
}

// AnnotatePending runs the analyzer over unprocessed reviews and stores the
// extracted aspects. A review that fails extraction stays unprocessed and is
// picked up again next run.
func (h *Harvester) AnnotatePending(ctx context.Context, opts JobOptions) error {
	extractor, err := analyzer.NewHTTPExtractor(h.cfg.AnalyzerURL, h.cfg.AnalyzerTimeout, h.log)
	if err != nil {
		return fmt.Errorf("init analyzer: %w", err)
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = defaultAnnotateLimit
	}
	reviews, err := h.store.ListUnprocessedReviews(ctx, limit)
	if err != nil {
		return err
	}

	processed, failed := 0, 0
	for _, review := range reviews {
		aspects, err := extractor.Extract(ctx, review.Text, review.Language)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failed++
			h.log.WarnObj("aspect extraction failed", "annotate_error", map[string]any{
				"review_id": review.ID,
				"error":     err.Error(),
			})
			continue
		}
		if err := h.store.SaveAspects(ctx, review.ID, aspects); err != nil {
			return fmt.Errorf("save aspects for review %d: %w", review.ID, err)
		}
		processed++
	}

	h.log.InfoObj("annotation finished", "annotate_summary", map[string]any{
		"pending":   len(reviews),
		"processed": processed,
		"failed":    failed,
	})
	return nil
}
