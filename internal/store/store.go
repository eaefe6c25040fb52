package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gamelens-hq/gamelens-review-harvester/internal/domain"
)

// Package store provides the relational persistence boundary. All identity
// checks run against the unique (source, source-side id) keys, so every
// write here is safe to repeat and safe to race.

// ErrNotFound marks a lookup that matched no row.
var ErrNotFound = errors.New("record not found")

// Store is what the ingestion layer talks to. Get-or-create methods are
// idempotent: losing a create race to a concurrent worker degrades into a
// lookup of the winner's row.
type Store interface {
	Close() error

	// EnsureSource get-or-creates the source row by name and refreshes its
	// endpoint URLs from the registry entry.
	EnsureSource(ctx context.Context, src domain.Source) (domain.Source, error)
	SourceByName(ctx context.Context, name string) (domain.Source, error)

	// GetOrCreateGame resolves the (source, source game id) pair to a Game,
	// creating the game and its source link when unseen. A link previously
	// recorded as a non-game placeholder is upgraded in place.
	GetOrCreateGame(ctx context.Context, sourceID int64, g domain.ScrapedGame) (domain.Game, bool, error)
	// MarkNonGameApp records a source object that turned out not to be a
	// game, so later runs skip its detail fetch.
	MarkNonGameApp(ctx context.Context, sourceID int64, sourceGameID string) error
	ListStaleGameSources(ctx context.Context, sourceID int64, olderThan time.Time, limit int) ([]domain.GameSource, error)
	TouchGameSource(ctx context.Context, sourceID int64, sourceGameID string, at time.Time) error
	// GameSourceIDs returns every source game id already linked for the
	// source, non-game placeholders included, so re-runs can skip them.
	GameSourceIDs(ctx context.Context, sourceID int64) (map[string]bool, error)
	// GameIDBySource resolves a source game id to the internal game id.
	// A non-game placeholder resolves to ErrNotFound.
	GameIDBySource(ctx context.Context, sourceID int64, sourceGameID string) (int64, error)

	GetOrCreateReviewer(ctx context.Context, sourceID int64, r domain.ScrapedReviewer) (domain.Reviewer, error)
	GetOrCreateCategory(ctx context.Context, name string) (domain.Category, error)
	GetOrCreateDeveloper(ctx context.Context, name string) (domain.Developer, error)
	AttachGameCategories(ctx context.Context, gameID int64, categoryIDs []int64) error
	AttachGameDevelopers(ctx context.Context, gameID int64, developerIDs []int64) error

	// CreateReview inserts the review unless its (source, source review id)
	// identity already exists. Returns false for the already-present case.
	CreateReview(ctx context.Context, r domain.Review) (bool, error)
	ListUnprocessedReviews(ctx context.Context, limit int) ([]domain.Review, error)
	// SaveAspects replaces the review's aspect annotations and stamps it
	// processed, atomically.
	SaveAspects(ctx context.Context, reviewID int64, aspects []domain.Aspect) error
}

// Open creates the configured relational backend.
func Open(driver, dsn string) (Store, error) {
	driver = strings.TrimSpace(strings.ToLower(driver))
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("database dsn is required")
	}

	switch driver {
	case "sqlite", "postgres":
		return openGorm(driver, dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}
