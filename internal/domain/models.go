package domain

// Domain contains the harvester's core entities and the normalized
// scraped-record shapes the source adapters produce.

import "time"

// Source identifies an upstream review provider. Rows are seeded once at
// setup and read-only during scraping.
type Source struct {
	ID               int64
	Name             string
	URL              string
	ListOfGamesURL   string
	GameDetailURL    string
	UserReviewsURL   string
	CriticReviewsURL string
	UpdatedAt        *time.Time
}

// Game is a title. Identity across sources goes through GameSource rows,
// never through Name (names collide and vary by locale).
type Game struct {
	ID          int64
	Name        string
	ImageURL    string
	ReleaseDate *time.Time
	UpdatedAt   *time.Time
}

// GameSource associates a Game with the opaque identifier a source uses for
// it. (SourceID, SourceGameID) is the natural idempotency key. GameID may be
// nil for source objects known to be non-game apps, which are deliberately
// excluded from Game creation.
type GameSource struct {
	ID            int64
	GameID        *int64
	SourceID      int64
	SourceGameID  string
	LastScrapedAt *time.Time
}

// Reviewer is a person who wrote reviews on one source.
// (SourceID, SourceReviewerID) is unique.
type Reviewer struct {
	ID               int64
	Name             string
	SourceID         int64
	SourceReviewerID string
	NumGamesOwned    int
	NumReviews       int
}

// Review is a single user or critic review. (SourceID, SourceReviewID) is
// the idempotency key for re-ingestion.
type Review struct {
	ID               int64
	SourceID         int64
	SourceReviewID   string
	GameID           int64
	ReviewerID       *int64
	Language         string
	Text             string
	Summary          string
	Score            string
	HelpfulScore     string
	Good             string
	Bad              string
	VotedUp          *bool
	CreatedAt        *time.Time
	ProcessedAt      *time.Time
	PlaytimeAtReview int
}

// Category and Developer are tag-like entities attached to games, each
// deduplicated by exact name.
type Category struct {
	ID   int64
	Name string
}

type Developer struct {
	ID   int64
	Name string
}

// Aspect is one downstream NLP annotation attached to a review.
type Aspect struct {
	ID       int64
	ReviewID int64
	Term     string
	Category string
	Polarity string
}

// ScrapedGame is a normalized game record emitted by a source adapter.
// SourceID is filled in by the ingestion layer, not the adapter.
type ScrapedGame struct {
	SourceID     int64
	SourceGameID string
	Name         string
	ImageURL     string
	ReleaseDate  *time.Time
	Categories   []string
	Developers   []string
	// NonGameApp marks source objects that turned out not to be games.
	NonGameApp bool
}

// ScrapedReviewer is a normalized reviewer record attached to a review.
type ScrapedReviewer struct {
	SourceReviewerID string
	Name             string
	NumGamesOwned    int
	NumReviews       int
}

// ScrapedReview is a normalized review record emitted by a source adapter.
// Game and Reviewer are optional embedded discoveries: sources whose review
// listings carry the game (or author) inline populate them so ingestion can
// resolve-or-create the related entities.
type ScrapedReview struct {
	SourceID         int64
	SourceReviewID   string
	Language         string
	Text             string
	Summary          string
	Score            string
	HelpfulScore     string
	Good             string
	Bad              string
	VotedUp          *bool
	CreatedAt        *time.Time
	PlaytimeAtReview int

	Game     *ScrapedGame
	Reviewer *ScrapedReviewer
}
