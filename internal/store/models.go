package store

import (
	"time"

	"github.com/gamelens-hq/gamelens-review-harvester/internal/domain"
)

// Row types carry the schema; the domain structs stay free of persistence
// tags. Unique indexes below are the idempotency keys the ingestion layer
// leans on.

type sourceRow struct {
	ID               int64  `gorm:"primaryKey"`
	Name             string `gorm:"size:64;uniqueIndex;not null"`
	URL              string `gorm:"size:512"`
	ListOfGamesURL   string `gorm:"size:512"`
	GameDetailURL    string `gorm:"size:512"`
	UserReviewsURL   string `gorm:"size:512"`
	CriticReviewsURL string `gorm:"size:512"`
	UpdatedAt        *time.Time
}

func (sourceRow) TableName() string { return "sources" }

type gameRow struct {
	ID          int64  `gorm:"primaryKey"`
	Name        string `gorm:"size:512;not null"`
	ImageURL    string `gorm:"size:1024"`
	ReleaseDate *time.Time
	UpdatedAt   *time.Time
}

func (gameRow) TableName() string { return "games" }

// gameSourceRow links a game to the identifier one source knows it by.
// GameID stays null for non-game placeholders.
type gameSourceRow struct {
	ID            int64  `gorm:"primaryKey"`
	GameID        *int64 `gorm:"index"`
	SourceID      int64  `gorm:"uniqueIndex:uq_game_sources_identity;not null"`
	SourceGameID  string `gorm:"size:512;uniqueIndex:uq_game_sources_identity;not null"`
	LastScrapedAt *time.Time
}

func (gameSourceRow) TableName() string { return "game_sources" }

type reviewerRow struct {
	ID               int64  `gorm:"primaryKey"`
	Name             string `gorm:"size:256"`
	SourceID         int64  `gorm:"uniqueIndex:uq_reviewers_identity;not null"`
	SourceReviewerID string `gorm:"size:256;uniqueIndex:uq_reviewers_identity;not null"`
	NumGamesOwned    int
	NumReviews       int
}

func (reviewerRow) TableName() string { return "reviewers" }

type reviewRow struct {
	ID               int64  `gorm:"primaryKey"`
	SourceID         int64  `gorm:"uniqueIndex:uq_reviews_identity;not null"`
	SourceReviewID   string `gorm:"size:512;uniqueIndex:uq_reviews_identity;not null"`
	GameID           int64  `gorm:"index;not null"`
	ReviewerID       *int64 `gorm:"index"`
	Language         string `gorm:"size:32"`
	Text             string `gorm:"type:text"`
	Summary          string `gorm:"type:text"`
	Score            string `gorm:"size:32"`
	HelpfulScore     string `gorm:"size:32"`
	Good             string `gorm:"type:text"`
	Bad              string `gorm:"type:text"`
	VotedUp          *bool
	// CreatedAt is the upstream review timestamp, not a row-tracking column.
	CreatedAt   *time.Time `gorm:"autoCreateTime:false;autoUpdateTime:false"`
	ProcessedAt *time.Time `gorm:"index"`
	PlaytimeAtReview int
}

func (reviewRow) TableName() string { return "reviews" }

type categoryRow struct {
	ID   int64  `gorm:"primaryKey"`
	Name string `gorm:"size:256;uniqueIndex;not null"`
}

func (categoryRow) TableName() string { return "categories" }

type developerRow struct {
	ID   int64  `gorm:"primaryKey"`
	Name string `gorm:"size:256;uniqueIndex;not null"`
}

func (developerRow) TableName() string { return "developers" }

type gameCategoryRow struct {
	GameID     int64 `gorm:"primaryKey;autoIncrement:false"`
	CategoryID int64 `gorm:"primaryKey;autoIncrement:false"`
}

func (gameCategoryRow) TableName() string { return "game_categories" }

type gameDeveloperRow struct {
	GameID      int64 `gorm:"primaryKey;autoIncrement:false"`
	DeveloperID int64 `gorm:"primaryKey;autoIncrement:false"`
}

func (gameDeveloperRow) TableName() string { return "game_developers" }

type aspectRow struct {
	ID       int64  `gorm:"primaryKey"`
	ReviewID int64  `gorm:"index;not null"`
	Term     string `gorm:"size:256"`
	Category string `gorm:"size:128"`
	Polarity string `gorm:"size:32"`
}

func (aspectRow) TableName() string { return "aspects" }

func (r sourceRow) toDomain() domain.Source {
	return domain.Source{
		ID:               r.ID,
		Name:             r.Name,
		URL:              r.URL,
		ListOfGamesURL:   r.ListOfGamesURL,
		GameDetailURL:    r.GameDetailURL,
		UserReviewsURL:   r.UserReviewsURL,
		CriticReviewsURL: r.CriticReviewsURL,
		UpdatedAt:        r.UpdatedAt,
	}
}

func (r gameRow) toDomain() domain.Game {
	return domain.Game{
		ID:          r.ID,
		Name:        r.Name,
		ImageURL:    r.ImageURL,
		ReleaseDate: r.ReleaseDate,
		UpdatedAt:   r.UpdatedAt,
	}
}

func (r gameSourceRow) toDomain() domain.GameSource {
	return domain.GameSource{
		ID:            r.ID,
		GameID:        r.GameID,
		SourceID:      r.SourceID,
		SourceGameID:  r.SourceGameID,
		LastScrapedAt: r.LastScrapedAt,
	}
}

func (r reviewerRow) toDomain() domain.Reviewer {
	return domain.Reviewer{
		ID:               r.ID,
		Name:             r.Name,
		SourceID:         r.SourceID,
		SourceReviewerID: r.SourceReviewerID,
		NumGamesOwned:    r.NumGamesOwned,
		NumReviews:       r.NumReviews,
	}
}

func (r reviewRow) toDomain() domain.Review {
	return domain.Review{
		ID:               r.ID,
		SourceID:         r.SourceID,
		SourceReviewID:   r.SourceReviewID,
		GameID:           r.GameID,
		ReviewerID:       r.ReviewerID,
		Language:         r.Language,
		Text:             r.Text,
		Summary:          r.Summary,
		Score:            r.Score,
		HelpfulScore:     r.HelpfulScore,
		Good:             r.Good,
		Bad:              r.Bad,
		VotedUp:          r.VotedUp,
		CreatedAt:        r.CreatedAt,
		ProcessedAt:      r.ProcessedAt,
		PlaytimeAtReview: r.PlaytimeAtReview,
	}
}

func reviewFromDomain(r domain.Review) reviewRow {
	return reviewRow{
		ID:               r.ID,
		SourceID:         r.SourceID,
		SourceReviewID:   r.SourceReviewID,
		GameID:           r.GameID,
		ReviewerID:       r.ReviewerID,
		Language:         r.Language,
		Text:             r.Text,
		Summary:          r.Summary,
		Score:            r.Score,
		HelpfulScore:     r.HelpfulScore,
		Good:             r.Good,
		Bad:              r.Bad,
		VotedUp:          r.VotedUp,
		CreatedAt:        r.CreatedAt,
		ProcessedAt:      r.ProcessedAt,
		PlaytimeAtReview: r.PlaytimeAtReview,
	}
}
