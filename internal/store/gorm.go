package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/gamelens-hq/gamelens-review-harvester/internal/domain"
)

// errUpgradeRaceLost aborts a placeholder-upgrade transaction when another
// writer filled the link first.
var errUpgradeRaceLost = errors.New("placeholder upgrade race lost")

type gormStore struct {
	db *gorm.DB
}

func openGorm(driver, dsn string) (*gormStore, error) {
	var dialector gorm.Dialector
	switch driver {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	// TranslateError turns driver-specific unique violations into
	// gorm.ErrDuplicatedKey, which the get-or-create race handling relies on.
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.AutoMigrate(
		&sourceRow{},
		&gameRow{},
		&gameSourceRow{},
		&reviewerRow{},
		&reviewRow{},
		&categoryRow{},
		&developerRow{},
		&gameCategoryRow{},
		&gameDeveloperRow{},
		&aspectRow{},
	); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	return &gormStore{db: db}, nil
}

func (s *gormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("get underlying db: %w", err)
	}
	return sqlDB.Close()
}

func (s *gormStore) session(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

func (s *gormStore) EnsureSource(ctx context.Context, src domain.Source) (domain.Source, error) {
	var row sourceRow
	err := s.session(ctx).Where("name = ?", src.Name).First(&row).Error
	switch {
	case err == nil:
		row.URL = src.URL
		row.ListOfGamesURL = src.ListOfGamesURL
		row.GameDetailURL = src.GameDetailURL
		row.UserReviewsURL = src.UserReviewsURL
		row.CriticReviewsURL = src.CriticReviewsURL
		if err := s.session(ctx).Save(&row).Error; err != nil {
			return domain.Source{}, fmt.Errorf("update source %q: %w", src.Name, err)
		}
		return row.toDomain(), nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		row = sourceRow{
			Name:             src.Name,
			URL:              src.URL,
			ListOfGamesURL:   src.ListOfGamesURL,
			GameDetailURL:    src.GameDetailURL,
			UserReviewsURL:   src.UserReviewsURL,
			CriticReviewsURL: src.CriticReviewsURL,
		}
		if err := s.session(ctx).Create(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return s.SourceByName(ctx, src.Name)
			}
			return domain.Source{}, fmt.Errorf("create source %q: %w", src.Name, err)
		}
		return row.toDomain(), nil
	default:
		return domain.Source{}, fmt.Errorf("lookup source %q: %w", src.Name, err)
	}
}

func (s *gormStore) SourceByName(ctx context.Context, name string) (domain.Source, error) {
	var row sourceRow
	if err := s.session(ctx).Where("name = ?", name).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Source{}, fmt.Errorf("source %q: %w", name, ErrNotFound)
		}
		return domain.Source{}, fmt.Errorf("lookup source %q: %w", name, err)
	}
	return row.toDomain(), nil
}

func (s *gormStore) GetOrCreateGame(ctx context.Context, sourceID int64, g domain.ScrapedGame) (domain.Game, bool, error) {
	if g.SourceGameID == "" {
		return domain.Game{}, false, errors.New("scraped game has no source game id")
	}

	var link gameSourceRow
	err := s.session(ctx).
		Where("source_id = ? AND source_game_id = ?", sourceID, g.SourceGameID).
		First(&link).Error
	switch {
	case err == nil:
		if link.GameID != nil {
			var row gameRow
			if err := s.session(ctx).First(&row, *link.GameID).Error; err != nil {
				return domain.Game{}, false, fmt.Errorf("load game %d: %w", *link.GameID, err)
			}
			return row.toDomain(), false, nil
		}
		// Non-game placeholder turned out to be a game after all. The
		// update only lands while the link is still a placeholder; losing
		// that race rolls the created game back and defers to the winner.
		row := gameRowFromScraped(g)
		err := s.session(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
			res := tx.Model(&gameSourceRow{}).
				Where("id = ? AND game_id IS NULL", link.ID).
				Update("game_id", row.ID)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return errUpgradeRaceLost
			}
			return nil
		})
		if errors.Is(err, errUpgradeRaceLost) {
			return s.GetOrCreateGame(ctx, sourceID, g)
		}
		if err != nil {
			return domain.Game{}, false, fmt.Errorf("upgrade non-game link: %w", err)
		}
		return row.toDomain(), true, nil

	case errors.Is(err, gorm.ErrRecordNotFound):
		row := gameRowFromScraped(g)
		err := s.session(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
			gameID := row.ID
			return tx.Create(&gameSourceRow{
				GameID:       &gameID,
				SourceID:     sourceID,
				SourceGameID: g.SourceGameID,
			}).Error
		})
		if err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				// Lost the create race; the winner's row is authoritative.
				return s.GetOrCreateGame(ctx, sourceID, g)
			}
			return domain.Game{}, false, fmt.Errorf("create game %q: %w", g.Name, err)
		}
		return row.toDomain(), true, nil

	default:
		return domain.Game{}, false, fmt.Errorf("lookup game source link: %w", err)
	}
}

func gameRowFromScraped(g domain.ScrapedGame) gameRow {
	return gameRow{
		Name:        g.Name,
		ImageURL:    g.ImageURL,
		ReleaseDate: g.ReleaseDate,
	}
}

func (s *gormStore) MarkNonGameApp(ctx context.Context, sourceID int64, sourceGameID string) error {
	if sourceGameID == "" {
		return errors.New("source game id is required")
	}
	err := s.session(ctx).Create(&gameSourceRow{
		SourceID:     sourceID,
		SourceGameID: sourceGameID,
	}).Error
	if err != nil && !errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("mark non-game app %q: %w", sourceGameID, err)
	}
	return nil
}

func (s *gormStore) ListStaleGameSources(ctx context.Context, sourceID int64, olderThan time.Time, limit int) ([]domain.GameSource, error) {
	q := s.session(ctx).
		Where("source_id = ? AND game_id IS NOT NULL", sourceID).
		Where("last_scraped_at IS NULL OR last_scraped_at < ?", olderThan).
		Order("id")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var rows []gameSourceRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list stale game sources: %w", err)
	}

	out := make([]domain.GameSource, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}

func (s *gormStore) TouchGameSource(ctx context.Context, sourceID int64, sourceGameID string, at time.Time) error {
	res := s.session(ctx).Model(&gameSourceRow{}).
		Where("source_id = ? AND source_game_id = ?", sourceID, sourceGameID).
		Update("last_scraped_at", at)
	if res.Error != nil {
		return fmt.Errorf("touch game source %q: %w", sourceGameID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("game source %q: %w", sourceGameID, ErrNotFound)
	}
	return nil
}

func (s *gormStore) GameSourceIDs(ctx context.Context, sourceID int64) (map[string]bool, error) {
	var ids []string
	err := s.session(ctx).Model(&gameSourceRow{}).
		Where("source_id = ?", sourceID).
		Pluck("source_game_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("list game source ids: %w", err)
	}

	known := make(map[string]bool, len(ids))
	for _, id := range ids {
		known[id] = true
	}
	return known, nil
}

func (s *gormStore) GameIDBySource(ctx context.Context, sourceID int64, sourceGameID string) (int64, error) {
	var row gameSourceRow
	err := s.session(ctx).
		Where("source_id = ? AND source_game_id = ?", sourceID, sourceGameID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, fmt.Errorf("game source %q: %w", sourceGameID, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("lookup game source %q: %w", sourceGameID, err)
	}
	if row.GameID == nil {
		return 0, fmt.Errorf("game source %q is a non-game placeholder: %w", sourceGameID, ErrNotFound)
	}
	return *row.GameID, nil
}

func (s *gormStore) GetOrCreateReviewer(ctx context.Context, sourceID int64, r domain.ScrapedReviewer) (domain.Reviewer, error) {
	if r.SourceReviewerID == "" {
		return domain.Reviewer{}, errors.New("scraped reviewer has no source reviewer id")
	}

	var row reviewerRow
	err := s.session(ctx).
		Where("source_id = ? AND source_reviewer_id = ?", sourceID, r.SourceReviewerID).
		First(&row).Error
	switch {
	case err == nil:
		return row.toDomain(), nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		row = reviewerRow{
			Name:             r.Name,
			SourceID:         sourceID,
			SourceReviewerID: r.SourceReviewerID,
			NumGamesOwned:    r.NumGamesOwned,
			NumReviews:       r.NumReviews,
		}
		if err := s.session(ctx).Create(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return s.GetOrCreateReviewer(ctx, sourceID, r)
			}
			return domain.Reviewer{}, fmt.Errorf("create reviewer %q: %w", r.SourceReviewerID, err)
		}
		return row.toDomain(), nil
	default:
		return domain.Reviewer{}, fmt.Errorf("lookup reviewer %q: %w", r.SourceReviewerID, err)
	}
}

func (s *gormStore) GetOrCreateCategory(ctx context.Context, name string) (domain.Category, error) {
	if name == "" {
		return domain.Category{}, errors.New("category name is required")
	}

	var row categoryRow
	err := s.session(ctx).Where("name = ?", name).First(&row).Error
	switch {
	case err == nil:
		return domain.Category{ID: row.ID, Name: row.Name}, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		row = categoryRow{Name: name}
		if err := s.session(ctx).Create(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return s.GetOrCreateCategory(ctx, name)
			}
			return domain.Category{}, fmt.Errorf("create category %q: %w", name, err)
		}
		return domain.Category{ID: row.ID, Name: row.Name}, nil
	default:
		return domain.Category{}, fmt.Errorf("lookup category %q: %w", name, err)
	}
}

func (s *gormStore) GetOrCreateDeveloper(ctx context.Context, name string) (domain.Developer, error) {
	if name == "" {
		return domain.Developer{}, errors.New("developer name is required")
	}

	var row developerRow
	err := s.session(ctx).Where("name = ?", name).First(&row).Error
	switch {
	case err == nil:
		return domain.Developer{ID: row.ID, Name: row.Name}, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		row = developerRow{Name: name}
		if err := s.session(ctx).Create(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return s.GetOrCreateDeveloper(ctx, name)
			}
			return domain.Developer{}, fmt.Errorf("create developer %q: %w", name, err)
		}
		return domain.Developer{ID: row.ID, Name: row.Name}, nil
	default:
		return domain.Developer{}, fmt.Errorf("lookup developer %q: %w", name, err)
	}
}

func (s *gormStore) AttachGameCategories(ctx context.Context, gameID int64, categoryIDs []int64) error {
	for _, id := range categoryIDs {
		err := s.session(ctx).
			Clauses(clause.OnConflict{DoNothing: true}).
			Create(&gameCategoryRow{GameID: gameID, CategoryID: id}).Error
		if err != nil && !errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("attach category %d to game %d: %w", id, gameID, err)
		}
	}
	return nil
}

func (s *gormStore) AttachGameDevelopers(ctx context.Context, gameID int64, developerIDs []int64) error {
	for _, id := range developerIDs {
		err := s.session(ctx).
			Clauses(clause.OnConflict{DoNothing: true}).
			Create(&gameDeveloperRow{GameID: gameID, DeveloperID: id}).Error
		if err != nil && !errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("attach developer %d to game %d: %w", id, gameID, err)
		}
	}
	return nil
}

func (s *gormStore) CreateReview(ctx context.Context, r domain.Review) (bool, error) {
	if r.SourceReviewID == "" {
		return false, errors.New("review has no source review id")
	}
	if r.GameID == 0 {
		return false, errors.New("review has no game")
	}

	var existing reviewRow
	err := s.session(ctx).
		Select("id").
		Where("source_id = ? AND source_review_id = ?", r.SourceID, r.SourceReviewID).
		First(&existing).Error
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, fmt.Errorf("lookup review %q: %w", r.SourceReviewID, err)
	}

	row := reviewFromDomain(r)
	if err := s.session(ctx).Create(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// A concurrent worker ingested the same review between the
			// lookup and the insert.
			return false, nil
		}
		return false, fmt.Errorf("create review %q: %w", r.SourceReviewID, err)
	}
	return true, nil
}

func (s *gormStore) ListUnprocessedReviews(ctx context.Context, limit int) ([]domain.Review, error) {
	q := s.session(ctx).Where("processed_at IS NULL").Order("id")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var rows []reviewRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list unprocessed reviews: %w", err)
	}

	out := make([]domain.Review, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}

func (s *gormStore) SaveAspects(ctx context.Context, reviewID int64, aspects []domain.Aspect) error {
	now := time.Now().UTC()
	err := s.session(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("review_id = ?", reviewID).Delete(&aspectRow{}).Error; err != nil {
			return err
		}
		for _, a := range aspects {
			row := aspectRow{
				ReviewID: reviewID,
				Term:     a.Term,
				Category: a.Category,
				Polarity: a.Polarity,
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}
		res := tx.Model(&reviewRow{}).
			Where("id = ?", reviewID).
			Update("processed_at", now)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("review %d: %w", reviewID, ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save aspects for review %d: %w", reviewID, err)
	}
	return nil
}
