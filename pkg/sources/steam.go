package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/gamelens-hq/gamelens-review-harvester/internal/domain"
	"github.com/gamelens-hq/gamelens-review-harvester/internal/logger"
	"github.com/gamelens-hq/gamelens-review-harvester/pkg/httpclient"
	"golang.org/x/sync/errgroup"
)

// cursorAdapter paginates a steam-style REST API whose review listing is
// driven by an opaque cursor token in "recent" ordering.
type cursorAdapter struct {
	cfg   Config
	fetch *httpclient.RetryClient
	log   logger.Logger
}

// NewCursorAdapter builds the adapter for opaque-cursor REST sources.
func NewCursorAdapter(cfg Config, deps Deps) (Adapter, error) {
	if cfg.UserReviewsURL == "" {
		return nil, fmt.Errorf("source %q: user_reviews_url is required", cfg.ID)
	}
	return &cursorAdapter{
		cfg: cfg,
		fetch: httpclient.NewRetryClient(deps.Client, deps.Limiter, httpclient.RetryOptions{
			ContentType: "application/json",
			MaxRetries:  deps.MaxRetries,
		}, deps.Log),
		log: deps.Log,
	}, nil
}

func (a *cursorAdapter) ID() string     { return a.cfg.ID }
func (a *cursorAdapter) Config() Config { return a.cfg }

// cursorAppEntry and friends are the explicit shapes of the upstream JSON.
// Decoding is always followed by a validate step; shape mismatches become
// skip results, never panics across the adapter boundary.
type cursorAppEntry struct {
	AppID int64  `json:"appid"`
	Name  string `json:"name"`
}

type cursorAppListResponse struct {
	AppList struct {
		Apps []cursorAppEntry `json:"apps"`
	} `json:"applist"`
}

type cursorAppDetail struct {
	Type        string `json:"type"`
	Name        string `json:"name"`
	AppID       int64  `json:"steam_appid"`
	HeaderImage string `json:"header_image"`
	Categories  []struct {
		Description string `json:"description"`
	} `json:"categories"`
	Genres []struct {
		Description string `json:"description"`
	} `json:"genres"`
	Developers  []string `json:"developers"`
	ReleaseDate struct {
		ComingSoon bool   `json:"coming_soon"`
		Date       string `json:"date"`
	} `json:"release_date"`
}

type cursorAppDetailEnvelope struct {
	Success bool             `json:"success"`
	Data    *cursorAppDetail `json:"data"`
}

type cursorReviewAuthor struct {
	// SteamID arrives as a quoted string, unlike the numeric app ids.
	SteamID          string `json:"steamid"`
	NumGamesOwned    int    `json:"num_games_owned"`
	NumReviews       int    `json:"num_reviews"`
	PlaytimeAtReview int    `json:"playtime_at_review"`
}

type cursorReview struct {
	RecommendationID  string             `json:"recommendationid"`
	Author            cursorReviewAuthor `json:"author"`
	Language          string             `json:"language"`
	Review            string             `json:"review"`
	TimestampCreated  int64              `json:"timestamp_created"`
	VotedUp           bool               `json:"voted_up"`
	WeightedVoteScore string             `json:"weighted_vote_score"`
}

type cursorReviewsResponse struct {
	Success      int            `json:"success"`
	Cursor       string         `json:"cursor"`
	Reviews      []cursorReview `json:"reviews"`
	QuerySummary struct {
		NumReviews int `json:"num_reviews"`
	} `json:"query_summary"`
	Error string `json:"error"`
}

func parseCursorReviewsResponse(body []byte) (*cursorReviewsResponse, error) {
	var resp cursorReviewsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode reviews response: %w", err)
	}
	if resp.Success != 1 {
		return nil, fmt.Errorf("upstream reported failure: %s", strings.TrimSpace(resp.Error))
	}
	return &resp, nil
}

// GameReviews pages through the per-game review listing. Termination: the
// returned cursor matching the cursor just used means no forward progress;
// an empty page with a changed cursor is refetched with the new cursor
// because the upstream transiently returns hollow pages mid-stream.
func (a *cursorAdapter) GameReviews(ctx context.Context, gameID string, q ReviewsQuery) *Stream[domain.ScrapedReview] {
	if strings.TrimSpace(gameID) == "" {
		return FailedStream[domain.ScrapedReview](fmt.Errorf("source %q: %w: reviews require a game id", a.cfg.ID, ErrNotSupported))
	}

	remaining := q.MaxReviews
	if remaining <= 0 {
		remaining = defaultMaxReviews
	}
	pageSize := a.cfg.PageSize
	if pageSize > maxCursorPageSize {
		pageSize = maxCursorPageSize
	}

	url := strings.TrimRight(a.cfg.UserReviewsURL, "/") + "/" + gameID
	params := map[string]string{
		"json":         "1",
		"filter":       orDefault(q.Filter, "recent"),
		"language":     orDefault(q.Language, a.cfg.Language),
		"review_type":  orDefault(q.ReviewType, "all"),
		"cursor":       "*",
		"num_per_page": strconv.Itoa(pageSize),
	}
	if q.DayRange > 0 {
		params["day_range"] = strconv.Itoa(q.DayRange)
	}

	return NewStream(ctx, func(ctx context.Context, p *Producer[domain.ScrapedReview]) error {
		for remaining > 0 {
			out := a.fetch.Get(ctx, url, params)
			if !out.Available() {
				p.RecordFailure(url + "?cursor=" + params["cursor"])
				return nil
			}

			resp, err := parseCursorReviewsResponse(out.Body)
			if err != nil {
				a.log.WarnObj("cursor page dropped", "cursor_page_error", map[string]any{
					"source_id": a.cfg.ID,
					"game_id":   gameID,
					"error":     err.Error(),
					"body":      responseSnippet(out.Body),
				})
				p.RecordFailure(url + "?cursor=" + params["cursor"])
				return nil
			}

			if resp.Cursor == params["cursor"] {
				// No forward progress: exhausted.
				return nil
			}
			if len(resp.Reviews) == 0 {
				// New cursor but an empty page: more content exists, refetch
				// with the fresh cursor.
				params["cursor"] = resp.Cursor
				continue
			}

			batch := make([]domain.ScrapedReview, 0, len(resp.Reviews))
			for _, r := range resp.Reviews {
				batch = append(batch, scrapedFromCursorReview(r))
			}
			if len(batch) > remaining {
				batch = batch[:remaining]
			}
			remaining -= len(batch)
			params["cursor"] = resp.Cursor

			if !p.Yield(batch) {
				return nil
			}
		}
		return nil
	})
}

func scrapedFromCursorReview(r cursorReview) domain.ScrapedReview {
	votedUp := r.VotedUp
	return domain.ScrapedReview{
		SourceReviewID:   r.RecommendationID,
		Language:         r.Language,
		Text:             r.Review,
		HelpfulScore:     r.WeightedVoteScore,
		VotedUp:          &votedUp,
		CreatedAt:        unixTime(r.TimestampCreated),
		PlaytimeAtReview: r.Author.PlaytimeAtReview,
		Reviewer: &domain.ScrapedReviewer{
			SourceReviewerID: r.Author.SteamID,
			NumGamesOwned:    r.Author.NumGamesOwned,
			NumReviews:       r.Author.NumReviews,
		},
	}
}

// Games streams the full app list, then fans out rate-limited detail fetches
// in bulk groups, one yielded batch per group. Detail calls racing each other
// is fine: ordering across groups is still list order, and ingestion does not
// depend on completion order within a group.
func (a *cursorAdapter) Games(ctx context.Context, q GamesQuery) *Stream[domain.ScrapedGame] {
	if a.cfg.ListOfGamesURL == "" || a.cfg.GameDetailURL == "" {
		return FailedStream[domain.ScrapedGame](fmt.Errorf("source %q: %w: games listing not configured", a.cfg.ID, ErrNotSupported))
	}

	bulk := q.BulkSize
	if bulk <= 0 {
		bulk = defaultBulkSize
	}

	return NewStream(ctx, func(ctx context.Context, p *Producer[domain.ScrapedGame]) error {
		out := a.fetch.Get(ctx, a.cfg.ListOfGamesURL, nil)
		if !out.Available() {
			// Without the app list there is nothing to paginate over.
			return fmt.Errorf("source %q: fetch app list: %w", a.cfg.ID, out.Err)
		}

		var list cursorAppListResponse
		if err := json.Unmarshal(out.Body, &list); err != nil {
			return fmt.Errorf("source %q: decode app list: %w", a.cfg.ID, err)
		}

		apps := make([]cursorAppEntry, 0, len(list.AppList.Apps))
		for _, app := range list.AppList.Apps {
			if app.Name == "" {
				continue
			}
			if q.Known != nil && q.Known[itoa64(app.AppID)] {
				continue
			}
			apps = append(apps, app)
		}

		for start := 0; start < len(apps); start += bulk {
			end := start + bulk
			if end > len(apps) {
				end = len(apps)
			}
			group := apps[start:end]

			results := make([]*domain.ScrapedGame, len(group))
			g, gctx := errgroup.WithContext(ctx)
			for i, app := range group {
				g.Go(func() error {
					game, err := a.fetchGameDetail(gctx, app.AppID)
					if err != nil {
						p.RecordFailure(a.cfg.GameDetailURL + "?appids=" + itoa64(app.AppID))
						return nil
					}
					results[i] = game
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}

			batch := make([]domain.ScrapedGame, 0, len(group))
			for _, game := range results {
				if game != nil {
					batch = append(batch, *game)
				}
			}
			if !p.Yield(batch) {
				return nil
			}
		}
		return nil
	})
}

// fetchGameDetail resolves one app's detail. Non-game apps come back with
// NonGameApp set so ingestion can record them as excluded instead of
// rediscovering them on every run.
func (a *cursorAdapter) fetchGameDetail(ctx context.Context, appID int64) (*domain.ScrapedGame, error) {
	out := a.fetch.Get(ctx, a.cfg.GameDetailURL, map[string]string{
		"appids":   itoa64(appID),
		"language": "eng",
	})
	if !out.Available() {
		return nil, out.Err
	}

	var envelope map[string]cursorAppDetailEnvelope
	if err := json.Unmarshal(out.Body, &envelope); err != nil {
		return nil, fmt.Errorf("decode app detail: %w", err)
	}
	entry, ok := envelope[itoa64(appID)]
	if !ok || !entry.Success || entry.Data == nil {
		return nil, fmt.Errorf("app %d detail missing or unsuccessful", appID)
	}

	detail := entry.Data
	if detail.Type != "game" {
		return &domain.ScrapedGame{SourceGameID: itoa64(appID), NonGameApp: true}, nil
	}

	names := make([]string, 0, len(detail.Categories)+len(detail.Genres))
	for _, c := range detail.Categories {
		names = append(names, c.Description)
	}
	for _, g := range detail.Genres {
		names = append(names, g.Description)
	}

	game := &domain.ScrapedGame{
		SourceGameID: itoa64(appID),
		Name:         detail.Name,
		ImageURL:     detail.HeaderImage,
		Categories:   dedupeNames(names),
		Developers:   dedupeNames(detail.Developers),
	}
	if !detail.ReleaseDate.ComingSoon {
		game.ReleaseDate = parseUpstreamDate(detail.ReleaseDate.Date, "2 Jan, 2006", "Jan 2, 2006")
	}
	return game, nil
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

const (
	maxCursorPageSize = 100
	defaultMaxReviews = 10000
	defaultBulkSize   = 20
)
