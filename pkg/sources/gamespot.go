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

const (
	offsetDateLayout = "2006-01-02 15:04:05"
	maxParallelPages = 8
)

// offsetAdapter paginates a gamespot-style REST API using offset/limit
// pagination with a total count reported by the first page.
type offsetAdapter struct {
	cfg   Config
	fetch *httpclient.RetryClient
	log   logger.Logger
}

// NewOffsetAdapter builds the adapter for offset/limit REST sources.
func NewOffsetAdapter(cfg Config, deps Deps) (Adapter, error) {
	if cfg.CriticReviewsURL == "" {
		return nil, fmt.Errorf("source %q: critic_reviews_url is required", cfg.ID)
	}
	return &offsetAdapter{
		cfg: cfg,
		fetch: httpclient.NewRetryClient(deps.Client, deps.Limiter, httpclient.RetryOptions{
			ContentType: "application/json",
			MaxRetries:  deps.MaxRetries,
		}, deps.Log),
		log: deps.Log,
	}, nil
}

func (a *offsetAdapter) ID() string     { return a.cfg.ID }
func (a *offsetAdapter) Config() Config { return a.cfg }

type offsetGame struct {
	ID          json.Number `json:"id"`
	Name        string      `json:"name"`
	ReleaseDate string      `json:"release_date"`
	Image       struct {
		Original string `json:"original"`
	} `json:"image"`
	Genres []struct {
		Name string `json:"name"`
	} `json:"genres"`
	Themes []struct {
		Name string `json:"name"`
	} `json:"themes"`
}

type offsetReview struct {
	ID          json.Number `json:"id"`
	Authors     string      `json:"authors"`
	Title       string      `json:"title"`
	Score       json.Number `json:"score"`
	Deck        string      `json:"deck"`
	Good        string      `json:"good"`
	Bad         string      `json:"bad"`
	Body        string      `json:"body"`
	PublishDate string      `json:"publish_date"`
	Game        *offsetGame `json:"game"`
}

type offsetReviewsResponse struct {
	StatusCode           int            `json:"status_code"`
	Error                string         `json:"error"`
	NumberOfTotalResults int            `json:"number_of_total_results"`
	NumberOfPageResults  int            `json:"number_of_page_results"`
	Limit                int            `json:"limit"`
	Offset               int            `json:"offset"`
	Results              []offsetReview `json:"results"`
}

func parseOffsetReviewsResponse(body []byte) (*offsetReviewsResponse, error) {
	var resp offsetReviewsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode reviews response: %w", err)
	}
	if resp.StatusCode != 1 {
		return nil, fmt.Errorf("upstream reported failure: %s", strings.TrimSpace(resp.Error))
	}
	return &resp, nil
}

// Games is not served: this source's review listing embeds its game records.
func (a *offsetAdapter) Games(ctx context.Context, _ GamesQuery) *Stream[domain.ScrapedGame] {
	return FailedStream[domain.ScrapedGame](fmt.Errorf("source %q: %w: games are embedded in reviews", a.cfg.ID, ErrNotSupported))
}

// GameReviews streams the source-wide critic review listing. The first page
// discovers the total; remaining offsets are fetched in parallel but yielded
// in offset order. A page that fails validation is recorded as a failed URL
// and dropped; only the initial total-discovery call is fatal, because
// without it there is no way to paginate.
func (a *offsetAdapter) GameReviews(ctx context.Context, gameID string, q ReviewsQuery) *Stream[domain.ScrapedReview] {
	if strings.TrimSpace(gameID) != "" {
		return FailedStream[domain.ScrapedReview](fmt.Errorf("source %q: %w: review listing is source-wide", a.cfg.ID, ErrNotSupported))
	}

	maxReviews := q.MaxReviews
	if maxReviews <= 0 {
		maxReviews = defaultMaxReviews
	}
	pageSize := a.cfg.PageSize

	return NewStream(ctx, func(ctx context.Context, p *Producer[domain.ScrapedReview]) error {
		first, err := a.fetchPage(ctx, 0, pageSize)
		if err != nil {
			return fmt.Errorf("source %q: initial page: %w", a.cfg.ID, err)
		}

		want := first.NumberOfTotalResults
		if maxReviews < want {
			want = maxReviews
		}

		yielded := 0
		batch := a.filterBatch(first.Results)
		if len(batch) > want {
			batch = batch[:want]
		}
		yielded += len(batch)
		if !p.Yield(batch) {
			return nil
		}

		// Remaining offsets never reach number_of_total_results.
		var offsets []int
		for off := pageSize; off < want && off < first.NumberOfTotalResults; off += pageSize {
			offsets = append(offsets, off)
		}

		pages := make([][]domain.ScrapedReview, len(offsets))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(maxParallelPages)
		for i, off := range offsets {
			g.Go(func() error {
				resp, err := a.fetchPage(gctx, off, pageSize)
				if err != nil {
					a.log.WarnObj("offset page dropped", "offset_page_error", map[string]any{
						"source_id": a.cfg.ID,
						"offset":    off,
						"error":     err.Error(),
					})
					p.RecordFailure(a.pageURL(off))
					return nil
				}
				pages[i] = a.filterBatch(resp.Results)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		for _, page := range pages {
			if page == nil {
				continue
			}
			if rest := want - yielded; len(page) > rest {
				page = page[:rest]
			}
			yielded += len(page)
			if !p.Yield(page) {
				return nil
			}
			if yielded >= want {
				return nil
			}
		}
		return nil
	})
}

func (a *offsetAdapter) pageURL(offset int) string {
	return fmt.Sprintf("%s?offset=%d", a.cfg.CriticReviewsURL, offset)
}

func (a *offsetAdapter) fetchPage(ctx context.Context, offset, limit int) (*offsetReviewsResponse, error) {
	params := map[string]string{
		"format": "json",
		"limit":  strconv.Itoa(limit),
		"offset": strconv.Itoa(offset),
		"sort":   "publish_date:desc",
	}
	if key := a.cfg.APIKey(); key != "" {
		params["api_key"] = key
	}

	out := a.fetch.Get(ctx, a.cfg.CriticReviewsURL, params)
	if !out.Available() {
		return nil, out.Err
	}
	return parseOffsetReviewsResponse(out.Body)
}

// filterBatch normalizes one page, dropping reviews that lack their required
// game relation.
func (a *offsetAdapter) filterBatch(results []offsetReview) []domain.ScrapedReview {
	batch := make([]domain.ScrapedReview, 0, len(results))
	for _, r := range results {
		if r.Game == nil || r.Game.ID.String() == "" {
			continue
		}
		batch = append(batch, scrapedFromOffsetReview(r))
	}
	return batch
}

func scrapedFromOffsetReview(r offsetReview) domain.ScrapedReview {
	names := make([]string, 0, len(r.Game.Genres)+len(r.Game.Themes))
	for _, g := range r.Game.Genres {
		names = append(names, g.Name)
	}
	for _, t := range r.Game.Themes {
		names = append(names, t.Name)
	}

	review := domain.ScrapedReview{
		SourceReviewID: r.ID.String(),
		Language:       "english",
		Text:           r.Body,
		Summary:        r.Deck,
		Score:          r.Score.String(),
		Good:           r.Good,
		Bad:            r.Bad,
		CreatedAt:      parseUpstreamDate(r.PublishDate, offsetDateLayout),
		Game: &domain.ScrapedGame{
			SourceGameID: r.Game.ID.String(),
			Name:         r.Game.Name,
			ImageURL:     r.Game.Image.Original,
			ReleaseDate:  parseUpstreamDate(r.Game.ReleaseDate, offsetDateLayout),
			Categories:   dedupeNames(names),
		},
	}
	if r.Authors != "" {
		review.Reviewer = &domain.ScrapedReviewer{
			SourceReviewerID: r.Authors,
			Name:             r.Authors,
		}
	}
	return review
}
