package sources

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/gamelens-hq/gamelens-review-harvester/internal/domain"
	"github.com/gamelens-hq/gamelens-review-harvester/internal/logger"
	"github.com/gamelens-hq/gamelens-review-harvester/pkg/httpclient"
	"golang.org/x/sync/errgroup"
)

const (
	defaultListingMaxPages = 90
	maxHTMLBodyBytes       = 1 << 20 // 1 MiB

	htmlEntrySelector    = "article"
	htmlEntryLinkQuery   = "h2 a, h3 a, a[href]"
	htmlProsSelector     = ".review-pros li, .pros li"
	htmlConsSelector     = ".review-cons li, .cons li"
	htmlBodySelector     = ".article-body p"
	htmlFallbackBody     = "article p"
	htmlReviewerSelector = ".author a, a[rel=author]"
)

// htmlCategoryTags maps listing tag classes to canonical category names.
// Unmapped classes are not categories and are ignored.
var htmlCategoryTags = map[string]string{
	"tag-Akce":        "Action",
	"tag-Adventury":   "Adventure",
	"tag-Plošinovky":  "Platform",
	"tag-Strategie":   "Strategy",
	"tag-Simulatory":  "Simulation",
	"tag-Závodní":     "Racing",
	"tag-RPG":         "RPG",
	"tag-FPS":         "FPS",
}

// htmlAdapter scrapes a review site with a numbered listing (pgnum) and one
// detail page per review. The detail URL doubles as the review's and the
// game's source identity; the site exposes no other stable ids.
type htmlAdapter struct {
	cfg   Config
	fetch *httpclient.RetryClient
	log   logger.Logger
}

// NewHTMLAdapter builds the adapter for HTML listing sources.
func NewHTMLAdapter(cfg Config, deps Deps) (Adapter, error) {
	if cfg.CriticReviewsURL == "" {
		return nil, fmt.Errorf("source %q: critic_reviews_url is required", cfg.ID)
	}
	if cfg.ItemsPerPage <= 0 {
		return nil, fmt.Errorf("source %q: items_per_page is required", cfg.ID)
	}
	return &htmlAdapter{
		cfg: cfg,
		fetch: httpclient.NewRetryClient(deps.Client, deps.Limiter, httpclient.RetryOptions{
			ContentType: "text/html",
			MaxRetries:  deps.MaxRetries,
		}, deps.Log),
		log: deps.Log,
	}, nil
}

func (a *htmlAdapter) ID() string     { return a.cfg.ID }
func (a *htmlAdapter) Config() Config { return a.cfg }

// Games is not served: games surface only through review detail pages.
func (a *htmlAdapter) Games(ctx context.Context, _ GamesQuery) *Stream[domain.ScrapedGame] {
	return FailedStream[domain.ScrapedGame](fmt.Errorf("source %q: %w: games are embedded in reviews", a.cfg.ID, ErrNotSupported))
}

// listingEntry is one review teased on a listing page. The same detail URL
// can appear under several tag sections; entries are merged by URL with
// their tags unioned.
type listingEntry struct {
	url  string
	name string
	tags []string
}

// GameReviews streams the site's review listing. Listing pages are fetched
// concurrently up front; detail pages are fetched page by page as the
// consumer pulls, so closing the stream early spares the remaining detail
// fetches. Batches arrive in listing-page order.
func (a *htmlAdapter) GameReviews(ctx context.Context, gameID string, q ReviewsQuery) *Stream[domain.ScrapedReview] {
	if strings.TrimSpace(gameID) != "" {
		return FailedStream[domain.ScrapedReview](fmt.Errorf("source %q: %w: review listing is source-wide", a.cfg.ID, ErrNotSupported))
	}

	maxReviews := q.MaxReviews
	if maxReviews <= 0 {
		maxReviews = defaultMaxReviews
	}
	maxPages := a.cfg.MaxPages
	if maxPages <= 0 {
		maxPages = defaultListingMaxPages
	}
	if byNeed := pagesFor(maxReviews, a.cfg.ItemsPerPage); byNeed < maxPages {
		maxPages = byNeed
	}
	language := orDefault(q.Language, orDefault(a.cfg.Language, "czech"))

	return NewStream(ctx, func(ctx context.Context, p *Producer[domain.ScrapedReview]) error {
		pages := make([][]listingEntry, maxPages)
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(maxParallelPages)
		for i := 0; i < maxPages; i++ {
			pgnum := i + 1
			g.Go(func() error {
				entries, err := a.fetchListingPage(gctx, pgnum)
				if err != nil {
					a.log.WarnObj("listing page dropped", "listing_page_error", map[string]any{
						"source_id": a.cfg.ID,
						"pgnum":     pgnum,
						"error":     err.Error(),
					})
					p.RecordFailure(a.listingURL(pgnum))
					return nil
				}
				pages[i] = entries
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		yielded := 0
		for _, entries := range pages {
			if len(entries) == 0 {
				continue
			}
			if rest := maxReviews - yielded; len(entries) > rest {
				entries = entries[:rest]
			}

			batch := a.fetchDetails(ctx, p, entries, language)
			yielded += len(batch)
			if !p.Yield(batch) {
				return nil
			}
			if yielded >= maxReviews {
				return nil
			}
		}
		return nil
	})
}

func (a *htmlAdapter) listingURL(pgnum int) string {
	return fmt.Sprintf("%s?pgnum=%d", a.cfg.CriticReviewsURL, pgnum)
}

func (a *htmlAdapter) fetchListingPage(ctx context.Context, pgnum int) ([]listingEntry, error) {
	out := a.fetch.Get(ctx, a.cfg.CriticReviewsURL, map[string]string{
		"pgnum": strconv.Itoa(pgnum),
	})
	if !out.Available() {
		return nil, out.Err
	}
	return parseListingPage(out.Body, a.cfg.CriticReviewsURL)
}

func parseListingPage(body []byte, baseURL string) ([]listingEntry, error) {
	if len(body) > maxHTMLBodyBytes {
		body = body[:maxHTMLBodyBytes]
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse listing html: %w", err)
	}

	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}

	var order []string
	byURL := make(map[string]*listingEntry)

	doc.Find(htmlEntrySelector).Each(func(_ int, sel *goquery.Selection) {
		link := sel.Find(htmlEntryLinkQuery).First()
		href, ok := link.Attr("href")
		if !ok || strings.TrimSpace(href) == "" {
			return
		}
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}
		abs := base.ResolveReference(ref).String()

		entry, seen := byURL[abs]
		if !seen {
			entry = &listingEntry{url: abs, name: strings.TrimSpace(link.Text())}
			byURL[abs] = entry
			order = append(order, abs)
		}
		if entry.name == "" {
			entry.name = strings.TrimSpace(link.Text())
		}
		if class, ok := sel.Attr("class"); ok {
			for _, c := range strings.Fields(class) {
				if name, mapped := htmlCategoryTags[c]; mapped {
					entry.tags = append(entry.tags, name)
				}
			}
		}
	})

	entries := make([]listingEntry, 0, len(order))
	for _, u := range order {
		e := byURL[u]
		e.tags = dedupeNames(e.tags)
		entries = append(entries, *e)
	}
	return entries, nil
}

// fetchDetails resolves one listing page's entries into reviews, preserving
// entry order. Entries whose detail page permanently fails are recorded and
// skipped.
func (a *htmlAdapter) fetchDetails(ctx context.Context, p *Producer[domain.ScrapedReview], entries []listingEntry, language string) []domain.ScrapedReview {
	results := make([]*domain.ScrapedReview, len(entries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelPages)
	for i, entry := range entries {
		g.Go(func() error {
			review, err := a.fetchDetail(gctx, entry, language)
			if err != nil {
				a.log.WarnObj("review detail dropped", "detail_page_error", map[string]any{
					"source_id": a.cfg.ID,
					"url":       entry.url,
					"error":     err.Error(),
				})
				p.RecordFailure(entry.url)
				return nil
			}
			results[i] = review
			return nil
		})
	}
	// errors are absorbed per entry; Wait only observes ctx cancellation
	_ = g.Wait()

	batch := make([]domain.ScrapedReview, 0, len(results))
	for _, r := range results {
		if r != nil {
			batch = append(batch, *r)
		}
	}
	return batch
}

func (a *htmlAdapter) fetchDetail(ctx context.Context, entry listingEntry, language string) (*domain.ScrapedReview, error) {
	out := a.fetch.Get(ctx, entry.url, nil)
	if !out.Available() {
		return nil, out.Err
	}
	return a.parseDetailPage(out.Body, entry, language)
}

// parseDetailPage extracts the review from a detail page. Score, pros, cons
// and reviewer are optional and left empty when the template carries none of
// them; only a page with no body text at all is an error.
func (a *htmlAdapter) parseDetailPage(body []byte, entry listingEntry, language string) (*domain.ScrapedReview, error) {
	if len(body) > maxHTMLBodyBytes {
		body = body[:maxHTMLBodyBytes]
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse detail html: %w", err)
	}

	text := collectText(doc, htmlBodySelector)
	if text == "" {
		text = collectText(doc, htmlFallbackBody)
	}
	if text == "" {
		return nil, fmt.Errorf("detail page has no review text")
	}

	review := &domain.ScrapedReview{
		SourceReviewID: entry.url,
		Language:       language,
		Text:           text,
		Score:          a.extractScore(doc),
		Good:           collectList(doc, htmlProsSelector),
		Bad:            collectList(doc, htmlConsSelector),
		Game: &domain.ScrapedGame{
			SourceGameID: entry.url,
			Name:         entry.name,
			Categories:   entry.tags,
		},
	}

	if author := strings.TrimSpace(doc.Find(htmlReviewerSelector).First().Text()); author != "" {
		review.Reviewer = &domain.ScrapedReviewer{
			SourceReviewerID: author,
			Name:             author,
		}
	}
	return review, nil
}

// extractScore walks the configured selector list in priority order and
// returns the first non-empty hit. Templates drift; later selectors cover
// older page layouts.
func (a *htmlAdapter) extractScore(doc *goquery.Document) string {
	for _, sel := range a.cfg.ScoreLocations {
		if sel == "" {
			continue
		}
		if score := strings.TrimSpace(doc.Find(sel).First().Text()); score != "" {
			return score
		}
	}
	return ""
}

func collectText(doc *goquery.Document, selector string) string {
	var parts []string
	doc.Find(selector).Each(func(_ int, sel *goquery.Selection) {
		if t := strings.TrimSpace(sel.Text()); t != "" {
			parts = append(parts, t)
		}
	})
	return strings.Join(parts, "\n\n")
}

// collectList joins list items with "|", the delimiter the REST sources use
// for their good/bad fields.
func collectList(doc *goquery.Document, selector string) string {
	var items []string
	doc.Find(selector).Each(func(_ int, sel *goquery.Selection) {
		if t := strings.TrimSpace(sel.Text()); t != "" {
			items = append(items, t)
		}
	})
	return strings.Join(items, "|")
}
