package ingest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/gamelens-hq/gamelens-review-harvester/internal/domain"
	"github.com/gamelens-hq/gamelens-review-harvester/internal/store"
	"github.com/gamelens-hq/gamelens-review-harvester/pkg/sources"
)

// fakeStore is an in-memory store.Store with the same identity semantics.
type fakeStore struct {
	mu         sync.Mutex
	nextID     int64
	games      map[string]domain.Game // (source, source game id)
	nonGames   map[string]bool
	reviewers  map[string]domain.Reviewer
	categories map[string]domain.Category
	developers map[string]domain.Developer
	reviews    map[string]domain.Review
	gameCats   map[int64][]int64
	gameDevs   map[int64][]int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		games:      make(map[string]domain.Game),
		nonGames:   make(map[string]bool),
		reviewers:  make(map[string]domain.Reviewer),
		categories: make(map[string]domain.Category),
		developers: make(map[string]domain.Developer),
		reviews:    make(map[string]domain.Review),
		gameCats:   make(map[int64][]int64),
		gameDevs:   make(map[int64][]int64),
	}
}

func key(sourceID int64, sid string) string { return fmt.Sprintf("%d|%s", sourceID, sid) }

func (f *fakeStore) id() int64 { f.nextID++; return f.nextID }

func (f *fakeStore) Close() error { return nil }

func (f *fakeStore) EnsureSource(_ context.Context, src domain.Source) (domain.Source, error) {
	src.ID = 1
	return src, nil
}

func (f *fakeStore) SourceByName(_ context.Context, name string) (domain.Source, error) {
	return domain.Source{ID: 1, Name: name}, nil
}

func (f *fakeStore) GetOrCreateGame(_ context.Context, sourceID int64, g domain.ScrapedGame) (domain.Game, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := key(sourceID, g.SourceGameID)
	if game, ok := f.games[k]; ok {
		return game, false, nil
	}
	game := domain.Game{ID: f.id(), Name: g.Name, ImageURL: g.ImageURL, ReleaseDate: g.ReleaseDate}
	f.games[k] = game
	return game, true, nil
}

func (f *fakeStore) MarkNonGameApp(_ context.Context, sourceID int64, sourceGameID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nonGames[key(sourceID, sourceGameID)] = true
	return nil
}

func (f *fakeStore) ListStaleGameSources(context.Context, int64, time.Time, int) ([]domain.GameSource, error) {
	return nil, nil
}

func (f *fakeStore) TouchGameSource(context.Context, int64, string, time.Time) error { return nil }

func (f *fakeStore) GameSourceIDs(_ context.Context, sourceID int64) (map[string]bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	prefix := fmt.Sprintf("%d|", sourceID)
	known := make(map[string]bool)
	for k := range f.games {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			known[k[len(prefix):]] = true
		}
	}
	for k := range f.nonGames {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			known[k[len(prefix):]] = true
		}
	}
	return known, nil
}

func (f *fakeStore) GameIDBySource(_ context.Context, sourceID int64, sourceGameID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if game, ok := f.games[key(sourceID, sourceGameID)]; ok {
		return game.ID, nil
	}
	return 0, store.ErrNotFound
}

func (f *fakeStore) GetOrCreateReviewer(_ context.Context, sourceID int64, r domain.ScrapedReviewer) (domain.Reviewer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := key(sourceID, r.SourceReviewerID)
	if reviewer, ok := f.reviewers[k]; ok {
		return reviewer, nil
	}
	reviewer := domain.Reviewer{ID: f.id(), Name: r.Name, SourceID: sourceID, SourceReviewerID: r.SourceReviewerID}
	f.reviewers[k] = reviewer
	return reviewer, nil
}

func (f *fakeStore) GetOrCreateCategory(_ context.Context, name string) (domain.Category, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.categories[name]; ok {
		return c, nil
	}
	c := domain.Category{ID: f.id(), Name: name}
	f.categories[name] = c
	return c, nil
}

func (f *fakeStore) GetOrCreateDeveloper(_ context.Context, name string) (domain.Developer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d, ok := f.developers[name]; ok {
		return d, nil
	}
	d := domain.Developer{ID: f.id(), Name: name}
	f.developers[name] = d
	return d, nil
}

func (f *fakeStore) AttachGameCategories(_ context.Context, gameID int64, ids []int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gameCats[gameID] = append(f.gameCats[gameID], ids...)
	return nil
}

func (f *fakeStore) AttachGameDevelopers(_ context.Context, gameID int64, ids []int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gameDevs[gameID] = append(f.gameDevs[gameID], ids...)
	return nil
}

func (f *fakeStore) CreateReview(_ context.Context, r domain.Review) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := key(r.SourceID, r.SourceReviewID)
	if _, ok := f.reviews[k]; ok {
		return false, nil
	}
	r.ID = f.id()
	f.reviews[k] = r
	return true, nil
}

func (f *fakeStore) ListUnprocessedReviews(context.Context, int) ([]domain.Review, error) {
	return nil, nil
}

func (f *fakeStore) SaveAspects(context.Context, int64, []domain.Aspect) error { return nil }

type recordingSink struct {
	mu     sync.Mutex
	events []domain.Review
}

func (s *recordingSink) ReviewIngested(_ context.Context, review domain.Review) {
	s.mu.Lock()
	s.events = append(s.events, review)
	s.mu.Unlock()
}

// reviewStream yields the given batches in order.
func reviewStream(batches ...[]domain.ScrapedReview) *sources.Stream[domain.ScrapedReview] {
	return sources.NewStream(context.Background(), func(_ context.Context, p *sources.Producer[domain.ScrapedReview]) error {
		for _, b := range batches {
			if !p.Yield(b) {
				return nil
			}
		}
		return nil
	})
}

func gameStream(failedURL string, batches ...[]domain.ScrapedGame) *sources.Stream[domain.ScrapedGame] {
	return sources.NewStream(context.Background(), func(_ context.Context, p *sources.Producer[domain.ScrapedGame]) error {
		if failedURL != "" {
			p.RecordFailure(failedURL)
		}
		for _, b := range batches {
			if !p.Yield(b) {
				return nil
			}
		}
		return nil
	})
}

func scraped(id, text string) domain.ScrapedReview {
	return domain.ScrapedReview{SourceReviewID: id, Language: "czech", Text: text}
}

func TestIngestReviewsForOneGame(t *testing.T) {
	st := newFakeStore()
	sink := &recordingSink{}
	c := New(st, sink, nil)

	game, _, err := st.GetOrCreateGame(context.Background(), 1, domain.ScrapedGame{SourceGameID: "42", Name: "Alpha"})
	if err != nil {
		t.Fatal(err)
	}

	stream := reviewStream(
		[]domain.ScrapedReview{scraped("r1", "first"), scraped("r2", "second")},
		[]domain.ScrapedReview{scraped("r3", "third"), scraped("r1", "first again")},
	)

	sum, err := c.IngestReviews(context.Background(), 1, game.ID, stream)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Ingested != 3 || sum.Skipped != 1 {
		t.Fatalf("expected 3 ingested / 1 skipped, got %+v", sum)
	}
	if len(sink.events) != 3 {
		t.Fatalf("sink must only see committed reviews, got %d", len(sink.events))
	}
	if got := st.reviews[key(1, "r1")].Text; got != "first" {
		t.Fatalf("duplicate must not overwrite, got %q", got)
	}
}

func TestIngestReviewsIsIdempotentAcrossRestarts(t *testing.T) {
	st := newFakeStore()
	c := New(st, nil, nil)

	batch := []domain.ScrapedReview{scraped("r1", "a"), scraped("r2", "b")}

	sum, err := c.IngestReviews(context.Background(), 1, 7, reviewStream(batch))
	if err != nil {
		t.Fatal(err)
	}
	if sum.Ingested != 2 {
		t.Fatalf("first run: %+v", sum)
	}

	// Restart replays the pages from the beginning.
	sum, err = c.IngestReviews(context.Background(), 1, 7, reviewStream(batch))
	if err != nil {
		t.Fatal(err)
	}
	if sum.Ingested != 0 || sum.Skipped != 2 {
		t.Fatalf("second run must skip everything, got %+v", sum)
	}
	if len(st.reviews) != 2 {
		t.Fatalf("expected 2 stored reviews, got %d", len(st.reviews))
	}
}

func TestIngestReviewsResolvesEmbeddedGameAndReviewer(t *testing.T) {
	st := newFakeStore()
	c := New(st, nil, nil)

	game := &domain.ScrapedGame{SourceGameID: "1007", Name: "Beta", Categories: []string{"Action"}}
	reviewer := &domain.ScrapedReviewer{SourceReviewerID: "jane", Name: "jane"}

	r1 := scraped("g1", "one")
	r1.Game, r1.Reviewer = game, reviewer
	r2 := scraped("g2", "two")
	r2.Game, r2.Reviewer = game, reviewer

	sum, err := c.IngestReviews(context.Background(), 1, 0, reviewStream([]domain.ScrapedReview{r1, r2}))
	if err != nil {
		t.Fatal(err)
	}
	if sum.Ingested != 2 {
		t.Fatalf("expected both reviews ingested, got %+v", sum)
	}
	if len(st.games) != 1 {
		t.Fatalf("embedded game must be created once, got %d", len(st.games))
	}
	if len(st.reviewers) != 1 {
		t.Fatalf("embedded reviewer must be created once, got %d", len(st.reviewers))
	}
	if len(st.categories) != 1 {
		t.Fatalf("categories must be resolved, got %d", len(st.categories))
	}

	stored := st.reviews[key(1, "g1")]
	if stored.GameID == 0 || stored.ReviewerID == nil {
		t.Fatalf("review must reference its relations: %+v", stored)
	}
}

func TestIngestReviewsWithoutAnyGameIsSkipped(t *testing.T) {
	st := newFakeStore()
	c := New(st, nil, nil)

	sum, err := c.IngestReviews(context.Background(), 1, 0, reviewStream([]domain.ScrapedReview{scraped("r1", "orphan")}))
	if err != nil {
		t.Fatal(err)
	}
	if sum.Ingested != 0 || sum.Skipped != 1 {
		t.Fatalf("orphan review must be skipped, got %+v", sum)
	}
	if len(st.reviews) != 0 {
		t.Fatal("orphan review must not be stored")
	}
}

func TestIngestReviewsForNonGameApp(t *testing.T) {
	st := newFakeStore()
	c := New(st, nil, nil)

	r := scraped("r1", "soundtrack review")
	r.Game = &domain.ScrapedGame{SourceGameID: "900", NonGameApp: true}

	sum, err := c.IngestReviews(context.Background(), 1, 0, reviewStream([]domain.ScrapedReview{r}))
	if err != nil {
		t.Fatal(err)
	}
	if sum.Ingested != 0 || sum.Skipped != 1 {
		t.Fatalf("non-game review must be skipped, got %+v", sum)
	}
	if !st.nonGames[key(1, "900")] {
		t.Fatal("non-game app must be recorded")
	}
}

func TestIngestGames(t *testing.T) {
	st := newFakeStore()
	c := New(st, nil, nil)

	// Pre-existing game: the second occurrence is a skip.
	if _, _, err := st.GetOrCreateGame(context.Background(), 1, domain.ScrapedGame{SourceGameID: "10", Name: "Alpha"}); err != nil {
		t.Fatal(err)
	}

	stream := gameStream("https://api.example.com/appdetails?appids=99",
		[]domain.ScrapedGame{
			{SourceGameID: "10", Name: "Alpha"},
			{SourceGameID: "11", Name: "Beta", Categories: []string{"Action", "RPG"}, Developers: []string{"Studio A"}},
			{SourceGameID: "12", NonGameApp: true},
		},
	)

	sum, err := c.IngestGames(context.Background(), 1, stream)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Ingested != 1 || sum.Skipped != 2 {
		t.Fatalf("expected 1 ingested / 2 skipped, got %+v", sum)
	}
	if len(sum.Failed) != 1 || sum.Failed[0] != "https://api.example.com/appdetails?appids=99" {
		t.Fatalf("failed urls must surface in the summary, got %v", sum.Failed)
	}
	if !st.nonGames[key(1, "12")] {
		t.Fatal("non-game app must be recorded")
	}

	beta := st.games[key(1, "11")]
	if len(st.gameCats[beta.ID]) != 2 || len(st.gameDevs[beta.ID]) != 1 {
		t.Fatalf("metadata not attached: cats=%v devs=%v", st.gameCats[beta.ID], st.gameDevs[beta.ID])
	}
}
