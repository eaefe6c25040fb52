package ingest

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gamelens-hq/gamelens-review-harvester/internal/domain"
	"github.com/gamelens-hq/gamelens-review-harvester/internal/logger"
	"github.com/gamelens-hq/gamelens-review-harvester/internal/store"
	"github.com/gamelens-hq/gamelens-review-harvester/pkg/httpclient"
	"github.com/gamelens-hq/gamelens-review-harvester/pkg/sources"
)

// scriptedClient serves canned review pages keyed by the cursor parameter,
// standing in for the upstream REST API.
type scriptedClient struct {
	pages map[string]string
}

func (c *scriptedClient) Get(_ context.Context, url string, params, _ map[string]string) (httpclient.Response, error) {
	body, ok := c.pages[params["cursor"]]
	if !ok {
		return nil, fmt.Errorf("no page scripted for %s cursor %q", url, params["cursor"])
	}
	return scriptedResponse(body), nil
}

type scriptedResponse string

func (r scriptedResponse) Body() []byte        { return []byte(r) }
func (r scriptedResponse) StatusCode() int     { return 200 }
func (r scriptedResponse) ContentType() string { return "application/json" }

func reviewEntry(id string) string {
	return fmt.Sprintf(`{
		"recommendationid": %q,
		"author": {"steamid": "7656%s", "num_games_owned": 12, "num_reviews": 3, "playtime_at_review": 840},
		"language": "czech",
		"review": "text of %s",
		"timestamp_created": 1667300000,
		"voted_up": true,
		"weighted_vote_score": "0.52"
	}`, id, id, id)
}

func reviewPage(cursor string, reviewIDs ...string) string {
	entries := make([]string, len(reviewIDs))
	for i, id := range reviewIDs {
		entries[i] = reviewEntry(id)
	}
	return fmt.Sprintf(`{
		"success": 1,
		"cursor": %q,
		"query_summary": {"num_reviews": %d},
		"reviews": [%s]
	}`, cursor, len(reviewIDs), strings.Join(entries, ","))
}

// Drives the real cursor adapter through the coordinator into a real sqlite
// store, twice: the first run persists every paged review and the second run
// degrades into skips.
func TestReviewPipelinePersistsAndSkipsOnRerun(t *testing.T) {
	ctx := context.Background()

	st, err := store.Open("sqlite", filepath.Join(t.TempDir(), "harvester.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	src, err := st.EnsureSource(ctx, domain.Source{
		Name:           "steam",
		URL:            "https://api.example.com",
		UserReviewsURL: "https://api.example.com/appreviews",
	})
	if err != nil {
		t.Fatal(err)
	}

	game, created, err := st.GetOrCreateGame(ctx, src.ID, domain.ScrapedGame{
		SourceGameID: "42",
		Name:         "Hollow Depths",
	})
	if err != nil || !created {
		t.Fatalf("GetOrCreateGame: created=%v err=%v", created, err)
	}

	client := &scriptedClient{pages: map[string]string{
		"*":  reviewPage("c2", "r1", "r2"),
		"c2": reviewPage("c3", "r3"),
		"c3": reviewPage("c3"), // cursor repeats: exhausted
	}}
	adapter, err := sources.NewCursorAdapter(sources.Config{
		ID:             "steam",
		Type:           sources.TypeRestCursor,
		URL:            "https://api.example.com",
		UserReviewsURL: "https://api.example.com/appreviews",
		Language:       "czech",
		PageSize:       20,
	}, sources.Deps{Client: client, Log: logger.NopLogger{}, MaxRetries: 1})
	if err != nil {
		t.Fatal(err)
	}

	coord := New(st, nil, logger.NopLogger{})

	sum, err := coord.IngestReviews(ctx, src.ID, game.ID, adapter.GameReviews(ctx, "42", sources.ReviewsQuery{}))
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if sum.Ingested != 3 || sum.Skipped != 0 || len(sum.Failed) != 0 {
		t.Fatalf("first run summary = %+v", sum)
	}

	sum, err = coord.IngestReviews(ctx, src.ID, game.ID, adapter.GameReviews(ctx, "42", sources.ReviewsQuery{}))
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if sum.Ingested != 0 || sum.Skipped != 3 {
		t.Fatalf("second run summary = %+v", sum)
	}

	// The game link resolves and no second game row appeared for the id.
	gameID, err := st.GameIDBySource(ctx, src.ID, "42")
	if err != nil {
		t.Fatalf("GameIDBySource: %v", err)
	}
	if gameID != game.ID {
		t.Fatalf("resolved game id %d, want %d", gameID, game.ID)
	}
	again, created, err := st.GetOrCreateGame(ctx, src.ID, domain.ScrapedGame{SourceGameID: "42", Name: "Hollow Depths"})
	if err != nil || created || again.ID != game.ID {
		t.Fatalf("GetOrCreateGame rerun: id=%d created=%v err=%v", again.ID, created, err)
	}
}
