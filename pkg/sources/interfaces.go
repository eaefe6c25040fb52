package sources

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/gamelens-hq/gamelens-review-harvester/internal/domain"
	"github.com/gamelens-hq/gamelens-review-harvester/internal/logger"
	"github.com/gamelens-hq/gamelens-review-harvester/pkg/httpclient"
	"github.com/gamelens-hq/gamelens-review-harvester/pkg/ratelimit"
)

// ErrNotSupported is returned by adapters for operations their source has no
// endpoint for (e.g. a critic-review site with no games listing).
var ErrNotSupported = errors.New("operation not supported by source")

// GamesQuery narrows a games scrape.
type GamesQuery struct {
	// BulkSize caps how many detail fetches are dispatched concurrently.
	BulkSize int
	// Known filters out source game ids already persisted, so re-runs skip
	// the detail fetch entirely.
	Known map[string]bool
}

// ReviewsQuery narrows a review scrape.
type ReviewsQuery struct {
	// MaxReviews caps the running total of yielded items; the final batch is
	// truncated to the remaining need. Zero means the source default.
	MaxReviews int
	Language   string
	DayRange   int
	Filter     string
	ReviewType string
}

// Adapter is one upstream source with a concrete pagination strategy. Both
// generators are lazy: nothing is fetched until the stream is consumed, and
// each stream is finite and non-restartable. Restarting a job re-invokes the
// adapter from page one and relies on idempotent-skip ingestion downstream.
type Adapter interface {
	ID() string
	Config() Config
	// Games streams batches of discovered games.
	Games(ctx context.Context, q GamesQuery) *Stream[domain.ScrapedGame]
	// GameReviews streams batches of reviews. gameID may be empty for
	// sources whose review listing is source-wide rather than per game.
	GameReviews(ctx context.Context, gameID string, q ReviewsQuery) *Stream[domain.ScrapedReview]
}

// Deps carries the shared collaborators every adapter needs. The limiter is
// the single token bucket for the source: all concurrent fetch tasks go
// through it.
type Deps struct {
	Client     httpclient.Client
	Limiter    *ratelimit.Limiter
	Log        logger.Logger
	MaxRetries int
}

func (d Deps) normalize() Deps {
	if d.Client == nil {
		d.Client = httpclient.NewRestyClient(defaultHTTPTimeout)
	}
	if d.Log == nil {
		d.Log = logger.NopLogger{}
	}
	if d.MaxRetries <= 0 {
		d.MaxRetries = defaultMaxRetries
	}
	return d
}

// Builder creates an Adapter from a source config entry.
type Builder func(cfg Config, deps Deps) (Adapter, error)

// AdapterRegistry resolves the adapter implementation for a source config by type.
type AdapterRegistry interface {
	Register(typ string, builder Builder)
	AdapterFor(cfg Config, deps Deps) (Adapter, error)
}

type adapterRegistry struct {
	mu       sync.RWMutex
	builders map[string]Builder
}

// NewAdapterRegistry returns a registry with optional pre-registered builders.
func NewAdapterRegistry(builders map[string]Builder) AdapterRegistry {
	r := &adapterRegistry{builders: make(map[string]Builder)}
	for typ, b := range builders {
		r.Register(typ, b)
	}
	return r
}

func (r *adapterRegistry) Register(typ string, builder Builder) {
	if typ = strings.ToLower(strings.TrimSpace(typ)); typ == "" || builder == nil {
		return
	}
	r.mu.Lock()
	r.builders[typ] = builder
	r.mu.Unlock()
}

func (r *adapterRegistry) AdapterFor(cfg Config, deps Deps) (Adapter, error) {
	if cfg.Type == "" {
		return nil, fmt.Errorf("source %q has no type configured", cfg.ID)
	}

	r.mu.RLock()
	builder := r.builders[strings.ToLower(cfg.Type)]
	r.mu.RUnlock()

	if builder == nil {
		return nil, fmt.Errorf("no adapter registered for source type %q", cfg.Type)
	}
	return builder(cfg, deps.normalize())
}

// DefaultAdapterRegistry wires up the known pagination strategies.
func DefaultAdapterRegistry() AdapterRegistry {
	return NewAdapterRegistry(map[string]Builder{
		TypeRestCursor: NewCursorAdapter,
		TypeRestOffset: NewOffsetAdapter,
		TypeHTML:       NewHTMLAdapter,
	})
}
