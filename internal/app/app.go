// Package app wires configuration, storage, the scrape journal, source
// adapters, and the dispatch fanout into runnable jobs.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gamelens-hq/gamelens-review-harvester/internal/config"
	"github.com/gamelens-hq/gamelens-review-harvester/internal/domain"
	"github.com/gamelens-hq/gamelens-review-harvester/internal/ingest"
	"github.com/gamelens-hq/gamelens-review-harvester/internal/journal"
	"github.com/gamelens-hq/gamelens-review-harvester/internal/logger"
	"github.com/gamelens-hq/gamelens-review-harvester/internal/store"
	"github.com/gamelens-hq/gamelens-review-harvester/pkg/dispatch"
	"github.com/gamelens-hq/gamelens-review-harvester/pkg/httpclient"
	"github.com/gamelens-hq/gamelens-review-harvester/pkg/ratelimit"
	"github.com/gamelens-hq/gamelens-review-harvester/pkg/sources"
)

// Harvester is the job runtime. It owns the shared collaborators; per-source
// adapters are built on demand because each carries its own rate limiter.
type Harvester struct {
	cfg      *config.Config
	log      logger.Logger
	store    store.Store
	journal  journal.Journal
	registry *sources.Registry
	adapters sources.AdapterRegistry
	fanout   *dispatch.Fanout
}

// JobOptions carries per-invocation overrides from the CLI.
type JobOptions struct {
	Source string
	// Game is a source-scoped game id for per-game review scrapes. Empty
	// means the source-wide review listing.
	Game       string
	MaxReviews int
	BulkSize   int
	// RateLimit overrides the source's configured ceiling, in requests per second.
	RateLimit  float64
	Language   string
	StaleAfter time.Duration
	Limit      int
}

// NewHarvester builds the runtime from config files.
func NewHarvester(ctx context.Context, cfg *config.Config, log logger.Logger) (*Harvester, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if log == nil {
		log = logger.NopLogger{}
	}
	if ctx == nil {
		ctx = context.Background()
	}

	registry, err := sources.LoadRegistry(cfg.SourcesFile)
	if err != nil {
		return nil, fmt.Errorf("load sources registry: %w", err)
	}
	sourceList := registry.All()
	sourceIDs := make([]string, 0, len(sourceList))
	for _, s := range sourceList {
		sourceIDs = append(sourceIDs, s.ID)
	}
	log.InfoObj("sources registry loaded", "sources_meta", map[string]any{
		"count": len(sourceIDs),
		"ids":   sourceIDs,
	})

	st, err := store.Open(cfg.DatabaseDriver, cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	log.InfoObj("store initialized", "store_config", map[string]any{
		"driver": cfg.DatabaseDriver,
	})

	jnl, err := journal.New(cfg.JournalPath, journal.Options{
		FailedURLTTL:    cfg.JournalTTL,
		CleanupInterval: cfg.JournalCleanupInterval,
	})
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("open journal: %w", err)
	}

	fanout, err := buildFanout(ctx, cfg, log)
	if err != nil {
		_ = jnl.Close()
		_ = st.Close()
		return nil, err
	}

	return &Harvester{
		cfg:      cfg,
		log:      log,
		store:    st,
		journal:  jnl,
		registry: registry,
		adapters: sources.DefaultAdapterRegistry(),
		fanout:   fanout,
	}, nil
}

// buildFanout assembles the dispatch fanout. A missing sinks file disables
// dispatch rather than failing the run: scraping works without downstream
// consumers.
func buildFanout(ctx context.Context, cfg *config.Config, log logger.Logger) (*dispatch.Fanout, error) {
	path := strings.TrimSpace(cfg.DispatchFile)
	if path == "" {
		return dispatch.NewFanout(nil), nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		log.InfoObj("dispatch disabled: sinks file absent", "dispatch_file", path)
		return dispatch.NewFanout(nil), nil
	}

	sinkReg, err := dispatch.LoadRegistry(path)
	if err != nil {
		return nil, fmt.Errorf("load sinks registry: %w", err)
	}
	enabled := sinkReg.Enabled()
	senders, err := dispatch.BuildAll(ctx, dispatch.DefaultRegistry(), enabled, log)
	if err != nil {
		return nil, fmt.Errorf("build senders: %w", err)
	}

	sinkSummaries := make([]map[string]string, 0, len(enabled))
	for _, sinkCfg := range enabled {
		sinkSummaries = append(sinkSummaries, map[string]string{
			"id":   sinkCfg.ID,
			"type": sinkCfg.Type,
		})
	}
	log.InfoObj("sinks registry loaded", "sinks_meta", map[string]any{
		"count": len(sinkSummaries),
		"sinks": sinkSummaries,
	})
	return dispatch.NewFanout(senders), nil
}

// Close releases the store and the journal, logging failures.
func (h *Harvester) Close() {
	if h == nil {
		return
	}
	if h.journal != nil {
		if err := h.journal.Close(); err != nil {
			h.log.ErrorObj("journal close failed", "error", err)
		}
	}
	if h.store != nil {
		if err := h.store.Close(); err != nil {
			h.log.ErrorObj("store close failed", "error", err)
		}
	}
}

// sourceRuntime bundles everything a job needs for one source.
type sourceRuntime struct {
	cfg     sources.Config
	row     domain.Source
	adapter sources.Adapter
	coord   *ingest.Coordinator
}

func (h *Harvester) sourceRuntime(ctx context.Context, opts JobOptions) (*sourceRuntime, error) {
	id := strings.TrimSpace(opts.Source)
	if id == "" {
		return nil, errors.New("source id is required")
	}
	cfg, ok := h.registry.ByID(id)
	if !ok {
		return nil, fmt.Errorf("unknown source %q", id)
	}

	row, err := h.store.EnsureSource(ctx, domain.Source{
		Name:             cfg.ID,
		URL:              cfg.URL,
		ListOfGamesURL:   cfg.ListOfGamesURL,
		GameDetailURL:    cfg.GameDetailURL,
		UserReviewsURL:   cfg.UserReviewsURL,
		CriticReviewsURL: cfg.CriticReviewsURL,
	})
	if err != nil {
		return nil, fmt.Errorf("ensure source %q: %w", cfg.ID, err)
	}

	limiter := ratelimit.New(cfg.RateLimit)
	if opts.RateLimit > 0 {
		limiter = ratelimit.PerSecond(opts.RateLimit)
	}

	adapter, err := h.adapters.AdapterFor(cfg, sources.Deps{
		Client:     httpclient.NewRestyClient(h.cfg.HTTPTimeout),
		Limiter:    limiter,
		Log:        h.log,
		MaxRetries: h.cfg.HTTPMaxRetries,
	})
	if err != nil {
		return nil, fmt.Errorf("build adapter for %q: %w", cfg.ID, err)
	}

	sink := dispatch.NewEventSink(cfg.ID, h.fanout, h.log)
	return &sourceRuntime{
		cfg:     cfg,
		row:     row,
		adapter: adapter,
		coord:   ingest.New(h.store, sink, h.log),
	}, nil
}

// logPreviousRun surfaces what the journal remembers about the job before a
// new run starts, so operators see carried-over failures up front.
func (h *Harvester) logPreviousRun(job, sourceID string) {
	token, ok, err := h.journal.Checkpoint(checkpointKey(job, sourceID))
	if err != nil {
		h.log.WarnObj("journal checkpoint read failed", "error", err)
	} else if ok {
		h.log.InfoObj("previous completed run", "job_checkpoint", map[string]any{
			"job":          job,
			"source_id":    sourceID,
			"completed_at": token,
		})
	}

	failed, err := h.journal.FailedURLs(sourceID)
	if err != nil {
		h.log.WarnObj("journal failed-url read failed", "error", err)
		return
	}
	if len(failed) > 0 {
		h.log.WarnObj("urls skipped in earlier runs", "journal_failed_urls", map[string]any{
			"source_id": sourceID,
			"count":     len(failed),
			"urls":      failed,
		})
	}
}

// recordRunOutcome persists the run result into the journal and logs the
// final summary. A failed run clears the completion checkpoint: the
// checkpoint only ever reflects a run that finished.
func (h *Harvester) recordRunOutcome(job, sourceID string, sum ingest.Summary, runErr error) {
	for _, url := range sum.Failed {
		if err := h.journal.RecordFailedURL(sourceID, url); err != nil {
			h.log.WarnObj("journal failed-url write failed", "error", err)
		}
	}

	key := checkpointKey(job, sourceID)
	if runErr == nil {
		if err := h.journal.SaveCheckpoint(key, time.Now().UTC().Format(time.RFC3339)); err != nil {
			h.log.WarnObj("journal checkpoint write failed", "error", err)
		}
		if len(sum.Failed) == 0 {
			if err := h.journal.ClearFailedURLs(sourceID); err != nil {
				h.log.WarnObj("journal failed-url clear failed", "error", err)
			}
		}
	} else if err := h.journal.ClearCheckpoint(key); err != nil {
		h.log.WarnObj("journal checkpoint clear failed", "error", err)
	}

	h.log.InfoObj("job finished", "job_summary", map[string]any{
		"job":       job,
		"source_id": sourceID,
		"ingested":  sum.Ingested,
		"skipped":   sum.Skipped,
		"failed":    len(sum.Failed),
		"urls":      sum.Failed,
		"error":     errString(runErr),
	})
}

func checkpointKey(job, sourceID string) string { return job + ":" + sourceID }

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
