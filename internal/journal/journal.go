package journal

import (
	"strings"
	"time"
)

// Package journal provides the local scratch store for scrape jobs: resume
// checkpoints and the failed-URL backlog. It is a cache, not the system of
// record; losing it costs re-fetching, never data.

// Journal records job progress and permanently-failed URLs.
type Journal interface {
	Close() error

	// SaveCheckpoint stores an opaque resume token under a job key.
	SaveCheckpoint(job, token string) error
	Checkpoint(job string) (string, bool, error)
	ClearCheckpoint(job string) error

	// RecordFailedURL remembers a skipped URL for later re-runs. Entries
	// expire after the configured TTL.
	RecordFailedURL(sourceID, url string) error
	FailedURLs(sourceID string) ([]string, error)
	ClearFailedURLs(sourceID string) error
}

// Options controls retention for concrete journal implementations.
type Options struct {
	FailedURLTTL    time.Duration
	CleanupInterval time.Duration
}

const (
	defaultFailedURLTTL    = 7 * 24 * time.Hour
	defaultCleanupInterval = 12 * time.Hour
)

// New creates the configured journal backend. An empty path disables
// journaling.
func New(path string, opts Options) (Journal, error) {
	if strings.TrimSpace(path) == "" {
		return noopJournal{}, nil
	}
	return openBolt(path, normalizeOptions(opts))
}

func normalizeOptions(opts Options) Options {
	if opts.FailedURLTTL <= 0 {
		opts.FailedURLTTL = defaultFailedURLTTL
	}
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = defaultCleanupInterval
	}
	return opts
}

type noopJournal struct{}

func (noopJournal) Close() error                        { return nil }
func (noopJournal) SaveCheckpoint(string, string) error { return nil }
func (noopJournal) Checkpoint(string) (string, bool, error) {
	return "", false, nil
}
func (noopJournal) ClearCheckpoint(string) error          { return nil }
func (noopJournal) RecordFailedURL(string, string) error  { return nil }
func (noopJournal) FailedURLs(string) ([]string, error)   { return nil, nil }
func (noopJournal) ClearFailedURLs(string) error          { return nil }
