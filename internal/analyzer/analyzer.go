// Package analyzer calls the external aspect-extraction service that mines
// review text for opinion terms. The harvester only transports the results;
// it never interprets them.
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gamelens-hq/gamelens-review-harvester/internal/domain"
	"github.com/gamelens-hq/gamelens-review-harvester/internal/logger"
	"github.com/gamelens-hq/gamelens-review-harvester/pkg/httpclient"
	"github.com/go-resty/resty/v2"
)

// ErrNotConfigured is returned when no analyzer endpoint is set.
var ErrNotConfigured = errors.New("analyzer: endpoint not configured")

// AspectExtractor mines aspect/polarity annotations from review text.
type AspectExtractor interface {
	Extract(ctx context.Context, text, language string) ([]domain.Aspect, error)
}

type httpExtractor struct {
	url    string
	client *resty.Client
	log    logger.Logger
}

// NewHTTPExtractor returns an extractor backed by an HTTP analyzer service.
func NewHTTPExtractor(url string, timeout time.Duration, log logger.Logger) (AspectExtractor, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, ErrNotConfigured
	}
	if log == nil {
		log = logger.NopLogger{}
	}

	return &httpExtractor{
		url:    url,
		client: httpclient.NewRestyHTTPClient(timeout),
		log:    log,
	}, nil
}

type extractRequest struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

type extractedAspect struct {
	Term     string `json:"term"`
	Category string `json:"category"`
	Polarity string `json:"polarity"`
}

type extractResponse struct {
	Aspects []extractedAspect `json:"aspects"`
	Error   string            `json:"error"`
}

// Extract posts the review text to the analyzer and returns its annotations.
// An empty result is valid: not every review carries extractable opinions.
func (e *httpExtractor) Extract(ctx context.Context, text, language string) ([]domain.Aspect, error) {
	var out extractResponse
	resp, err := e.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(extractRequest{Text: text, Language: language}).
		SetResult(&out).
		Post(e.url)
	if err != nil {
		return nil, fmt.Errorf("analyzer request: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("analyzer response status %d", resp.StatusCode())
	}
	if out.Error != "" {
		return nil, fmt.Errorf("analyzer: %s", out.Error)
	}

	aspects := make([]domain.Aspect, 0, len(out.Aspects))
	for _, a := range out.Aspects {
		term := strings.TrimSpace(a.Term)
		if term == "" {
			continue
		}
		aspects = append(aspects, domain.Aspect{
			Term:     term,
			Category: strings.TrimSpace(a.Category),
			Polarity: strings.TrimSpace(a.Polarity),
		})
	}

	e.log.DebugObj("analyzer extracted aspects", "analyzer_extract", map[string]any{
		"language": language,
		"aspects":  len(aspects),
	})
	return aspects, nil
}
