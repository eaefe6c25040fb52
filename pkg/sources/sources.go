package sources

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gamelens-hq/gamelens-review-harvester/pkg/ratelimit"
	"gopkg.in/yaml.v3"
)

// Package sources contains the upstream source registry (YAML/JSON) and the
// per-pagination-style adapters that stream scraped records out of them.

const (
	// Supported source types, one per pagination strategy.
	TypeRestCursor = "rest_cursor"
	TypeRestOffset = "rest_offset"
	TypeHTML       = "html"
)

// Config describes one upstream source. One adapter instance is built per
// (source, credentials) pair; nothing here is global state.
type Config struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
	Type string `json:"type" yaml:"type"`
	URL  string `json:"url" yaml:"url"`

	ListOfGamesURL   string `json:"list_of_games_url" yaml:"list_of_games_url"`
	GameDetailURL    string `json:"game_detail_url" yaml:"game_detail_url"`
	UserReviewsURL   string `json:"user_reviews_url" yaml:"user_reviews_url"`
	CriticReviewsURL string `json:"critic_reviews_url" yaml:"critic_reviews_url"`

	// APIKeyEnv names the environment variable holding the source's API key.
	// Keys never live in the registry file itself.
	APIKeyEnv string `json:"api_key_env" yaml:"api_key_env"`

	Language  string           `json:"language" yaml:"language"`
	PageSize  int              `json:"page_size" yaml:"page_size"`
	RateLimit ratelimit.Policy `json:"rate_limit" yaml:"rate_limit"`

	// HTML-source specific knobs.
	ItemsPerPage int `json:"items_per_page" yaml:"items_per_page"`
	MaxPages     int `json:"max_pages" yaml:"max_pages"`
	// ScoreLocations lists CSS selectors tried in order when extracting the
	// score out of drifting detail-page templates. Order matters.
	ScoreLocations []string `json:"score_locations" yaml:"score_locations"`
}

// APIKey resolves the source's API key from the environment.
func (c Config) APIKey() string {
	if strings.TrimSpace(c.APIKeyEnv) == "" {
		return ""
	}
	return os.Getenv(c.APIKeyEnv)
}

type registryFile struct {
	Sources []Config `json:"sources" yaml:"sources"`
}

// Registry materializes source definitions loaded from config files.
type Registry struct {
	mu      sync.RWMutex
	sources []Config
	idx     map[string]Config
}

// LoadRegistry loads the source registry from a YAML/JSON file.
func LoadRegistry(path string) (*Registry, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("sources file path is empty")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open sources file: %w", err)
	}
	defer file.Close()

	raw, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("read sources file: %w", err)
	}

	fileReg, err := parseRegistry(raw, filepath.Ext(path))
	if err != nil {
		return nil, err
	}
	if len(fileReg.Sources) == 0 {
		return nil, errors.New("sources file contains no sources entries")
	}

	reg := &Registry{
		sources: make([]Config, len(fileReg.Sources)),
		idx:     make(map[string]Config, len(fileReg.Sources)),
	}
	for i := range fileReg.Sources {
		cfg := sanitizeConfig(fileReg.Sources[i])
		if err := validateConfig(cfg); err != nil {
			return nil, fmt.Errorf("sources[%d]: %w", i, err)
		}
		if _, exists := reg.idx[cfg.ID]; exists {
			return nil, fmt.Errorf("duplicate source id %q", cfg.ID)
		}
		reg.sources[i] = cfg
		reg.idx[cfg.ID] = cfg
	}

	return reg, nil
}

func parseRegistry(data []byte, ext string) (registryFile, error) {
	ext = strings.ToLower(strings.TrimSpace(ext))

	decoders := []struct {
		name string
		ext  string
		fn   func([]byte, any) error
	}{
		{name: "yaml", ext: ".yaml", fn: yaml.Unmarshal},
		{name: "yaml", ext: ".yml", fn: yaml.Unmarshal},
		{name: "json", ext: ".json", fn: json.Unmarshal},
	}

	for _, d := range decoders {
		if ext != "" && ext != d.ext {
			continue
		}
		var reg registryFile
		if err := d.fn(data, &reg); err == nil {
			return reg, nil
		}
	}

	return registryFile{}, errors.New("sources file format not recognized (expected YAML or JSON)")
}

func sanitizeConfig(cfg Config) Config {
	cfg.ID = strings.TrimSpace(cfg.ID)
	cfg.Name = strings.TrimSpace(cfg.Name)
	cfg.Type = strings.ToLower(strings.TrimSpace(cfg.Type))
	cfg.URL = strings.TrimSpace(cfg.URL)
	cfg.ListOfGamesURL = strings.TrimSpace(cfg.ListOfGamesURL)
	cfg.GameDetailURL = strings.TrimSpace(cfg.GameDetailURL)
	cfg.UserReviewsURL = strings.TrimSpace(cfg.UserReviewsURL)
	cfg.CriticReviewsURL = strings.TrimSpace(cfg.CriticReviewsURL)
	cfg.APIKeyEnv = strings.TrimSpace(cfg.APIKeyEnv)
	cfg.Language = strings.TrimSpace(cfg.Language)

	if cfg.Name == "" {
		cfg.Name = cfg.ID
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	cfg.RateLimit = cfg.RateLimit.Normalize()

	for i := range cfg.ScoreLocations {
		cfg.ScoreLocations[i] = strings.TrimSpace(cfg.ScoreLocations[i])
	}

	return cfg
}

func validateConfig(cfg Config) error {
	if cfg.ID == "" {
		return errors.New("id is required")
	}
	if cfg.URL == "" {
		return fmt.Errorf("url is required for source %q", cfg.ID)
	}
	switch cfg.Type {
	case TypeRestCursor:
		if cfg.UserReviewsURL == "" {
			return fmt.Errorf("user_reviews_url is required for source %q", cfg.ID)
		}
	case TypeRestOffset:
		if cfg.CriticReviewsURL == "" {
			return fmt.Errorf("critic_reviews_url is required for source %q", cfg.ID)
		}
	case TypeHTML:
		if cfg.CriticReviewsURL == "" {
			return fmt.Errorf("critic_reviews_url is required for source %q", cfg.ID)
		}
		if cfg.ItemsPerPage <= 0 {
			return fmt.Errorf("items_per_page is required for source %q", cfg.ID)
		}
	case "":
		return fmt.Errorf("type is required for source %q", cfg.ID)
	default:
		return fmt.Errorf("unsupported type %q for source %q", cfg.Type, cfg.ID)
	}
	return nil
}

// All returns all configured sources.
func (r *Registry) All() []Config {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Config, len(r.sources))
	copy(out, r.sources)
	return out
}

// ByID returns the source entry for the given id, if loaded.
func (r *Registry) ByID(id string) (Config, bool) {
	if r == nil {
		return Config{}, false
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return Config{}, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.idx[id]
	return cfg, ok
}
