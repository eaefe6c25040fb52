package dispatch

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadRegistryEnabledFilter(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sinks.yaml")
	raw := `
sinks:
  - id: http1
    type: http
    enabled: false
    http:
      url: https://example.com
  - id: http2
    type: http
    enabled: true
    http:
      url: https://example.com/2
`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	reg, err := LoadRegistry(path)
	if err != nil {
		t.Fatalf("LoadRegistry: %v", err)
	}
	enabled := reg.Enabled()
	if len(enabled) != 1 || enabled[0].ID != "http2" {
		t.Fatalf("expected only http2 enabled, got %#v", enabled)
	}
}

func TestLoadRegistryRejectsDuplicateIDs(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sinks.yaml")
	raw := `
sinks:
  - id: hook
    type: http
    http:
      url: https://example.com
  - id: hook
    type: http
    http:
      url: https://example.com/2
`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	if _, err := LoadRegistry(path); err == nil {
		t.Fatalf("expected duplicate id error")
	}
}

func TestValidateSinkConfigRejectsMissingBlocks(t *testing.T) {
	cases := []SinkConfig{
		{ID: "h1", Type: TypeHTTP},
		{ID: "q1", Type: TypeSQS},
		{ID: "t1", Type: TypeSNS},
		{ID: "p1", Type: TypePubSub},
		{ID: "q2", Type: TypeSQS, SQS: &SQSSinkConfig{QueueURL: "https://example.com/q"}},
		{ID: "t2", Type: TypeSNS, SNS: &SNSSinkConfig{TopicARN: "arn:aws:sns:::topic"}},
		{ID: "p2", Type: TypePubSub, PubSub: &GCPQueueConfig{ProjectID: "proj"}},
	}
	for _, cfg := range cases {
		if err := validateSinkConfig(cfg); err == nil {
			t.Fatalf("expected validation error for %q", cfg.ID)
		}
	}
}

func TestSanitizeSinkConfigAppliesHTTPDefaults(t *testing.T) {
	cfg := sanitizeSinkConfig(SinkConfig{
		ID:   " hook ",
		Type: " HTTP ",
		HTTP: &HTTPSinkConfig{
			URL:     " https://example.com ",
			Headers: map[string]string{" X-Test ": " 1 ", "Empty": " "},
		},
	})
	if cfg.ID != "hook" || cfg.Type != "http" {
		t.Fatalf("id/type not normalized: %#v", cfg)
	}
	if cfg.HTTP.Method != "POST" {
		t.Fatalf("Method = %s", cfg.HTTP.Method)
	}
	if cfg.HTTP.TimeoutSeconds != httpDefaultTimeoutSeconds {
		t.Fatalf("TimeoutSeconds = %d", cfg.HTTP.TimeoutSeconds)
	}
	if len(cfg.HTTP.Headers) != 1 || cfg.HTTP.Headers["X-Test"] != "1" {
		t.Fatalf("headers not sanitized: %#v", cfg.HTTP.Headers)
	}
	if !cfg.EnabledValue() {
		t.Fatalf("enabled should default to true")
	}
}
