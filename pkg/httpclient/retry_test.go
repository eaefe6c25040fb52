package httpclient

import (
	"context"
	"errors"
	"testing"
)

// scriptedResponse implements Response.
type scriptedResponse struct {
	body        []byte
	statusCode  int
	contentType string
}

func (s scriptedResponse) Body() []byte        { return s.body }
func (s scriptedResponse) StatusCode() int     { return s.statusCode }
func (s scriptedResponse) ContentType() string { return s.contentType }

// scriptedClient returns canned outcomes in order, then repeats the last one.
type scriptedClient struct {
	responses []scriptedResponse
	errs      []error
	calls     int
}

func (s *scriptedClient) Get(_ context.Context, _ string, _, _ map[string]string) (Response, error) {
	i := s.calls
	if i >= len(s.errs) {
		i = len(s.errs) - 1
	}
	s.calls++
	if err := s.errs[i]; err != nil {
		return nil, err
	}
	return s.responses[i], nil
}

type countingTokens struct{ acquired int }

func (c *countingTokens) Acquire(context.Context) error {
	c.acquired++
	return nil
}

func TestRetryClientRetriesTransientThenSucceeds(t *testing.T) {
	client := &scriptedClient{
		responses: []scriptedResponse{{}, {}, {body: []byte(`{"ok":1}`), statusCode: 200, contentType: "application/json"}},
		errs:      []error{errors.New("connect timeout"), errors.New("connection reset"), nil},
	}
	tokens := &countingTokens{}
	rc := NewRetryClient(client, tokens, RetryOptions{ContentType: "application/json", MaxRetries: 3}, nil)

	out := rc.Get(context.Background(), "http://example.com/reviews", nil)
	if !out.Available() {
		t.Fatalf("expected success after retries, got %v", out.Err)
	}
	if out.Attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", out.Attempts)
	}
	if tokens.acquired != 3 {
		t.Fatalf("every attempt must be gated, got %d acquisitions", tokens.acquired)
	}
}

func TestRetryClientExhaustsRetries(t *testing.T) {
	client := &scriptedClient{
		responses: []scriptedResponse{{}},
		errs:      []error{errors.New("connect timeout")},
	}
	rc := NewRetryClient(client, nil, RetryOptions{MaxRetries: 2}, nil)

	out := rc.Get(context.Background(), "http://example.com", nil)
	if out.Available() {
		t.Fatal("expected unavailable outcome")
	}
	if !errors.Is(out.Err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", out.Err)
	}
	if client.calls != 3 {
		t.Fatalf("expected 3 attempts (1 + 2 retries), got %d", client.calls)
	}
}

func TestRetryClientPermanentFailureNotRetried(t *testing.T) {
	client := &scriptedClient{
		responses: []scriptedResponse{{statusCode: 404, body: []byte("gone")}},
		errs:      []error{nil},
	}
	rc := NewRetryClient(client, nil, RetryOptions{MaxRetries: 5}, nil)

	out := rc.Get(context.Background(), "http://example.com", nil)
	if out.Available() {
		t.Fatal("expected unavailable outcome")
	}
	if client.calls != 1 {
		t.Fatalf("permanent failure must not be retried, got %d calls", client.calls)
	}
	if out.StatusCode != 404 {
		t.Fatalf("expected status 404 surfaced, got %d", out.StatusCode)
	}
}

func TestRetryClientRejectsWrongContentType(t *testing.T) {
	client := &scriptedClient{
		responses: []scriptedResponse{{statusCode: 200, contentType: "text/html", body: []byte("<html>ban page</html>")}},
		errs:      []error{nil},
	}
	rc := NewRetryClient(client, nil, RetryOptions{ContentType: "application/json", MaxRetries: 2}, nil)

	out := rc.Get(context.Background(), "http://example.com", nil)
	if out.Available() {
		t.Fatal("expected unavailable outcome for wrong content type")
	}
	if client.calls != 1 {
		t.Fatalf("content-type mismatch must not be retried, got %d calls", client.calls)
	}
}
