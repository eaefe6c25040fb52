package sources

import (
	"context"
	"fmt"
	"sync"

	"github.com/gamelens-hq/gamelens-review-harvester/pkg/httpclient"
)

// stubResponse is one canned HTTP result.
type stubResponse struct {
	body        string
	status      int
	contentType string
	err         error
}

func jsonOK(body string) stubResponse {
	return stubResponse{body: body, status: 200, contentType: "application/json"}
}

func htmlOK(body string) stubResponse {
	return stubResponse{body: body, status: 200, contentType: "text/html; charset=utf-8"}
}

func serverError() stubResponse {
	return stubResponse{body: "upstream down", status: 500, contentType: "text/html"}
}

func (s stubResponse) Body() []byte        { return []byte(s.body) }
func (s stubResponse) StatusCode() int     { return s.status }
func (s stubResponse) ContentType() string { return s.contentType }

// stubKey collapses a request to the parameter that discriminates its page,
// so scripts stay readable.
func stubKey(url string, params map[string]string) string {
	for _, k := range []string{"cursor", "offset", "pgnum", "appids"} {
		if v, ok := params[k]; ok {
			return url + "#" + k + "=" + v
		}
	}
	return url
}

// stubClient serves scripted responses keyed by stubKey. Multiple responses
// under one key are consumed in order; the last repeats. Unscripted requests
// fail the fetch, which surfaces as a retry-exhausted outcome.
type stubClient struct {
	mu     sync.Mutex
	script map[string][]stubResponse
	calls  []string
}

func newStubClient() *stubClient {
	return &stubClient{script: make(map[string][]stubResponse)}
}

func (c *stubClient) on(key string, responses ...stubResponse) *stubClient {
	c.script[key] = append(c.script[key], responses...)
	return c
}

func (c *stubClient) Get(_ context.Context, url string, params, _ map[string]string) (httpclient.Response, error) {
	key := stubKey(url, params)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, key)

	queue := c.script[key]
	if len(queue) == 0 {
		return nil, fmt.Errorf("unscripted request: %s", key)
	}
	resp := queue[0]
	if len(queue) > 1 {
		c.script[key] = queue[1:]
	}
	if resp.err != nil {
		return nil, resp.err
	}
	return resp, nil
}

func (c *stubClient) callKeys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.calls))
	copy(out, c.calls)
	return out
}

func (c *stubClient) called(key string) int {
	n := 0
	for _, k := range c.callKeys() {
		if k == key {
			n++
		}
	}
	return n
}

// drain consumes a stream to exhaustion, flattening the batches.
func drain[T any](ctx context.Context, s *Stream[T]) ([][]T, []T) {
	var batches [][]T
	var all []T
	for {
		batch, ok := s.Next(ctx)
		if !ok {
			break
		}
		batches = append(batches, batch)
		all = append(all, batch...)
	}
	return batches, all
}
