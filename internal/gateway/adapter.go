package gateway

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Action is the upstream operation derived from an inbound request, after
// request transforms have been applied.
type Action struct {
	Method  string
	Path    string
	Query   string
	Headers map[string]string
	Body    []byte
}

// AdapterResponse is what an adapter hands back to the dispatcher.
// Upstream statuses pass through untouched, including 4xx/5xx.
type AdapterResponse struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
}

// Adapter is the capability boundary to a downstream integration. The
// dispatcher never fabricates responses; everything the caller receives
// came from an adapter or from the cache of a previous adapter response.
type Adapter interface {
	Invoke(ctx context.Context, action *Action, params map[string]string) (*AdapterResponse, error)
}

// AdapterRegistry resolves adapters by integration id, with optional
// per-instance overrides.
type AdapterRegistry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

func NewAdapterRegistry() *AdapterRegistry {
	return &AdapterRegistry{adapters: make(map[string]Adapter)}
}

func adapterKey(integrationID, instanceID string) string {
	return integrationID + "/" + instanceID
}

// Register binds an adapter to an integration. An empty instanceID makes
// it the integration's default.
func (r *AdapterRegistry) Register(integrationID, instanceID string, adapter Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[adapterKey(integrationID, instanceID)] = adapter
}

// Lookup finds the adapter for a route, preferring an instance-specific
// binding over the integration default.
func (r *AdapterRegistry) Lookup(integrationID, instanceID string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if instanceID != "" {
		if adapter, ok := r.adapters[adapterKey(integrationID, instanceID)]; ok {
			return adapter, true
		}
	}
	adapter, ok := r.adapters[adapterKey(integrationID, "")]
	return adapter, ok
}

// HTTPAdapter proxies actions to a base URL, joining the action path and
// passing headers through both ways.
type HTTPAdapter struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewHTTPAdapter builds a proxy adapter. The client carries no global
// timeout; the dispatcher bounds each invocation with a context deadline.
func NewHTTPAdapter(baseURL string, logger *zap.Logger) *HTTPAdapter {
	return &HTTPAdapter{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{},
		logger:  logger,
	}
}

func (a *HTTPAdapter) Invoke(ctx context.Context, action *Action, _ map[string]string) (*AdapterResponse, error) {
	target := a.baseURL + action.Path
	if !strings.HasPrefix(action.Path, "/") {
		target = a.baseURL + "/" + action.Path
	}
	if action.Query != "" {
		target += "?" + action.Query
	}

	var body io.Reader
	if len(action.Body) > 0 {
		body = bytes.NewReader(action.Body)
	}
	req, err := http.NewRequestWithContext(ctx, action.Method, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build upstream request: %w", err)
	}
	for name, value := range action.Headers {
		req.Header.Set(name, value)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read upstream response: %w", err)
	}

	headers := make(map[string]string, len(resp.Header))
	for name := range resp.Header {
		headers[name] = resp.Header.Get(name)
	}
	return &AdapterResponse{
		StatusCode: resp.StatusCode,
		Headers:    headers,
		Body:       respBody,
	}, nil
}
