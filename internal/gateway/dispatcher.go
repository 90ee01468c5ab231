package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/CleanExpo/zenith-integration-hub/internal/auth"
	"github.com/CleanExpo/zenith-integration-hub/internal/metrics"
	"github.com/CleanExpo/zenith-integration-hub/internal/models"
	"github.com/CleanExpo/zenith-integration-hub/internal/ratelimit"
)

// Request is the transport-neutral form handed to the dispatcher. The
// fiber handler builds it; tests build it directly.
type Request struct {
	Method      string
	Path        string
	RawQuery    string
	Headers     map[string]string
	Body        []byte
	ClientIP    string
	APIKey      string
	BearerToken string
}

// Response is what the dispatcher returns for a successful (or upstream
// non-2xx) invocation.
type Response struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
	CacheHit   bool
	RouteID    string
}

// Dispatcher runs every request through the same stage order: resolve,
// auth, rate limit, cache lookup, request transform, adapter invoke,
// response transform, cache fill. Route policies parameterize the stages
// but never reorder them, and nothing in this path retries on its own.
type Dispatcher struct {
	routes         *RouteRegistry
	limiter        *ratelimit.Limiter
	verifiers      map[string]auth.Verifier
	adapters       *AdapterRegistry
	cache          *ResponseCache
	metrics        *metrics.Aggregator
	logger         *zap.Logger
	defaultTimeout time.Duration
}

func NewDispatcher(
	routes *RouteRegistry,
	limiter *ratelimit.Limiter,
	verifiers []auth.Verifier,
	adapters *AdapterRegistry,
	cache *ResponseCache,
	agg *metrics.Aggregator,
	defaultTimeout time.Duration,
	logger *zap.Logger,
) *Dispatcher {
	if defaultTimeout <= 0 {
		defaultTimeout = 10 * time.Second
	}
	byMethod := make(map[string]auth.Verifier, len(verifiers))
	for _, v := range verifiers {
		byMethod[v.Method()] = v
	}
	return &Dispatcher{
		routes:         routes,
		limiter:        limiter,
		verifiers:      byMethod,
		adapters:       adapters,
		cache:          cache,
		metrics:        agg,
		logger:         logger,
		defaultTimeout: defaultTimeout,
	}
}

// Handle dispatches one request. Requests that match no route are not
// recorded against any route's metrics.
func (d *Dispatcher) Handle(ctx context.Context, req *Request) (*Response, error) {
	route, params, err := d.routes.Resolve(req.Method, req.Path)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	resp, err := d.dispatch(ctx, route, params, req)

	status := HTTPStatus(err)
	if err == nil {
		status = resp.StatusCode
	}
	d.metrics.Record("route:"+route.ID, metrics.Sample{
		At:         time.Now(),
		Latency:    time.Since(started),
		Err:        err != nil || status >= 500,
		StatusCode: status,
	})
	return resp, err
}

func (d *Dispatcher) dispatch(ctx context.Context, route *models.Route, params map[string]string, req *Request) (*Response, error) {
	principal, err := d.authenticate(ctx, route, req)
	if err != nil {
		return nil, err
	}

	if err := d.checkRateLimit(ctx, route, req, principal); err != nil {
		return nil, err
	}

	cacheable := d.cache != nil && route.Cache.Enabled && req.Method == http.MethodGet
	var cacheKey string
	if cacheable {
		cacheKey = d.cache.Key(route, req, principalID(principal))
		if cached, ok := d.cache.Get(ctx, cacheKey); ok {
			return &Response{
				StatusCode: cached.StatusCode,
				Headers:    cached.Headers,
				Body:       cached.Body,
				CacheHit:   true,
				RouteID:    route.ID,
			}, nil
		}
	}

	action := buildAction(req)
	transformRequest(action, route.Transform)

	adapter, ok := d.adapters.Lookup(route.IntegrationID, route.InstanceID)
	if !ok {
		return nil, &UpstreamError{Detail: fmt.Sprintf("no adapter bound for integration %q", route.IntegrationID)}
	}

	timeout := time.Duration(route.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = d.defaultTimeout
	}
	invokeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	upstream, err := adapter.Invoke(invokeCtx, action, params)
	if err != nil {
		if isUpstreamTimeout(err) {
			return nil, &UpstreamError{Timeout: true, Detail: err.Error()}
		}
		return nil, &UpstreamError{Detail: err.Error()}
	}

	transformResponse(upstream, route.Transform)

	resp := &Response{
		StatusCode: upstream.StatusCode,
		Headers:    upstream.Headers,
		Body:       upstream.Body,
		RouteID:    route.ID,
	}
	if cacheable && resp.StatusCode >= 200 && resp.StatusCode < 300 {
		ttl := time.Duration(route.Cache.TTLSeconds) * time.Second
		if ttl <= 0 {
			ttl = time.Minute
		}
		d.cache.Set(ctx, cacheKey, &CachedResponse{
			StatusCode: resp.StatusCode,
			Headers:    resp.Headers,
			Body:       resp.Body,
		}, ttl)
	}
	return resp, nil
}

// authenticate checks the request against the route's auth policy. Routes
// without a policy admit anonymously.
func (d *Dispatcher) authenticate(ctx context.Context, route *models.Route, req *Request) (*auth.Principal, error) {
	if !route.Auth.Required {
		return nil, nil
	}

	creds := auth.Credentials{APIKey: req.APIKey, BearerToken: req.BearerToken}
	methods := route.Auth.Methods
	if len(methods) == 0 {
		methods = make([]string, 0, len(d.verifiers))
		for m := range d.verifiers {
			methods = append(methods, m)
		}
	}

	var lastErr error
	for _, method := range methods {
		verifier, ok := d.verifiers[method]
		if !ok {
			continue
		}
		principal, err := verifier.Verify(ctx, creds)
		if err != nil {
			if !errors.Is(err, auth.ErrNoCredential) {
				lastErr = err
			}
			continue
		}
		if !principal.HasScopes(route.Auth.Scopes) {
			return nil, fmt.Errorf("%w: principal %q lacks required scopes", ErrAuthorization, principal.ID)
		}
		return principal, nil
	}

	if lastErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthentication, lastErr)
	}
	return nil, fmt.Errorf("%w: no acceptable credential presented", ErrAuthentication)
}

// checkRateLimit keys the window on route id plus caller identity, falling
// back to the client IP for anonymous routes. Counter backend failures
// admit the request.
func (d *Dispatcher) checkRateLimit(ctx context.Context, route *models.Route, req *Request, principal *auth.Principal) error {
	caller := req.ClientIP
	if id := principalID(principal); id != "" {
		caller = id
	}
	key := route.ID + ":" + caller

	decision, err := d.limiter.CheckAndConsume(ctx, key, route.RateLimit, time.Now())
	if err != nil {
		d.logger.Warn("Rate limit check degraded, admitting request",
			zap.String("route_id", route.ID),
			zap.Error(err),
		)
	}
	if !decision.Admitted {
		return &RateLimitError{RetryAfterSeconds: decision.RetryAfterSeconds}
	}
	return nil
}

func principalID(p *auth.Principal) string {
	if p == nil {
		return ""
	}
	return p.ID
}

func buildAction(req *Request) *Action {
	headers := make(map[string]string, len(req.Headers))
	for name, value := range req.Headers {
		headers[http.CanonicalHeaderKey(name)] = value
	}
	return &Action{
		Method:  req.Method,
		Path:    req.Path,
		Query:   req.RawQuery,
		Headers: headers,
		Body:    req.Body,
	}
}

func isUpstreamTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
