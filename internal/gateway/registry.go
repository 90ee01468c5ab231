package gateway

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/CleanExpo/zenith-integration-hub/internal/models"
	"github.com/CleanExpo/zenith-integration-hub/internal/store"
)

var allowedMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "PATCH": true,
	"DELETE": true, "HEAD": true, "OPTIONS": true,
}

type patternSegment struct {
	value string
	param bool
}

// routePattern is the compiled form of a route path. Path syntax: literal
// segments, ":name" parameter segments, and an optional trailing "*" that
// swallows the rest of the path.
type routePattern struct {
	segments []patternSegment
	wildcard bool
}

func compilePath(path string) (routePattern, error) {
	var p routePattern
	if path == "" || path[0] != '/' {
		return p, fmt.Errorf("path must start with /")
	}
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return p, nil
	}
	parts := strings.Split(trimmed, "/")
	for i, part := range parts {
		switch {
		case part == "":
			return p, fmt.Errorf("path %q has an empty segment", path)
		case part == "*":
			if i != len(parts)-1 {
				return p, fmt.Errorf("wildcard must be the last segment in %q", path)
			}
			p.wildcard = true
		case strings.HasPrefix(part, ":"):
			name := part[1:]
			if name == "" {
				return p, fmt.Errorf("path %q has an unnamed parameter", path)
			}
			p.segments = append(p.segments, patternSegment{value: name, param: true})
		default:
			p.segments = append(p.segments, patternSegment{value: part})
		}
	}
	return p, nil
}

// match returns extracted parameters and a per-segment specificity vector
// (2 literal, 1 param, 0 wildcard) used to rank competing matches.
func (p routePattern) match(parts []string) (map[string]string, []int, bool) {
	n := len(p.segments)
	if p.wildcard {
		if len(parts) < n {
			return nil, nil, false
		}
	} else if len(parts) != n {
		return nil, nil, false
	}

	var params map[string]string
	spec := make([]int, 0, len(parts))
	for i, seg := range p.segments {
		if seg.param {
			if params == nil {
				params = make(map[string]string)
			}
			params[seg.value] = parts[i]
			spec = append(spec, 1)
			continue
		}
		if parts[i] != seg.value {
			return nil, nil, false
		}
		spec = append(spec, 2)
	}
	if p.wildcard {
		if params == nil {
			params = make(map[string]string)
		}
		params["*"] = strings.Join(parts[n:], "/")
		for i := n; i < len(parts); i++ {
			spec = append(spec, 0)
		}
	}
	return params, spec, true
}

// specLess reports whether a ranks below b. Vectors are always the same
// length for one request, so this is a plain lexicographic compare.
func specLess(a, b []int) bool {
	for i := range a {
		if i >= len(b) {
			return false
		}
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

type compiledRoute struct {
	route   *models.Route
	pattern routePattern
}

// RouteRegistry resolves inbound requests to routes. Lookups are
// read-mostly and lock-cheap; mutations write through to the store and
// refresh the compiled index under the write lock.
type RouteRegistry struct {
	store  store.Store
	logger *zap.Logger

	mu     sync.RWMutex
	routes map[string]*compiledRoute
}

func NewRouteRegistry(st store.Store, logger *zap.Logger) *RouteRegistry {
	return &RouteRegistry{
		store:  st,
		logger: logger,
		routes: make(map[string]*compiledRoute),
	}
}

// Load fills the index from the store. Called once at startup.
func (r *RouteRegistry) Load(ctx context.Context) error {
	routes, err := r.store.ListRoutes(ctx)
	if err != nil {
		return fmt.Errorf("failed to load routes: %w", err)
	}
	compiled := make(map[string]*compiledRoute, len(routes))
	for _, route := range routes {
		pattern, err := compilePath(route.Path)
		if err != nil {
			return fmt.Errorf("stored route %s is invalid: %w", route.ID, err)
		}
		compiled[route.ID] = &compiledRoute{route: route, pattern: pattern}
	}
	r.mu.Lock()
	r.routes = compiled
	r.mu.Unlock()
	r.logger.Info("Routes loaded", zap.Int("count", len(routes)))
	return nil
}

func validateRoute(route *models.Route) (routePattern, error) {
	route.Method = strings.ToUpper(strings.TrimSpace(route.Method))
	if !allowedMethods[route.Method] {
		return routePattern{}, fmt.Errorf("unsupported method %q", route.Method)
	}
	if route.IntegrationID == "" {
		return routePattern{}, fmt.Errorf("integration_id is required")
	}
	return compilePath(route.Path)
}

// Register validates and stores a new route, returning its id. A (method,
// path) pair may only be registered once.
func (r *RouteRegistry) Register(ctx context.Context, route *models.Route) (string, error) {
	pattern, err := validateRoute(route)
	if err != nil {
		return "", err
	}
	if route.ID == "" {
		route.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	route.CreatedAt = now
	route.UpdatedAt = now

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.routes {
		if existing.route.Method == route.Method && existing.route.Path == route.Path {
			return "", fmt.Errorf("%w: %s %s", ErrDuplicateRoute, route.Method, route.Path)
		}
	}
	if err := r.store.CreateRoute(ctx, route); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return "", fmt.Errorf("%w: %s %s", ErrDuplicateRoute, route.Method, route.Path)
		}
		return "", fmt.Errorf("failed to store route: %w", err)
	}
	stored := *route
	r.routes[route.ID] = &compiledRoute{route: &stored, pattern: pattern}

	r.logger.Info("Route registered",
		zap.String("route_id", route.ID),
		zap.String("method", route.Method),
		zap.String("path", route.Path),
		zap.String("integration_id", route.IntegrationID),
	)
	return route.ID, nil
}

// Resolve matches a request to a route and extracts path parameters.
// Literal segments outrank parameters, parameters outrank the wildcard;
// among equally specific patterns the lexicographically smaller path wins,
// so repeated calls always pick the same route.
func (r *RouteRegistry) Resolve(method, path string) (*models.Route, map[string]string, error) {
	method = strings.ToUpper(method)
	parts := splitPath(path)

	r.mu.RLock()
	defer r.mu.RUnlock()
	var (
		best       *compiledRoute
		bestParams map[string]string
		bestSpec   []int
	)
	for _, cr := range r.routes {
		if cr.route.Method != method {
			continue
		}
		params, spec, ok := cr.pattern.match(parts)
		if !ok {
			continue
		}
		if best == nil || specLess(bestSpec, spec) ||
			(!specLess(spec, bestSpec) && cr.route.Path < best.route.Path) {
			best, bestParams, bestSpec = cr, params, spec
		}
	}
	if best == nil {
		return nil, nil, fmt.Errorf("%w: %s %s", ErrRouteNotFound, method, path)
	}
	route := *best.route
	return &route, bestParams, nil
}

// Update atomically replaces a route's definition, keeping id and creation
// time. Requests already past resolution keep the definition they resolved.
func (r *RouteRegistry) Update(ctx context.Context, id string, route *models.Route) error {
	pattern, err := validateRoute(route)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.routes[id]
	if !ok {
		return ErrRouteNotFound
	}
	for otherID, other := range r.routes {
		if otherID != id && other.route.Method == route.Method && other.route.Path == route.Path {
			return fmt.Errorf("%w: %s %s", ErrDuplicateRoute, route.Method, route.Path)
		}
	}

	route.ID = id
	route.CreatedAt = existing.route.CreatedAt
	route.UpdatedAt = time.Now().UTC()
	if err := r.store.UpdateRoute(ctx, route); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrRouteNotFound
		}
		return fmt.Errorf("failed to update route: %w", err)
	}
	stored := *route
	r.routes[id] = &compiledRoute{route: &stored, pattern: pattern}

	r.logger.Info("Route updated", zap.String("route_id", id))
	return nil
}

// Unregister removes a route. In-flight requests already resolved are
// unaffected.
func (r *RouteRegistry) Unregister(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.routes[id]; !ok {
		return ErrRouteNotFound
	}
	if err := r.store.DeleteRoute(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrRouteNotFound
		}
		return fmt.Errorf("failed to delete route: %w", err)
	}
	delete(r.routes, id)

	r.logger.Info("Route unregistered", zap.String("route_id", id))
	return nil
}

// Get returns one route by id.
func (r *RouteRegistry) Get(id string) (*models.Route, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cr, ok := r.routes[id]
	if !ok {
		return nil, ErrRouteNotFound
	}
	route := *cr.route
	return &route, nil
}

// List returns all routes ordered by creation time.
func (r *RouteRegistry) List() []*models.Route {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*models.Route, 0, len(r.routes))
	for _, cr := range r.routes {
		route := *cr.route
		out = append(out, &route)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
