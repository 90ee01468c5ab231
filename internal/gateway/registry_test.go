package gateway

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/CleanExpo/zenith-integration-hub/internal/models"
	"github.com/CleanExpo/zenith-integration-hub/internal/store"
)

func newRouteRegistry(t *testing.T) *RouteRegistry {
	t.Helper()
	return NewRouteRegistry(store.NewMemory(), zap.NewNop())
}

func routeSpec(method, path string) *models.Route {
	return &models.Route{Method: method, Path: path, IntegrationID: "crm"}
}

func TestRouteRegisterAndResolve(t *testing.T) {
	ctx := context.Background()
	reg := newRouteRegistry(t)

	id, err := reg.Register(ctx, routeSpec("get", "/api/users"))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	route, params, err := reg.Resolve("GET", "/api/users")
	require.NoError(t, err)
	assert.Equal(t, id, route.ID)
	assert.Equal(t, "GET", route.Method, "methods are normalized to upper case")
	assert.Empty(t, params)

	_, _, err = reg.Resolve("POST", "/api/users")
	assert.ErrorIs(t, err, ErrRouteNotFound)

	_, _, err = reg.Resolve("GET", "/api/unknown")
	assert.ErrorIs(t, err, ErrRouteNotFound)
}

func TestRouteDuplicateRejected(t *testing.T) {
	ctx := context.Background()
	reg := newRouteRegistry(t)

	_, err := reg.Register(ctx, routeSpec("GET", "/api/users"))
	require.NoError(t, err)

	_, err = reg.Register(ctx, routeSpec("GET", "/api/users"))
	assert.ErrorIs(t, err, ErrDuplicateRoute)

	// Same path under another method is a different route.
	_, err = reg.Register(ctx, routeSpec("POST", "/api/users"))
	assert.NoError(t, err)
}

func TestRouteResolvePrecedence(t *testing.T) {
	ctx := context.Background()
	reg := newRouteRegistry(t)

	literalID, err := reg.Register(ctx, routeSpec("GET", "/api/users/profile"))
	require.NoError(t, err)
	paramID, err := reg.Register(ctx, routeSpec("GET", "/api/users/:id"))
	require.NoError(t, err)
	wildcardID, err := reg.Register(ctx, routeSpec("GET", "/api/*"))
	require.NoError(t, err)

	route, params, err := reg.Resolve("GET", "/api/users/profile")
	require.NoError(t, err)
	assert.Equal(t, literalID, route.ID, "literal beats param and wildcard")
	assert.Empty(t, params)

	route, params, err = reg.Resolve("GET", "/api/users/42")
	require.NoError(t, err)
	assert.Equal(t, paramID, route.ID, "param beats wildcard")
	assert.Equal(t, "42", params["id"])

	route, params, err = reg.Resolve("GET", "/api/orders/9/items")
	require.NoError(t, err)
	assert.Equal(t, wildcardID, route.ID)
	assert.Equal(t, "orders/9/items", params["*"])
}

func TestRouteResolveDeterministic(t *testing.T) {
	ctx := context.Background()
	reg := newRouteRegistry(t)

	_, err := reg.Register(ctx, routeSpec("GET", "/api/users/:id"))
	require.NoError(t, err)
	_, err = reg.Register(ctx, routeSpec("GET", "/api/users/:name"))
	require.NoError(t, err)

	first, firstParams, err := reg.Resolve("GET", "/api/users/42")
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		route, params, err := reg.Resolve("GET", "/api/users/42")
		require.NoError(t, err)
		assert.Equal(t, first.ID, route.ID, "iteration %d", i)
		assert.Equal(t, firstParams, params, "iteration %d", i)
	}
}

func TestRouteParamsExtraction(t *testing.T) {
	ctx := context.Background()
	reg := newRouteRegistry(t)

	_, err := reg.Register(ctx, routeSpec("POST", "/api/integrations/:integration/actions/:action"))
	require.NoError(t, err)

	_, params, err := reg.Resolve("POST", "/api/integrations/salesforce/actions/sync")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"integration": "salesforce", "action": "sync"}, params)
}

func TestRoutePathValidation(t *testing.T) {
	ctx := context.Background()
	reg := newRouteRegistry(t)

	cases := map[string]*models.Route{
		"missing slash":        routeSpec("GET", "api/users"),
		"empty path":           routeSpec("GET", ""),
		"empty segment":        routeSpec("GET", "/api//users"),
		"wildcard not last":    routeSpec("GET", "/api/*/users"),
		"unnamed param":        routeSpec("GET", "/api/:"),
		"unsupported method":   routeSpec("FETCH", "/api/users"),
		"missing integration":  {Method: "GET", Path: "/api/users"},
	}
	for name, route := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := reg.Register(ctx, route)
			assert.Error(t, err)
		})
	}
}

func TestRouteTrailingSlashAndRoot(t *testing.T) {
	ctx := context.Background()
	reg := newRouteRegistry(t)

	rootID, err := reg.Register(ctx, routeSpec("GET", "/"))
	require.NoError(t, err)
	usersID, err := reg.Register(ctx, routeSpec("GET", "/api/users"))
	require.NoError(t, err)

	route, _, err := reg.Resolve("GET", "/")
	require.NoError(t, err)
	assert.Equal(t, rootID, route.ID)

	route, _, err = reg.Resolve("GET", "/api/users/")
	require.NoError(t, err)
	assert.Equal(t, usersID, route.ID)
}

func TestRouteUpdateAndUnregister(t *testing.T) {
	ctx := context.Background()
	reg := newRouteRegistry(t)

	id, err := reg.Register(ctx, routeSpec("GET", "/api/v1/users"))
	require.NoError(t, err)
	otherID, err := reg.Register(ctx, routeSpec("GET", "/api/v1/orders"))
	require.NoError(t, err)

	require.NoError(t, reg.Update(ctx, id, routeSpec("GET", "/api/v2/users")))
	_, _, err = reg.Resolve("GET", "/api/v1/users")
	assert.ErrorIs(t, err, ErrRouteNotFound)
	route, _, err := reg.Resolve("GET", "/api/v2/users")
	require.NoError(t, err)
	assert.Equal(t, id, route.ID)

	err = reg.Update(ctx, id, routeSpec("GET", "/api/v1/orders"))
	assert.ErrorIs(t, err, ErrDuplicateRoute, "updating onto another route's (method, path) fails")

	err = reg.Update(ctx, "missing", routeSpec("GET", "/x"))
	assert.ErrorIs(t, err, ErrRouteNotFound)

	require.NoError(t, reg.Unregister(ctx, otherID))
	_, _, err = reg.Resolve("GET", "/api/v1/orders")
	assert.ErrorIs(t, err, ErrRouteNotFound)
	assert.ErrorIs(t, reg.Unregister(ctx, otherID), ErrRouteNotFound)
}

func TestRouteLoad(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()

	seeded := routeSpec("GET", "/api/users/:id")
	seeded.ID = "a9e6f3a2-9a6b-4a43-bb2a-3f2b36f0a111"
	require.NoError(t, st.CreateRoute(ctx, seeded))

	reg := NewRouteRegistry(st, zap.NewNop())
	require.NoError(t, reg.Load(ctx))

	route, params, err := reg.Resolve("GET", "/api/users/7")
	require.NoError(t, err)
	assert.Equal(t, seeded.ID, route.ID)
	assert.Equal(t, "7", params["id"])
}

func TestRouteListOrderedAndIsolated(t *testing.T) {
	ctx := context.Background()
	reg := newRouteRegistry(t)

	id, err := reg.Register(ctx, routeSpec("GET", "/api/a"))
	require.NoError(t, err)
	_, err = reg.Register(ctx, routeSpec("GET", "/api/b"))
	require.NoError(t, err)

	list := reg.List()
	require.Len(t, list, 2)
	list[0].Path = "/mutated"

	route, err := reg.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "/api/a", route.Path)
}
