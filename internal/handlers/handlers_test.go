package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/CleanExpo/zenith-integration-hub/internal/gateway"
	"github.com/CleanExpo/zenith-integration-hub/internal/metrics"
	"github.com/CleanExpo/zenith-integration-hub/internal/models"
	"github.com/CleanExpo/zenith-integration-hub/internal/ratelimit"
	"github.com/CleanExpo/zenith-integration-hub/internal/scheduler"
	"github.com/CleanExpo/zenith-integration-hub/internal/store"
	"github.com/CleanExpo/zenith-integration-hub/internal/webhook"
)

type stubChecker struct {
	services map[string]string
}

func (s stubChecker) DependencyHealth(context.Context) map[string]string {
	return s.services
}

// hub is the wired slice of the service a handler test needs. The
// scheduler is deliberately never started, so scheduled delivery attempts
// stay queued and tests observe deliveries in their pending state.
type hub struct {
	app      *fiber.App
	store    store.Store
	routes   *gateway.RouteRegistry
	subs     *webhook.Registry
	engine   *webhook.Engine
	adapters *gateway.AdapterRegistry
}

func newHub(t *testing.T, adminKey string, services map[string]string) *hub {
	t.Helper()
	logger := zap.NewNop()
	st := store.NewMemory()
	agg := metrics.NewAggregator(time.Minute, logger)
	watcher := metrics.NewWatcher(agg, func(string) (models.AlertThresholds, bool) {
		return models.AlertThresholds{}, false
	}, logger)

	routesReg := gateway.NewRouteRegistry(st, logger)
	adapters := gateway.NewAdapterRegistry()
	limiter := ratelimit.New(ratelimit.NewMemoryCounter(), logger)
	cache := gateway.NewResponseCache(gateway.NewMemoryCache(), logger)
	dispatcher := gateway.NewDispatcher(routesReg, limiter, nil, adapters, cache, agg, time.Second, logger)

	subsReg := webhook.NewRegistry(st, logger)
	sched := scheduler.New(logger)
	deliverer := webhook.NewDeliverer(1<<20, logger)
	engine := webhook.NewEngine(st, subsReg, sched, deliverer, agg, webhook.EngineConfig{
		DefaultMaxRetries: 3,
		DefaultTimeout:    time.Second,
		MaxConcurrent:     4,
	}, logger)

	app := fiber.New()

	health := NewHealthHandler(stubChecker{services: services}, watcher)
	app.Get("/health", health.HealthCheck)

	routesHandler := NewRoutesHandler(routesReg, logger)
	webhooksHandler := NewWebhooksHandler(subsReg, logger)
	eventsHandler := NewEventsHandler(engine, st, logger)
	deliveriesHandler := NewDeliveriesHandler(st, logger)
	deadLettersHandler := NewDeadLettersHandler(st, engine, logger)
	metricsHandler := NewMetricsHandler(agg, watcher)

	api := app.Group("/api/v1", AdminAuth(adminKey))
	api.Post("/routes", routesHandler.Create)
	api.Get("/routes", routesHandler.List)
	api.Get("/routes/:id", routesHandler.Get)
	api.Put("/routes/:id", routesHandler.Update)
	api.Delete("/routes/:id", routesHandler.Delete)
	api.Post("/webhooks", webhooksHandler.Create)
	api.Get("/webhooks", webhooksHandler.List)
	api.Get("/webhooks/:id", webhooksHandler.Get)
	api.Put("/webhooks/:id", webhooksHandler.Update)
	api.Delete("/webhooks/:id", webhooksHandler.Delete)
	api.Post("/events", eventsHandler.Publish)
	api.Get("/events/:id", eventsHandler.Get)
	api.Get("/deliveries", deliveriesHandler.List)
	api.Get("/deliveries/:id", deliveriesHandler.Get)
	api.Get("/deliveries/:id/attempts", deliveriesHandler.Attempts)
	api.Get("/dead-letters", deadLettersHandler.List)
	api.Post("/dead-letters/:id/replay", deadLettersHandler.Replay)
	api.Get("/metrics", metricsHandler.List)
	api.Get("/metrics/:id", metricsHandler.Get)
	api.Get("/alerts", metricsHandler.Alerts)

	gatewayHandler := NewGatewayHandler(dispatcher, logger)
	app.All("/*", gatewayHandler.Proxy)

	return &hub{
		app:      app,
		store:    st,
		routes:   routesReg,
		subs:     subsReg,
		engine:   engine,
		adapters: adapters,
	}
}

func (h *hub) request(t *testing.T, method, path string, body interface{}, headers map[string]string) (*http.Response, map[string]interface{}) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	for name, value := range headers {
		req.Header.Set(name, value)
	}

	resp, err := h.app.Test(req, -1)
	require.NoError(t, err)

	decoded := map[string]interface{}{}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()
	if len(raw) > 0 && resp.Header.Get(fiber.HeaderContentType) != "" {
		_ = json.Unmarshal(raw, &decoded)
	}
	return resp, decoded
}

func TestAdminAuthGuardsManagementAPI(t *testing.T) {
	h := newHub(t, "super-secret", nil)

	resp, body := h.request(t, http.MethodGet, "/api/v1/routes", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "invalid management key", body["error"])

	resp, _ = h.request(t, http.MethodGet, "/api/v1/routes", nil, map[string]string{"X-Admin-Key": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = h.request(t, http.MethodGet, "/api/v1/routes", nil, map[string]string{"X-Admin-Key": "super-secret"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAdminAuthDisabledWithoutKey(t *testing.T) {
	h := newHub(t, "", nil)

	resp, _ := h.request(t, http.MethodGet, "/api/v1/routes", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRouteLifecycleOverHTTP(t *testing.T) {
	h := newHub(t, "", nil)

	resp, body := h.request(t, http.MethodPost, "/api/v1/routes", fiber.Map{
		"method":         "get",
		"path":           "/crm/accounts/:id",
		"integration_id": "salesforce",
	}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id, _ := body["id"].(string)
	require.NotEmpty(t, id)

	resp, body = h.request(t, http.MethodGet, "/api/v1/routes/"+id, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "GET", body["method"])
	assert.Equal(t, "salesforce", body["integration_id"])

	resp, _ = h.request(t, http.MethodPost, "/api/v1/routes", fiber.Map{
		"method":         "GET",
		"path":           "/crm/accounts/:id",
		"integration_id": "other",
	}, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body = h.request(t, http.MethodPut, "/api/v1/routes/"+id, fiber.Map{
		"method":         "GET",
		"path":           "/crm/accounts/:id",
		"integration_id": "salesforce-v2",
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "salesforce-v2", body["integration_id"])

	resp, body = h.request(t, http.MethodGet, "/api/v1/routes", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	routes, _ := body["routes"].([]interface{})
	assert.Len(t, routes, 1)

	resp, _ = h.request(t, http.MethodDelete, "/api/v1/routes/"+id, nil, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = h.request(t, http.MethodGet, "/api/v1/routes/"+id, nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRouteValidationOverHTTP(t *testing.T) {
	h := newHub(t, "", nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/routes", bytes.NewReader([]byte("not json")))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp, err := h.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp2, _ := h.request(t, http.MethodPost, "/api/v1/routes", fiber.Map{
		"method":         "FETCH",
		"path":           "/x",
		"integration_id": "salesforce",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, resp2.StatusCode)

	resp2, _ = h.request(t, http.MethodPost, "/api/v1/routes", fiber.Map{
		"method": "GET",
		"path":   "/x",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, resp2.StatusCode)
}

func TestWebhookSecretWriteOnly(t *testing.T) {
	h := newHub(t, "", nil)

	resp, body := h.request(t, http.MethodPost, "/api/v1/webhooks", fiber.Map{
		"url":         "https://example.com/hooks/orders",
		"event_types": []string{"order.created"},
		"secret":      "whsec_topsecret",
	}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id, _ := body["id"].(string)
	require.NotEmpty(t, id)

	resp, body = h.request(t, http.MethodGet, "/api/v1/webhooks/"+id, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_, present := body["secret"]
	assert.False(t, present, "secret must not appear in responses")

	resp, body = h.request(t, http.MethodGet, "/api/v1/webhooks", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	subs, _ := body["subscriptions"].([]interface{})
	require.Len(t, subs, 1)
	first, _ := subs[0].(map[string]interface{})
	_, present = first["secret"]
	assert.False(t, present)

	// The engine still sees the secret: deliveries must sign payloads.
	stored, err := h.subs.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "whsec_topsecret", stored.Secret)
}

func TestEventPublishOverHTTP(t *testing.T) {
	h := newHub(t, "", nil)

	_, err := h.subs.Register(context.Background(), &models.WebhookSubscription{
		URL:        "https://example.com/hooks/orders",
		EventTypes: models.StringList{"order.created"},
		Secret:     "whsec_abc",
	})
	require.NoError(t, err)

	resp, body := h.request(t, http.MethodPost, "/api/v1/events", fiber.Map{
		"type": "Order.Created",
		"data": fiber.Map{"order_id": "ord_1"},
	}, nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	eventID, _ := body["id"].(string)
	require.NotEmpty(t, eventID)
	assert.Equal(t, float64(1), body["matched"])

	resp, body = h.request(t, http.MethodGet, "/api/v1/events/"+eventID, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "order.created", body["type"])

	resp, _ = h.request(t, http.MethodPost, "/api/v1/events", fiber.Map{
		"id":   eventID,
		"type": "order.created",
	}, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = h.request(t, http.MethodPost, "/api/v1/events", fiber.Map{
		"type": "order created",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = h.request(t, http.MethodGet, "/api/v1/events/"+uuid.NewString(), nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDeliveriesOverHTTP(t *testing.T) {
	h := newHub(t, "", nil)

	_, err := h.subs.Register(context.Background(), &models.WebhookSubscription{
		URL:        "https://example.com/hooks/orders",
		EventTypes: models.StringList{"order.created"},
		Secret:     "whsec_abc",
	})
	require.NoError(t, err)

	resp, body := h.request(t, http.MethodPost, "/api/v1/events", fiber.Map{"type": "order.created"}, nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	eventID, _ := body["id"].(string)

	resp, _ = h.request(t, http.MethodGet, "/api/v1/deliveries?state=bogus", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = h.request(t, http.MethodGet, "/api/v1/deliveries?limit=0", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = h.request(t, http.MethodGet, "/api/v1/deliveries?offset=-1", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = h.request(t, http.MethodGet, "/api/v1/deliveries?event_id="+eventID+"&state=pending", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	deliveries, _ := body["deliveries"].([]interface{})
	require.Len(t, deliveries, 1)
	assert.Equal(t, false, body["has_more"])

	first, _ := deliveries[0].(map[string]interface{})
	deliveryID, _ := first["id"].(string)
	require.NotEmpty(t, deliveryID)
	target, _ := first["target"].(map[string]interface{})
	_, present := target["secret"]
	assert.False(t, present, "delivery target secret must not appear in responses")

	resp, body = h.request(t, http.MethodGet, "/api/v1/deliveries/"+deliveryID, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "pending", body["state"])

	resp, body = h.request(t, http.MethodGet, "/api/v1/deliveries/"+deliveryID+"/attempts", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, deliveryID, body["delivery_id"])

	resp, _ = h.request(t, http.MethodGet, "/api/v1/deliveries/"+uuid.NewString(), nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = h.request(t, http.MethodGet, "/api/v1/deliveries/"+uuid.NewString()+"/attempts", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDeadLetterReplayOverHTTP(t *testing.T) {
	h := newHub(t, "", nil)
	ctx := context.Background()
	now := time.Now().UTC()

	delivery := &models.Delivery{
		ID:             uuid.NewString(),
		EventID:        uuid.NewString(),
		SubscriptionID: uuid.NewString(),
		EventType:      "order.created",
		State:          models.DeliveryStateDead,
		AttemptCount:   3,
		MaxRetries:     3,
		Target: models.DeliveryTarget{
			URL:         "https://example.com/hooks/orders",
			RetryPolicy: models.RetryPolicy{MaxRetries: 3, Backoff: models.BackoffExponential, InitialDelayMs: 100, MaxDelayMs: 1000},
		},
		NextAttemptAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(t, h.store.CreateDelivery(ctx, delivery))

	letter := &models.DeadLetter{
		ID:             uuid.NewString(),
		DeliveryID:     delivery.ID,
		EventID:        delivery.EventID,
		SubscriptionID: delivery.SubscriptionID,
		EventType:      delivery.EventType,
		URL:            delivery.Target.URL,
		Attempts:       3,
		LastError:      "connection refused",
		FailedAt:       now,
	}
	require.NoError(t, h.store.CreateDeadLetter(ctx, letter))

	resp, body := h.request(t, http.MethodGet, "/api/v1/dead-letters", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	letters, _ := body["dead_letters"].([]interface{})
	assert.Len(t, letters, 1)
	assert.Equal(t, false, body["has_more"])

	resp, body = h.request(t, http.MethodPost, "/api/v1/dead-letters/"+letter.ID+"/replay", nil, nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	replayed, _ := body["delivery_id"].(string)
	require.NotEmpty(t, replayed)
	assert.NotEqual(t, delivery.ID, replayed)

	resp, _ = h.request(t, http.MethodPost, "/api/v1/dead-letters/"+letter.ID+"/replay", nil, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = h.request(t, http.MethodPost, "/api/v1/dead-letters/"+uuid.NewString()+"/replay", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthEndpoint(t *testing.T) {
	t.Run("healthy dependencies", func(t *testing.T) {
		h := newHub(t, "", map[string]string{"database": "healthy", "redis": "healthy"})

		resp, body := h.request(t, http.MethodGet, "/health", nil, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "healthy", body["status"])
		assert.NotEmpty(t, body["timestamp"])

		services, _ := body["services"].(map[string]interface{})
		assert.Equal(t, "healthy", services["database"])
	})

	t.Run("broken dependency", func(t *testing.T) {
		h := newHub(t, "", map[string]string{
			"database": "healthy",
			"rabbitmq": "unhealthy: connection closed",
		})

		resp, body := h.request(t, http.MethodGet, "/health", nil, nil)
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
		assert.Equal(t, "unhealthy", body["status"])
	})
}

func TestMetricsEndpointsOverHTTP(t *testing.T) {
	h := newHub(t, "", nil)

	resp, body := h.request(t, http.MethodGet, "/api/v1/metrics/route:nope", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "route:nope", body["id"])

	resp, body = h.request(t, http.MethodGet, "/api/v1/alerts", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", body["level"])
	alerts, ok := body["alerts"].([]interface{})
	require.True(t, ok, "alerts must be a JSON array even when empty")
	assert.Empty(t, alerts)
}

func TestGatewayCatchAllMapsErrors(t *testing.T) {
	h := newHub(t, "", nil)
	ctx := context.Background()

	resp, body := h.request(t, http.MethodGet, "/no/such/route", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	errBody, _ := body["error"].(map[string]interface{})
	require.NotNil(t, errBody)
	assert.Equal(t, "route_not_found", errBody["kind"])
	assert.NotEmpty(t, errBody["message"])

	_, err := h.routes.Register(ctx, &models.Route{
		Method:        "GET",
		Path:          "/locked",
		IntegrationID: "vault",
		Auth:          models.AuthPolicy{Required: true},
	})
	require.NoError(t, err)

	resp, body = h.request(t, http.MethodGet, "/locked", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	errBody, _ = body["error"].(map[string]interface{})
	require.NotNil(t, errBody)
	assert.Equal(t, "authentication_failed", errBody["kind"])

	_, err = h.routes.Register(ctx, &models.Route{
		Method:        "GET",
		Path:          "/unbound",
		IntegrationID: "ghost",
	})
	require.NoError(t, err)

	resp, body = h.request(t, http.MethodGet, "/unbound", nil, nil)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	errBody, _ = body["error"].(map[string]interface{})
	require.NotNil(t, errBody)
	assert.Equal(t, "upstream_error", errBody["kind"])
}

func TestGatewayProxiesUpstream(t *testing.T) {
	h := newHub(t, "", nil)
	ctx := context.Background()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Upstream", "crm")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"account":"acme"}`))
	}))
	defer upstream.Close()
	h.adapters.Register("salesforce", "", gateway.NewHTTPAdapter(upstream.URL, zap.NewNop()))

	_, err := h.routes.Register(ctx, &models.Route{
		Method:        "GET",
		Path:          "/crm/accounts/:id",
		IntegrationID: "salesforce",
		Cache:         models.CachePolicy{Enabled: true, TTLSeconds: 60},
	})
	require.NoError(t, err)

	resp, _ := h.request(t, http.MethodGet, "/crm/accounts/acme", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "crm", resp.Header.Get("X-Upstream"))
	assert.Empty(t, resp.Header.Get("X-Cache"))

	resp, _ = h.request(t, http.MethodGet, "/crm/accounts/acme", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "HIT", resp.Header.Get("X-Cache"))
}

func TestGatewayRateLimitResponse(t *testing.T) {
	h := newHub(t, "", nil)
	ctx := context.Background()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()
	h.adapters.Register("salesforce", "", gateway.NewHTTPAdapter(upstream.URL, zap.NewNop()))

	_, err := h.routes.Register(ctx, &models.Route{
		Method:        "GET",
		Path:          "/crm/ping",
		IntegrationID: "salesforce",
		RateLimit:     models.RateLimitPolicy{Requests: 1, WindowSeconds: 3600, Enforced: true},
	})
	require.NoError(t, err)

	resp, _ := h.request(t, http.MethodGet, "/crm/ping", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := h.request(t, http.MethodGet, "/crm/ping", nil, nil)
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(fiber.HeaderRetryAfter))

	errBody, _ := body["error"].(map[string]interface{})
	require.NotNil(t, errBody)
	assert.Equal(t, "rate_limit_exceeded", errBody["kind"])
	retryAfter, _ := errBody["retry_after_seconds"].(float64)
	assert.GreaterOrEqual(t, retryAfter, float64(1))
}
