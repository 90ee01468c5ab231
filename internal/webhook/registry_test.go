package webhook

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/CleanExpo/zenith-integration-hub/internal/models"
	"github.com/CleanExpo/zenith-integration-hub/internal/store"
)

func newTestRegistry(t *testing.T) (*Registry, store.Store) {
	t.Helper()
	st := store.NewMemory()
	return NewRegistry(st, zap.NewNop()), st
}

func testSubscription(eventTypes ...string) *models.WebhookSubscription {
	return &models.WebhookSubscription{
		URL:        "https://hooks.example.com/orders",
		EventTypes: eventTypes,
		Enabled:    true,
		Secret:     "s3cret",
	}
}

func TestRegistryRegisterAndGet(t *testing.T) {
	ctx := context.Background()
	reg, st := newTestRegistry(t)

	id, err := reg.Register(ctx, testSubscription("order.created"))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got, err := reg.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "https://hooks.example.com/orders", got.URL)
	assert.False(t, got.CreatedAt.IsZero())

	// Write-through: the store holds it too.
	stored, err := st.GetSubscription(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, got.URL, stored.URL)
}

func TestRegistryRegisterRejectsInvalid(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)

	_, err := reg.Register(ctx, &models.WebhookSubscription{URL: "not-a-url", EventTypes: []string{"a.b"}})
	assert.Error(t, err)

	_, err = reg.Register(ctx, &models.WebhookSubscription{URL: "https://ok.example.com"})
	assert.Error(t, err, "at least one event type is required")
}

func TestRegistryUpdate(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)

	id, err := reg.Register(ctx, testSubscription("order.created"))
	require.NoError(t, err)
	created, err := reg.Get(id)
	require.NoError(t, err)

	updated := testSubscription("order.created", "order.cancelled")
	updated.URL = "https://hooks.example.com/v2/orders"
	require.NoError(t, reg.Update(ctx, id, updated))

	got, err := reg.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "https://hooks.example.com/v2/orders", got.URL)
	assert.Equal(t, created.CreatedAt, got.CreatedAt, "creation time survives updates")
	assert.Len(t, got.EventTypes, 2)

	err = reg.Update(ctx, "missing", testSubscription("a.b"))
	assert.ErrorIs(t, err, ErrSubscriptionNotFound)
}

func TestRegistryRemove(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)

	id, err := reg.Register(ctx, testSubscription("order.created"))
	require.NoError(t, err)

	require.NoError(t, reg.Remove(ctx, id))
	_, err = reg.Get(id)
	assert.ErrorIs(t, err, ErrSubscriptionNotFound)
	assert.Empty(t, reg.FindMatching("order.created"))

	assert.ErrorIs(t, reg.Remove(ctx, id), ErrSubscriptionNotFound)
}

func TestRegistryFindMatching(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)

	exactID, err := reg.Register(ctx, testSubscription("order.created"))
	require.NoError(t, err)
	wildcardID, err := reg.Register(ctx, testSubscription("*"))
	require.NoError(t, err)
	_, err = reg.Register(ctx, testSubscription("invoice.paid"))
	require.NoError(t, err)

	disabled := testSubscription("order.created")
	disabled.Enabled = false
	_, err = reg.Register(ctx, disabled)
	require.NoError(t, err)

	matched := reg.FindMatching("order.created")
	require.Len(t, matched, 2, "exact and wildcard match, others do not")
	ids := []string{matched[0].ID, matched[1].ID}
	assert.Contains(t, ids, exactID)
	assert.Contains(t, ids, wildcardID)
}

func TestRegistryLoad(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()

	sub := testSubscription("order.created")
	sub.ID = "7cf1f772-2f2f-4c43-a55c-2d6af6e2f3b1"
	require.NoError(t, st.CreateSubscription(ctx, sub))

	reg := NewRegistry(st, zap.NewNop())
	require.NoError(t, reg.Load(ctx))

	got, err := reg.Get(sub.ID)
	require.NoError(t, err)
	assert.Equal(t, sub.URL, got.URL)
}

func TestRegistryListIsolation(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)

	id, err := reg.Register(ctx, testSubscription("order.created"))
	require.NoError(t, err)

	list := reg.List()
	require.Len(t, list, 1)
	list[0].URL = "https://mutated.example.com"

	got, err := reg.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "https://hooks.example.com/orders", got.URL, "returned copies do not alias the index")
}
