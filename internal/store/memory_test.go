package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CleanExpo/zenith-integration-hub/internal/models"
)

func TestMemoryRouteCRUD(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	route := &models.Route{ID: uuid.NewString(), Method: "GET", Path: "/api/crm/contacts", IntegrationID: "salesforce"}
	require.NoError(t, s.CreateRoute(ctx, route))

	assert.ErrorIs(t, s.CreateRoute(ctx, route), ErrConflict)
	dupe := &models.Route{ID: uuid.NewString(), Method: "GET", Path: "/api/crm/contacts", IntegrationID: "other"}
	assert.ErrorIs(t, s.CreateRoute(ctx, dupe), ErrConflict)

	got, err := s.GetRoute(ctx, route.ID)
	require.NoError(t, err)
	assert.Equal(t, "salesforce", got.IntegrationID)

	got.IntegrationID = "hubspot"
	require.NoError(t, s.UpdateRoute(ctx, got))
	again, err := s.GetRoute(ctx, route.ID)
	require.NoError(t, err)
	assert.Equal(t, "hubspot", again.IntegrationID)

	require.NoError(t, s.DeleteRoute(ctx, route.ID))
	_, err = s.GetRoute(ctx, route.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.DeleteRoute(ctx, route.ID), ErrNotFound)
}

func TestMemoryStoredCopiesAreIsolated(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	route := &models.Route{ID: uuid.NewString(), Method: "GET", Path: "/a", IntegrationID: "x"}
	require.NoError(t, s.CreateRoute(ctx, route))

	// mutating the caller's struct after the fact must not leak into the store
	route.IntegrationID = "mutated"
	got, err := s.GetRoute(ctx, route.ID)
	require.NoError(t, err)
	assert.Equal(t, "x", got.IntegrationID)
}

func TestMemoryDeliveryFilter(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	now := time.Now()

	eventID := uuid.NewString()
	d1 := &models.Delivery{ID: uuid.NewString(), EventID: eventID, SubscriptionID: "sub-a",
		State: models.DeliveryStatePending, NextAttemptAt: now.Add(-time.Second), CreatedAt: now}
	d2 := &models.Delivery{ID: uuid.NewString(), EventID: eventID, SubscriptionID: "sub-b",
		State: models.DeliveryStateSucceeded, NextAttemptAt: now.Add(-time.Second), CreatedAt: now.Add(time.Millisecond)}
	d3 := &models.Delivery{ID: uuid.NewString(), EventID: uuid.NewString(), SubscriptionID: "sub-a",
		State: models.DeliveryStatePending, NextAttemptAt: now.Add(time.Hour), CreatedAt: now.Add(2 * time.Millisecond)}
	for _, d := range []*models.Delivery{d1, d2, d3} {
		require.NoError(t, s.CreateDelivery(ctx, d))
	}

	byEvent, err := s.ListDeliveries(ctx, DeliveryFilter{EventID: eventID})
	require.NoError(t, err)
	assert.Len(t, byEvent, 2)

	pending, err := s.ListDeliveries(ctx, DeliveryFilter{State: models.DeliveryStatePending})
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, d1.ID, pending[0].ID)

	bySub, err := s.ListDeliveries(ctx, DeliveryFilter{SubscriptionID: "sub-a", State: models.DeliveryStatePending})
	require.NoError(t, err)
	assert.Len(t, bySub, 2)

	page, err := s.ListDeliveries(ctx, DeliveryFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, page, 2)
}

func TestMemoryAttemptsOrderedBySequence(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	deliveryID := uuid.NewString()

	for _, no := range []int{2, 1, 3} {
		require.NoError(t, s.CreateAttempt(ctx, &models.DeliveryAttempt{DeliveryID: deliveryID, AttemptNo: no}))
	}

	attempts, err := s.ListAttempts(ctx, deliveryID)
	require.NoError(t, err)
	require.Len(t, attempts, 3)
	assert.Equal(t, 1, attempts[0].AttemptNo)
	assert.Equal(t, 3, attempts[2].AttemptNo)
	assert.NotZero(t, attempts[0].ID)
}

func TestMemoryDeadLetterReplayStamp(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	letter := &models.DeadLetter{ID: uuid.NewString(), DeliveryID: uuid.NewString(),
		EventID: uuid.NewString(), SubscriptionID: uuid.NewString(), FailedAt: time.Now()}
	require.NoError(t, s.CreateDeadLetter(ctx, letter))

	at := time.Now().Add(time.Minute)
	require.NoError(t, s.MarkDeadLetterReplayed(ctx, letter.ID, at))

	got, err := s.GetDeadLetter(ctx, letter.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ReplayedAt)
	assert.WithinDuration(t, at, *got.ReplayedAt, time.Millisecond)

	assert.ErrorIs(t, s.MarkDeadLetterReplayed(ctx, "missing", at), ErrNotFound)
}

func TestMemoryListDeadLettersNewestFirst(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	base := time.Now()

	old := &models.DeadLetter{ID: uuid.NewString(), DeliveryID: "d1", EventID: "e1", SubscriptionID: "s1", FailedAt: base}
	newer := &models.DeadLetter{ID: uuid.NewString(), DeliveryID: "d2", EventID: "e2", SubscriptionID: "s2", FailedAt: base.Add(time.Minute)}
	require.NoError(t, s.CreateDeadLetter(ctx, old))
	require.NoError(t, s.CreateDeadLetter(ctx, newer))

	letters, err := s.ListDeadLetters(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, letters, 2)
	assert.Equal(t, newer.ID, letters[0].ID)

	limited, err := s.ListDeadLetters(ctx, 1, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, old.ID, limited[0].ID)
}
