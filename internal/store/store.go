package store

import (
	"context"
	"errors"
	"time"

	"github.com/CleanExpo/zenith-integration-hub/internal/models"
)

// ErrNotFound is returned for lookups of ids the store has never seen or
// has deleted.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a create collides with an existing row.
var ErrConflict = errors.New("conflict")

// DeliveryFilter narrows ListDeliveries. Zero values mean "any".
type DeliveryFilter struct {
	EventID        string
	SubscriptionID string
	State          string
	Limit          int
	Offset         int
}

// Store is the persistence boundary. The hub runs against the in-memory
// implementation by default and against postgres when configured; both
// honor the same semantics so the engine and registries never branch on
// the backend.
type Store interface {
	CreateRoute(ctx context.Context, route *models.Route) error
	GetRoute(ctx context.Context, id string) (*models.Route, error)
	UpdateRoute(ctx context.Context, route *models.Route) error
	DeleteRoute(ctx context.Context, id string) error
	ListRoutes(ctx context.Context) ([]*models.Route, error)

	CreateSubscription(ctx context.Context, sub *models.WebhookSubscription) error
	GetSubscription(ctx context.Context, id string) (*models.WebhookSubscription, error)
	UpdateSubscription(ctx context.Context, sub *models.WebhookSubscription) error
	DeleteSubscription(ctx context.Context, id string) error
	ListSubscriptions(ctx context.Context) ([]*models.WebhookSubscription, error)

	CreateEvent(ctx context.Context, event *models.Event) error
	GetEvent(ctx context.Context, id string) (*models.Event, error)

	CreateDelivery(ctx context.Context, delivery *models.Delivery) error
	GetDelivery(ctx context.Context, id string) (*models.Delivery, error)
	UpdateDelivery(ctx context.Context, delivery *models.Delivery) error
	ListDeliveries(ctx context.Context, filter DeliveryFilter) ([]*models.Delivery, error)
	CreateAttempt(ctx context.Context, attempt *models.DeliveryAttempt) error
	ListAttempts(ctx context.Context, deliveryID string) ([]*models.DeliveryAttempt, error)

	CreateDeadLetter(ctx context.Context, letter *models.DeadLetter) error
	GetDeadLetter(ctx context.Context, id string) (*models.DeadLetter, error)
	ListDeadLetters(ctx context.Context, limit, offset int) ([]*models.DeadLetter, error)
	MarkDeadLetterReplayed(ctx context.Context, id string, at time.Time) error
}
