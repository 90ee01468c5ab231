package webhook

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/CleanExpo/zenith-integration-hub/internal/models"
	"github.com/CleanExpo/zenith-integration-hub/internal/store"
)

// ErrSubscriptionNotFound is returned for unknown subscription ids.
var ErrSubscriptionNotFound = errors.New("subscription not found")

// Registry holds webhook subscriptions. Reads during event fan-out come
// from an in-memory index; mutations write through to the store and then
// refresh the index under the write lock.
type Registry struct {
	store  store.Store
	logger *zap.Logger

	mu   sync.RWMutex
	subs map[string]*models.WebhookSubscription
}

func NewRegistry(st store.Store, logger *zap.Logger) *Registry {
	return &Registry{
		store:  st,
		logger: logger,
		subs:   make(map[string]*models.WebhookSubscription),
	}
}

// Load fills the index from the store. Called once at startup.
func (r *Registry) Load(ctx context.Context) error {
	subs, err := r.store.ListSubscriptions(ctx)
	if err != nil {
		return fmt.Errorf("failed to load subscriptions: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs = make(map[string]*models.WebhookSubscription, len(subs))
	for _, sub := range subs {
		r.subs[sub.ID] = sub
	}
	r.logger.Info("Webhook subscriptions loaded", zap.Int("count", len(subs)))
	return nil
}

// Register validates and stores a new subscription, returning its id.
func (r *Registry) Register(ctx context.Context, sub *models.WebhookSubscription) (string, error) {
	if err := sub.Validate(); err != nil {
		return "", err
	}
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	sub.CreatedAt = now
	sub.UpdatedAt = now

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.store.CreateSubscription(ctx, sub); err != nil {
		return "", fmt.Errorf("failed to store subscription: %w", err)
	}
	stored := *sub
	r.subs[sub.ID] = &stored

	r.logger.Info("Webhook subscription registered",
		zap.String("subscription_id", sub.ID),
		zap.String("url", sub.URL),
		zap.Strings("event_types", sub.EventTypes),
	)
	return sub.ID, nil
}

// Update replaces a subscription's definition, keeping its id and creation
// time. In-flight deliveries keep the target snapshot they were created
// with; the new definition applies to later events.
func (r *Registry) Update(ctx context.Context, id string, sub *models.WebhookSubscription) error {
	if err := sub.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.subs[id]
	if !ok {
		return ErrSubscriptionNotFound
	}

	sub.ID = id
	sub.CreatedAt = existing.CreatedAt
	sub.UpdatedAt = time.Now().UTC()
	if err := r.store.UpdateSubscription(ctx, sub); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrSubscriptionNotFound
		}
		return fmt.Errorf("failed to update subscription: %w", err)
	}
	stored := *sub
	r.subs[id] = &stored

	r.logger.Info("Webhook subscription updated", zap.String("subscription_id", id))
	return nil
}

// Remove deletes a subscription. Deliveries already created for prior
// events run to completion or exhaustion on their snapshots; no new
// deliveries will match.
func (r *Registry) Remove(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subs[id]; !ok {
		return ErrSubscriptionNotFound
	}
	if err := r.store.DeleteSubscription(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrSubscriptionNotFound
		}
		return fmt.Errorf("failed to delete subscription: %w", err)
	}
	delete(r.subs, id)

	r.logger.Info("Webhook subscription removed", zap.String("subscription_id", id))
	return nil
}

// Get returns one subscription by id.
func (r *Registry) Get(id string) (*models.WebhookSubscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sub, ok := r.subs[id]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	cp := *sub
	return &cp, nil
}

// List returns all subscriptions ordered by creation time.
func (r *Registry) List() []*models.WebhookSubscription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*models.WebhookSubscription, 0, len(r.subs))
	for _, sub := range r.subs {
		cp := *sub
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// FindMatching returns the enabled subscriptions whose patterns match the
// event type, in stable creation order.
func (r *Registry) FindMatching(eventType string) []*models.WebhookSubscription {
	var matched []*models.WebhookSubscription
	for _, sub := range r.List() {
		if sub.Matches(eventType) {
			matched = append(matched, sub)
		}
	}
	return matched
}
