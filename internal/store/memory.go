package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/CleanExpo/zenith-integration-hub/internal/models"
)

// Memory is the in-process Store. One RWMutex guards the maps; it is held
// only around map access, never across I/O, so delivery state swaps stay
// cheap under fan-out.
type Memory struct {
	mu            sync.RWMutex
	routes        map[string]models.Route
	subscriptions map[string]models.WebhookSubscription
	events        map[string]models.Event
	deliveries    map[string]models.Delivery
	attempts      map[string][]models.DeliveryAttempt
	deadLetters   map[string]models.DeadLetter
	attemptSeq    int64
}

func NewMemory() *Memory {
	return &Memory{
		routes:        make(map[string]models.Route),
		subscriptions: make(map[string]models.WebhookSubscription),
		events:        make(map[string]models.Event),
		deliveries:    make(map[string]models.Delivery),
		attempts:      make(map[string][]models.DeliveryAttempt),
		deadLetters:   make(map[string]models.DeadLetter),
	}
}

var _ Store = (*Memory)(nil)

func (m *Memory) CreateRoute(_ context.Context, route *models.Route) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.routes[route.ID]; ok {
		return ErrConflict
	}
	for _, existing := range m.routes {
		if existing.Method == route.Method && existing.Path == route.Path {
			return ErrConflict
		}
	}
	m.routes[route.ID] = *route
	return nil
}

func (m *Memory) GetRoute(_ context.Context, id string) (*models.Route, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	route, ok := m.routes[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &route, nil
}

func (m *Memory) UpdateRoute(_ context.Context, route *models.Route) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.routes[route.ID]; !ok {
		return ErrNotFound
	}
	m.routes[route.ID] = *route
	return nil
}

func (m *Memory) DeleteRoute(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.routes[id]; !ok {
		return ErrNotFound
	}
	delete(m.routes, id)
	return nil
}

func (m *Memory) ListRoutes(_ context.Context) ([]*models.Route, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Route, 0, len(m.routes))
	for id := range m.routes {
		route := m.routes[id]
		out = append(out, &route)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *Memory) CreateSubscription(_ context.Context, sub *models.WebhookSubscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subscriptions[sub.ID]; ok {
		return ErrConflict
	}
	m.subscriptions[sub.ID] = *sub
	return nil
}

func (m *Memory) GetSubscription(_ context.Context, id string) (*models.WebhookSubscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sub, ok := m.subscriptions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &sub, nil
}

func (m *Memory) UpdateSubscription(_ context.Context, sub *models.WebhookSubscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subscriptions[sub.ID]; !ok {
		return ErrNotFound
	}
	m.subscriptions[sub.ID] = *sub
	return nil
}

func (m *Memory) DeleteSubscription(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subscriptions[id]; !ok {
		return ErrNotFound
	}
	delete(m.subscriptions, id)
	return nil
}

func (m *Memory) ListSubscriptions(_ context.Context) ([]*models.WebhookSubscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.WebhookSubscription, 0, len(m.subscriptions))
	for id := range m.subscriptions {
		sub := m.subscriptions[id]
		out = append(out, &sub)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *Memory) CreateEvent(_ context.Context, event *models.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.events[event.ID]; ok {
		return ErrConflict
	}
	m.events[event.ID] = *event
	return nil
}

func (m *Memory) GetEvent(_ context.Context, id string) (*models.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	event, ok := m.events[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &event, nil
}

func (m *Memory) CreateDelivery(_ context.Context, delivery *models.Delivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.deliveries[delivery.ID]; ok {
		return ErrConflict
	}
	m.deliveries[delivery.ID] = *delivery
	return nil
}

func (m *Memory) GetDelivery(_ context.Context, id string) (*models.Delivery, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	delivery, ok := m.deliveries[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &delivery, nil
}

func (m *Memory) UpdateDelivery(_ context.Context, delivery *models.Delivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.deliveries[delivery.ID]; !ok {
		return ErrNotFound
	}
	m.deliveries[delivery.ID] = *delivery
	return nil
}

func (m *Memory) ListDeliveries(_ context.Context, filter DeliveryFilter) ([]*models.Delivery, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Delivery
	for id := range m.deliveries {
		delivery := m.deliveries[id]
		if filter.EventID != "" && delivery.EventID != filter.EventID {
			continue
		}
		if filter.SubscriptionID != "" && delivery.SubscriptionID != filter.SubscriptionID {
			continue
		}
		if filter.State != "" && delivery.State != filter.State {
			continue
		}
		out = append(out, &delivery)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return paginate(out, filter.Limit, filter.Offset), nil
}

func (m *Memory) CreateAttempt(_ context.Context, attempt *models.DeliveryAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attemptSeq++
	attempt.ID = m.attemptSeq
	m.attempts[attempt.DeliveryID] = append(m.attempts[attempt.DeliveryID], *attempt)
	return nil
}

func (m *Memory) ListAttempts(_ context.Context, deliveryID string) ([]*models.DeliveryAttempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stored := m.attempts[deliveryID]
	out := make([]*models.DeliveryAttempt, 0, len(stored))
	for i := range stored {
		attempt := stored[i]
		out = append(out, &attempt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AttemptNo < out[j].AttemptNo })
	return out, nil
}

func (m *Memory) CreateDeadLetter(_ context.Context, letter *models.DeadLetter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.deadLetters[letter.ID]; ok {
		return ErrConflict
	}
	m.deadLetters[letter.ID] = *letter
	return nil
}

func (m *Memory) GetDeadLetter(_ context.Context, id string) (*models.DeadLetter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	letter, ok := m.deadLetters[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &letter, nil
}

func (m *Memory) ListDeadLetters(_ context.Context, limit, offset int) ([]*models.DeadLetter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.DeadLetter, 0, len(m.deadLetters))
	for id := range m.deadLetters {
		letter := m.deadLetters[id]
		out = append(out, &letter)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FailedAt.Equal(out[j].FailedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].FailedAt.After(out[j].FailedAt)
	})
	return paginate(out, limit, offset), nil
}

func (m *Memory) MarkDeadLetterReplayed(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	letter, ok := m.deadLetters[id]
	if !ok {
		return ErrNotFound
	}
	letter.ReplayedAt = &at
	m.deadLetters[id] = letter
	return nil
}

func paginate[T any](items []*T, limit, offset int) []*T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
