package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/CleanExpo/zenith-integration-hub/internal/models"
)

// Postgres is the gorm-backed Store.
type Postgres struct {
	db *gorm.DB
}

func NewPostgres(db *gorm.DB) *Postgres {
	return &Postgres{db: db}
}

var _ Store = (*Postgres)(nil)

func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) || strings.Contains(err.Error(), "duplicate key") {
		return ErrConflict
	}
	return err
}

func (p *Postgres) CreateRoute(ctx context.Context, route *models.Route) error {
	return translate(p.db.WithContext(ctx).Create(route).Error)
}

func (p *Postgres) GetRoute(ctx context.Context, id string) (*models.Route, error) {
	var route models.Route
	err := p.db.WithContext(ctx).First(&route, "id = ?", id).Error
	if err != nil {
		return nil, translate(err)
	}
	return &route, nil
}

func (p *Postgres) UpdateRoute(ctx context.Context, route *models.Route) error {
	result := p.db.WithContext(ctx).Model(&models.Route{}).
		Where("id = ?", route.ID).
		Select("*").Omit("id", "created_at").
		Updates(route)
	if result.Error != nil {
		return translate(result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) DeleteRoute(ctx context.Context, id string) error {
	result := p.db.WithContext(ctx).Delete(&models.Route{}, "id = ?", id)
	if result.Error != nil {
		return translate(result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) ListRoutes(ctx context.Context) ([]*models.Route, error) {
	var routes []*models.Route
	err := p.db.WithContext(ctx).Order("created_at asc, id asc").Find(&routes).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list routes: %w", err)
	}
	return routes, nil
}

func (p *Postgres) CreateSubscription(ctx context.Context, sub *models.WebhookSubscription) error {
	return translate(p.db.WithContext(ctx).Create(sub).Error)
}

func (p *Postgres) GetSubscription(ctx context.Context, id string) (*models.WebhookSubscription, error) {
	var sub models.WebhookSubscription
	err := p.db.WithContext(ctx).First(&sub, "id = ?", id).Error
	if err != nil {
		return nil, translate(err)
	}
	return &sub, nil
}

func (p *Postgres) UpdateSubscription(ctx context.Context, sub *models.WebhookSubscription) error {
	result := p.db.WithContext(ctx).Model(&models.WebhookSubscription{}).
		Where("id = ?", sub.ID).
		Select("*").Omit("id", "created_at", "deleted_at").
		Updates(sub)
	if result.Error != nil {
		return translate(result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) DeleteSubscription(ctx context.Context, id string) error {
	result := p.db.WithContext(ctx).Delete(&models.WebhookSubscription{}, "id = ?", id)
	if result.Error != nil {
		return translate(result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) ListSubscriptions(ctx context.Context) ([]*models.WebhookSubscription, error) {
	var subs []*models.WebhookSubscription
	err := p.db.WithContext(ctx).Order("created_at asc, id asc").Find(&subs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	return subs, nil
}

func (p *Postgres) CreateEvent(ctx context.Context, event *models.Event) error {
	return translate(p.db.WithContext(ctx).Create(event).Error)
}

func (p *Postgres) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	var event models.Event
	err := p.db.WithContext(ctx).First(&event, "id = ?", id).Error
	if err != nil {
		return nil, translate(err)
	}
	return &event, nil
}

func (p *Postgres) CreateDelivery(ctx context.Context, delivery *models.Delivery) error {
	return translate(p.db.WithContext(ctx).Create(delivery).Error)
}

func (p *Postgres) GetDelivery(ctx context.Context, id string) (*models.Delivery, error) {
	var delivery models.Delivery
	err := p.db.WithContext(ctx).First(&delivery, "id = ?", id).Error
	if err != nil {
		return nil, translate(err)
	}
	return &delivery, nil
}

func (p *Postgres) UpdateDelivery(ctx context.Context, delivery *models.Delivery) error {
	result := p.db.WithContext(ctx).Model(&models.Delivery{}).
		Where("id = ?", delivery.ID).
		Select("*").Omit("id", "created_at").
		Updates(delivery)
	if result.Error != nil {
		return translate(result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) ListDeliveries(ctx context.Context, filter DeliveryFilter) ([]*models.Delivery, error) {
	query := p.db.WithContext(ctx).Model(&models.Delivery{})
	if filter.EventID != "" {
		query = query.Where("event_id = ?", filter.EventID)
	}
	if filter.SubscriptionID != "" {
		query = query.Where("subscription_id = ?", filter.SubscriptionID)
	}
	if filter.State != "" {
		query = query.Where("state = ?", filter.State)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}
	var deliveries []*models.Delivery
	err := query.Order("created_at asc, id asc").Find(&deliveries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list deliveries: %w", err)
	}
	return deliveries, nil
}

func (p *Postgres) CreateAttempt(ctx context.Context, attempt *models.DeliveryAttempt) error {
	return translate(p.db.WithContext(ctx).Create(attempt).Error)
}

func (p *Postgres) ListAttempts(ctx context.Context, deliveryID string) ([]*models.DeliveryAttempt, error) {
	var attempts []*models.DeliveryAttempt
	err := p.db.WithContext(ctx).
		Where("delivery_id = ?", deliveryID).
		Order("attempt_no asc").
		Find(&attempts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list attempts: %w", err)
	}
	return attempts, nil
}

func (p *Postgres) CreateDeadLetter(ctx context.Context, letter *models.DeadLetter) error {
	return translate(p.db.WithContext(ctx).Create(letter).Error)
}

func (p *Postgres) GetDeadLetter(ctx context.Context, id string) (*models.DeadLetter, error) {
	var letter models.DeadLetter
	err := p.db.WithContext(ctx).First(&letter, "id = ?", id).Error
	if err != nil {
		return nil, translate(err)
	}
	return &letter, nil
}

func (p *Postgres) ListDeadLetters(ctx context.Context, limit, offset int) ([]*models.DeadLetter, error) {
	query := p.db.WithContext(ctx).Model(&models.DeadLetter{}).Order("failed_at desc, id asc")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	var letters []*models.DeadLetter
	err := query.Find(&letters).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letters: %w", err)
	}
	return letters, nil
}

func (p *Postgres) MarkDeadLetterReplayed(ctx context.Context, id string, at time.Time) error {
	result := p.db.WithContext(ctx).Model(&models.DeadLetter{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"replayed_at": at})
	if result.Error != nil {
		return translate(result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
