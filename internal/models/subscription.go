package models

import (
	"fmt"
	"net/url"
	"time"

	"gorm.io/gorm"
)

// WebhookSubscription registers an HTTP endpoint for event delivery.
// EventTypes holds exact dot-namespaced types, or the single wildcard "*"
// which matches everything. Partial globs are not supported.
type WebhookSubscription struct {
	ID         string     `gorm:"type:uuid;primary_key" json:"id"`
	URL        string     `gorm:"not null" json:"url"`
	EventTypes StringList `gorm:"type:jsonb;not null" json:"event_types"`
	Enabled    bool       `gorm:"default:true" json:"enabled"`
	Headers    StringMap  `gorm:"type:jsonb" json:"headers,omitempty"`
	Metadata   StringMap  `gorm:"type:jsonb" json:"metadata,omitempty"`
	// Secret, when set, makes every delivery carry an HMAC-SHA256 signature
	// of the payload.
	Secret      string      `json:"secret,omitempty"`
	RetryPolicy RetryPolicy `gorm:"type:jsonb" json:"retry_policy"`
	TimeoutMs   int         `json:"timeout_ms,omitempty"`
	// MaxPerSecond paces outbound deliveries to this endpoint; 0 means
	// unlimited. Pacing delays attempts, it never drops them.
	MaxPerSecond int `json:"max_per_second,omitempty"`

	CreatedAt time.Time      `gorm:"default:now()" json:"created_at"`
	UpdatedAt time.Time      `gorm:"default:now()" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

func (WebhookSubscription) TableName() string {
	return "webhook_subscriptions"
}

// Validate enforces the registration invariants: an absolute http(s) URL
// and at least one event pattern.
func (s *WebhookSubscription) Validate() error {
	u, err := url.Parse(s.URL)
	if err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("subscription url %q is not an absolute http(s) url", s.URL)
	}
	if len(s.EventTypes) == 0 {
		return fmt.Errorf("subscription needs at least one event type")
	}
	for _, pattern := range s.EventTypes {
		if err := ValidateEventPattern(pattern); err != nil {
			return err
		}
	}
	return nil
}

// Matches reports whether this subscription should receive the given event
// type. Disabled subscriptions never match.
func (s *WebhookSubscription) Matches(eventType string) bool {
	if !s.Enabled {
		return false
	}
	for _, pattern := range s.EventTypes {
		if pattern == EventTypeWildcard || pattern == eventType {
			return true
		}
	}
	return false
}
