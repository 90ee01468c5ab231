package models

import (
	"fmt"
	"strings"
	"time"
)

// EventTypeWildcard is the only glob a subscription may use; it matches
// every event type.
const EventTypeWildcard = "*"

// Event is an immutable fact published once. Its JSON form is exactly the
// envelope delivered to subscribers.
type Event struct {
	ID       string    `gorm:"type:uuid;primary_key" json:"id"`
	Type     string    `gorm:"not null;index" json:"type"`
	Source   string    `json:"source"`
	Data     JSONText  `gorm:"type:jsonb" json:"data"`
	Metadata StringMap `gorm:"type:jsonb" json:"metadata,omitempty"`
	Version  string    `json:"version,omitempty"`
	// OccurredAt is rendered as "timestamp" on the wire.
	OccurredAt time.Time `gorm:"not null" json:"timestamp"`
	CreatedAt  time.Time `gorm:"default:now()" json:"-"`
}

func (Event) TableName() string {
	return "events"
}

// PublishRequest is the wire form accepted by the publish endpoint and the
// queue consumer. ID and Timestamp are assigned at publish time if absent.
type PublishRequest struct {
	ID        string            `json:"id,omitempty"`
	Type      string            `json:"type"`
	Source    string            `json:"source"`
	Data      JSONText          `json:"data,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Version   string            `json:"version,omitempty"`
	Timestamp *time.Time        `json:"timestamp,omitempty"`
}

// NormalizeEventType lowercases and validates a dot-namespaced event type
// such as "invoice.created". Returns an error for anything else, including
// the wildcard, which is only legal on subscriptions.
func NormalizeEventType(name string) (string, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return "", fmt.Errorf("event type is empty")
	}
	for _, segment := range strings.Split(name, ".") {
		if segment == "" {
			return "", fmt.Errorf("event type %q has an empty segment", name)
		}
		for _, r := range segment {
			valid := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-'
			if !valid {
				return "", fmt.Errorf("event type %q contains invalid character %q", name, r)
			}
		}
	}
	return name, nil
}

// ValidateEventPattern accepts what a subscription may list: the wildcard
// or an exact event type.
func ValidateEventPattern(pattern string) error {
	if pattern == EventTypeWildcard {
		return nil
	}
	if _, err := NormalizeEventType(pattern); err != nil {
		return fmt.Errorf("invalid event pattern: %w", err)
	}
	return nil
}
