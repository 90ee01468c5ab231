package models

import (
	"database/sql/driver"
	"time"
)

// Delivery states. A delivery is born pending, moves to delivering while an
// attempt is in flight, and terminates in succeeded or dead.
const (
	DeliveryStatePending    = "pending"
	DeliveryStateDelivering = "delivering"
	DeliveryStateSucceeded  = "succeeded"
	DeliveryStateDead       = "dead"
)

// Attempt outcomes.
const (
	AttemptOutcomeSuccess = "success"
	AttemptOutcomeFailure = "failure"
	AttemptOutcomeTimeout = "timeout"
)

// DeliveryTarget is the slice of a subscription a delivery needs at attempt
// time. It is snapshotted when the delivery is created, so editing or
// removing the subscription never disturbs state machines already running;
// changes apply to deliveries for later events only.
type DeliveryTarget struct {
	URL          string            `json:"url"`
	Secret       string            `json:"secret,omitempty"`
	Headers      map[string]string `json:"headers,omitempty"`
	TimeoutMs    int               `json:"timeout_ms,omitempty"`
	MaxPerSecond int               `json:"max_per_second,omitempty"`
	RetryPolicy  RetryPolicy       `json:"retry_policy"`
}

func (t DeliveryTarget) Value() (driver.Value, error) { return jsonbValue(t) }
func (t *DeliveryTarget) Scan(src interface{}) error  { return jsonbScan(t, src) }

// Delivery is the retry state machine for one (event, subscription) pair.
// Attempts are strictly sequential within a delivery; distinct deliveries
// proceed independently.
type Delivery struct {
	ID             string `gorm:"type:uuid;primary_key" json:"id"`
	EventID        string `gorm:"type:uuid;not null;index" json:"event_id"`
	SubscriptionID string `gorm:"type:uuid;not null;index" json:"subscription_id"`
	EventType      string `gorm:"not null" json:"event_type"`
	State          string `gorm:"not null;default:'pending';index" json:"state"`
	AttemptCount   int    `gorm:"not null;default:0" json:"attempt_count"`
	// MaxRetries is snapshotted from the subscription at creation so a
	// later policy edit cannot change an in-flight delivery's budget.
	MaxRetries     int            `gorm:"not null" json:"max_retries"`
	Target         DeliveryTarget `gorm:"type:jsonb" json:"target"`
	NextAttemptAt  time.Time      `gorm:"not null" json:"next_attempt_at"`
	LastError      *string        `json:"last_error,omitempty"`
	LastStatusCode *int           `json:"last_status_code,omitempty"`
	CreatedAt      time.Time      `gorm:"default:now()" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"default:now()" json:"updated_at"`
}

func (Delivery) TableName() string {
	return "deliveries"
}

// DeliveryAttempt records one HTTP POST try. AttemptNo is 1-based and
// contiguous within a delivery.
type DeliveryAttempt struct {
	ID              int64     `gorm:"primary_key;autoIncrement" json:"id"`
	DeliveryID      string    `gorm:"type:uuid;not null;index" json:"delivery_id"`
	AttemptNo       int       `gorm:"not null" json:"attempt_no"`
	ScheduledAt     time.Time `gorm:"not null" json:"scheduled_at"`
	StartedAt       time.Time `gorm:"not null" json:"started_at"`
	FinishedAt      time.Time `gorm:"not null" json:"finished_at"`
	Outcome         string    `gorm:"not null" json:"outcome"`
	HTTPStatus      *int      `gorm:"type:integer" json:"http_status,omitempty"`
	LatencyMs       *int      `gorm:"type:integer" json:"latency_ms,omitempty"`
	Error           *string   `json:"error,omitempty"`
	ResponseSummary *string   `json:"response_summary,omitempty"`
	CreatedAt       time.Time `gorm:"default:now()" json:"created_at"`
}

func (DeliveryAttempt) TableName() string {
	return "delivery_attempts"
}

// DeadLetter preserves an exhausted delivery for inspection and replay.
type DeadLetter struct {
	ID             string     `gorm:"type:uuid;primary_key" json:"id"`
	DeliveryID     string     `gorm:"type:uuid;not null;index" json:"delivery_id"`
	EventID        string     `gorm:"type:uuid;not null" json:"event_id"`
	SubscriptionID string     `gorm:"type:uuid;not null" json:"subscription_id"`
	EventType      string     `json:"event_type"`
	URL            string     `json:"url"`
	Attempts       int        `json:"attempts"`
	LastError      string     `json:"last_error"`
	LastStatusCode *int       `json:"last_status_code,omitempty"`
	FailedAt       time.Time  `gorm:"not null" json:"failed_at"`
	ReplayedAt     *time.Time `json:"replayed_at,omitempty"`
}

func (DeadLetter) TableName() string {
	return "dead_letters"
}

// Exhausted reports whether the delivery has used its full attempt budget.
func (d *Delivery) Exhausted() bool {
	return d.AttemptCount >= d.MaxRetries
}

// Terminal reports whether the state machine can never run another attempt.
func (d *Delivery) Terminal() bool {
	return d.State == DeliveryStateSucceeded || d.State == DeliveryStateDead
}
