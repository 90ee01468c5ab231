package models

import (
	"time"
)

// Route binds one (method, path pattern) to an integration adapter plus the
// policies the gateway applies on the way through. Path patterns use `:name`
// for single-segment parameters and a trailing `*` to swallow the rest.
type Route struct {
	ID            string `gorm:"type:uuid;primary_key" json:"id"`
	Method        string `gorm:"not null;uniqueIndex:idx_routes_method_path" json:"method"`
	Path          string `gorm:"not null;uniqueIndex:idx_routes_method_path" json:"path"`
	IntegrationID string `gorm:"not null" json:"integration_id"`
	InstanceID    string `json:"instance_id,omitempty"`
	// TimeoutMs bounds the adapter invocation; 0 falls back to the gateway
	// default.
	TimeoutMs int `json:"timeout_ms,omitempty"`

	Auth       AuthPolicy       `gorm:"type:jsonb" json:"auth"`
	RateLimit  RateLimitPolicy  `gorm:"type:jsonb" json:"rate_limit"`
	Cache      CachePolicy      `gorm:"type:jsonb" json:"cache"`
	Transform  TransformPolicy  `gorm:"type:jsonb" json:"transform"`
	Retry      RetryPolicy      `gorm:"type:jsonb" json:"retry"`
	Monitoring MonitoringPolicy `gorm:"type:jsonb" json:"monitoring"`

	CreatedAt time.Time `gorm:"default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"default:now()" json:"updated_at"`
}

func (Route) TableName() string {
	return "routes"
}
