package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Backoff strategies understood by the retry evaluator.
const (
	BackoffFixed       = "fixed"
	BackoffLinear      = "linear"
	BackoffExponential = "exponential"
)

// Cache key strategies.
const (
	CacheKeyPath               = "path"
	CacheKeyPathQuery          = "path_query"
	CacheKeyPathQueryPrincipal = "path_query_principal"
)

// Auth methods accepted by a route's auth policy.
const (
	AuthMethodAPIKey = "api_key"
	AuthMethodBearer = "bearer"
)

// Header transform actions.
const (
	HeaderActionSet    = "set"
	HeaderActionAdd    = "add"
	HeaderActionRemove = "remove"
)

// RateLimitPolicy describes a fixed-window limit. Unenforced policies are
// still counted so operators can observe traffic before turning them on.
type RateLimitPolicy struct {
	Requests      int  `json:"requests"`
	WindowSeconds int  `json:"window_seconds"`
	Burst         int  `json:"burst"`
	Enforced      bool `json:"enforced"`
}

type CachePolicy struct {
	Enabled     bool   `json:"enabled"`
	TTLSeconds  int    `json:"ttl_seconds"`
	KeyStrategy string `json:"key_strategy"`
}

type AuthPolicy struct {
	Required bool     `json:"required"`
	Methods  []string `json:"methods,omitempty"`
	Scopes   []string `json:"scopes,omitempty"`
}

// RetryPolicy drives the webhook retry evaluator. Delays are expressed in
// milliseconds so policies round-trip cleanly through JSON and JSONB.
type RetryPolicy struct {
	MaxRetries     int     `json:"max_retries"`
	Backoff        string  `json:"backoff"`
	InitialDelayMs int     `json:"initial_delay_ms"`
	MaxDelayMs     int     `json:"max_delay_ms"`
	Multiplier     float64 `json:"multiplier,omitempty"`
}

// HeaderOp mutates one header on its way through the gateway.
type HeaderOp struct {
	Name   string `json:"name"`
	Value  string `json:"value,omitempty"`
	Action string `json:"action"`
}

type TransformPolicy struct {
	RequestHeaders  []HeaderOp `json:"request_headers,omitempty"`
	ResponseHeaders []HeaderOp `json:"response_headers,omitempty"`
	StripPrefix     string     `json:"strip_prefix,omitempty"`
}

type AlertThresholds struct {
	ErrorRatePct        float64 `json:"error_rate_pct"`
	P99LatencyMs        float64 `json:"p99_latency_ms"`
	MinThroughputPerMin float64 `json:"min_throughput_per_min"`
}

type MonitoringPolicy struct {
	Enabled    bool            `json:"enabled"`
	Thresholds AlertThresholds `json:"thresholds"`
}

// jsonbValue/jsonbScan let the policy structs live in single jsonb columns
// instead of spreading dozens of scalar columns across the routes table.
func jsonbValue(v interface{}) (driver.Value, error) {
	return json.Marshal(v)
}

func jsonbScan(dst interface{}, src interface{}) error {
	switch data := src.(type) {
	case nil:
		return nil
	case []byte:
		if len(data) == 0 {
			return nil
		}
		return json.Unmarshal(data, dst)
	case string:
		if data == "" {
			return nil
		}
		return json.Unmarshal([]byte(data), dst)
	default:
		return fmt.Errorf("cannot scan %T into %T", src, dst)
	}
}

func (p RateLimitPolicy) Value() (driver.Value, error)  { return jsonbValue(p) }
func (p *RateLimitPolicy) Scan(src interface{}) error   { return jsonbScan(p, src) }
func (p CachePolicy) Value() (driver.Value, error)      { return jsonbValue(p) }
func (p *CachePolicy) Scan(src interface{}) error       { return jsonbScan(p, src) }
func (p AuthPolicy) Value() (driver.Value, error)       { return jsonbValue(p) }
func (p *AuthPolicy) Scan(src interface{}) error        { return jsonbScan(p, src) }
func (p RetryPolicy) Value() (driver.Value, error)      { return jsonbValue(p) }
func (p *RetryPolicy) Scan(src interface{}) error       { return jsonbScan(p, src) }
func (p TransformPolicy) Value() (driver.Value, error)  { return jsonbValue(p) }
func (p *TransformPolicy) Scan(src interface{}) error   { return jsonbScan(p, src) }
func (p MonitoringPolicy) Value() (driver.Value, error) { return jsonbValue(p) }
func (p *MonitoringPolicy) Scan(src interface{}) error  { return jsonbScan(p, src) }

// StringList is a []string stored as jsonb.
type StringList []string

func (l StringList) Value() (driver.Value, error) { return jsonbValue([]string(l)) }
func (l *StringList) Scan(src interface{}) error  { return jsonbScan(l, src) }

// StringMap is a map[string]string stored as jsonb.
type StringMap map[string]string

func (m StringMap) Value() (driver.Value, error) { return jsonbValue(map[string]string(m)) }
func (m *StringMap) Scan(src interface{}) error  { return jsonbScan(m, src) }

// JSONText carries raw JSON verbatim between the API, the store and the
// delivery envelope without an intermediate decode.
type JSONText json.RawMessage

func (j JSONText) Value() (driver.Value, error) {
	if len(j) == 0 {
		return []byte("null"), nil
	}
	return []byte(j), nil
}

func (j *JSONText) Scan(src interface{}) error {
	switch data := src.(type) {
	case nil:
		*j = nil
		return nil
	case []byte:
		*j = append((*j)[:0], data...)
		return nil
	case string:
		*j = JSONText(data)
		return nil
	default:
		return fmt.Errorf("cannot scan %T into JSONText", src)
	}
}

func (j JSONText) MarshalJSON() ([]byte, error) {
	if len(j) == 0 {
		return []byte("null"), nil
	}
	return j, nil
}

func (j *JSONText) UnmarshalJSON(data []byte) error {
	*j = append((*j)[:0], data...)
	return nil
}
