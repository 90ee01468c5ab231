package gateway

import (
	"errors"
	"fmt"
	"net/http"
)

// Dispatch errors map one-to-one onto HTTP statuses at the handler
// boundary; see HTTPStatus.
var (
	ErrRouteNotFound  = errors.New("route not found")
	ErrDuplicateRoute = errors.New("duplicate route")
	ErrAuthentication = errors.New("authentication failed")
	ErrAuthorization  = errors.New("insufficient scope")
)

// RateLimitError carries the retry hint for a rejected request.
type RateLimitError struct {
	RetryAfterSeconds int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %ds", e.RetryAfterSeconds)
}

// UpstreamError wraps an adapter invocation failure. Status preserves the
// upstream's code when one was received; Timeout marks deadline expiry.
type UpstreamError struct {
	Status  int
	Detail  string
	Timeout bool
}

func (e *UpstreamError) Error() string {
	if e.Timeout {
		return "upstream timeout: " + e.Detail
	}
	if e.Status > 0 {
		return fmt.Sprintf("upstream error (status %d): %s", e.Status, e.Detail)
	}
	return "upstream error: " + e.Detail
}

// HTTPStatus classifies a dispatch error into the status the gateway
// returns. Unknown errors are treated as internal.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrRouteNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrAuthentication):
		return http.StatusUnauthorized
	case errors.Is(err, ErrAuthorization):
		return http.StatusForbidden
	}

	var rl *RateLimitError
	if errors.As(err, &rl) {
		return http.StatusTooManyRequests
	}
	var up *UpstreamError
	if errors.As(err, &up) {
		if up.Timeout {
			return http.StatusGatewayTimeout
		}
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// ErrorKind names the error class in response bodies.
func ErrorKind(err error) string {
	switch HTTPStatus(err) {
	case http.StatusNotFound:
		return "route_not_found"
	case http.StatusUnauthorized:
		return "authentication_failed"
	case http.StatusForbidden:
		return "authorization_failed"
	case http.StatusTooManyRequests:
		return "rate_limit_exceeded"
	case http.StatusBadGateway:
		return "upstream_error"
	case http.StatusGatewayTimeout:
		return "upstream_timeout"
	default:
		return "internal_error"
	}
}
