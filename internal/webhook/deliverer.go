package webhook

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/CleanExpo/zenith-integration-hub/internal/models"
)

const userAgent = "zenith-integration-hub/1.0"

// Result captures everything one POST attempt produced. Err is set for
// transport-level failures; an HTTP error status is not an Err, the engine
// reads HTTPStatus for that.
type Result struct {
	HTTPStatus      *int
	LatencyMs       int
	ResponseSummary *string
	RetryAfter      string
	TimedOut        bool
	Err             error
}

// Success reports whether the attempt got a 2xx back.
func (r *Result) Success() bool {
	return r.Err == nil && r.HTTPStatus != nil && *r.HTTPStatus >= 200 && *r.HTTPStatus < 300
}

// Deliverer POSTs event envelopes to subscriber endpoints. The client has
// no global timeout; each call is bounded by its context so per-target
// timeouts stay in the engine's hands.
type Deliverer struct {
	client  *http.Client
	maxBody int
	logger  *zap.Logger
}

func NewDeliverer(maxResponseBody int, logger *zap.Logger) *Deliverer {
	if maxResponseBody <= 0 {
		maxResponseBody = 64 << 10
	}
	return &Deliverer{
		client:  &http.Client{},
		maxBody: maxResponseBody,
		logger:  logger,
	}
}

// Deliver POSTs the payload to the target with its headers and, when a
// secret is set, the HMAC signature header. The context carries the attempt
// timeout; on expiry the call is abandoned and reported as timed out.
func (d *Deliverer) Deliver(ctx context.Context, target models.DeliveryTarget, payload []byte) *Result {
	result := &Result{}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.URL, bytes.NewReader(payload))
	if err != nil {
		result.Err = fmt.Errorf("failed to create HTTP request: %w", err)
		return result
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	for name, value := range target.Headers {
		req.Header.Set(name, value)
	}
	if target.Secret != "" {
		signature, err := Signature(payload, target.Secret)
		if err != nil {
			result.Err = fmt.Errorf("failed to sign payload: %w", err)
			return result
		}
		req.Header.Set(SignatureHeader, signature)
	}

	start := time.Now()
	resp, err := d.client.Do(req)
	result.LatencyMs = int(time.Since(start).Milliseconds())
	if err != nil {
		result.TimedOut = isTimeout(err)
		result.Err = fmt.Errorf("HTTP request failed: %w", err)
		return result
	}
	defer resp.Body.Close()

	result.HTTPStatus = &resp.StatusCode
	result.RetryAfter = resp.Header.Get("Retry-After")

	// read one byte past the cap to tell truncation from an exact fit
	body := make([]byte, d.maxBody+1)
	n, readErr := io.ReadFull(resp.Body, body)
	if readErr != nil && readErr != io.EOF && readErr != io.ErrUnexpectedEOF {
		d.logger.Warn("Failed to read response body",
			zap.Error(readErr),
			zap.String("url", target.URL),
		)
	}

	if n > 0 {
		summary := string(body[:min(n, d.maxBody)])
		if n > d.maxBody {
			summary += "... (truncated)"
		}
		if len(summary) > 500 {
			summary = summary[:500] + "..."
		}
		result.ResponseSummary = &summary
	}
	return result
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
