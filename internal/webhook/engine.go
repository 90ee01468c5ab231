package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/CleanExpo/zenith-integration-hub/internal/metrics"
	"github.com/CleanExpo/zenith-integration-hub/internal/models"
	"github.com/CleanExpo/zenith-integration-hub/internal/scheduler"
	"github.com/CleanExpo/zenith-integration-hub/internal/store"
)

// ErrDeliveryExhausted marks a delivery that used its full retry budget
// without a 2xx response.
var ErrDeliveryExhausted = errors.New("delivery exhausted")

// ErrAlreadyReplayed rejects a second replay of the same dead letter.
var ErrAlreadyReplayed = errors.New("dead letter already replayed")

// EngineConfig carries the delivery defaults applied when a subscription
// leaves them unset.
type EngineConfig struct {
	DefaultMaxRetries int
	DefaultTimeout    time.Duration
	// MaxConcurrent caps in-flight HTTP attempts across all deliveries.
	MaxConcurrent int
}

// Engine matches published events against subscriptions and drives each
// resulting delivery through its attempts.
//
// Delivery semantics are at-least-once: a crash between a successful POST
// and the state update replays the attempt, so subscribers dedupe on the
// event id. Attempts within one delivery are strictly sequential because
// the next attempt is only scheduled from the completion path of the
// current one; deliveries for different (event, subscription) pairs run in
// parallel, bounded by MaxConcurrent.
type Engine struct {
	store     store.Store
	registry  *Registry
	sched     *scheduler.Scheduler
	deliverer *Deliverer
	metrics   *metrics.Aggregator
	logger    *zap.Logger
	cfg       EngineConfig

	ctx    context.Context
	cancel context.CancelFunc
	sem    chan struct{}

	pacerMu sync.Mutex
	pacers  map[string]*rate.Limiter
}

func NewEngine(
	st store.Store,
	registry *Registry,
	sched *scheduler.Scheduler,
	deliverer *Deliverer,
	agg *metrics.Aggregator,
	cfg EngineConfig,
	logger *zap.Logger,
) *Engine {
	if cfg.DefaultMaxRetries <= 0 {
		cfg.DefaultMaxRetries = 5
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 10 * time.Second
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 64
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		store:     st,
		registry:  registry,
		sched:     sched,
		deliverer: deliverer,
		metrics:   agg,
		logger:    logger,
		cfg:       cfg,
		ctx:       ctx,
		cancel:    cancel,
		sem:       make(chan struct{}, cfg.MaxConcurrent),
		pacers:    make(map[string]*rate.Limiter),
	}
}

// Start reschedules deliveries that were pending or in flight when the
// process last stopped.
func (e *Engine) Start() error {
	if err := e.recoverPending(); err != nil {
		return err
	}
	e.logger.Info("Delivery engine started",
		zap.Int("max_concurrent", e.cfg.MaxConcurrent),
		zap.Int("default_max_retries", e.cfg.DefaultMaxRetries),
	)
	return nil
}

// Stop aborts pacing waits and blocks new attempts. Attempts already
// POSTing finish under their own timeouts.
func (e *Engine) Stop() {
	e.cancel()
	e.logger.Info("Delivery engine stopped")
}

// Publish persists the event, fans it out to every matching enabled
// subscription and schedules each delivery's first attempt. It returns as
// soon as scheduling is done; callers never wait on subscriber endpoints.
// Republishing an id that already exists fails with store.ErrConflict.
func (e *Engine) Publish(ctx context.Context, req *models.PublishRequest) (*models.Event, int, error) {
	eventType, err := models.NormalizeEventType(req.Type)
	if err != nil {
		return nil, 0, err
	}
	if req.ID != "" {
		if _, err := uuid.Parse(req.ID); err != nil {
			return nil, 0, fmt.Errorf("event id must be a uuid: %w", err)
		}
	}

	now := time.Now().UTC()
	event := &models.Event{
		ID:         req.ID,
		Type:       eventType,
		Source:     req.Source,
		Data:       req.Data,
		Metadata:   models.StringMap(req.Metadata),
		Version:    req.Version,
		OccurredAt: now,
		CreatedAt:  now,
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if req.Timestamp != nil {
		event.OccurredAt = req.Timestamp.UTC()
	}

	if err := e.store.CreateEvent(ctx, event); err != nil {
		return nil, 0, err
	}

	matched := e.registry.FindMatching(event.Type)
	for _, sub := range matched {
		delivery := e.buildDelivery(event, sub, now)
		if err := e.store.CreateDelivery(ctx, delivery); err != nil {
			e.logger.Error("Failed to create delivery",
				zap.String("event_id", event.ID),
				zap.String("subscription_id", sub.ID),
				zap.Error(err),
			)
			continue
		}
		e.scheduleAttempt(delivery.ID, now)
	}

	e.logger.Info("Event published",
		zap.String("event_id", event.ID),
		zap.String("event_type", event.Type),
		zap.Int("matched_subscriptions", len(matched)),
	)
	return event, len(matched), nil
}

func (e *Engine) buildDelivery(event *models.Event, sub *models.WebhookSubscription, now time.Time) *models.Delivery {
	policy := e.normalizePolicy(sub.RetryPolicy)
	return &models.Delivery{
		ID:             uuid.NewString(),
		EventID:        event.ID,
		SubscriptionID: sub.ID,
		EventType:      event.Type,
		State:          models.DeliveryStatePending,
		MaxRetries:     policy.MaxRetries,
		Target: models.DeliveryTarget{
			URL:          sub.URL,
			Secret:       sub.Secret,
			Headers:      sub.Headers,
			TimeoutMs:    sub.TimeoutMs,
			MaxPerSecond: sub.MaxPerSecond,
			RetryPolicy:  policy,
		},
		NextAttemptAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func (e *Engine) normalizePolicy(p models.RetryPolicy) models.RetryPolicy {
	if p.MaxRetries <= 0 {
		p.MaxRetries = e.cfg.DefaultMaxRetries
	}
	if p.Backoff == "" {
		p.Backoff = models.BackoffExponential
	}
	if p.InitialDelayMs <= 0 {
		p.InitialDelayMs = 1000
	}
	if p.Multiplier <= 0 {
		p.Multiplier = 2
	}
	return p
}

func (e *Engine) scheduleAttempt(deliveryID string, at time.Time) {
	e.sched.Schedule(at, func() { e.runAttempt(deliveryID) })
}

// runAttempt executes exactly one attempt for the delivery and, on failure,
// schedules the next one. It is the only place delivery state advances.
func (e *Engine) runAttempt(deliveryID string) {
	ctx := e.ctx
	if ctx.Err() != nil {
		return
	}

	delivery, err := e.store.GetDelivery(ctx, deliveryID)
	if err != nil {
		e.logger.Warn("Delivery vanished before attempt", zap.String("delivery_id", deliveryID), zap.Error(err))
		return
	}
	if delivery.Terminal() {
		return
	}

	if delivery.Target.MaxPerSecond > 0 {
		if err := e.pacer(delivery.SubscriptionID, delivery.Target.MaxPerSecond).Wait(ctx); err != nil {
			return
		}
	}

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		return
	}
	defer func() { <-e.sem }()

	attemptNo := delivery.AttemptCount + 1
	scheduledAt := delivery.NextAttemptAt
	now := time.Now().UTC()
	delivery.State = models.DeliveryStateDelivering
	delivery.AttemptCount = attemptNo
	delivery.UpdatedAt = now
	if err := e.store.UpdateDelivery(ctx, delivery); err != nil {
		e.logger.Warn("Failed to claim delivery", zap.String("delivery_id", delivery.ID), zap.Error(err))
		return
	}

	event, err := e.store.GetEvent(ctx, delivery.EventID)
	if err != nil {
		e.deadLetter(ctx, delivery, fmt.Sprintf("event %s unavailable: %v", delivery.EventID, err))
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		e.deadLetter(ctx, delivery, fmt.Sprintf("failed to encode envelope: %v", err))
		return
	}

	timeout := time.Duration(delivery.Target.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = e.cfg.DefaultTimeout
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	started := time.Now().UTC()
	result := e.deliverer.Deliver(attemptCtx, delivery.Target, payload)
	cancel()
	finished := time.Now().UTC()

	e.recordAttempt(ctx, delivery, attemptNo, scheduledAt, started, finished, result)

	status := 0
	if result.HTTPStatus != nil {
		status = *result.HTTPStatus
	}
	e.metrics.Record("subscription:"+delivery.SubscriptionID, metrics.Sample{
		At:         finished,
		Latency:    time.Duration(result.LatencyMs) * time.Millisecond,
		Err:        !result.Success(),
		StatusCode: status,
	})

	if result.Success() {
		delivery.State = models.DeliveryStateSucceeded
		delivery.LastError = nil
		delivery.LastStatusCode = result.HTTPStatus
		delivery.UpdatedAt = time.Now().UTC()
		if err := e.store.UpdateDelivery(ctx, delivery); err != nil {
			e.logger.Warn("Failed to mark delivery succeeded", zap.String("delivery_id", delivery.ID), zap.Error(err))
		}
		e.logger.Info("Webhook delivered",
			zap.String("delivery_id", delivery.ID),
			zap.String("event_id", delivery.EventID),
			zap.String("subscription_id", delivery.SubscriptionID),
			zap.Int("attempt", attemptNo),
			zap.Int("http_status", status),
		)
		return
	}

	failMsg := describeFailure(result)
	delivery.LastError = &failMsg
	delivery.LastStatusCode = result.HTTPStatus

	delay, retryable := NextDelay(attemptNo, delivery.Target.RetryPolicy)
	if !retryable {
		e.deadLetter(ctx, delivery, failMsg)
		return
	}

	// A Retry-After from a rate-limited or briefly unavailable subscriber
	// overrides the policy delay when it asks for longer, still capped by
	// the policy's max delay.
	if (status == 429 || status == 503) && result.RetryAfter != "" {
		if ra, parsed := ParseRetryAfter(result.RetryAfter, finished); parsed && ra > delay {
			if maxDelay := time.Duration(delivery.Target.RetryPolicy.MaxDelayMs) * time.Millisecond; maxDelay > 0 && ra > maxDelay {
				ra = maxDelay
			}
			delay = ra
		}
	}

	next := time.Now().UTC().Add(delay)
	delivery.State = models.DeliveryStatePending
	delivery.NextAttemptAt = next
	delivery.UpdatedAt = time.Now().UTC()
	if err := e.store.UpdateDelivery(ctx, delivery); err != nil {
		e.logger.Warn("Failed to reschedule delivery", zap.String("delivery_id", delivery.ID), zap.Error(err))
		return
	}
	e.scheduleAttempt(delivery.ID, next)

	e.logger.Warn("Webhook attempt failed",
		zap.String("delivery_id", delivery.ID),
		zap.String("subscription_id", delivery.SubscriptionID),
		zap.Int("attempt", attemptNo),
		zap.Int("max_retries", delivery.MaxRetries),
		zap.String("error", failMsg),
		zap.Duration("retry_in", delay),
	)
}

func (e *Engine) recordAttempt(
	ctx context.Context,
	delivery *models.Delivery,
	attemptNo int,
	scheduledAt, started, finished time.Time,
	result *Result,
) {
	outcome := models.AttemptOutcomeFailure
	if result.Success() {
		outcome = models.AttemptOutcomeSuccess
	} else if result.TimedOut {
		outcome = models.AttemptOutcomeTimeout
	}
	var errStr *string
	if result.Err != nil {
		s := result.Err.Error()
		errStr = &s
	}
	latency := result.LatencyMs
	attempt := &models.DeliveryAttempt{
		DeliveryID:      delivery.ID,
		AttemptNo:       attemptNo,
		ScheduledAt:     scheduledAt,
		StartedAt:       started,
		FinishedAt:      finished,
		Outcome:         outcome,
		HTTPStatus:      result.HTTPStatus,
		LatencyMs:       &latency,
		Error:           errStr,
		ResponseSummary: result.ResponseSummary,
		CreatedAt:       finished,
	}
	if err := e.store.CreateAttempt(ctx, attempt); err != nil {
		e.logger.Warn("Failed to record attempt", zap.String("delivery_id", delivery.ID), zap.Error(err))
	}
}

func (e *Engine) deadLetter(ctx context.Context, delivery *models.Delivery, reason string) {
	now := time.Now().UTC()
	msg := ErrDeliveryExhausted.Error() + ": " + reason
	delivery.State = models.DeliveryStateDead
	delivery.LastError = &msg
	delivery.UpdatedAt = now
	if err := e.store.UpdateDelivery(ctx, delivery); err != nil {
		e.logger.Warn("Failed to mark delivery dead", zap.String("delivery_id", delivery.ID), zap.Error(err))
	}

	letter := &models.DeadLetter{
		ID:             uuid.NewString(),
		DeliveryID:     delivery.ID,
		EventID:        delivery.EventID,
		SubscriptionID: delivery.SubscriptionID,
		EventType:      delivery.EventType,
		URL:            delivery.Target.URL,
		Attempts:       delivery.AttemptCount,
		LastError:      msg,
		LastStatusCode: delivery.LastStatusCode,
		FailedAt:       now,
	}
	if err := e.store.CreateDeadLetter(ctx, letter); err != nil {
		e.logger.Error("Failed to create dead letter", zap.String("delivery_id", delivery.ID), zap.Error(err))
	}

	e.logger.Error("Webhook delivery dead-lettered",
		zap.String("delivery_id", delivery.ID),
		zap.String("event_id", delivery.EventID),
		zap.String("subscription_id", delivery.SubscriptionID),
		zap.Int("attempts", delivery.AttemptCount),
		zap.String("reason", reason),
	)
}

// ReplayDeadLetter enqueues a fresh delivery for a dead letter, reusing the
// original target snapshot with the attempt counter reset.
func (e *Engine) ReplayDeadLetter(ctx context.Context, id string) (*models.Delivery, error) {
	letter, err := e.store.GetDeadLetter(ctx, id)
	if err != nil {
		return nil, err
	}
	if letter.ReplayedAt != nil {
		return nil, ErrAlreadyReplayed
	}
	original, err := e.store.GetDelivery(ctx, letter.DeliveryID)
	if err != nil {
		return nil, fmt.Errorf("failed to load original delivery: %w", err)
	}

	now := time.Now().UTC()
	delivery := &models.Delivery{
		ID:             uuid.NewString(),
		EventID:        letter.EventID,
		SubscriptionID: letter.SubscriptionID,
		EventType:      letter.EventType,
		State:          models.DeliveryStatePending,
		MaxRetries:     original.MaxRetries,
		Target:         original.Target,
		NextAttemptAt:  now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := e.store.CreateDelivery(ctx, delivery); err != nil {
		return nil, fmt.Errorf("failed to create replay delivery: %w", err)
	}
	if err := e.store.MarkDeadLetterReplayed(ctx, id, now); err != nil {
		e.logger.Warn("Failed to stamp dead letter replay", zap.String("dead_letter_id", id), zap.Error(err))
	}
	e.scheduleAttempt(delivery.ID, now)

	e.logger.Info("Dead letter replayed",
		zap.String("dead_letter_id", id),
		zap.String("delivery_id", delivery.ID),
	)
	return delivery, nil
}

// recoverPending reschedules deliveries left pending or mid-flight by the
// previous process. Mid-flight rows are reset to pending first; their
// interrupted attempt may or may not have reached the subscriber, which is
// the at-least-once tradeoff.
func (e *Engine) recoverPending() error {
	ctx := e.ctx
	now := time.Now().UTC()
	recovered := 0
	for _, state := range []string{models.DeliveryStateDelivering, models.DeliveryStatePending} {
		deliveries, err := e.store.ListDeliveries(ctx, store.DeliveryFilter{State: state})
		if err != nil {
			return fmt.Errorf("failed to list %s deliveries: %w", state, err)
		}
		for _, delivery := range deliveries {
			if state == models.DeliveryStateDelivering {
				delivery.State = models.DeliveryStatePending
				delivery.UpdatedAt = now
				if err := e.store.UpdateDelivery(ctx, delivery); err != nil {
					e.logger.Warn("Failed to reset interrupted delivery", zap.String("delivery_id", delivery.ID), zap.Error(err))
					continue
				}
			}
			at := delivery.NextAttemptAt
			if at.Before(now) {
				at = now
			}
			e.scheduleAttempt(delivery.ID, at)
			recovered++
		}
	}
	if recovered > 0 {
		e.logger.Info("Recovered unfinished deliveries", zap.Int("count", recovered))
	}
	return nil
}

func (e *Engine) pacer(subscriptionID string, perSecond int) *rate.Limiter {
	e.pacerMu.Lock()
	defer e.pacerMu.Unlock()
	lim, ok := e.pacers[subscriptionID]
	if !ok || lim.Limit() != rate.Limit(perSecond) {
		lim = rate.NewLimiter(rate.Limit(perSecond), perSecond)
		e.pacers[subscriptionID] = lim
	}
	return lim
}

func describeFailure(result *Result) string {
	switch {
	case result.TimedOut:
		return "request timed out"
	case result.Err != nil:
		return result.Err.Error()
	case result.HTTPStatus != nil:
		return fmt.Sprintf("HTTP %d", *result.HTTPStatus)
	default:
		return "no response"
	}
}
