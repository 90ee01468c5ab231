package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/CleanExpo/zenith-integration-hub/internal/config"
	"github.com/CleanExpo/zenith-integration-hub/internal/models"
	"github.com/CleanExpo/zenith-integration-hub/internal/rabbitmq"
	"github.com/CleanExpo/zenith-integration-hub/internal/store"
	"github.com/CleanExpo/zenith-integration-hub/internal/utils"
	"github.com/CleanExpo/zenith-integration-hub/internal/webhook"
)

// Consumer drains publish requests from the event queue and feeds them to
// the delivery engine. Messages are acked only after the event is stored
// and fanned out, so a crash mid-publish redelivers; the engine's conflict
// check collapses the redelivery into the already-accepted event.
type Consumer struct {
	rmq          *rabbitmq.Connection
	engine       *webhook.Engine
	queue        string
	invalidQueue string
	prefetch     int
	consumerTag  string
	logger       *zap.Logger
	ctx          context.Context
	cancel       context.CancelFunc
}

func New(rmq *rabbitmq.Connection, engine *webhook.Engine, cfg *config.RabbitMQConfig, logger *zap.Logger) *Consumer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Consumer{
		rmq:          rmq,
		engine:       engine,
		queue:        cfg.EventQueue,
		invalidQueue: cfg.EventQueue + ".invalid",
		prefetch:     cfg.PrefetchCount,
		consumerTag:  fmt.Sprintf("hub-consumer-%d", time.Now().Unix()),
		logger:       logger,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start declares the queues and registers the consumer.
func (c *Consumer) Start() error {
	if c.queue == "" {
		return fmt.Errorf("event queue is required")
	}

	if err := c.rmq.DeclareQueue(c.queue); err != nil {
		return err
	}
	if err := c.rmq.DeclareQueue(c.invalidQueue); err != nil {
		return err
	}

	if err := c.startConsuming(); err != nil {
		return err
	}

	c.logger.Info("Queue consumer started",
		zap.String("queue", c.queue),
		zap.String("consumer_tag", c.consumerTag),
		zap.Int("prefetch_count", c.prefetch),
	)
	return nil
}

func (c *Consumer) startConsuming() error {
	if err := c.rmq.SetQoS(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	messages, err := c.rmq.ConsumeMessages(
		c.queue,
		c.consumerTag,
		false, // autoAck (we ack after publish succeeds)
		false, // exclusive
		false, // noLocal
		false, // noWait
	)
	if err != nil {
		return fmt.Errorf("failed to start consuming from queue %s: %w", c.queue, err)
	}

	go c.processMessages(messages)

	return nil
}

// Stop cancels the consumer registration and the processing loop. Unacked
// in-flight messages return to the queue.
func (c *Consumer) Stop() {
	c.cancel()
	if err := c.rmq.CancelConsumer(c.consumerTag); err != nil {
		c.logger.Warn("Failed to cancel consumer",
			zap.String("consumer_tag", c.consumerTag),
			zap.Error(err),
		)
	}
	c.logger.Info("Queue consumer stopped", zap.String("consumer_tag", c.consumerTag))
}

// processMessages handles one delivery channel. When the broker closes it
// mid-reconnect, the loop waits for the connection to recover and
// re-registers, then hands off to the fresh goroutine.
func (c *Consumer) processMessages(messages <-chan amqp.Delivery) {
	for {
		select {
		case <-c.ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				c.logger.Warn("Message channel closed, attempting to restart consumer...",
					zap.String("queue", c.queue),
				)
				for {
					select {
					case <-c.ctx.Done():
						return
					default:
					}

					time.Sleep(2 * time.Second)

					if !c.rmq.IsHealthy() {
						c.logger.Debug("Connection not healthy yet, waiting...",
							zap.String("queue", c.queue),
						)
						continue
					}

					if err := c.startConsuming(); err != nil {
						c.logger.Error("Failed to restart consuming after channel close, will retry",
							zap.String("queue", c.queue),
							zap.Error(err),
						)
						time.Sleep(5 * time.Second)
						continue
					}

					c.logger.Info("Successfully restarted consumer after channel close",
						zap.String("queue", c.queue),
					)
					return
				}
			}
			c.handle(msg)
		}
	}
}

// handle processes one message: parse, publish, ack. Malformed or invalid
// payloads are parked on the invalid queue instead of redelivering forever.
func (c *Consumer) handle(msg amqp.Delivery) {
	var req models.PublishRequest
	if err := json.Unmarshal(msg.Body, &req); err != nil {
		c.logger.Error("Failed to decode queue message",
			zap.String("queue", c.queue),
			zap.Uint64("delivery_tag", msg.DeliveryTag),
			zap.Error(err),
		)
		c.park(msg)
		return
	}

	if _, err := models.NormalizeEventType(req.Type); err != nil {
		c.logger.Error("Queue message carries invalid event type",
			zap.String("queue", c.queue),
			zap.String("type", req.Type),
			zap.Error(err),
		)
		c.park(msg)
		return
	}

	// Foreign identifiers (order numbers, Mongo ids) become stable UUIDs so
	// broker redeliveries dedupe against the stored event.
	source := req.Source
	if source == "" {
		source = "queue"
	}
	req.ID = utils.NormalizeEventID(source, req.ID)

	event, matched, err := c.engine.Publish(c.ctx, &req)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			c.logger.Debug("Queue message redelivered an already-accepted event",
				zap.String("event_id", req.ID),
			)
			c.ack(msg)
			return
		}
		c.logger.Error("Failed to publish queue event",
			zap.String("queue", c.queue),
			zap.Uint64("delivery_tag", msg.DeliveryTag),
			zap.Error(err),
		)
		c.reject(msg)
		return
	}

	c.ack(msg)
	c.logger.Debug("Queue event published",
		zap.String("event_id", event.ID),
		zap.String("type", event.Type),
		zap.Int("matched", matched),
	)
}

// park copies a poison message to the invalid queue and acks the original.
// If the copy cannot be published the message is rejected instead so it is
// not silently lost.
func (c *Consumer) park(msg amqp.Delivery) {
	if err := c.rmq.PublishMessage("", c.invalidQueue, false, false, msg.Body); err != nil {
		c.logger.Error("Failed to park message on invalid queue",
			zap.String("queue", c.invalidQueue),
			zap.Uint64("delivery_tag", msg.DeliveryTag),
			zap.Error(err),
		)
		c.reject(msg)
		return
	}
	c.ack(msg)
}

func (c *Consumer) ack(msg amqp.Delivery) {
	if err := msg.Ack(false); err != nil {
		c.logger.Error("Failed to ack message",
			zap.Uint64("delivery_tag", msg.DeliveryTag),
			zap.Error(err),
		)
	}
}

func (c *Consumer) reject(msg amqp.Delivery) {
	if err := msg.Nack(false, false); err != nil {
		c.logger.Error("Failed to nack message",
			zap.Uint64("delivery_tag", msg.DeliveryTag),
			zap.Error(err),
		)
	}
}
