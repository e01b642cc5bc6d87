package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/roach88/runledger/internal/config"
	"github.com/roach88/runledger/internal/engine"
	"github.com/roach88/runledger/internal/ir"
	"github.com/roach88/runledger/internal/metrics"
)

// Ingester is the engine surface the consumer needs.
type Ingester interface {
	IngestJSON(ctx context.Context, body []byte) ([]ir.Result, error)
}

// message is the part of jetstream.Msg the consumer acknowledges through.
type message interface {
	Data() []byte
	Ack() error
	Nak() error
	Term() error
}

// fetchWait bounds one pull request so cancellation is noticed promptly.
const fetchWait = 2 * time.Second

// Consumer drains a durable JetStream pull consumer into the engine.
//
// Every message body is one batch envelope. Batches that carry events are
// acked whatever their per-event outcome; batches without events are
// terminated so they are never redelivered. Other failures, and batches
// interrupted by shutdown, are nacked.
type Consumer struct {
	js     jetstream.JetStream
	engine Ingester
	cfg    config.NATSConfig
	logger *zap.Logger
}

// NewConsumer creates a Consumer reading cfg.Stream through cfg.Durable.
func NewConsumer(c *Client, eng Ingester, cfg config.NATSConfig, logger *zap.Logger) *Consumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1
	}
	return &Consumer{js: c.js, engine: eng, cfg: cfg, logger: logger}
}

// Run fetches and processes messages until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	cons, err := c.js.CreateOrUpdateConsumer(ctx, c.cfg.Stream, jetstream.ConsumerConfig{
		Durable:       c.cfg.Durable,
		FilterSubject: c.cfg.Subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverAllPolicy,
		MaxDeliver:    5,
	})
	if err != nil {
		return fmt.Errorf("failed to bind consumer %s: %w", c.cfg.Durable, err)
	}

	c.logger.Info("queue consumer started",
		zap.String("stream", c.cfg.Stream),
		zap.String("durable", c.cfg.Durable))

	for {
		if ctx.Err() != nil {
			c.logger.Info("queue consumer stopped")
			return nil
		}

		batch, err := cons.Fetch(c.cfg.BatchSize, jetstream.FetchMaxWait(fetchWait))
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Warn("fetch failed", zap.Error(err))
			continue
		}
		for msg := range batch.Messages() {
			c.handle(ctx, msg)
		}
		if err := batch.Error(); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			c.logger.Warn("batch error", zap.Error(err))
		}
	}
}

// handle ingests one message and settles it. A message seen after ctx is
// cancelled is nacked, since the engine fails the events it did not reach.
func (c *Consumer) handle(ctx context.Context, msg message) {
	if ctx.Err() != nil {
		c.settle(msg.Nak(), "nacked")
		return
	}
	results, err := c.engine.IngestJSON(ctx, msg.Data())
	switch {
	case ctx.Err() != nil:
		c.logger.Warn("consumer stopping mid-batch, requesting redelivery", zap.Int("events", len(results)))
		c.settle(msg.Nak(), "nacked")
	case err == nil:
		failed := 0
		for _, r := range results {
			if !r.Success {
				failed++
				c.logger.Warn("event rejected", zap.String("run_id", r.ID), zap.String("error", r.Error))
			}
		}
		c.logger.Debug("batch ingested", zap.Int("events", len(results)), zap.Int("failed", failed))
		c.settle(msg.Ack(), "acked")
	case engine.IsProtocolError(err):
		c.logger.Error("dropping unusable batch", zap.Error(err))
		c.settle(msg.Term(), "terminated")
	default:
		c.logger.Error("batch failed, requesting redelivery", zap.Error(err))
		c.settle(msg.Nak(), "nacked")
	}
}

func (c *Consumer) settle(err error, outcome string) {
	if err != nil {
		c.logger.Warn("failed to settle message", zap.String("outcome", outcome), zap.Error(err))
		outcome = "settle_failed"
	}
	metrics.QueueMessages.WithLabelValues(c.cfg.Stream, outcome).Inc()
}
