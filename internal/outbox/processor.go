// Package outbox relays reservation events committed to the database to Kafka.
package outbox

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cimillas/ticket-processor/internal/logx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Message is one pending outbox row.
type Message struct {
	ID        int64
	Topic     string
	Key       string
	EventType string
	Payload   json.RawMessage
	Attempts  int
}

// Repository reads and marks outbox rows. FetchUnpublished locks the rows it
// returns for the surrounding transaction.
type Repository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	FetchUnpublished(ctx context.Context, limit int) ([]Message, error)
	MarkPublished(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, reason string) error
}

type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

type Processor struct {
	repo      Repository
	publisher Publisher
	logger    *zap.Logger
	batchSize int
	interval  time.Duration
	tracer    trace.Tracer
}

func NewProcessor(repo Repository, publisher Publisher, logger *zap.Logger, batchSize int, interval time.Duration) *Processor {
	if batchSize <= 0 {
		batchSize = 50
	}
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &Processor{
		repo:      repo,
		publisher: publisher,
		logger:    logger,
		batchSize: batchSize,
		interval:  interval,
		tracer:    otel.Tracer("outbox/processor"),
	}
}

// Start polls until ctx is cancelled.
func (p *Processor) Start(ctx context.Context) {
	logx.Info(ctx, p.logger, "starting outbox processor")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logx.Info(ctx, p.logger, "outbox processor stopping")
			return
		case <-ticker.C:
			if _, err := p.ProcessBatch(ctx); err != nil {
				logx.Error(ctx, p.logger, "process outbox batch", zap.Error(err))
			}
		}
	}
}

// Run starts the polling loop in the background. The returned wait blocks
// until the loop has returned, including any batch still being published.
func (p *Processor) Run(ctx context.Context) (wait func()) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Start(ctx)
	}()
	return func() { <-done }
}

// ProcessBatch publishes one batch and returns how many rows were published.
// A failed publish is recorded on the row and does not abort the batch.
func (p *Processor) ProcessBatch(ctx context.Context) (int, error) {
	ctx, span := p.tracer.Start(ctx, "OutboxProcessor.ProcessBatch")
	defer span.End()

	published := 0
	err := p.repo.WithTx(ctx, func(txCtx context.Context) error {
		msgs, err := p.repo.FetchUnpublished(txCtx, p.batchSize)
		if err != nil {
			return err
		}
		if len(msgs) == 0 {
			return nil
		}
		logx.Debug(txCtx, p.logger, "processing outbox events", zap.Int("count", len(msgs)))

		for _, msg := range msgs {
			if err := p.publisher.Publish(txCtx, msg); err != nil {
				logx.Warn(txCtx, p.logger, "publish outbox event failed",
					zap.Int64("id", msg.ID),
					zap.String("event_type", msg.EventType),
					zap.Error(err),
				)
				if err := p.repo.MarkFailed(txCtx, msg.ID, err.Error()); err != nil {
					return err
				}
				continue
			}
			if err := p.repo.MarkPublished(txCtx, msg.ID); err != nil {
				return err
			}
			published++
		}
		return nil
	})
	span.SetAttributes(attribute.Int("published", published))
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	return published, nil
}
