package database

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	relayProducer = "phone-scraper"

	defaultStreamMaxLen = 100_000
)

// RedisClient is the subset of the Redis client the relay needs.
type RedisClient interface {
	XAdd(ctx context.Context, args *redis.XAddArgs) *redis.StringCmd
}

type OutboxRepo interface {
	GetPending(ctx context.Context, limit int) ([]*OutboxEvent, error)
	MarkProcessed(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, err error) error
}

type RelayConfig struct {
	PollInterval time.Duration
	BatchSize    int
	// StreamMaxLen caps each stream approximately; older entries are
	// trimmed by Redis.
	StreamMaxLen int64
}

// FlushResult counts the outcome of one outbox batch.
type FlushResult struct {
	Published int
	Failed    int
}

// Relay drains the phone outbox into Redis streams. Each stream entry
// carries the phone identity as flat fields so consumers can filter
// without decoding the document.
type Relay struct {
	redis  RedisClient
	outbox OutboxRepo
	cfg    RelayConfig
	logger *slog.Logger
}

func NewRelay(outbox OutboxRepo, redisClient RedisClient, logger *slog.Logger, config RelayConfig) *Relay {
	if config.PollInterval <= 0 {
		config.PollInterval = 5 * time.Second
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	if config.StreamMaxLen <= 0 {
		config.StreamMaxLen = defaultStreamMaxLen
	}

	return &Relay{
		redis:  redisClient,
		outbox: outbox,
		cfg:    config,
		logger: logger.With("component", "relay"),
	}
}

// Start flushes the outbox on every tick until ctx is canceled. Batch
// errors are logged and the next tick retries.
func (r *Relay) Start(ctx context.Context) error {
	r.logger.Info("starting relay", "interval", r.cfg.PollInterval, "batch_size", r.cfg.BatchSize)

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := r.Flush(ctx); err != nil {
			r.logger.Error("outbox flush failed", "error", err)
		}

		select {
		case <-ctx.Done():
			r.logger.Info("relay stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Flush publishes one batch of due events. A failed event is rescheduled
// through the outbox and does not stop the batch.
func (r *Relay) Flush(ctx context.Context) (FlushResult, error) {
	var res FlushResult

	events, err := r.outbox.GetPending(ctx, r.cfg.BatchSize)
	if err != nil {
		return res, fmt.Errorf("failed to get pending events: %w", err)
	}

	for _, event := range events {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}

		if err := r.publish(ctx, event); err != nil {
			res.Failed++
			r.logger.Warn("event not published",
				"event_id", event.ID,
				"retry_count", event.RetryCount,
				"error", err)
			if markErr := r.outbox.MarkFailed(ctx, event.ID, err); markErr != nil {
				r.logger.Error("failed to mark event as failed", "event_id", event.ID, "error", markErr)
			}
			continue
		}

		if err := r.outbox.MarkProcessed(ctx, event.ID); err != nil {
			// Already on the stream; a later flush publishes it again.
			r.logger.Error("failed to mark event as processed", "event_id", event.ID, "error", err)
		}
		res.Published++
	}

	if len(events) > 0 {
		r.logger.Info("outbox flushed", "published", res.Published, "failed", res.Failed)
	}
	return res, nil
}

// phoneFields are the identity fields copied from a phone event payload.
type phoneFields struct {
	Source string `json:"source"`
	Brand  string `json:"brand"`
	Model  string `json:"model"`
	URL    string `json:"url"`
	Query  string `json:"query"`
	Method string `json:"method"`
}

func (r *Relay) publish(ctx context.Context, event *OutboxEvent) error {
	if !json.Valid(event.Payload) {
		return fmt.Errorf("%w: payload is not valid JSON", ErrInvalidEvent)
	}

	values := map[string]any{
		"event_id":    event.ID.String(),
		"type":        event.EventType,
		"phone_id":    event.AggregateID,
		"producer":    relayProducer,
		"retry_count": strconv.Itoa(event.RetryCount),
		"created_at":  event.CreatedAt.UTC().Format(time.RFC3339Nano),
		"data":        string(event.Payload),
	}

	if event.AggregateType == AggregatePhone {
		var f phoneFields
		if err := json.Unmarshal(event.Payload, &f); err != nil {
			return fmt.Errorf("failed to decode phone payload: %w", err)
		}
		values["source"] = f.Source
		values["brand"] = f.Brand
		values["model"] = f.Model
		values["url"] = f.URL
		values["query"] = f.Query
		values["method"] = f.Method
	}

	args := &redis.XAddArgs{
		Stream: event.TargetStream,
		MaxLen: r.cfg.StreamMaxLen,
		Approx: true,
		Values: values,
	}

	if _, err := r.redis.XAdd(ctx, args).Result(); err != nil {
		return fmt.Errorf("failed to publish to redis: %w", err)
	}

	return nil
}
