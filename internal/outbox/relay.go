// Package outbox relays committed domain events from the event_outbox table to
// Kafka and folds balance events into the cached balance projection.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/escrowdesk/platform/internal/domain"
	"github.com/escrowdesk/platform/internal/projection"
	"github.com/escrowdesk/platform/internal/repository"
	"github.com/segmentio/kafka-go"
)

// Publisher delivers messages in order. Implemented by infra.KafkaProducer.
type Publisher interface {
	Publish(ctx context.Context, msgs ...kafka.Message) error
}

// Config tunes the relay loop.
type Config struct {
	Interval    time.Duration
	BatchSize   int
	TopicPrefix string
}

// Relay moves outbox rows to Kafka. A row is deleted only after the broker
// acknowledged it and every earlier row, so delivery is at-least-once and
// ordered per partition key.
type Relay struct {
	db          repository.DBTX
	repo        repository.OutboxRepository
	publisher   Publisher
	projections projection.Store
	cfg         Config
	logger      *slog.Logger
}

// NewRelay creates a Relay. projections may be nil.
func NewRelay(db repository.DBTX, repo repository.OutboxRepository, publisher Publisher,
	projections projection.Store, cfg Config, logger *slog.Logger) *Relay {
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "escrow"
	}
	return &Relay{
		db:          db,
		repo:        repo,
		publisher:   publisher,
		projections: projections,
		cfg:         cfg,
		logger:      logger.With("component", "outbox_relay"),
	}
}

// Run relays batches until ctx is cancelled. A full batch is followed
// immediately by the next one; otherwise the relay waits for the interval.
func (r *Relay) Run(ctx context.Context) error {
	r.logger.Info("outbox relay started", "interval", r.cfg.Interval, "batch_size", r.cfg.BatchSize)
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("outbox relay stopped")
			return nil
		case <-timer.C:
		}

		n, err := r.RelayOnce(ctx)
		wait := r.cfg.Interval
		switch {
		case err != nil && ctx.Err() == nil:
			r.logger.Error("outbox relay batch failed", "error", err)
		case n == r.cfg.BatchSize:
			wait = 0
		}
		timer.Reset(wait)
	}
}

// RelayOnce publishes one batch and returns how many events were relayed.
func (r *Relay) RelayOnce(ctx context.Context) (int, error) {
	events, err := r.repo.FetchUnpublished(ctx, r.db, r.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return 0, nil
	}

	msgs := make([]kafka.Message, 0, len(events))
	for _, evt := range events {
		msg, err := r.message(evt)
		if err != nil {
			return 0, err
		}
		msgs = append(msgs, msg)
	}

	if err := r.publisher.Publish(ctx, msgs...); err != nil {
		return 0, fmt.Errorf("publish %d events: %w", len(msgs), err)
	}

	ids := make([]int64, 0, len(events))
	for _, evt := range events {
		r.project(ctx, evt)
		ids = append(ids, evt.SeqID)
	}

	if err := r.repo.MarkPublished(ctx, r.db, ids); err != nil {
		return 0, err
	}

	r.logger.Debug("outbox batch relayed", "count", len(ids), "last_seq", ids[len(ids)-1])
	return len(ids), nil
}

// Topic names the Kafka topic for an aggregate, e.g. escrow.payment.
func (r *Relay) Topic(agg domain.AggregateType) string {
	return r.cfg.TopicPrefix + "." + string(agg)
}

func (r *Relay) message(evt domain.OutboxDraft) (kafka.Message, error) {
	value, err := json.Marshal(evt)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encode event %s: %w", evt.EventID, err)
	}
	return kafka.Message{
		Topic: r.Topic(evt.AggregateType),
		Key:   []byte(evt.PartitionKey),
		Value: value,
		Time:  evt.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(evt.EventType)},
			{Key: "event_id", Value: []byte(evt.EventID.String())},
		},
	}, nil
}

// project updates the balance cache. Failures are logged only: the cache is
// rebuilt by later events and the admin view falls back to the database.
func (r *Relay) project(ctx context.Context, evt domain.OutboxDraft) {
	if r.projections == nil {
		return
	}
	if _, err := projection.ApplyBalanceEvent(ctx, r.projections, evt); err != nil {
		r.logger.Warn("balance projection update failed", "event_id", evt.EventID, "error", err)
	}
}
