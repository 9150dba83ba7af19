// Package notify relays committed outbox events to downstream consumers.
// A Relay tracks its own offset in the store, so every consumer sees every
// event at least once and in sequence order.
package notify

import (
	"context"
	"time"

	"clinicq/internal/store"

	"github.com/rs/zerolog"
)

// Source is the slice of the store a relay reads from.
type Source interface {
	ListOutboxEvents(ctx context.Context, afterSeq int64, limit int) ([]store.OutboxEvent, error)
	RelayOffset(ctx context.Context, relay string) (int64, error)
	SaveRelayOffset(ctx context.Context, relay string, seq int64) error
}

// Sink consumes one outbox event. Returning an error makes the relay retry
// the event on the next run.
type Sink interface {
	Handle(ctx context.Context, event store.OutboxEvent) error
}

type SinkFunc func(ctx context.Context, event store.OutboxEvent) error

func (f SinkFunc) Handle(ctx context.Context, event store.OutboxEvent) error {
	return f(ctx, event)
}

type Config struct {
	BatchSize   int
	MaxAttempts int
}

type Relay struct {
	name        string
	source      Source
	sink        Sink
	batchSize   int
	maxAttempts int
	attempts    map[int64]int
	logger      zerolog.Logger
}

func NewRelay(name string, source Source, sink Sink, cfg Config, logger zerolog.Logger) *Relay {
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 50
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Relay{
		name:        name,
		source:      source,
		sink:        sink,
		batchSize:   batch,
		maxAttempts: maxAttempts,
		attempts:    map[int64]int{},
		logger:      logger.With().Str("component", "relay").Str("relay", name).Logger(),
	}
}

// RunOnce delivers one batch and returns how many events it consumed. A
// failing event stops the batch so later events are not delivered ahead of
// it; after MaxAttempts it is dropped with an error log.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	offset, err := r.source.RelayOffset(ctx, r.name)
	if err != nil {
		return 0, err
	}
	events, err := r.source.ListOutboxEvents(ctx, offset, r.batchSize)
	if err != nil {
		return 0, err
	}

	last := offset
	consumed := 0
	var sinkErr error
	for _, event := range events {
		if err := r.sink.Handle(ctx, event); err != nil {
			r.attempts[event.Seq]++
			if r.attempts[event.Seq] < r.maxAttempts {
				r.logger.Warn().Err(err).Int64("seq", event.Seq).Str("event_type", event.Type).Int("attempt", r.attempts[event.Seq]).Msg("event delivery failed")
				sinkErr = err
				break
			}
			r.logger.Error().Err(err).Int64("seq", event.Seq).Str("event_type", event.Type).Msg("event dropped after max attempts")
		}
		delete(r.attempts, event.Seq)
		last = event.Seq
		consumed++
	}

	if last > offset {
		if err := r.source.SaveRelayOffset(ctx, r.name, last); err != nil {
			return consumed, err
		}
	}
	return consumed, sinkErr
}

// Run polls until ctx is cancelled. Each tick drains every available batch.
func (r *Relay) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for {
				n, err := r.RunOnce(ctx)
				if err != nil {
					r.logger.Warn().Err(err).Msg("relay run failed")
					break
				}
				if n < r.batchSize {
					break
				}
			}
		}
	}
}
