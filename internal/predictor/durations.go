package predictor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Durations caches per-department average service times. Reads never block
// on the network: they return the last refreshed value or the fallback.
type Durations struct {
	source   Predictor
	fallback time.Duration
	logger   zerolog.Logger

	mu     sync.RWMutex
	values map[string]time.Duration
}

func NewDurations(source Predictor, fallback time.Duration, logger zerolog.Logger) *Durations {
	return &Durations{
		source:   source,
		fallback: fallback,
		logger:   logger.With().Str("component", "service_durations").Logger(),
		values:   map[string]time.Duration{},
	}
}

func (d *Durations) Average(department string) time.Duration {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if v, ok := d.values[department]; ok {
		return v
	}
	return d.fallback
}

// Set overrides one department's average.
func (d *Durations) Set(department string, avg time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.values[department] = avg
}

// Refresh replaces the cached averages. On failure the previous values stay.
func (d *Durations) Refresh(ctx context.Context) error {
	values, err := d.source.ServiceDurations(ctx)
	if err != nil {
		return err
	}
	d.mu.Lock()
	for department, avg := range values {
		d.values[department] = avg
	}
	d.mu.Unlock()
	return nil
}

// Run refreshes on every tick until ctx is done.
func (d *Durations) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	d.refreshAndLog(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.refreshAndLog(ctx)
		}
	}
}

func (d *Durations) refreshAndLog(ctx context.Context) {
	err := d.Refresh(ctx)
	if err == nil || errors.Is(err, ErrDisabled) {
		return
	}
	d.logger.Warn().Err(err).Str("collaborator", "predictor").Msg("service duration refresh failed")
}
