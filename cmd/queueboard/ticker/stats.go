package ticker

import (
	"context"
	"time"

	"github.com/lyzr/queueboard/common/logger"
	"github.com/lyzr/queueboard/common/metrics"
)

// StatsTicker republishes today's counts so idle displays stay current
// across midnight
type StatsTicker struct {
	pub      Publisher
	metrics  *metrics.Metrics
	log      *logger.Logger
	interval time.Duration
}

// NewStatsTicker creates a new stats ticker
func NewStatsTicker(pub Publisher, log *logger.Logger) *StatsTicker {
	return &StatsTicker{
		pub:      pub,
		log:      log,
		interval: 30 * time.Second,
	}
}

// WithInterval sets the tick interval
func (t *StatsTicker) WithInterval(interval time.Duration) *StatsTicker {
	if interval > 0 {
		t.interval = interval
	}
	return t
}

// WithMetrics records runs
func (t *StatsTicker) WithMetrics(m *metrics.Metrics) *StatsTicker {
	t.metrics = m
	return t
}

// Start ticks until ctx is done
func (t *StatsTicker) Start(ctx context.Context) error {
	t.log.Info("stats ticker starting", "interval", t.interval)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			t.log.Info("stats ticker shutting down")
			return ctx.Err()
		case <-ticker.C:
			t.Tick(ctx)
		}
	}
}

// Tick publishes today's stats once
func (t *StatsTicker) Tick(ctx context.Context) {
	t.pub.PublishStats(ctx, t.pub.Today())
	if t.metrics != nil {
		t.metrics.TickerRuns.WithLabelValues("stats", "ok").Inc()
	}
}
