// Package ticker runs the periodic jobs that republish timing-derived state.
package ticker

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/lyzr/queueboard/cmd/queueboard/repository"
	"github.com/lyzr/queueboard/common/logger"
	"github.com/lyzr/queueboard/common/metrics"
	"github.com/lyzr/queueboard/common/models"
)

// Publisher is the part of the queue service the tickers drive
type Publisher interface {
	Now() time.Time
	Today() string
	Invalidate(ctx context.Context, dates ...string)
	PublishSnapshot(ctx context.Context, date string)
	PublishStats(ctx context.Context, date string)
}

// ElapsedTicker persists elapsed minutes of running procedures and
// republishes the affected dates
type ElapsedTicker struct {
	store    repository.PatientStore
	pub      Publisher
	metrics  *metrics.Metrics
	log      *logger.Logger
	interval time.Duration
}

// NewElapsedTicker creates a new elapsed-time ticker
func NewElapsedTicker(store repository.PatientStore, pub Publisher, log *logger.Logger) *ElapsedTicker {
	return &ElapsedTicker{
		store:    store,
		pub:      pub,
		log:      log,
		interval: 10 * time.Second,
	}
}

// WithInterval sets the tick interval
func (t *ElapsedTicker) WithInterval(interval time.Duration) *ElapsedTicker {
	if interval > 0 {
		t.interval = interval
	}
	return t
}

// WithMetrics records runs and the number of running procedures
func (t *ElapsedTicker) WithMetrics(m *metrics.Metrics) *ElapsedTicker {
	t.metrics = m
	return t
}

// Start ticks until ctx is done. A failed tick is logged and retried on the next one.
func (t *ElapsedTicker) Start(ctx context.Context) error {
	t.log.Info("elapsed ticker starting", "interval", t.interval)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			t.log.Info("elapsed ticker shutting down")
			return ctx.Err()
		case <-ticker.C:
			err := t.Tick(ctx)
			t.record(err)
			if err != nil {
				t.log.Error("elapsed tick failed", "error", err)
			}
		}
	}
}

func (t *ElapsedTicker) record(err error) {
	if t.metrics == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	t.metrics.TickerRuns.WithLabelValues("elapsed", result).Inc()
}

// Tick runs one pass. Each write is guarded by the start time it was
// computed from, so a procedure that ended meanwhile is left alone.
func (t *ElapsedTicker) Tick(ctx context.Context) error {
	running, err := t.store.ListInProcedure(ctx)
	if err != nil {
		return fmt.Errorf("failed to list running procedures: %w", err)
	}
	if t.metrics != nil {
		t.metrics.ActiveProcedure.Set(float64(len(running)))
	}

	now := t.pub.Now()
	affected := map[string]bool{t.pub.Today(): true}
	var failed int

	for _, p := range running {
		if p.ProcedureStartTime == nil {
			continue
		}
		minutes := models.ElapsedMinutes(p.ProcedureStartTime, now)
		ok, err := t.store.SetElapsed(ctx, p.ID, *p.ProcedureStartTime, minutes, now)
		if err != nil {
			failed++
			t.log.WithPatient(p.ID).Warn("failed to persist elapsed minutes", "error", err)
			continue
		}
		if ok {
			affected[p.QueueDate] = true
		}
	}

	dates := make([]string, 0, len(affected))
	for d := range affected {
		dates = append(dates, d)
	}
	sort.Strings(dates)

	t.pub.Invalidate(ctx, dates...)
	for _, d := range dates {
		t.pub.PublishSnapshot(ctx, d)
	}

	t.log.Debug("elapsed tick", "running", len(running), "dates", dates)
	if failed > 0 {
		return fmt.Errorf("%d of %d elapsed writes failed", failed, len(running))
	}
	return nil
}
