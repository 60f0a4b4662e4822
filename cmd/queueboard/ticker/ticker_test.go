package ticker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/queueboard/cmd/queueboard/repository"
	"github.com/lyzr/queueboard/common/logger"
	"github.com/lyzr/queueboard/common/metrics"
	"github.com/lyzr/queueboard/common/models"
)

const today = "2026-03-02"

type recordingPublisher struct {
	mu          sync.Mutex
	now         time.Time
	invalidated []string
	snapshots   []string
	stats       []string
}

func (p *recordingPublisher) Now() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.now
}

func (p *recordingPublisher) Today() string { return today }

func (p *recordingPublisher) advance(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.now = p.now.Add(d)
}

func (p *recordingPublisher) Invalidate(ctx context.Context, dates ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.invalidated = append(p.invalidated, dates...)
}

func (p *recordingPublisher) PublishSnapshot(ctx context.Context, date string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snapshots = append(p.snapshots, date)
}

func (p *recordingPublisher) PublishStats(ctx context.Context, date string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stats = append(p.stats, date)
}

func (p *recordingPublisher) published() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.snapshots
	p.snapshots = nil
	return out
}

var start = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func startProcedure(t *testing.T, store *repository.MemoryStore, code, date string) *models.Patient {
	t.Helper()
	ctx := context.Background()
	p, _, err := store.CreatePatient(ctx, &models.Patient{
		RegistrationCode: code,
		Name:             "Patient " + code,
		Room:             "CT",
		Status:           models.StatusWaiting,
		Priority:         1,
		QueueDate:        date,
		CreatedAt:        start,
		UpdatedAt:        start,
		AddedAt:          start,
	})
	require.NoError(t, err)

	p, err = store.UpdateStatus(ctx, p.ID, models.StatusProcedure, "biopsy", &start, start)
	require.NoError(t, err)
	return p
}

func elapsed(t *testing.T, store *repository.MemoryStore, id int64) *models.Patient {
	t.Helper()
	p, err := store.GetPatient(context.Background(), id)
	require.NoError(t, err)
	return p
}

func TestElapsedTickPersistsWholeMinutes(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	pub := &recordingPublisher{now: start}
	m := metrics.New()
	tk := NewElapsedTicker(store, pub, logger.Discard()).WithMetrics(m)

	p := startProcedure(t, store, "R1", today)

	pub.advance(59 * time.Second)
	require.NoError(t, tk.Tick(ctx))
	assert.Equal(t, 0, elapsed(t, store, p.ID).ElapsedMinutes)

	pub.advance(time.Second)
	require.NoError(t, tk.Tick(ctx))
	assert.Equal(t, 1, elapsed(t, store, p.ID).ElapsedMinutes)

	pub.advance(4 * time.Minute)
	require.NoError(t, tk.Tick(ctx))
	assert.Equal(t, 5, elapsed(t, store, p.ID).ElapsedMinutes)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.ActiveProcedure))
}

func TestElapsedTickPublishesAffectedDatesAndToday(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	pub := &recordingPublisher{now: start.Add(3 * time.Minute)}
	tk := NewElapsedTicker(store, pub, logger.Discard())

	startProcedure(t, store, "R1", "2026-03-05")
	startProcedure(t, store, "R2", today)

	require.NoError(t, tk.Tick(ctx))
	assert.Equal(t, []string{today, "2026-03-05"}, pub.published())
	assert.ElementsMatch(t, []string{today, "2026-03-05"}, pub.invalidated)
}

func TestElapsedTickWithNothingRunning(t *testing.T) {
	store := repository.NewMemoryStore()
	pub := &recordingPublisher{now: start}
	tk := NewElapsedTicker(store, pub, logger.Discard())

	require.NoError(t, tk.Tick(context.Background()))
	assert.Equal(t, []string{today}, pub.published())
}

func TestCompletedProcedureIsNotResurrected(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	pub := &recordingPublisher{now: start.Add(10 * time.Minute)}

	p := startProcedure(t, store, "R1", today)
	running, err := store.ListInProcedure(ctx)
	require.NoError(t, err)
	require.Len(t, running, 1)

	// the procedure ends between the ticker's read and its write
	_, err = store.UpdateStatus(ctx, p.ID, models.StatusCompleted, "", nil, pub.Now())
	require.NoError(t, err)

	ok, err := store.SetElapsed(ctx, p.ID, *running[0].ProcedureStartTime, 10, pub.Now())
	require.NoError(t, err)
	assert.False(t, ok)

	got := elapsed(t, store, p.ID)
	assert.Equal(t, models.StatusCompleted, got.Status)
	assert.Nil(t, got.ProcedureStartTime)
	assert.Equal(t, 0, got.ElapsedMinutes)

	tk := NewElapsedTicker(store, pub, logger.Discard())
	require.NoError(t, tk.Tick(ctx))
	assert.Equal(t, 0, elapsed(t, store, p.ID).ElapsedMinutes)
}

func TestElapsedTickerStopsOnCancel(t *testing.T) {
	store := repository.NewMemoryStore()
	pub := &recordingPublisher{now: start}
	tk := NewElapsedTicker(store, pub, logger.Discard()).WithInterval(5 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tk.Start(ctx) }()

	require.Eventually(t, func() bool {
		pub.mu.Lock()
		defer pub.mu.Unlock()
		return len(pub.snapshots) >= 2
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("ticker did not stop")
	}
}

func TestStatsTick(t *testing.T) {
	pub := &recordingPublisher{now: start}
	m := metrics.New()
	tk := NewStatsTicker(pub, logger.Discard()).WithMetrics(m)

	tk.Tick(context.Background())
	tk.Tick(context.Background())

	assert.Equal(t, []string{today, today}, pub.stats)
	assert.Equal(t, float64(2), testutil.ToFloat64(m.TickerRuns.WithLabelValues("stats", "ok")))
}
