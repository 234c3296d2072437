package pipeline

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/batchplant/platform/pkg/batches"
	"github.com/batchplant/platform/pkg/common/models"
	"github.com/batchplant/platform/pkg/reconcile"
	"github.com/shopspring/decimal"
)

var produced = time.Date(2024, 5, 14, 14, 0, 0, 0, time.UTC)

type memBatches struct {
	mu   sync.Mutex
	rows map[string]batches.Batch
}

func (m *memBatches) Get(ctx context.Context, id string) (*batches.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.rows[id]
	if !ok {
		return nil, batches.ErrNotFound
	}
	return &b, nil
}

func (m *memBatches) ListUnreconciled(ctx context.Context, since time.Time, after *batches.Cursor, limit int) ([]batches.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []batches.Batch
	for _, b := range m.rows {
		if b.ProducedAt.Before(since) {
			continue
		}
		if after != nil && (b.ProducedAt.Before(after.ProducedAt) ||
			(b.ProducedAt.Equal(after.ProducedAt) && b.ID <= after.ID)) {
			continue
		}
		out = append(out, b)
	}
	slices.SortFunc(out, func(a, b batches.Batch) int {
		if c := a.ProducedAt.Compare(b.ProducedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memOrders struct {
	orders []reconcile.OrderRecord
	err    error
}

func (m memOrders) FindOrdersByDate(ctx context.Context, date civil.Date) ([]reconcile.OrderRecord, error) {
	return m.orders, m.err
}

type memApplier struct {
	mu      sync.Mutex
	applied map[string]reconcile.LinkDecision
}

func (a *memApplier) ApplyDecision(ctx context.Context, d reconcile.LinkDecision) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.applied == nil {
		a.applied = map[string]reconcile.LinkDecision{}
	}
	a.applied[d.BatchID] = d
	return nil
}

func (a *memApplier) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.applied)
}

type recordingLocker struct {
	mu       sync.Mutex
	keys     []string
	released int
	err      error
}

func (l *recordingLocker) Lock(ctx context.Context, key string) (Unlock, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	l.keys = append(l.keys, key)
	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.released++
		return nil
	}, nil
}

func testBatch(id string) batches.Batch {
	return batches.Batch{
		ID:            id,
		ProducedAt:    produced,
		ClientName:    "ACME Corp",
		FormulaCode:   "B25",
		TotalVolumeM3: decimal.NewFromInt(8),
	}
}

func matchingOrder() reconcile.OrderRecord {
	scheduled := produced.Add(5 * time.Minute)
	return reconcile.OrderRecord{
		ID:            "O-1",
		ClientName:    "ACME Corp",
		FormulaCode:   "B25",
		VolumeM3:      decimal.NewFromInt(8),
		ScheduledTime: &scheduled,
		DeliveryDate:  civil.DateOf(produced),
	}
}

func newTestRunner(rows map[string]batches.Batch, store reconcile.OrderStore, locker DateLocker) (*Runner, *memApplier) {
	applier := &memApplier{}
	finder := reconcile.NewCandidateFinder(store, time.UTC, time.Second)
	engine := reconcile.NewEngine(finder, reconcile.NewScorer(reconcile.DefaultPolicy()), applier)
	return NewRunner(&memBatches{rows: rows}, engine, locker), applier
}

func TestRunnerReconcileBatch(t *testing.T) {
	locker := &recordingLocker{}
	runner, applier := newTestRunner(
		map[string]batches.Batch{"B-1": testBatch("B-1")},
		memOrders{orders: []reconcile.OrderRecord{matchingOrder()}},
		locker,
	)

	decision, err := runner.ReconcileBatch(context.Background(), "B-1")
	if err != nil {
		t.Fatalf("ReconcileBatch: %v", err)
	}
	if decision.State != reconcile.StateAutoLinked || decision.OrderID() != "O-1" {
		t.Fatalf("unexpected decision %+v", decision)
	}
	if applier.count() != 1 {
		t.Fatalf("applied %d decisions, want 1", applier.count())
	}
	if len(locker.keys) != 1 || locker.keys[0] != "2024-05-14" || locker.released != 1 {
		t.Fatalf("lock keys %v released %d", locker.keys, locker.released)
	}
}

func TestRunnerUnknownBatch(t *testing.T) {
	runner, _ := newTestRunner(nil, memOrders{}, nil)

	_, err := runner.ReconcileBatch(context.Background(), "missing")
	if !errors.Is(err, batches.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRunnerLockBusy(t *testing.T) {
	locker := &recordingLocker{err: ErrLockBusy}
	runner, applier := newTestRunner(
		map[string]batches.Batch{"B-1": testBatch("B-1")},
		memOrders{orders: []reconcile.OrderRecord{matchingOrder()}},
		locker,
	)

	_, err := runner.ReconcileBatch(context.Background(), "B-1")
	if !errors.Is(err, ErrLockBusy) {
		t.Fatalf("expected ErrLockBusy, got %v", err)
	}
	if applier.count() != 0 {
		t.Fatalf("decision applied without the date lock")
	}
}

func TestRunnerReleasesLockOnFailure(t *testing.T) {
	locker := &recordingLocker{}
	runner, _ := newTestRunner(
		map[string]batches.Batch{"B-1": testBatch("B-1")},
		memOrders{err: errors.New("store down")},
		locker,
	)

	_, err := runner.ReconcileBatch(context.Background(), "B-1")
	if !reconcile.IsRetrievalError(err) {
		t.Fatalf("expected RetrievalError, got %v", err)
	}
	if locker.released != 1 {
		t.Fatalf("lock released %d times, want 1", locker.released)
	}
}

func TestHandleEvent(t *testing.T) {
	rows := map[string]batches.Batch{"B-1": testBatch("B-1")}
	runner, applier := newTestRunner(rows, memOrders{orders: []reconcile.OrderRecord{matchingOrder()}}, nil)
	ctx := context.Background()

	if err := runner.HandleEvent(ctx, models.Event{Type: models.EventLinkDecision, Data: map[string]interface{}{"batch_id": "B-1"}}); err != nil {
		t.Fatalf("foreign event: %v", err)
	}
	if applier.count() != 0 {
		t.Fatalf("foreign event triggered a run")
	}

	if err := runner.HandleEvent(ctx, models.Event{Type: models.EventBatchRecorded, Data: map[string]interface{}{}}); err != nil {
		t.Fatalf("event without batch_id: %v", err)
	}
	if err := runner.HandleEvent(ctx, models.Event{Type: models.EventBatchRecorded, Data: map[string]interface{}{"batch_id": "B-404"}}); err != nil {
		t.Fatalf("unknown batch should be skipped, got %v", err)
	}

	if err := runner.HandleEvent(ctx, models.Event{Type: models.EventBatchRecorded, Data: map[string]interface{}{"batch_id": "B-1"}}); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if applier.count() != 1 {
		t.Fatalf("batch event did not reconcile")
	}
}

type flakyOrders struct {
	mu   sync.Mutex
	down bool
}

func (f *flakyOrders) FindOrdersByDate(ctx context.Context, date civil.Date) ([]reconcile.OrderRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return nil, errors.New("store down")
	}
	return []reconcile.OrderRecord{matchingOrder()}, nil
}

func TestHandleEventFailureRecoveredByPoller(t *testing.T) {
	ctx := context.Background()
	rows := map[string]batches.Batch{"B-1": testBatch("B-1")}
	store := &flakyOrders{down: true}
	runner, applier := newTestRunner(rows, store, nil)

	err := runner.HandleEvent(ctx, models.Event{Type: models.EventBatchRecorded, Data: map[string]interface{}{"batch_id": "B-1"}})
	if !reconcile.IsRetrievalError(err) {
		t.Fatalf("expected RetrievalError to be reported, got %v", err)
	}
	if applier.count() != 0 {
		t.Fatalf("decision applied after a failed run")
	}

	store.mu.Lock()
	store.down = false
	store.mu.Unlock()

	poller := NewPoller(&memBatches{rows: rows}, runner, PollerConfig{BatchSize: 10, Lookback: time.Hour})
	poller.now = func() time.Time { return produced }
	result, err := poller.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if result.Listed != 1 || result.Failed != 0 || applier.count() != 1 {
		t.Fatalf("result %+v, applied %d", result, applier.count())
	}
}
