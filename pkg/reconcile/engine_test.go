package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/civil"
)

type fakeStore struct {
	mu      sync.Mutex
	orders  map[civil.Date][]OrderRecord
	err     error
	block   chan struct{}
	queried []civil.Date
}

func (s *fakeStore) FindOrdersByDate(ctx context.Context, date civil.Date) ([]OrderRecord, error) {
	s.mu.Lock()
	s.queried = append(s.queried, date)
	s.mu.Unlock()
	if s.block != nil {
		<-s.block
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.orders[date], nil
}

func (s *fakeStore) calls() []civil.Date {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]civil.Date(nil), s.queried...)
}

type fakeApplier struct {
	applied []LinkDecision
	err     error
}

func (a *fakeApplier) ApplyDecision(ctx context.Context, decision LinkDecision) error {
	a.applied = append(a.applied, decision)
	return a.err
}

func newTestEngine(store OrderStore, applier LinkApplier, loc *time.Location, timeout time.Duration) *Engine {
	return NewEngine(NewCandidateFinder(store, loc, timeout), NewScorer(DefaultPolicy()), applier)
}

func TestEngineReconcileAppliesOnce(t *testing.T) {
	store := &fakeStore{orders: map[civil.Date][]OrderRecord{
		civil.DateOf(plantDay): {
			order("O-2", atPtr(14, 50), "ACME Corporation", "B25-XL", "8.3"),
			order("O-1", atPtr(14, 5), "ACME Corp", "B25", "8.0"),
		},
	}}
	applier := &fakeApplier{}
	engine := newTestEngine(store, applier, time.UTC, time.Second)

	decision, err := engine.Reconcile(context.Background(), sampleBatch())
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(applier.applied) != 1 {
		t.Fatalf("applied %d times, want 1", len(applier.applied))
	}
	if !applier.applied[0].Equal(decision) {
		t.Fatalf("applied %+v, returned %+v", applier.applied[0], decision)
	}
	if decision.State != StateAutoLinked || decision.OrderID() != "O-1" {
		t.Fatalf("unexpected decision %+v", decision)
	}
}

func TestEngineReconcileNoCandidates(t *testing.T) {
	applier := &fakeApplier{}
	engine := newTestEngine(&fakeStore{}, applier, time.UTC, time.Second)

	decision, err := engine.Reconcile(context.Background(), sampleBatch())
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if decision.State != StateNoMatch || decision.Confidence != 0 || decision.LinkedOrderID != nil {
		t.Fatalf("unexpected decision %+v", decision)
	}
	if len(applier.applied) != 1 {
		t.Fatalf("NO_MATCH decision not applied")
	}
}

func TestEngineRetrievalFailureAppliesNothing(t *testing.T) {
	applier := &fakeApplier{}
	storeErr := errors.New("connection refused")
	engine := newTestEngine(&fakeStore{err: storeErr}, applier, time.UTC, time.Second)

	_, err := engine.Reconcile(context.Background(), sampleBatch())
	if !IsRetrievalError(err) {
		t.Fatalf("expected RetrievalError, got %v", err)
	}
	if !errors.Is(err, storeErr) {
		t.Fatalf("RetrievalError does not wrap store error: %v", err)
	}
	if len(applier.applied) != 0 {
		t.Fatalf("decision applied after retrieval failure")
	}
}

func TestEngineRetrievalTimeout(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	applier := &fakeApplier{}
	engine := newTestEngine(&fakeStore{block: block}, applier, time.UTC, 20*time.Millisecond)

	start := time.Now()
	_, err := engine.Reconcile(context.Background(), sampleBatch())
	if !IsRetrievalError(err) {
		t.Fatalf("expected RetrievalError, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatalf("timeout not enforced")
	}
	if len(applier.applied) != 0 {
		t.Fatalf("decision applied after timeout")
	}
}

func TestEnginePersistFailure(t *testing.T) {
	store := &fakeStore{orders: map[civil.Date][]OrderRecord{
		civil.DateOf(plantDay): {order("O-1", atPtr(14, 5), "ACME Corp", "B25", "8.0")},
	}}
	writeErr := errors.New("disk full")
	engine := newTestEngine(store, &fakeApplier{err: writeErr}, time.UTC, time.Second)

	_, err := engine.Reconcile(context.Background(), sampleBatch())
	if !IsPersistError(err) {
		t.Fatalf("expected PersistError, got %v", err)
	}
	if !errors.Is(err, writeErr) {
		t.Fatalf("PersistError does not wrap applier error: %v", err)
	}
	var pe *PersistError
	if errors.As(err, &pe) && pe.BatchID != "B-1" {
		t.Fatalf("PersistError.BatchID = %q", pe.BatchID)
	}
}

func TestEngineRejectsInvalidBatchBeforeQuery(t *testing.T) {
	cases := map[string]BatchRecord{
		"missing id":        {Timestamp: at(14, 0), ClientName: "ACME"},
		"missing timestamp": {ID: "B-1", ClientName: "ACME"},
	}
	for name, batch := range cases {
		t.Run(name, func(t *testing.T) {
			store := &fakeStore{}
			applier := &fakeApplier{}
			engine := newTestEngine(store, applier, time.UTC, time.Second)

			_, err := engine.Reconcile(context.Background(), batch)
			if !IsValidationError(err) || !errors.Is(err, ErrInvalidBatch) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if len(store.calls()) != 0 || len(applier.applied) != 0 {
				t.Fatalf("invalid batch reached the store or the applier")
			}
		})
	}
}

func TestEngineUsesPlantLocalDate(t *testing.T) {
	loc := time.FixedZone("UTC-5", -5*60*60)
	store := &fakeStore{}
	engine := newTestEngine(store, &fakeApplier{}, loc, time.Second)

	// 02:30 UTC on the 15th is still the evening of the 14th at the plant.
	batch := sampleBatch()
	batch.Timestamp = time.Date(2024, 5, 15, 2, 30, 0, 0, time.UTC)

	if _, err := engine.Reconcile(context.Background(), batch); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	calls := store.calls()
	want := civil.Date{Year: 2024, Month: time.May, Day: 14}
	if len(calls) != 1 || calls[0] != want {
		t.Fatalf("queried %v, want [%s]", calls, want)
	}
}

func TestEngineEvaluateDoesNotApply(t *testing.T) {
	store := &fakeStore{orders: map[civil.Date][]OrderRecord{
		civil.DateOf(plantDay): {order("O-1", atPtr(14, 5), "ACME Corp", "B25", "8.0")},
	}}
	applier := &fakeApplier{}
	engine := newTestEngine(store, applier, time.UTC, time.Second)

	decision, ranked, err := engine.Evaluate(context.Background(), sampleBatch())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(ranked) != 1 || decision.OrderID() != "O-1" {
		t.Fatalf("unexpected evaluation %+v %+v", decision, ranked)
	}
	if len(applier.applied) != 0 {
		t.Fatalf("Evaluate applied a decision")
	}
}
