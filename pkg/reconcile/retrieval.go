package reconcile

import (
	"context"
	"time"

	"cloud.google.com/go/civil"
)

// OrderStore is the delivery-order source. Implementations must return every
// order whose delivery date equals date; an empty slice is not an error.
type OrderStore interface {
	FindOrdersByDate(ctx context.Context, date civil.Date) ([]OrderRecord, error)
}

// CandidateFinder turns a batch into its same-day candidate orders.
type CandidateFinder struct {
	store    OrderStore
	location *time.Location
	timeout  time.Duration
}

// NewCandidateFinder derives calendar dates in loc (the plant's zone). A
// zero timeout leaves the caller's deadline in charge.
func NewCandidateFinder(store OrderStore, loc *time.Location, timeout time.Duration) *CandidateFinder {
	if loc == nil {
		loc = time.Local
	}
	return &CandidateFinder{store: store, location: loc, timeout: timeout}
}

func (f *CandidateFinder) DateOf(t time.Time) civil.Date {
	return civil.DateOf(t.In(f.location))
}

type findResult struct {
	orders []OrderRecord
	err    error
}

// FindCandidates queries the store for the batch's plant-local date. Any
// store failure, including a timeout, is returned as *RetrievalError and no
// partial list is ever returned.
func (f *CandidateFinder) FindCandidates(ctx context.Context, batch BatchRecord) ([]OrderRecord, error) {
	if err := ValidateBatch(batch); err != nil {
		return nil, err
	}
	date := f.DateOf(batch.Timestamp)

	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	// The store may ignore ctx, so the deadline is enforced here as well.
	done := make(chan findResult, 1)
	go func() {
		orders, err := f.store.FindOrdersByDate(ctx, date)
		done <- findResult{orders: orders, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, &RetrievalError{Date: date, Err: ctx.Err()}
	case res := <-done:
		if res.err != nil {
			return nil, &RetrievalError{Date: date, Err: res.err}
		}
		return res.orders, nil
	}
}
