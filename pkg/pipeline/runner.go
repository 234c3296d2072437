package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/batchplant/platform/pkg/batches"
	"github.com/batchplant/platform/pkg/common/logger"
	"github.com/batchplant/platform/pkg/common/models"
	"github.com/batchplant/platform/pkg/observability/metrics"
	"github.com/batchplant/platform/pkg/reconcile"
)

// BatchSource loads stored batch records.
type BatchSource interface {
	Get(ctx context.Context, id string) (*batches.Batch, error)
}

// Runner is the entry point for both trigger models: a batch_recorded
// event (push) and the poller (pull) end up in ReconcileBatch.
type Runner struct {
	batches BatchSource
	engine  *reconcile.Engine
	locker  DateLocker
}

func NewRunner(source BatchSource, engine *reconcile.Engine, locker DateLocker) *Runner {
	if locker == nil {
		locker = NoopLocker()
	}
	return &Runner{batches: source, engine: engine, locker: locker}
}

func (r *Runner) ReconcileBatch(ctx context.Context, batchID string) (reconcile.LinkDecision, error) {
	batch, err := r.batches.Get(ctx, batchID)
	if err != nil {
		return reconcile.LinkDecision{}, fmt.Errorf("loading batch %s: %w", batchID, err)
	}
	return r.ReconcileRecord(ctx, batch.ToRecord())
}

// ReconcileRecord runs the engine for rec under the lock for its date.
func (r *Runner) ReconcileRecord(ctx context.Context, rec reconcile.BatchRecord) (reconcile.LinkDecision, error) {
	start := time.Now()

	key := r.engine.DateOf(rec.Timestamp).String()
	unlock, err := r.locker.Lock(ctx, key)
	if err != nil {
		metrics.ObserveFailure(metrics.KindLock, time.Since(start))
		return reconcile.LinkDecision{}, err
	}
	defer func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			logger.Log.WithError(err).WithField("date", key).Warn("failed to release date lock")
		}
	}()

	decision, err := r.engine.Reconcile(ctx, rec)
	if err != nil {
		metrics.ObserveFailure(failureKind(err), time.Since(start))
		return reconcile.LinkDecision{}, err
	}
	metrics.ObserveDecision(string(decision.State), decision.CandidateCount, time.Since(start))
	return decision, nil
}

// HandleEvent consumes batch_recorded events. Other event types are ignored
// so the topic can be shared. A failed run is reported to the consumer, but
// the event is not replayed; the poller re-runs the batch on a later cycle.
func (r *Runner) HandleEvent(ctx context.Context, event models.Event) error {
	if event.Type != models.EventBatchRecorded {
		return nil
	}
	batchID, ok := models.BatchIDFromEvent(event)
	if !ok {
		logger.Log.WithField("event_id", event.ID).Warn("batch event without batch_id dropped")
		return nil
	}

	_, err := r.ReconcileBatch(ctx, batchID)
	if errors.Is(err, batches.ErrNotFound) || reconcile.IsValidationError(err) {
		// A later run cannot fix either case.
		logger.WithBatch(batchID).WithError(err).Warn("batch event skipped")
		return nil
	}
	return err
}

func failureKind(err error) string {
	switch {
	case reconcile.IsValidationError(err):
		return metrics.KindValidation
	case reconcile.IsRetrievalError(err):
		return metrics.KindRetrieval
	case reconcile.IsPersistError(err):
		return metrics.KindPersist
	}
	return metrics.KindOther
}
