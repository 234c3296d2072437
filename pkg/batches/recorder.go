package batches

import (
	"context"
	"fmt"

	"github.com/batchplant/platform/pkg/common/logger"
	"github.com/batchplant/platform/pkg/common/models"
	"github.com/batchplant/platform/pkg/reconcile"
)

const eventSource = "batch-intake"

// Publisher announces newly recorded batches.
type Publisher interface {
	PublishEvent(ctx context.Context, eventType, source, key string, data map[string]interface{}) error
}

// Recorder is the intake path for production batches: it stores the record
// and emits batch_recorded so reconciliation runs right away.
type Recorder struct {
	repo     *Repository
	producer Publisher
	dlq      Publisher
}

func NewRecorder(repo *Repository, producer, dlq Publisher) *Recorder {
	return &Recorder{repo: repo, producer: producer, dlq: dlq}
}

// Record validates and stores batch. A failed publish does not fail the
// call: the batch is already stored and the poller will pick it up.
func (r *Recorder) Record(ctx context.Context, batch *Batch) error {
	if err := reconcile.ValidateBatch(batch.ToRecord()); err != nil {
		return err
	}
	if err := r.repo.Create(ctx, batch); err != nil {
		return fmt.Errorf("persisting batch %s: %w", batch.ID, err)
	}
	if r.producer == nil {
		return nil
	}

	payload := map[string]interface{}{
		"batch_id":    batch.ID,
		"produced_at": batch.ProducedAt,
	}
	if err := r.producer.PublishEvent(ctx, models.EventBatchRecorded, eventSource, batch.ID, payload); err != nil {
		logger.WithBatch(batch.ID).WithError(err).Error("failed to publish batch event")
		if r.dlq != nil {
			if dlqErr := r.dlq.PublishEvent(ctx, models.EventBatchRecorded, eventSource, batch.ID, payload); dlqErr != nil {
				logger.Log.WithError(dlqErr).Error("failed to push batch event to DLQ")
			}
		}
	}
	return nil
}
