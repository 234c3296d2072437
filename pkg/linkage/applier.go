package linkage

import (
	"context"

	"github.com/batchplant/platform/pkg/common/logger"
	"github.com/batchplant/platform/pkg/common/models"
	"github.com/batchplant/platform/pkg/reconcile"
)

const eventSource = "reconcile-service"

// Publisher emits decision events for audit and notification consumers.
type Publisher interface {
	PublishEvent(ctx context.Context, eventType, source, key string, data map[string]interface{}) error
}

// Applier persists decisions and announces the ones that changed.
type Applier struct {
	repo        *Repository
	producer    Publisher
	dlq         Publisher
	uniqueOrder bool
}

type Option func(*Applier)

func WithPublisher(p Publisher) Option {
	return func(a *Applier) { a.producer = p }
}

func WithDLQ(p Publisher) Option {
	return func(a *Applier) { a.dlq = p }
}

// WithUniqueOrderLinks refuses a second AUTO_LINKED batch for one order.
func WithUniqueOrderLinks(enabled bool) Option {
	return func(a *Applier) { a.uniqueOrder = enabled }
}

func NewApplier(repo *Repository, opts ...Option) *Applier {
	a := &Applier{repo: repo}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ApplyDecision implements reconcile.LinkApplier. Publishing is best effort:
// the stored row is the source of truth, so a failed publish is logged and
// routed to the DLQ without failing the run.
func (a *Applier) ApplyDecision(ctx context.Context, decision reconcile.LinkDecision) error {
	changed, err := a.repo.Save(ctx, FromDecision(decision), a.uniqueOrder)
	if err != nil {
		return &reconcile.PersistError{BatchID: decision.BatchID, Err: err}
	}
	if !changed || a.producer == nil {
		return nil
	}

	payload := map[string]interface{}{
		"batch_id":        decision.BatchID,
		"order_id":        decision.OrderID(),
		"state":           string(decision.State),
		"confidence":      decision.Confidence,
		"candidate_count": decision.CandidateCount,
		"breakdown":       decision.Breakdown,
	}
	if err := a.producer.PublishEvent(ctx, models.EventLinkDecision, eventSource, decision.BatchID, payload); err != nil {
		logger.Log.WithError(err).WithField("batch_id", decision.BatchID).Error("failed to publish link decision")
		if a.dlq != nil {
			if dlqErr := a.dlq.PublishEvent(ctx, models.EventLinkDecision, eventSource, decision.BatchID, payload); dlqErr != nil {
				logger.Log.WithError(dlqErr).Error("failed to push link decision to DLQ")
			}
		}
	}
	return nil
}
