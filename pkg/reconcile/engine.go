// Package reconcile links production batches to delivery orders by scoring
// every same-day order and classifying the best one.
package reconcile

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/civil"

	"github.com/batchplant/platform/pkg/common/logger"
	"github.com/sirupsen/logrus"
)

// LinkApplier persists a decision. Applying the same decision twice must
// leave stored state as if it had been applied once.
type LinkApplier interface {
	ApplyDecision(ctx context.Context, decision LinkDecision) error
}

// Engine runs retrieval, scoring, ranking and classification for one batch
// at a time. It keeps no state between runs and is safe for concurrent use.
type Engine struct {
	finder  *CandidateFinder
	scorer  *Scorer
	applier LinkApplier
}

func NewEngine(finder *CandidateFinder, scorer *Scorer, applier LinkApplier) *Engine {
	return &Engine{finder: finder, scorer: scorer, applier: applier}
}

// DateOf is the plant-local calendar date the engine uses for t.
func (e *Engine) DateOf(t time.Time) civil.Date {
	return e.finder.DateOf(t)
}

// Evaluate computes the decision without persisting it. The ranked list is
// returned for inspection.
func (e *Engine) Evaluate(ctx context.Context, batch BatchRecord) (LinkDecision, []ScoredCandidate, error) {
	candidates, err := e.finder.FindCandidates(ctx, batch)
	if err != nil {
		return LinkDecision{}, nil, err
	}
	ranked := e.scorer.Rank(batch, candidates)
	return e.scorer.Policy().Decide(batch.ID, ranked), ranked, nil
}

// Reconcile evaluates the batch and applies the decision exactly once. On a
// retrieval failure nothing is applied.
func (e *Engine) Reconcile(ctx context.Context, batch BatchRecord) (LinkDecision, error) {
	log := logger.WithFields(logrus.Fields{
		"batch_id": batch.ID,
		"date":     e.finder.DateOf(batch.Timestamp).String(),
	})

	decision, _, err := e.Evaluate(ctx, batch)
	if err != nil {
		log.WithError(err).Error("failed to evaluate batch")
		return LinkDecision{}, err
	}

	if err := e.applier.ApplyDecision(ctx, decision); err != nil {
		var pe *PersistError
		if !errors.As(err, &pe) {
			err = &PersistError{BatchID: batch.ID, Err: err}
		}
		log.WithError(err).Error("failed to apply link decision")
		return LinkDecision{}, err
	}

	log.WithFields(logrus.Fields{
		"order_id":   decision.OrderID(),
		"state":      decision.State,
		"confidence": decision.Confidence,
		"candidates": decision.CandidateCount,
		"time":       decision.Breakdown.Time,
		"client":     decision.Breakdown.Client,
		"volume":     decision.Breakdown.Volume,
		"formula":    decision.Breakdown.Formula,
	}).Info("batch reconciled")

	return decision, nil
}
