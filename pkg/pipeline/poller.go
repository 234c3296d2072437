package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/batchplant/platform/pkg/batches"
	"github.com/batchplant/platform/pkg/common/logger"
	"golang.org/x/sync/errgroup"
)

// UnreconciledSource lists batches that still need a run.
type UnreconciledSource interface {
	ListUnreconciled(ctx context.Context, since time.Time, after *batches.Cursor, limit int) ([]batches.Batch, error)
}

// PollerConfig controls the pull trigger.
type PollerConfig struct {
	Interval  time.Duration
	BatchSize int
	Lookback  time.Duration
	Workers   int
}

// Poller re-runs every batch that is not yet auto linked, so a batch picks
// up orders that were entered after it was produced. Each cycle reads the
// page after the previous one and wraps around at the end of the backlog.
type Poller struct {
	source UnreconciledSource
	runner *Runner
	cfg    PollerConfig
	now    func() time.Time

	mu     sync.Mutex
	cursor *batches.Cursor
}

func NewPoller(source UnreconciledSource, runner *Runner, cfg PollerConfig) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Poller{source: source, runner: runner, cfg: cfg, now: time.Now}
}

// Start runs the polling loop until ctx is cancelled.
func (p *Poller) Start(ctx context.Context) {
	log := logger.WithField("component", "reconcile_poller")
	log.Info("starting reconcile poller")

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("shutting down reconcile poller")
			return
		case <-ticker.C:
			if _, err := p.RunOnce(ctx); err != nil {
				log.WithError(err).Error("failed to poll unreconciled batches")
			}
		}
	}
}

// PollResult summarizes one polling cycle.
type PollResult struct {
	Listed int
	Failed int
}

// RunOnce reconciles one page of pending batches. Individual run failures
// are logged and counted; only a failure to list aborts the cycle.
func (p *Poller) RunOnce(ctx context.Context) (PollResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	since := p.now().Add(-p.cfg.Lookback)
	pending, err := p.source.ListUnreconciled(ctx, since, p.cursor, p.cfg.BatchSize)
	if err != nil {
		return PollResult{}, err
	}
	if len(pending) < p.cfg.BatchSize {
		p.cursor = nil
	} else {
		p.cursor = batches.CursorOf(pending[len(pending)-1])
	}

	var failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Workers)
	for _, batch := range pending {
		rec := batch.ToRecord()
		g.Go(func() error {
			if _, err := p.runner.ReconcileRecord(gctx, rec); err != nil {
				failed.Add(1)
				logger.Log.WithError(err).WithField("batch_id", rec.ID).Warn("poll run failed")
			}
			return nil
		})
	}
	_ = g.Wait()

	result := PollResult{Listed: len(pending), Failed: int(failed.Load())}
	if result.Listed > 0 {
		logger.Log.WithFields(map[string]interface{}{
			"listed": result.Listed,
			"failed": result.Failed,
		}).Info("reconcile poll completed")
	}
	return result, nil
}
