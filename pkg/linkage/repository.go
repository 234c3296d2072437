package linkage

import (
	"context"
	"errors"
	"time"

	"github.com/batchplant/platform/pkg/reconcile"
	"gorm.io/gorm"
)

var (
	ErrNotFound           = errors.New("batch link not found")
	ErrOrderAlreadyLinked = errors.New("order already auto-linked to another batch")
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

const uniqueOrderIndex = "idx_batch_links_auto_order"

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&BatchLink{})
}

// SyncUniqueOrderIndex creates or drops the partial unique index that lets
// at most one batch hold an AUTO_LINKED link to an order. The pre-insert
// count in Save cannot see concurrent uncommitted writers; the index can.
func (r *Repository) SyncUniqueOrderIndex(enabled bool) error {
	if !enabled {
		return r.db.Exec("DROP INDEX IF EXISTS " + uniqueOrderIndex).Error
	}
	return r.db.Exec("CREATE UNIQUE INDEX IF NOT EXISTS " + uniqueOrderIndex +
		" ON batch_links (order_id) WHERE state = '" + string(reconcile.StateAutoLinked) + "'").Error
}

// Save writes link as the current decision for its batch and reports whether
// stored state changed. Writing an identical decision is a no-op, timestamps
// included. With uniqueOrder set, an AUTO_LINKED decision is refused when
// another batch already holds an auto link to the same order; concurrent
// writers are caught by the index from SyncUniqueOrderIndex, which requires
// the connection to run with gorm's TranslateError.
func (r *Repository) Save(ctx context.Context, link BatchLink, uniqueOrder bool) (bool, error) {
	changed := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if uniqueOrder && claimsOrder(link) {
			var holders int64
			if err := tx.Model(&BatchLink{}).
				Where("order_id = ? AND state = ? AND batch_id <> ?", *link.OrderID, link.State, link.BatchID).
				Count(&holders).Error; err != nil {
				return err
			}
			if holders > 0 {
				return ErrOrderAlreadyLinked
			}
		}

		var existing BatchLink
		err := tx.First(&existing, "batch_id = ?", link.BatchID).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			now := time.Now().UTC()
			link.CreatedAt = now
			link.UpdatedAt = now
			changed = true
			return tx.Create(&link).Error
		case err != nil:
			return err
		}

		if existing.ToDecision().Equal(link.ToDecision()) {
			return nil
		}
		changed = true
		return tx.Model(&BatchLink{}).
			Where("batch_id = ?", link.BatchID).
			Updates(map[string]interface{}{
				"order_id":        link.OrderID,
				"state":           link.State,
				"confidence":      link.Confidence,
				"breakdown":       link.Breakdown,
				"candidate_count": link.CandidateCount,
				"updated_at":      time.Now().UTC(),
			}).Error
	})
	if err != nil {
		if claimsOrder(link) && errors.Is(err, gorm.ErrDuplicatedKey) {
			return false, ErrOrderAlreadyLinked
		}
		return false, err
	}
	return changed, nil
}

func claimsOrder(link BatchLink) bool {
	return link.OrderID != nil && link.State == string(reconcile.StateAutoLinked)
}

func (r *Repository) Get(ctx context.Context, batchID string) (*BatchLink, error) {
	var link BatchLink
	result := r.db.WithContext(ctx).First(&link, "batch_id = ?", batchID)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &link, result.Error
}

// ListByState returns the most recently updated links in state.
func (r *Repository) ListByState(ctx context.Context, state reconcile.LinkState, limit int) ([]BatchLink, error) {
	if limit <= 0 {
		limit = 50
	}
	var links []BatchLink
	result := r.db.WithContext(ctx).
		Where("state = ?", string(state)).
		Order("updated_at DESC").
		Order("batch_id ASC").
		Limit(limit).
		Find(&links)
	return links, result.Error
}

// FindByOrder lists every batch currently linked to orderID.
func (r *Repository) FindByOrder(ctx context.Context, orderID string) ([]BatchLink, error) {
	var links []BatchLink
	result := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("batch_id ASC").
		Find(&links)
	return links, result.Error
}
