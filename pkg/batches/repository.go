package batches

import (
	"context"
	"errors"
	"time"

	"github.com/batchplant/platform/pkg/reconcile"
	"gorm.io/gorm"
)

var (
	ErrNotFound      = errors.New("batch not found")
	ErrAlreadyExists = errors.New("batch already recorded")
)

// linksTable is owned by the linkage package; only its name and the state
// column are relied on here.
const linksTable = "batch_links"

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&Batch{})
}

// Create stores a new batch. Batch records are immutable once written, so an
// existing ID is reported as ErrAlreadyExists rather than overwritten.
func (r *Repository) Create(ctx context.Context, batch *Batch) error {
	batch.ProducedAt = batch.ProducedAt.UTC()
	batch.CreatedAt = time.Now().UTC()
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Model(&Batch{}).Where("id = ?", batch.ID).Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return ErrAlreadyExists
		}
		return tx.Create(batch).Error
	})
}

func (r *Repository) Get(ctx context.Context, id string) (*Batch, error) {
	var batch Batch
	result := r.db.WithContext(ctx).First(&batch, "id = ?", id)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &batch, result.Error
}

// Cursor marks the last batch of a ListUnreconciled page.
type Cursor struct {
	ProducedAt time.Time
	ID         string
}

// CursorOf returns the cursor positioned after b.
func CursorOf(b Batch) *Cursor {
	return &Cursor{ProducedAt: b.ProducedAt.UTC(), ID: b.ID}
}

// ListUnreconciled returns batches produced since the cutoff that have no
// decision yet or whose last decision was not an auto link, oldest first.
// A non-nil after resumes strictly past that batch so callers can walk the
// whole backlog instead of re-reading its first page.
func (r *Repository) ListUnreconciled(ctx context.Context, since time.Time, after *Cursor, limit int) ([]Batch, error) {
	if limit <= 0 {
		limit = 100
	}
	query := r.db.WithContext(ctx).
		Table(Batch{}.TableName()+" AS b").
		Select("b.*").
		Joins("LEFT JOIN "+linksTable+" AS l ON l.batch_id = b.id").
		Where("b.produced_at >= ?", since.UTC()).
		Where("l.batch_id IS NULL OR l.state <> ?", string(reconcile.StateAutoLinked))
	if after != nil {
		at := after.ProducedAt.UTC()
		query = query.Where("b.produced_at > ? OR (b.produced_at = ? AND b.id > ?)", at, at, after.ID)
	}

	var rows []Batch
	result := query.
		Order("b.produced_at ASC, b.id ASC").
		Limit(limit).
		Find(&rows)
	return rows, result.Error
}
