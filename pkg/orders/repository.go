package orders

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/civil"
	"github.com/batchplant/platform/pkg/reconcile"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	ErrNotFound      = errors.New("order not found")
	ErrAlreadyExists = errors.New("order already exists")
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&Order{})
}

// Create stores the delivery date as UTC midnight so date range queries
// compare equal values on every driver.
func (r *Repository) Create(ctx context.Context, order *Order) error {
	day := civil.DateOf(time.Time(order.DeliveryDate))
	order.DeliveryDate = datatypes.Date(day.In(time.UTC))
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Model(&Order{}).Where("id = ?", order.ID).Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return ErrAlreadyExists
		}
		return tx.Create(order).Error
	})
}

func (r *Repository) Get(ctx context.Context, id string) (*Order, error) {
	var order Order
	result := r.db.WithContext(ctx).First(&order, "id = ?", id)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &order, result.Error
}

// FindOrdersByDate returns every order delivering on date, ordered by ID.
func (r *Repository) FindOrdersByDate(ctx context.Context, date civil.Date) ([]reconcile.OrderRecord, error) {
	var rows []Order
	result := r.db.WithContext(ctx).
		Where("delivery_date >= ? AND delivery_date < ?", date.String(), date.AddDays(1).String()).
		Order("id ASC").
		Find(&rows)
	if result.Error != nil {
		return nil, result.Error
	}

	records := make([]reconcile.OrderRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, row.ToRecord())
	}
	return records, nil
}
