package batches

import (
	"time"

	"github.com/batchplant/platform/pkg/reconcile"
	"github.com/shopspring/decimal"
)

// Batch is a production record written by the batching-console ingestion
// path. This service only reads it.
type Batch struct {
	ID            string          `json:"id" gorm:"primaryKey;column:id"`
	ProducedAt    time.Time       `json:"produced_at" gorm:"column:produced_at;index"`
	ClientName    string          `json:"client_name" gorm:"column:client_name"`
	FormulaCode   string          `json:"formula_code" gorm:"column:formula_code"`
	TotalVolumeM3 decimal.Decimal `json:"total_volume_m3" gorm:"column:total_volume_m3;type:numeric(10,3)"`
	CreatedAt     time.Time       `json:"created_at" gorm:"column:created_at"`
}

func (Batch) TableName() string {
	return "production_batches"
}

func (b Batch) ToRecord() reconcile.BatchRecord {
	return reconcile.BatchRecord{
		ID:            b.ID,
		Timestamp:     b.ProducedAt,
		ClientName:    b.ClientName,
		FormulaCode:   b.FormulaCode,
		TotalVolumeM3: b.TotalVolumeM3,
	}
}
