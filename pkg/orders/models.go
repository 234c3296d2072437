package orders

import (
	"time"

	"cloud.google.com/go/civil"
	"github.com/batchplant/platform/pkg/reconcile"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Order is the commercial delivery order as stored by the order desk.
type Order struct {
	ID            string          `json:"id" gorm:"primaryKey;column:id"`
	ClientName    string          `json:"client_name" gorm:"column:client_name"`
	FormulaCode   string          `json:"formula_code" gorm:"column:formula_code"`
	VolumeM3      decimal.Decimal `json:"volume_m3" gorm:"column:volume_m3;type:numeric(10,3)"`
	ScheduledTime *time.Time      `json:"scheduled_time,omitempty" gorm:"column:scheduled_time"`
	DeliveryDate  datatypes.Date  `json:"delivery_date" gorm:"column:delivery_date;index"`
	CreatedAt     time.Time       `json:"created_at" gorm:"column:created_at"`
	UpdatedAt     time.Time       `json:"updated_at" gorm:"column:updated_at"`
}

func (Order) TableName() string {
	return "delivery_orders"
}

func (o Order) ToRecord() reconcile.OrderRecord {
	return reconcile.OrderRecord{
		ID:            o.ID,
		ClientName:    o.ClientName,
		FormulaCode:   o.FormulaCode,
		VolumeM3:      o.VolumeM3,
		ScheduledTime: o.ScheduledTime,
		DeliveryDate:  civil.DateOf(time.Time(o.DeliveryDate)),
	}
}

func FromRecord(rec reconcile.OrderRecord) Order {
	return Order{
		ID:            rec.ID,
		ClientName:    rec.ClientName,
		FormulaCode:   rec.FormulaCode,
		VolumeM3:      rec.VolumeM3,
		ScheduledTime: rec.ScheduledTime,
		DeliveryDate:  datatypes.Date(rec.DeliveryDate.In(time.UTC)),
	}
}
