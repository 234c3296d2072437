package api

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/batchplant/platform/pkg/batches"
	"github.com/batchplant/platform/pkg/orders"
	"github.com/batchplant/platform/pkg/reconcile"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// PreviewRequest is an ad-hoc batch to score without persisting anything.
type PreviewRequest struct {
	ID            string          `json:"id" validate:"required"`
	Timestamp     time.Time       `json:"timestamp" validate:"required"`
	ClientName    string          `json:"client_name" validate:"required,max=200"`
	FormulaCode   string          `json:"formula_code" validate:"max=64"`
	TotalVolumeM3 decimal.Decimal `json:"total_volume_m3"`
}

func (r PreviewRequest) Validate() error {
	return validateRequest("preview", r, r.TotalVolumeM3)
}

func validateRequest(kind string, req interface{}, volume decimal.Decimal) error {
	if err := validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
			}
			return fmt.Errorf("invalid %s request: %s", kind, strings.Join(fields, ", "))
		}
		return err
	}
	if volume.IsNegative() {
		return fmt.Errorf("invalid %s request: volume must not be negative", kind)
	}
	return nil
}

func (r PreviewRequest) ToRecord() reconcile.BatchRecord {
	return reconcile.BatchRecord{
		ID:            r.ID,
		Timestamp:     r.Timestamp,
		ClientName:    r.ClientName,
		FormulaCode:   r.FormulaCode,
		TotalVolumeM3: r.TotalVolumeM3,
	}
}

// PreviewResponse shows the decision a run would apply and every candidate
// behind it.
type PreviewResponse struct {
	Decision   reconcile.LinkDecision      `json:"decision"`
	Date       string                      `json:"date"`
	Candidates []reconcile.ScoredCandidate `json:"candidates"`
}

// BatchRequest records a production batch from the batching console.
type BatchRequest struct {
	ID            string          `json:"id" validate:"required,max=64"`
	ProducedAt    time.Time       `json:"produced_at" validate:"required"`
	ClientName    string          `json:"client_name" validate:"required,max=200"`
	FormulaCode   string          `json:"formula_code" validate:"max=64"`
	TotalVolumeM3 decimal.Decimal `json:"total_volume_m3"`
}

func (r BatchRequest) Validate() error {
	return validateRequest("batch", r, r.TotalVolumeM3)
}

func (r BatchRequest) ToModel() *batches.Batch {
	return &batches.Batch{
		ID:            r.ID,
		ProducedAt:    r.ProducedAt,
		ClientName:    r.ClientName,
		FormulaCode:   r.FormulaCode,
		TotalVolumeM3: r.TotalVolumeM3,
	}
}

// OrderRequest enters a delivery order. ScheduledTime is optional.
type OrderRequest struct {
	ID            string          `json:"id" validate:"required,max=64"`
	ClientName    string          `json:"client_name" validate:"required,max=200"`
	FormulaCode   string          `json:"formula_code" validate:"max=64"`
	VolumeM3      decimal.Decimal `json:"volume_m3"`
	ScheduledTime *time.Time      `json:"scheduled_time,omitempty"`
	DeliveryDate  civil.Date      `json:"delivery_date"`
}

func (r OrderRequest) Validate() error {
	if err := validateRequest("order", r, r.VolumeM3); err != nil {
		return err
	}
	if !r.DeliveryDate.IsValid() {
		return fmt.Errorf("invalid order request: delivery_date required")
	}
	return nil
}

func (r OrderRequest) ToModel() *orders.Order {
	return &orders.Order{
		ID:            r.ID,
		ClientName:    r.ClientName,
		FormulaCode:   r.FormulaCode,
		VolumeM3:      r.VolumeM3,
		ScheduledTime: r.ScheduledTime,
		DeliveryDate:  datatypes.Date(r.DeliveryDate.In(time.UTC)),
	}
}
