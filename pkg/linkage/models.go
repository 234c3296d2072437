package linkage

import (
	"time"

	"github.com/batchplant/platform/pkg/reconcile"
	"gorm.io/datatypes"
)

// BatchLink is the persisted decision for one batch. A re-run overwrites the
// row; there is never more than one per batch.
type BatchLink struct {
	BatchID        string                                       `json:"batch_id" gorm:"primaryKey;column:batch_id"`
	OrderID        *string                                      `json:"order_id,omitempty" gorm:"column:order_id;index"`
	State          string                                       `json:"state" gorm:"column:state;index"`
	Confidence     int                                          `json:"confidence" gorm:"column:confidence"`
	Breakdown      datatypes.JSONType[reconcile.ScoreBreakdown] `json:"breakdown" gorm:"column:breakdown"`
	CandidateCount int                                          `json:"candidate_count" gorm:"column:candidate_count"`
	CreatedAt      time.Time                                    `json:"created_at" gorm:"column:created_at"`
	UpdatedAt      time.Time                                    `json:"updated_at" gorm:"column:updated_at"`
}

func (BatchLink) TableName() string {
	return "batch_links"
}

func FromDecision(d reconcile.LinkDecision) BatchLink {
	var orderID *string
	if d.LinkedOrderID != nil {
		id := *d.LinkedOrderID
		orderID = &id
	}
	return BatchLink{
		BatchID:        d.BatchID,
		OrderID:        orderID,
		State:          string(d.State),
		Confidence:     d.Confidence,
		Breakdown:      datatypes.NewJSONType(d.Breakdown),
		CandidateCount: d.CandidateCount,
	}
}

func (l BatchLink) ToDecision() reconcile.LinkDecision {
	var orderID *string
	if l.OrderID != nil {
		id := *l.OrderID
		orderID = &id
	}
	return reconcile.LinkDecision{
		BatchID:        l.BatchID,
		LinkedOrderID:  orderID,
		Confidence:     l.Confidence,
		State:          reconcile.LinkState(l.State),
		Breakdown:      l.Breakdown.Data(),
		CandidateCount: l.CandidateCount,
	}
}
