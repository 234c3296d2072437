package reconcile

import (
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// LinkState is the classification of a single reconciliation run.
type LinkState string

const (
	StateAutoLinked    LinkState = "AUTO_LINKED"
	StatePendingReview LinkState = "PENDING_REVIEW"
	StateNoMatch       LinkState = "NO_MATCH"
)

func (s LinkState) Valid() bool {
	switch s {
	case StateAutoLinked, StatePendingReview, StateNoMatch:
		return true
	}
	return false
}

// BatchRecord is a production event emitted by the batching console. It is
// read-only input to a run.
type BatchRecord struct {
	ID            string          `json:"id"`
	Timestamp     time.Time       `json:"timestamp"`
	ClientName    string          `json:"client_name"`
	FormulaCode   string          `json:"formula_code"`
	TotalVolumeM3 decimal.Decimal `json:"total_volume_m3"`
}

// OrderRecord is a delivery order candidate. ScheduledTime is nil when the
// order only carries a delivery date.
type OrderRecord struct {
	ID            string          `json:"id"`
	ClientName    string          `json:"client_name"`
	FormulaCode   string          `json:"formula_code"`
	VolumeM3      decimal.Decimal `json:"volume_m3"`
	ScheduledTime *time.Time      `json:"scheduled_time,omitempty"`
	DeliveryDate  civil.Date      `json:"delivery_date"`
}

// ScoreBreakdown holds the points awarded by each factor.
type ScoreBreakdown struct {
	Time    int `json:"time"`
	Client  int `json:"client"`
	Volume  int `json:"volume"`
	Formula int `json:"formula"`
}

// Confidence is the sum of all factor points.
func (b ScoreBreakdown) Confidence() int {
	return b.Time + b.Client + b.Volume + b.Formula
}

type ScoredCandidate struct {
	Order      OrderRecord    `json:"order"`
	Breakdown  ScoreBreakdown `json:"breakdown"`
	Confidence int            `json:"confidence"`
}

// LinkDecision is the outcome of one run for one batch. It holds no wall
// clock values so that re-running with the same inputs yields an equal value.
type LinkDecision struct {
	BatchID        string         `json:"batch_id"`
	LinkedOrderID  *string        `json:"linked_order_id,omitempty"`
	Confidence     int            `json:"confidence"`
	State          LinkState      `json:"state"`
	Breakdown      ScoreBreakdown `json:"breakdown"`
	CandidateCount int            `json:"candidate_count"`
}

// OrderID returns the linked order or "" when the decision carries no link.
func (d LinkDecision) OrderID() string {
	if d.LinkedOrderID == nil {
		return ""
	}
	return *d.LinkedOrderID
}

// Equal reports whether two decisions would persist identically.
func (d LinkDecision) Equal(other LinkDecision) bool {
	return d.BatchID == other.BatchID &&
		d.OrderID() == other.OrderID() &&
		(d.LinkedOrderID == nil) == (other.LinkedOrderID == nil) &&
		d.Confidence == other.Confidence &&
		d.State == other.State &&
		d.Breakdown == other.Breakdown &&
		d.CandidateCount == other.CandidateCount
}
