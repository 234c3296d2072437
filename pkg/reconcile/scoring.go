package reconcile

import (
	"time"

	"github.com/shopspring/decimal"
)

type volumeLimit struct {
	maxDiff decimal.Decimal
	points  int
}

// Scorer awards factor points for a batch/order pair. All methods are pure.
type Scorer struct {
	policy            Policy
	volumeLimits      []volumeLimit
	clientSimilarity  Similarity
	formulaSimilarity Similarity
}

type ScorerOption func(*Scorer)

func WithClientSimilarity(fn Similarity) ScorerOption {
	return func(s *Scorer) {
		if fn != nil {
			s.clientSimilarity = fn
		}
	}
}

func WithFormulaSimilarity(fn Similarity) ScorerOption {
	return func(s *Scorer) {
		if fn != nil {
			s.formulaSimilarity = fn
		}
	}
}

func NewScorer(policy Policy, opts ...ScorerOption) *Scorer {
	limits := make([]volumeLimit, 0, len(policy.VolumeBands))
	for _, b := range policy.VolumeBands {
		limits = append(limits, volumeLimit{maxDiff: decimal.NewFromFloat(b.MaxRelativeDiff), points: b.Points})
	}
	s := &Scorer{
		policy:            policy,
		volumeLimits:      limits,
		clientSimilarity:  NameSimilarity,
		formulaSimilarity: CodeSimilarity,
	}
	if policy.ClientMatcher == MatcherJaroWinkler {
		s.clientSimilarity = FuzzyNameSimilarity(policy.ClientFuzzyMin)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Scorer) Policy() Policy {
	return s.policy
}

// Score evaluates all four factors.
func (s *Scorer) Score(batch BatchRecord, order OrderRecord) ScoreBreakdown {
	return ScoreBreakdown{
		Time:    s.TimeScore(batch.Timestamp, order.ScheduledTime),
		Client:  s.ClientScore(batch.ClientName, order.ClientName),
		Volume:  s.VolumeScore(batch.TotalVolumeM3, order.VolumeM3),
		Formula: s.FormulaScore(batch.FormulaCode, order.FormulaCode),
	}
}

// TimeScore uses the first band wide enough for the gap. Orders outside the
// window score 0 but stay candidates; unscheduled orders get a flat score.
func (s *Scorer) TimeScore(produced time.Time, scheduled *time.Time) int {
	if scheduled == nil {
		return s.policy.UnscheduledPoints
	}
	gap := produced.Sub(*scheduled)
	if gap < 0 {
		gap = -gap
	}
	for _, band := range s.policy.TimeBands {
		if gap <= band.Within {
			return band.Points
		}
	}
	return 0
}

func (s *Scorer) ClientScore(batchName, orderName string) int {
	switch s.clientSimilarity(batchName, orderName) {
	case MatchExact:
		return s.policy.ClientExactPoints
	case MatchPartial:
		return s.policy.ClientPartialPoints
	}
	return 0
}

// VolumeScore grades |order - batch| / batch. A non-positive batch volume
// has no meaningful ratio and scores 0.
func (s *Scorer) VolumeScore(batchVolume, orderVolume decimal.Decimal) int {
	if !batchVolume.IsPositive() {
		return 0
	}
	diff := orderVolume.Sub(batchVolume).Abs().Div(batchVolume)
	for _, limit := range s.volumeLimits {
		if diff.LessThanOrEqual(limit.maxDiff) {
			return limit.points
		}
	}
	return 0
}

// FormulaScore is all or nothing: equal codes and containment both count.
func (s *Scorer) FormulaScore(batchCode, orderCode string) int {
	if s.formulaSimilarity(batchCode, orderCode) == MatchNone {
		return 0
	}
	return s.policy.FormulaPoints
}
