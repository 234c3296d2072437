package reconcile

import (
	"cmp"
	"slices"
)

// Rank scores every candidate and orders them by confidence, highest first.
// Equal confidences are ordered by order ID so the winner of a tie does not
// depend on retrieval order.
func (s *Scorer) Rank(batch BatchRecord, candidates []OrderRecord) []ScoredCandidate {
	ranked := make([]ScoredCandidate, 0, len(candidates))
	for _, order := range candidates {
		breakdown := s.Score(batch, order)
		ranked = append(ranked, ScoredCandidate{
			Order:      order,
			Breakdown:  breakdown,
			Confidence: breakdown.Confidence(),
		})
	}

	slices.SortStableFunc(ranked, func(a, b ScoredCandidate) int {
		if c := cmp.Compare(b.Confidence, a.Confidence); c != 0 {
			return c
		}
		return cmp.Compare(a.Order.ID, b.Order.ID)
	})
	return ranked
}
