package reconcile

// Classify maps a confidence to a link state.
func (p Policy) Classify(confidence int) LinkState {
	switch {
	case confidence >= p.AutoLinkThreshold:
		return StateAutoLinked
	case confidence >= p.ReviewThreshold:
		return StatePendingReview
	default:
		return StateNoMatch
	}
}

// Decide builds the decision from a ranked candidate list. Only the top
// candidate is considered; NO_MATCH decisions never carry an order.
func (p Policy) Decide(batchID string, ranked []ScoredCandidate) LinkDecision {
	decision := LinkDecision{
		BatchID:        batchID,
		State:          StateNoMatch,
		CandidateCount: len(ranked),
	}
	if len(ranked) == 0 {
		return decision
	}

	top := ranked[0]
	decision.Confidence = top.Confidence
	decision.Breakdown = top.Breakdown
	decision.State = p.Classify(top.Confidence)
	if decision.State != StateNoMatch {
		orderID := top.Order.ID
		decision.LinkedOrderID = &orderID
	}
	return decision
}
