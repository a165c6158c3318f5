package core

// Verdict labels produced by the rule-based scorer, indexed by tier.
var dealVerdicts = [...]string{
	1: "Bad Deal ❌",
	2: "Poor Deal ⚠️",
	3: "Fair Deal ⭐",
	4: "Good Deal ⭐⭐",
	5: "Exceptional Deal ⭐⭐⭐",
}

// Short verdict names an LLM is asked to answer with, indexed by tier.
var shortVerdicts = [...]string{
	1: "Bad",
	2: "Poor",
	3: "Fair",
	4: "Good",
	5: "Exceptional",
}

// VerdictTier buckets a 0-100 score into five ordered levels:
// >=90 -> 5, >=75 -> 4, >=60 -> 3, >=40 -> 2, else 1.
//
// It is the only place these boundaries live; the rule scorer and the
// disagreement resolver both go through it.
func VerdictTier(score float64) int {
	switch {
	case score >= 90:
		return 5
	case score >= 75:
		return 4
	case score >= 60:
		return 3
	case score >= 40:
		return 2
	default:
		return 1
	}
}

// DealVerdict returns the rule-based verdict label for a score.
func DealVerdict(score float64) string { return dealVerdicts[VerdictTier(score)] }

// ShortVerdict returns the one-word verdict for a score.
func ShortVerdict(score float64) string { return shortVerdicts[VerdictTier(score)] }

// ShortVerdicts lists the accepted one-word verdicts from best to worst.
func ShortVerdicts() []string {
	return []string{shortVerdicts[5], shortVerdicts[4], shortVerdicts[3], shortVerdicts[2], shortVerdicts[1]}
}
