package saga

import (
	"cmp"
	"slices"
)

// DefaultSecondaryMin is the confidence a non-primary result needs to be
// kept as a secondary.
const DefaultSecondaryMin = 0.5

// Aggregation is the merged view of a saga run.
type Aggregation struct {
	// Primary is the highest-confidence successful result, nil when no
	// branch succeeded.
	Primary *Result `json:"primary"`
	// Secondary holds the other successful results at or above the
	// secondary threshold, by descending confidence.
	Secondary []Result `json:"secondary"`

	Succeeded []string `json:"succeeded"`
	Failed    []string `json:"failed"`
	TimedOut  []string `json:"timed_out"`
}

// Degraded reports whether no branch succeeded.
func (a Aggregation) Degraded() bool {
	return a.Primary == nil
}

// Aggregate ranks successful results by confidence. Ties keep branch order.
func Aggregate(results []Result, secondaryMin float64) Aggregation {
	agg := Aggregation{Secondary: []Result{}}

	var ok []Result
	for _, r := range results {
		switch r.Status {
		case Succeeded:
			ok = append(ok, r)
			agg.Succeeded = append(agg.Succeeded, r.Branch)
		case TimedOut:
			agg.TimedOut = append(agg.TimedOut, r.Branch)
		default:
			agg.Failed = append(agg.Failed, r.Branch)
		}
	}
	if len(ok) == 0 {
		return agg
	}

	slices.SortStableFunc(ok, func(a, b Result) int {
		return cmp.Compare(b.Confidence, a.Confidence)
	})

	primary := ok[0]
	agg.Primary = &primary
	for _, r := range ok[1:] {
		if r.Confidence >= secondaryMin {
			agg.Secondary = append(agg.Secondary, r)
		}
	}
	return agg
}
