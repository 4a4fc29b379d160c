package report

import "math"

// Shares is a histogram folded into the three Core Web Vitals ratings.
type Shares struct {
	Good             float64 `json:"good"`
	NeedsImprovement float64 `json:"needs_improvement"`
	Poor             float64 `json:"poor"`
}

// BucketShares folds a good / needs-improvement / poor histogram into Shares.
// Buckets are expected low to high; extra buckets beyond the third count as
// poor. Returns false for an empty histogram or one whose proportions are not
// finite.
func BucketShares(buckets []Bucket) (Shares, bool) {
	if len(buckets) == 0 {
		return Shares{}, false
	}

	var s Shares
	for i, b := range buckets {
		if math.IsNaN(b.Proportion) || math.IsInf(b.Proportion, 0) {
			return Shares{}, false
		}
		switch i {
		case 0:
			s.Good = b.Proportion
		case 1:
			s.NeedsImprovement = b.Proportion
		default:
			s.Poor += b.Proportion
		}
	}
	return s, true
}

// Total returns the summed proportion, close to 1 for a complete histogram.
func (s Shares) Total() float64 {
	return s.Good + s.NeedsImprovement + s.Poor
}
