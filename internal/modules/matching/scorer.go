// README: GeoScorer computes courier suitability for a job and ranks candidates.
package matching

import (
	"cmp"
	"slices"
)

// Score returns the candidate and true when the courier is eligible for the job.
// A courier is ineligible when it has no location, no free capacity, or is
// farther from the pickup than the job allows.
func Score(in ScoreInput) (Candidate, bool) {
	return ScoreWith(DefaultWeights, in)
}

func ScoreWith(w Weights, in ScoreInput) (Candidate, bool) {
	if in.Location == nil || in.MaxDistanceKm <= 0 {
		return Candidate{}, false
	}
	if in.MaxJobs <= 0 || in.ActiveJobs >= in.MaxJobs {
		return Candidate{}, false
	}
	d := Haversine(*in.Location, in.Pickup)
	if d > in.MaxDistanceKm {
		return Candidate{}, false
	}

	closeness := unit((in.MaxDistanceKm - d) / in.MaxDistanceKm)
	perf := unit(in.PerformanceScore / 100)
	rating := unit(in.Rating / 5)
	onTime := unit(in.OnTimeRate / 100)
	headroom := unit(1 - float64(in.ActiveJobs)/float64(in.MaxJobs))

	score := w.Distance*closeness +
		w.Performance*perf +
		w.Rating*rating +
		w.OnTime*onTime +
		w.Capacity*headroom

	return Candidate{CourierID: in.CourierID, DistanceKm: d, Score: score}, true
}

// Rank sorts candidates best first: score desc, distance asc, courier id asc.
func Rank(cands []Candidate) {
	slices.SortStableFunc(cands, func(a, b Candidate) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		if c := cmp.Compare(a.DistanceKm, b.DistanceKm); c != 0 {
			return c
		}
		return cmp.Compare(a.CourierID, b.CourierID)
	})
}

// ScoreAll scores every input, drops the ineligible ones and returns them ranked.
func ScoreAll(inputs []ScoreInput) []Candidate {
	out := make([]Candidate, 0, len(inputs))
	for _, in := range inputs {
		if c, ok := Score(in); ok {
			out = append(out, c)
		}
	}
	Rank(out)
	return out
}

func unit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
