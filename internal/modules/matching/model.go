// README: Scoring inputs, weights and ranked candidates.
package matching

import "courierdispatch/internal/types"

// Weights are percentages; DefaultWeights sum to 100.
type Weights struct {
	Distance    float64
	Performance float64
	Rating      float64
	OnTime      float64
	Capacity    float64
}

var DefaultWeights = Weights{
	Distance:    40,
	Performance: 25,
	Rating:      15,
	OnTime:      10,
	Capacity:    10,
}

// ScoreInput is everything the scorer needs about one courier/job pair.
type ScoreInput struct {
	CourierID        types.ID
	Location         *types.Point
	Pickup           types.Point
	MaxDistanceKm    float64
	PerformanceScore float64 // 0..100
	Rating           float64 // 0..5
	OnTimeRate       float64 // 0..100
	ActiveJobs       int
	MaxJobs          int
}

type Candidate struct {
	CourierID  types.ID `json:"courier_id"`
	DistanceKm float64  `json:"distance_km"`
	Score      float64  `json:"score"`
}
