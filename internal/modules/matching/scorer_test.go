// README: Scoring, eligibility and ranking tests.
package matching

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"courierdispatch/internal/types"
)

var pickupJ1 = types.Point{Lat: 13.7600, Lng: 121.0600}

func input(id string, loc *types.Point) ScoreInput {
	return ScoreInput{
		CourierID:        types.ID(id),
		Location:         loc,
		Pickup:           pickupJ1,
		MaxDistanceKm:    10,
		PerformanceScore: 80,
		Rating:           4.8,
		OnTimeRate:       90,
		ActiveJobs:       0,
		MaxJobs:          3,
	}
}

func TestScore_NearCourierEligible(t *testing.T) {
	c, ok := Score(input("C1", &types.Point{Lat: 13.7565, Lng: 121.0583}))
	require.True(t, ok)
	assert.Less(t, c.DistanceKm, 1.0)
	assert.Greater(t, c.Score, 80.0)
	assert.LessOrEqual(t, c.Score, 100.0)
}

func TestScore_BeyondMaxDistanceIneligible(t *testing.T) {
	_, ok := Score(input("C2", &types.Point{Lat: 13.90, Lng: 121.20}))
	assert.False(t, ok)
}

func TestScore_NoLocationIneligible(t *testing.T) {
	_, ok := Score(input("C3", nil))
	assert.False(t, ok)
}

func TestScore_FullCapacityIneligible(t *testing.T) {
	in := input("C4", &pickupJ1)
	in.ActiveJobs = 3
	_, ok := Score(in)
	assert.False(t, ok)
}

func TestScore_PerfectCourierAtPickup(t *testing.T) {
	in := input("C5", &pickupJ1)
	in.PerformanceScore, in.Rating, in.OnTimeRate = 100, 5, 100
	c, ok := Score(in)
	require.True(t, ok)
	assert.InDelta(t, 100.0, c.Score, 1e-9)
}

func TestScore_TermsClampedToUnit(t *testing.T) {
	in := input("C6", &pickupJ1)
	in.PerformanceScore, in.Rating, in.OnTimeRate = 250, 9, -10
	c, ok := Score(in)
	require.True(t, ok)
	assert.InDelta(t, 40+25+15+0+10, c.Score, 1e-9)
}

func TestScore_MonotonicInDistance(t *testing.T) {
	prev := 101.0
	for i := 0; i <= 20; i++ {
		loc := types.Point{Lat: pickupJ1.Lat + float64(i)*0.004, Lng: pickupJ1.Lng}
		c, ok := Score(input("C", &loc))
		if !ok {
			assert.Greater(t, Haversine(loc, pickupJ1), 10.0)
			continue
		}
		assert.LessOrEqual(t, c.Score, prev, "step %d", i)
		prev = c.Score
	}
}

func TestScore_NeverScoresBeyondMaxDistance(t *testing.T) {
	for lat := 13.0; lat < 14.5; lat += 0.01 {
		loc := types.Point{Lat: lat, Lng: 121.06}
		_, ok := Score(input("C", &loc))
		if Haversine(loc, pickupJ1) > 10 {
			assert.False(t, ok, "lat %f", lat)
		}
	}
}

func TestRank_TieBreaks(t *testing.T) {
	cands := []Candidate{
		{CourierID: "b", DistanceKm: 1, Score: 50},
		{CourierID: "a", DistanceKm: 1, Score: 50},
		{CourierID: "c", DistanceKm: 0.5, Score: 50},
		{CourierID: "d", DistanceKm: 9, Score: 70},
	}
	Rank(cands)
	ids := []types.ID{cands[0].CourierID, cands[1].CourierID, cands[2].CourierID, cands[3].CourierID}
	assert.Equal(t, []types.ID{"d", "c", "a", "b"}, ids)
}

func TestScoreAll_FiltersAndRanks(t *testing.T) {
	near := types.Point{Lat: 13.7565, Lng: 121.0583}
	mid := types.Point{Lat: 13.80, Lng: 121.06}
	far := types.Point{Lat: 13.90, Lng: 121.20}
	got := ScoreAll([]ScoreInput{input("mid", &mid), input("far", &far), input("near", &near)})
	require.Len(t, got, 2)
	assert.Equal(t, types.ID("near"), got[0].CourierID)
	assert.Equal(t, types.ID("mid"), got[1].CourierID)
}
