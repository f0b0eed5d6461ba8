// README: ETA estimator tests across time bands.
package eta

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"courierdispatch/internal/types"
)

func TestEstimator_Estimate(t *testing.T) {
	from := types.Point{Lat: 13.7565, Lng: 121.0583}
	to := types.Point{Lat: 13.7600, Lng: 121.0600}
	far := types.Point{Lat: 13.8465, Lng: 121.0583} // ~10 km north

	baseTime := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	peakTime := time.Date(2026, 2, 10, 8, 0, 0, 0, time.UTC)
	eveningTime := time.Date(2026, 2, 10, 19, 59, 0, 0, time.UTC)
	nightTime := time.Date(2026, 2, 10, 23, 30, 0, 0, time.UTC)
	earlyTime := time.Date(2026, 2, 10, 5, 0, 0, 0, time.UTC)

	e := NewEstimator(25, nil)

	tests := []struct {
		name     string
		to       types.Point
		at       time.Time
		wantBand string
		wantMin  time.Duration
		wantMax  time.Duration
	}{
		// 10 km * 1.3 / 25 km/h = 31.2 min
		{"off-peak", far, baseTime, "normal", 31 * time.Minute, 32 * time.Minute},
		// 25 * 0.6 = 15 km/h -> 52 min
		{"morning peak", far, peakTime, "morning_peak", 51 * time.Minute, 53 * time.Minute},
		{"evening peak edge", far, eveningTime, "evening_peak", 51 * time.Minute, 53 * time.Minute},
		// 25 * 1.3 = 32.5 km/h -> 24 min
		{"night", far, nightTime, "night", 23 * time.Minute, 25 * time.Minute},
		{"night wraps past midnight", far, earlyTime, "night", 23 * time.Minute, 25 * time.Minute},
		{"short hop", to, baseTime, "normal", time.Second, 2 * time.Minute},
		{"same point", from, baseTime, "normal", 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := e.Estimate(from, tt.to, tt.at)
			assert.Equal(t, tt.wantBand, got.Band)
			assert.GreaterOrEqual(t, got.Duration, tt.wantMin)
			assert.LessOrEqual(t, got.Duration, tt.wantMax)
		})
	}
}

func TestEstimator_Location(t *testing.T) {
	manila := time.FixedZone("PHT", 8*3600)
	e := NewEstimator(25, manila)
	// 00:30 UTC is 08:30 in Manila
	got := e.Estimate(types.Point{}, types.Point{Lat: 0.01}, time.Date(2026, 2, 10, 0, 30, 0, 0, time.UTC))
	assert.Equal(t, "morning_peak", got.Band)
}

func TestEstimator_DefaultsAndCustomBands(t *testing.T) {
	e := NewEstimator(0, nil).WithBands(nil)
	got := e.Estimate(types.Point{}, types.Point{Lat: 0.2248}, time.Date(2026, 2, 10, 8, 0, 0, 0, time.UTC))
	// ~25 km at 25 km/h with detour -> 78 min, no band applies
	assert.Equal(t, "normal", got.Band)
	assert.InDelta(t, 78, got.Duration.Minutes(), 1)
}
