// README: ETA estimator; straight-line distance over a time-of-day speed profile.
package eta

import (
	"math"
	"time"

	"courierdispatch/internal/modules/matching"
	"courierdispatch/internal/types"
)

const (
	defaultSpeedKmh = 25.0
	// detour accounts for road distance exceeding the great-circle one.
	detour = 1.3
)

type Estimator struct {
	speedKmh float64
	bands    []Band
	loc      *time.Location
}

// NewEstimator uses DefaultBands evaluated in loc (UTC when nil).
func NewEstimator(speedKmh float64, loc *time.Location) *Estimator {
	if speedKmh <= 0 {
		speedKmh = defaultSpeedKmh
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Estimator{speedKmh: speedKmh, bands: DefaultBands, loc: loc}
}

func (e *Estimator) WithBands(bands []Band) *Estimator {
	cp := *e
	cp.bands = bands
	return &cp
}

// Estimate returns the travel time from one point to another when departing at at.
func (e *Estimator) Estimate(from, to types.Point, at time.Time) Estimate {
	km := matching.Haversine(from, to)
	speed, band := e.speedAt(at)
	hours := km * detour / speed
	secs := math.Ceil(hours * 3600)
	return Estimate{
		DistanceKm: km,
		Duration:   time.Duration(secs) * time.Second,
		Band:       band,
	}
}

func (e *Estimator) speedAt(at time.Time) (float64, string) {
	hour := at.In(e.loc).Hour()
	for _, b := range e.bands {
		if b.contains(hour) {
			return e.speedKmh * b.Factor, b.Name
		}
	}
	return e.speedKmh, "normal"
}
