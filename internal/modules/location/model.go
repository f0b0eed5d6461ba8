// README: Courier location samples as ingested and stored in history.
package location

import (
	"errors"
	"fmt"
	"math"
	"time"

	"courierdispatch/internal/types"
)

var ErrInvalidSample = errors.New("invalid location sample")

type Sample struct {
	CourierID  types.ID    `json:"courier_id"`
	Point      types.Point `json:"point"`
	AccuracyM  *float64    `json:"accuracy_m,omitempty"`
	SpeedMps   *float64    `json:"speed_mps,omitempty"`
	HeadingDeg *float64    `json:"heading_deg,omitempty"`
	RecordedAt time.Time   `json:"recorded_at"`
}

func (s Sample) Validate() error {
	if s.CourierID == "" {
		return fmt.Errorf("%w: courier id required", ErrInvalidSample)
	}
	if err := s.Point.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSample, err)
	}
	if bad(s.AccuracyM, 0, math.Inf(1)) {
		return fmt.Errorf("%w: accuracy", ErrInvalidSample)
	}
	if bad(s.SpeedMps, 0, math.Inf(1)) {
		return fmt.Errorf("%w: speed", ErrInvalidSample)
	}
	if bad(s.HeadingDeg, 0, 360) {
		return fmt.Errorf("%w: heading", ErrInvalidSample)
	}
	return nil
}

// bad reports whether an optional reading is outside [lo, hi].
func bad(v *float64, lo, hi float64) bool {
	if v == nil {
		return false
	}
	return math.IsNaN(*v) || math.IsInf(*v, 0) || *v < lo || *v > hi
}
