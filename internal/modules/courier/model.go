// README: Courier aggregate as seen by the dispatcher.
package courier

import (
	"errors"
	"time"

	"courierdispatch/internal/types"
)

var (
	ErrNotFound         = errors.New("courier not found")
	ErrCapacityExceeded = errors.New("courier capacity exceeded")
)

type Location struct {
	Point      types.Point `json:"point"`
	AccuracyM  *float64    `json:"accuracy_m,omitempty"`
	RecordedAt time.Time   `json:"recorded_at"`
}

type Courier struct {
	ID               types.ID  `json:"id"`
	Online           bool      `json:"online"`
	Verified         bool      `json:"verified"`
	Location         *Location `json:"location,omitempty"`
	ActiveJobs       int       `json:"active_jobs"`
	MaxJobs          int       `json:"max_jobs"`
	PerformanceScore float64   `json:"performance_score"`
	Rating           float64   `json:"rating"`
	OnTimeRate       float64   `json:"on_time_rate"`
	TimeoutStrikes   int       `json:"timeout_strikes"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Available reports whether the courier may be offered a new job.
func (c Courier) Available() bool {
	return c.Online && c.Verified && c.Location != nil && c.ActiveJobs < c.MaxJobs
}

func (c Courier) clone() Courier {
	cp := c
	if c.Location != nil {
		loc := *c.Location
		if c.Location.AccuracyM != nil {
			acc := *c.Location.AccuracyM
			loc.AccuracyM = &acc
		}
		cp.Location = &loc
	}
	return cp
}
