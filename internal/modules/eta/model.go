// README: ETA speed profile; travel speed varies by time of day.
package eta

import "time"

// Band is a half-open local-time window [StartHour, EndHour) with a speed multiplier.
// A band with EndHour < StartHour wraps past midnight.
type Band struct {
	Name      string
	StartHour int
	EndHour   int
	Factor    float64
}

func (b Band) contains(hour int) bool {
	if b.StartHour <= b.EndHour {
		return hour >= b.StartHour && hour < b.EndHour
	}
	return hour >= b.StartHour || hour < b.EndHour
}

// DefaultBands slows couriers in the commuter peaks and speeds them up at night.
var DefaultBands = []Band{
	{Name: "morning_peak", StartHour: 7, EndHour: 9, Factor: 0.6},
	{Name: "evening_peak", StartHour: 17, EndHour: 20, Factor: 0.6},
	{Name: "night", StartHour: 23, EndHour: 6, Factor: 1.3},
}

type Estimate struct {
	DistanceKm float64       `json:"distance_km"`
	Duration   time.Duration `json:"duration"`
	Band       string        `json:"band"`
}
