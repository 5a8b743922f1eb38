package utils

import (
	"time"

	"efriend-trader/internal/models"
)

// SeoulLocation is the timezone order dates are reported in.
var SeoulLocation *time.Location

// NewYorkLocation is the timezone of the US regular session.
var NewYorkLocation *time.Location

func init() {
	var err error
	SeoulLocation, err = time.LoadLocation("Asia/Seoul")
	if err != nil {
		SeoulLocation = time.FixedZone("KST", 9*60*60)
	}
	NewYorkLocation, err = time.LoadLocation("America/New_York")
	if err != nil {
		NewYorkLocation = time.FixedZone("EST", -5*60*60)
	}
}

// Now returns the current time in Seoul.
func Now() time.Time {
	return time.Now().In(SeoulLocation)
}

// SessionOpen reports whether the regular session of m is open at t.
// Domestic trades 09:00-15:30 KST, overseas follows the US 09:30-16:00 ET session.
func SessionOpen(m models.Market, t time.Time) bool {
	var local time.Time
	var open, close int
	switch m {
	case models.Domestic:
		local = t.In(SeoulLocation)
		open, close = 9*60, 15*60+30
	case models.Overseas:
		local = t.In(NewYorkLocation)
		open, close = 9*60+30, 16*60
	default:
		return false
	}
	if local.Weekday() == time.Saturday || local.Weekday() == time.Sunday {
		return false
	}
	minutes := local.Hour()*60 + local.Minute()
	return minutes >= open && minutes < close
}
