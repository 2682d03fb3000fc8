package scheduler

import "time"

// Regular session bounds, minutes from midnight local to the exchange
const (
	sessionOpenMinutes  = 9*60 + 30
	sessionCloseMinutes = 16 * 60
)

// MarketOpen reports whether t falls inside regular trading hours:
// weekdays 09:30-16:00 in the exchange time zone.
func MarketOpen(t time.Time, loc *time.Location) bool {
	local := t.In(loc)
	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	minutes := local.Hour()*60 + local.Minute()
	return minutes >= sessionOpenMinutes && minutes < sessionCloseMinutes
}
