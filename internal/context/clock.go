package context

import (
	"time"
	_ "time/tzdata"
)

// Reference timezone for the time-aware system prompt.
const (
	ReferenceTimezone = "America/Los_Angeles"
	ReferenceLabel    = "Pacific Time"
)

const (
	dateLayout  = "Monday, January 02, 2006"
	clockLayout = "3:04 PM"
)

// ReferenceLocation returns the reference timezone. The embedded tzdata makes
// the load independent of the host; the fixed-offset fallback is only hit if
// the zone name itself is rejected.
func ReferenceLocation() *time.Location {
	loc, err := time.LoadLocation(ReferenceTimezone)
	if err != nil {
		return time.FixedZone("PST", -8*60*60)
	}
	return loc
}

// FormatClock renders now in loc as a long date ("Tuesday, March 05, 2024")
// and a 12-hour clock without a leading zero ("9:07 AM").
func FormatClock(now time.Time, loc *time.Location) (date, clock string) {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	return local.Format(dateLayout), local.Format(clockLayout)
}
