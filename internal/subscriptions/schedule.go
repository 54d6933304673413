package subscriptions

import (
	"time"

	"github.com/angelmondragon/billingz-backend/pkg/enums"
)

// NextTransactionTime advances a wall-clock due time by exactly one
// frequency increment. Monthly and yearly steps clamp the day of month to
// the target month's length, so Jan 31 bills Feb 28 and Feb 29 bills the
// following Feb 28 on non-leap years.
func NextTransactionTime(freq enums.PlanFrequency, from time.Time) time.Time {
	switch freq {
	case enums.PlanFrequencyDaily:
		return from.AddDate(0, 0, 1)
	case enums.PlanFrequencyWeekly:
		return from.AddDate(0, 0, 7)
	case enums.PlanFrequencyMonthly:
		return addMonthsClamped(from, 1)
	case enums.PlanFrequencyYearly:
		return addMonthsClamped(from, 12)
	default:
		return from.AddDate(0, 0, 1)
	}
}

func addMonthsClamped(t time.Time, months int) time.Time {
	firstOfTarget := time.Date(t.Year(), t.Month()+time.Month(months), 1,
		t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	day := t.Day()
	if last := firstOfTarget.AddDate(0, 1, -1).Day(); day > last {
		day = last
	}
	return time.Date(firstOfTarget.Year(), firstOfTarget.Month(), day,
		t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}
