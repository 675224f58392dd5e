package schedule

import "time"

// FirstDue computes when a freshly created broadcast may send for the
// first time.
//
// With no clock constraint the task is due immediately, unless today's
// weekday is disallowed, in which case it is due at the start of the
// earliest allowed later day. With a clock constraint (minute of day,
// 0..1439) the task is due today at that minute if that moment is still
// ahead and today is allowed; otherwise on the earliest allowed later day
// at that minute.
func FirstDue(minute *int, days WeekdaySet, now time.Time) time.Time {
	today := DayIndex(now.Weekday())

	if minute == nil {
		if days.IsZero() || days.Contains(today) {
			return now
		}
		return startOfDay(now).AddDate(0, 0, daysUntilNext(days, today))
	}

	at := startOfDay(now).Add(time.Duration(*minute) * time.Minute)
	if at.After(now) && (days.IsZero() || days.Contains(today)) {
		return at
	}
	return at.AddDate(0, 0, daysUntilNext(days, today))
}

// NextDue computes the due time of send i+1 given the completion time of
// send i. The candidate is lastSent+delay; when the candidate lands on a
// disallowed weekday it is pushed forward, keeping the candidate's
// time of day, to the chronologically next allowed day (wrapping into the
// following week when this week has none left).
func NextDue(lastSent time.Time, delay time.Duration, days WeekdaySet) time.Time {
	cand := lastSent.Add(delay)
	if days.IsZero() {
		return cand
	}
	d := DayIndex(cand.Weekday())
	if days.Contains(d) {
		return cand
	}
	return cand.AddDate(0, 0, daysUntilNext(days, d))
}

// daysUntilNext returns how many days ahead of `from` the next allowed
// weekday lies, always at least 1. An empty set means every day.
func daysUntilNext(days WeekdaySet, from int) int {
	if days.IsZero() {
		return 1
	}
	for k := 1; k <= 7; k++ {
		if days.Contains((from + k) % 7) {
			return k
		}
	}
	return 7
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
