// Package streak derives journaling streaks from entry timestamps.
package streak

import (
	"slices"
	"time"
)

// Streak counts consecutive calendar days with at least one journal entry.
// Current is the run ending today, or yesterday when nothing was written yet
// today; Longest is the best run ever.
type Streak struct {
	Current int `json:"current"`
	Longest int `json:"longest"`
}

// day numbers a calendar date in loc, independent of DST shifts.
func day(t time.Time, loc *time.Location) int64 {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix() / 86400
}

// Compute is a pure function of its arguments: the order of times and
// duplicates within a day do not matter. A nil loc means UTC.
func Compute(times []time.Time, now time.Time, loc *time.Location) Streak {
	if loc == nil {
		loc = time.UTC
	}
	if len(times) == 0 {
		return Streak{}
	}

	days := make([]int64, 0, len(times))
	for _, t := range times {
		days = append(days, day(t, loc))
	}
	slices.Sort(days)
	days = slices.Compact(days)

	var s Streak
	run := 0
	for i, d := range days {
		if i > 0 && d == days[i-1]+1 {
			run++
		} else {
			run = 1
		}
		s.Longest = max(s.Longest, run)
	}

	today := day(now, loc)
	last := days[len(days)-1]
	// Entries dated in the future count as today.
	if last >= today-1 {
		s.Current = run
	}
	return s
}
