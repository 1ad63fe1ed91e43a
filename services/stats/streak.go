package stats

import "time"

// NextStreak applies the day boundary rule in loc: first activity starts a
// streak of 1, another activity the same day keeps it, the next calendar day
// extends it and any longer gap restarts it at 1. A last activity that lies
// in the future (clock skew) leaves the streak as is.
func NextStreak(current int64, last *time.Time, now time.Time, loc *time.Location) int64 {
	if last == nil {
		return 1
	}
	if loc == nil {
		loc = time.UTC
	}

	switch days := calendarDays(last.In(loc), now.In(loc)); {
	case days <= 0:
		return max(current, 1)
	case days == 1:
		return max(current, 0) + 1
	default:
		return 1
	}
}

func calendarDays(from, to time.Time) int {
	fy, fm, fd := from.Date()
	ty, tm, td := to.Date()
	a := time.Date(fy, fm, fd, 0, 0, 0, 0, time.UTC)
	b := time.Date(ty, tm, td, 0, 0, 0, 0, time.UTC)
	return int(b.Sub(a).Hours() / 24)
}

// streakCutoff is the start of yesterday in loc. A profile whose last
// activity is older can no longer extend its streak.
func streakCutoff(now time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := now.In(loc).Date()
	return time.Date(y, m, d-1, 0, 0, 0, 0, loc)
}
