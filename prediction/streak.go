package prediction

import "time"

// MaxStreakWeeks bounds how far back Streak looks.
const MaxStreakWeeks = 52

const week = 7 * 24 * time.Hour

// Streak counts consecutive seven-day windows ending at now that each contain
// at least one timestamp. Window i covers (now-7(i+1)d, now-7i d]; counting
// stops at the first empty window.
func Streak(now time.Time, timestamps []time.Time) int {
	if len(timestamps) == 0 {
		return 0
	}
	streak := 0
	for i := 0; i < MaxStreakWeeks; i++ {
		end := now.Add(-time.Duration(i) * week)
		start := end.Add(-week)
		if !anyWithin(timestamps, start, end) {
			break
		}
		streak++
	}
	return streak
}

func anyWithin(timestamps []time.Time, start, end time.Time) bool {
	for _, ts := range timestamps {
		if ts.After(start) && !ts.After(end) {
			return true
		}
	}
	return false
}
