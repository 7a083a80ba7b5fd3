package processor

import (
	"time"

	"github.com/NeoboundAI/Skiddly-sub000/internal/domain"
)

// callWindow reports whether calls may be placed right now under the agent's
// schedule, and when the window next opens if not. An unparseable or missing
// schedule leaves the window permanently open.
func callWindow(now time.Time, s domain.CallSchedule) (bool, time.Time) {
	loc := time.UTC
	if s.Timezone != "" {
		if l, err := time.LoadLocation(s.Timezone); err == nil {
			loc = l
		}
	}
	local := now.In(loc)

	startH, startM, okStart := parseClock(s.CallTimeStart)
	endH, endM, okEnd := parseClock(s.CallTimeEnd)
	if !okStart || !okEnd {
		return true, time.Time{}
	}

	dayOK := s.WeekendCalling || !isWeekend(local.Weekday())
	open := time.Date(local.Year(), local.Month(), local.Day(), startH, startM, 0, 0, loc)
	close := time.Date(local.Year(), local.Month(), local.Day(), endH, endM, 0, 0, loc)

	if dayOK && !local.Before(open) && local.Before(close) {
		return true, time.Time{}
	}

	// Walk forward to the next allowed day's opening time.
	next := open
	if !local.Before(close) || !dayOK {
		next = open.AddDate(0, 0, 1)
	}
	for !s.WeekendCalling && isWeekend(next.Weekday()) {
		next = next.AddDate(0, 0, 1)
	}
	return false, next.In(time.UTC)
}

func isWeekend(d time.Weekday) bool {
	return d == time.Saturday || d == time.Sunday
}

// parseClock parses "HH:MM" 24-hour clock strings.
func parseClock(v string) (int, int, bool) {
	if len(v) != 5 || v[2] != ':' {
		return 0, 0, false
	}
	h := int(v[0]-'0')*10 + int(v[1]-'0')
	m := int(v[3]-'0')*10 + int(v[4]-'0')
	if v[0] < '0' || v[0] > '9' || v[1] < '0' || v[1] > '9' ||
		v[3] < '0' || v[3] > '9' || v[4] < '0' || v[4] > '9' {
		return 0, 0, false
	}
	if h > 23 || m > 59 {
		return 0, 0, false
	}
	return h, m, true
}
