// Package timewindow decides whether a schedule's active window contains a
// given instant, honoring day-of-week membership, IANA timezone semantics,
// and overnight (wraparound) windows.
package timewindow

import (
	"fmt"
	"time"
)

var weekdayAbbrev = [...]string{"Sun", "Mon", "Tue", "Wed", "Thu", "Fri", "Sat"}

// InWindow reports whether now falls inside the window [startHMS, endHMS)
// on days in activeDays, evaluated in tz. startHMS and endHMS are "HH:MM:SS"
// strings. If endHMS is earlier than startHMS the window is treated as
// spanning midnight. The right endpoint is exclusive.
func InWindow(startHMS, endHMS, tz string, activeDays []string, now time.Time) (bool, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return false, fmt.Errorf("loading timezone %q: %w", tz, err)
	}

	local := now.In(loc)

	if !dayActive(local.Weekday(), activeDays) {
		return false, nil
	}

	startTOD, err := parseHMS(startHMS)
	if err != nil {
		return false, fmt.Errorf("parsing start time %q: %w", startHMS, err)
	}
	endTOD, err := parseHMS(endHMS)
	if err != nil {
		return false, fmt.Errorf("parsing end time %q: %w", endHMS, err)
	}

	startToday := atTimeOfDay(local, startTOD, loc)
	endToday := atTimeOfDay(local, endTOD, loc)

	if endToday.Before(startToday) {
		// Overnight window: the end belongs to the following calendar day.
		endToday = atTimeOfDay(local.AddDate(0, 0, 1), endTOD, loc)
	}

	return !local.Before(startToday) && local.Before(endToday), nil
}

func dayActive(day time.Weekday, activeDays []string) bool {
	abbrev := weekdayAbbrev[day]
	for _, d := range activeDays {
		if d == abbrev {
			return true
		}
	}
	return false
}

type timeOfDay struct {
	hour, min, sec int
}

func parseHMS(s string) (timeOfDay, error) {
	var t timeOfDay
	if _, err := fmt.Sscanf(s, "%d:%d:%d", &t.hour, &t.min, &t.sec); err != nil {
		return timeOfDay{}, err
	}
	if t.hour < 0 || t.hour > 23 || t.min < 0 || t.min > 59 || t.sec < 0 || t.sec > 59 {
		return timeOfDay{}, fmt.Errorf("time of day out of range: %q", s)
	}
	return t, nil
}

// atTimeOfDay combines base's calendar date with tod, in loc. A wall-clock
// time that does not exist on the civil calendar (the "spring forward" gap)
// resolves to the transition instant, so a window boundary landing in that
// gap falls where the clocks jump.
func atTimeOfDay(base time.Time, tod timeOfDay, loc *time.Location) time.Time {
	t := time.Date(base.Year(), base.Month(), base.Day(), tod.hour, tod.min, tod.sec, 0, loc)
	if t.Hour() != tod.hour || t.Minute() != tod.min || t.Second() != tod.sec {
		// time.Date places a gap time before the transition; the zone in
		// effect at t ends at the transition instant.
		if _, end := t.ZoneBounds(); end.After(t) {
			return end
		}
	}
	return t
}
