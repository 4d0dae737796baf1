package timewindow

import (
	"testing"
	"time"
)

func mustLoad(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	if err != nil {
		t.Fatalf("loading location %q: %v", name, err)
	}
	return loc
}

func TestInWindow(t *testing.T) {
	kolkata := mustLoad(t, "Asia/Kolkata")

	tests := []struct {
		name       string
		start, end string
		tz         string
		days       []string
		now        time.Time
		want       bool
	}{
		{
			name:  "S1: weekday business hours, inside",
			start: "09:00:00", end: "18:00:00", tz: "Asia/Kolkata",
			days: []string{"Mon", "Tue", "Wed", "Thu", "Fri"},
			now:  time.Date(2024, 1, 2, 10, 0, 0, 0, kolkata), // Tuesday
			want: true,
		},
		{
			name:  "S2: weekday business hours, after close",
			start: "09:00:00", end: "18:00:00", tz: "Asia/Kolkata",
			days: []string{"Mon", "Tue", "Wed", "Thu", "Fri"},
			now:  time.Date(2024, 1, 5, 20, 0, 0, 0, kolkata), // Friday
			want: false,
		},
		{
			name:  "weekend excluded",
			start: "00:00:00", end: "23:59:59", tz: "Asia/Kolkata",
			days: []string{"Mon", "Tue", "Wed", "Thu", "Fri"},
			now:  time.Date(2024, 1, 6, 12, 0, 0, 0, kolkata), // Saturday
			want: false,
		},
		{
			name:  "right endpoint exclusive",
			start: "09:00:00", end: "18:00:00", tz: "Asia/Kolkata",
			days: []string{"Mon", "Tue", "Wed", "Thu", "Fri"},
			now:  time.Date(2024, 1, 2, 18, 0, 0, 0, kolkata),
			want: false,
		},
		{
			name:  "S3: overnight window, inside before midnight",
			start: "22:00:00", end: "06:00:00", tz: "Asia/Kolkata",
			days: []string{"Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"},
			now:  time.Date(2024, 1, 2, 23, 30, 0, 0, kolkata),
			want: true,
		},
		{
			name:  "overnight window, inside after midnight",
			start: "22:00:00", end: "06:00:00", tz: "Asia/Kolkata",
			days: []string{"Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"},
			now:  time.Date(2024, 1, 3, 3, 0, 0, 0, kolkata),
			want: true,
		},
		{
			name:  "overnight window, outside midday",
			start: "22:00:00", end: "06:00:00", tz: "Asia/Kolkata",
			days: []string{"Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"},
			now:  time.Date(2024, 1, 3, 12, 0, 0, 0, kolkata),
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := InWindow(tt.start, tt.end, tt.tz, tt.days, tt.now)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("InWindow() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestInWindowRejectsBadTimezone(t *testing.T) {
	_, err := InWindow("09:00:00", "18:00:00", "Not/ARealZone", []string{"Mon"}, time.Now())
	if err == nil {
		t.Fatal("expected error for invalid timezone")
	}
}

func TestInWindowDSTSpringForward(t *testing.T) {
	// America/New_York: 2024-03-10, clocks jump from 02:00 to 03:00.
	ny := mustLoad(t, "America/New_York")
	now := time.Date(2024, 3, 10, 2, 30, 0, 0, ny) // time.Date resolves this to 01:30 EST (06:30 UTC)
	got, err := InWindow("01:00:00", "02:30:00", "America/New_York", []string{"Sun"}, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// The window's end (02:30 local, within the skipped hour) falls at the
	// transition instant, 03:00 EDT (07:00 UTC). now, at 06:30 UTC, lies
	// between the 01:00 EST start and that end, so it is inside the window.
	if !got {
		t.Fatalf("InWindow() = %v, want true (window end in the gap moves to the 07:00 UTC transition)", got)
	}
}
