package clock

import (
	"testing"
	"time"
)

func TestPeriod(t *testing.T) {
	tests := []struct {
		name string
		at   time.Time
		want string
	}{
		{"mid month", time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC), "2026-10"},
		{"first instant", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), "2026-01"},
		{"non utc zone", time.Date(2026, 3, 1, 1, 0, 0, 0, time.FixedZone("JST", 9*3600)), "2026-02"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Period(NewFixed(tt.at)); got != tt.want {
				t.Errorf("Period() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLastDays(t *testing.T) {
	c := NewFixed(time.Date(2026, 10, 16, 23, 30, 0, 0, time.FixedZone("PDT", -7*3600)))

	if got, want := Today(c), time.Date(2026, 10, 17, 0, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Errorf("Today() = %v, want %v", got, want)
	}

	start, end := LastDays(c, 30)
	if want := time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC); !end.Equal(want) {
		t.Errorf("LastDays() end = %v, want %v", end, want)
	}
	if want := time.Date(2026, 9, 18, 0, 0, 0, 0, time.UTC); !start.Equal(want) {
		t.Errorf("LastDays() start = %v, want %v", start, want)
	}
}

func TestFuncClock(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	calls := 0
	c := FuncClock(func() time.Time {
		calls++
		return base.Add(time.Duration(calls) * time.Hour)
	})

	if got := c.Now(); !got.Equal(base.Add(time.Hour)) {
		t.Errorf("first Now() = %v", got)
	}
	if got := c.Now(); !got.Equal(base.Add(2 * time.Hour)) {
		t.Errorf("second Now() = %v", got)
	}
}
