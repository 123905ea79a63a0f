package scheduler

import (
	"testing"
	"time"
)

func TestMarketHours_IsOpen(t *testing.T) {
	hours := USEquityHours()
	loc := hours.Location

	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"monday mid-session", time.Date(2026, 8, 24, 12, 0, 0, 0, loc), true},
		{"monday at open", time.Date(2026, 8, 24, 9, 30, 0, 0, loc), true},
		{"monday before open", time.Date(2026, 8, 24, 9, 29, 0, 0, loc), false},
		{"monday at close", time.Date(2026, 8, 24, 16, 0, 0, 0, loc), false},
		{"saturday", time.Date(2026, 8, 29, 12, 0, 0, 0, loc), false},
		{"sunday", time.Date(2026, 8, 30, 12, 0, 0, 0, loc), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := hours.IsOpen(tt.at); got != tt.want {
				t.Errorf("IsOpen(%s) = %v, want %v", tt.at, got, tt.want)
			}
		})
	}
}

func TestMarketHours_AlwaysOpen(t *testing.T) {
	hours := MarketHours{AlwaysOpen: true}
	if !hours.IsOpen(time.Date(2026, 8, 30, 3, 0, 0, 0, time.UTC)) {
		t.Error("AlwaysOpen must ignore weekday and session window")
	}
}

func TestMarketHours_TimezoneConversion(t *testing.T) {
	hours := USEquityHours()
	// 14:30 UTC в августе (EDT, UTC-4) — это 10:30 в Нью-Йорке, сессия открыта
	if !hours.IsOpen(time.Date(2026, 8, 24, 14, 30, 0, 0, time.UTC)) {
		t.Error("14:30 UTC on a Monday must be inside the US session")
	}
	// 01:00 UTC вторника — 21:00 понедельника в Нью-Йорке, сессия закрыта
	if hours.IsOpen(time.Date(2026, 8, 25, 1, 0, 0, 0, time.UTC)) {
		t.Error("01:00 UTC must be outside the US session")
	}
}
