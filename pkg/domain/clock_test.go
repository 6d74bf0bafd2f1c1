package domain

import (
	"testing"
	"time"
)

func TestStartOfDay(t *testing.T) {
	in := time.Date(2024, 3, 5, 23, 59, 59, 999, time.UTC)
	got := StartOfDay(in)
	want := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("StartOfDay = %v, want %v", got, want)
	}
}

func TestCalendarDaysBetween(t *testing.T) {
	cases := []struct {
		name     string
		from, to time.Time
		want     int
	}{
		{
			name: "same day different hours",
			from: time.Date(2024, 3, 5, 1, 0, 0, 0, time.UTC),
			to:   time.Date(2024, 3, 5, 23, 0, 0, 0, time.UTC),
			want: 0,
		},
		{
			name: "three days later",
			from: time.Date(2024, 3, 5, 22, 0, 0, 0, time.UTC),
			to:   time.Date(2024, 3, 8, 1, 0, 0, 0, time.UTC),
			want: 3,
		},
		{
			name: "negative when to precedes from",
			from: time.Date(2024, 3, 8, 0, 0, 0, 0, time.UTC),
			to:   time.Date(2024, 3, 6, 12, 0, 0, 0, time.UTC),
			want: -2,
		},
		{
			name: "across month boundary",
			from: time.Date(2024, 2, 28, 12, 0, 0, 0, time.UTC),
			to:   time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
			want: 2,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CalendarDaysBetween(tc.from, tc.to); got != tc.want {
				t.Fatalf("CalendarDaysBetween = %d, want %d", got, tc.want)
			}
		})
	}
}
