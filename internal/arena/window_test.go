package arena

import (
	"errors"
	"testing"
	"time"
)

func date(y int, m time.Month, d, hh int) time.Time {
	return time.Date(y, m, d, hh, 30, 0, 0, time.UTC)
}

func TestRankingsWindowWeekly(t *testing.T) {
	cases := []struct {
		name string
		ref  time.Time
		want string
	}{
		{"wednesday", date(2024, time.May, 15, 12), "2024-05-12"},
		{"sunday is its own anchor", date(2024, time.May, 12, 0), "2024-05-12"},
		{"saturday", date(2024, time.May, 18, 23), "2024-05-12"},
		{"monday after anchor", date(2024, time.May, 13, 1), "2024-05-12"},
		{"crosses month boundary", date(2024, time.June, 1, 9), "2024-05-26"},
		{"crosses year boundary", date(2025, time.January, 2, 9), "2024-12-29"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := RankingsWindow(Weekly, tc.ref)
			if got := w.StartDate(); got != tc.want {
				t.Fatalf("start = %s, want %s", got, tc.want)
			}
			if w.Start.Weekday() != RankingsAnchor {
				t.Fatalf("start weekday = %s", w.Start.Weekday())
			}
			if w.Start.Hour() != 0 || w.Start.Minute() != 0 {
				t.Fatalf("start should be midnight, got %s", w.Start)
			}
		})
	}
}

func TestRankingsWindowMonthly(t *testing.T) {
	cases := []struct {
		ref  time.Time
		want string
	}{
		{date(2024, time.May, 15, 12), "2024-05-01"},
		{date(2024, time.May, 1, 0), "2024-05-01"},
		{date(2024, time.February, 29, 23), "2024-02-01"},
		{date(2024, time.December, 31, 23), "2024-12-01"},
	}
	for _, tc := range cases {
		if got := RankingsWindow(Monthly, tc.ref).StartDate(); got != tc.want {
			t.Fatalf("ref %s: start = %s, want %s", tc.ref, got, tc.want)
		}
	}
}

func TestRankingsWindowKeepsLocation(t *testing.T) {
	loc := time.FixedZone("UTC+9", 9*3600)
	// 2024-05-11 20:00 UTC is already Sunday 05:00 in UTC+9.
	ref := time.Date(2024, time.May, 11, 20, 0, 0, 0, time.UTC).In(loc)
	w := RankingsWindow(Weekly, ref)
	if got := w.StartDate(); got != "2024-05-12" {
		t.Fatalf("start = %s, want 2024-05-12", got)
	}
	if w.Start.Location() != loc {
		t.Fatalf("location = %s", w.Start.Location())
	}
}

func TestStatsWindow(t *testing.T) {
	ref := date(2024, time.March, 1, 10)
	cases := []struct {
		p     Period
		days  int
		start time.Time
	}{
		{Daily, 1, date(2024, time.February, 29, 10)},
		{Weekly, 7, date(2024, time.February, 23, 10)},
		{Monthly, 30, date(2024, time.January, 31, 10)},
	}
	for _, tc := range cases {
		w := StatsWindow(tc.p, ref)
		if w.RangeDays != tc.days {
			t.Fatalf("%s: range = %d, want %d", tc.p, w.RangeDays, tc.days)
		}
		if !w.Start.Equal(tc.start) {
			t.Fatalf("%s: start = %s, want %s", tc.p, w.Start, tc.start)
		}
	}
}

func TestParsePeriod(t *testing.T) {
	for in, want := range map[string]Period{"daily": Daily, " Weekly ": Weekly, "MONTHLY": Monthly} {
		got, err := ParsePeriod(in)
		if err != nil || got != want {
			t.Fatalf("ParsePeriod(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParsePeriod("yearly"); !errors.Is(err, ErrInvalidPeriod) {
		t.Fatalf("expected ErrInvalidPeriod, got %v", err)
	}
}
