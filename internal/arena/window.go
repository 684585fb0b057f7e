package arena

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Period is a lookback keyword accepted by the arena commands.
type Period string

const (
	Daily   Period = "daily"
	Weekly  Period = "weekly"
	Monthly Period = "monthly"
)

// RankingsAnchor is the weekday a rankings week starts on.
const RankingsAnchor = time.Sunday

var ErrInvalidPeriod = errors.New("invalid period")

// Window is a resolved lookback. RangeDays is set for stats windows; Start is
// the inclusive lower boundary.
type Window struct {
	Period    Period
	RangeDays int
	Start     time.Time
}

// StartDate renders Start as a calendar date (2006-01-02).
func (w Window) StartDate() string { return w.Start.Format(time.DateOnly) }

// ParsePeriod accepts daily, weekly or monthly (case-insensitive).
func ParsePeriod(s string) (Period, error) {
	switch p := Period(strings.ToLower(strings.TrimSpace(s))); p {
	case Daily, Weekly, Monthly:
		return p, nil
	default:
		return "", fmt.Errorf("%w %q (use daily, weekly or monthly)", ErrInvalidPeriod, s)
	}
}

// StatsWindow maps a period to a day-count lookback ending at ref.
func StatsWindow(p Period, ref time.Time) Window {
	days := 1
	switch p {
	case Weekly:
		days = 7
	case Monthly:
		days = 30
	}
	return Window{Period: p, RangeDays: days, Start: ref.AddDate(0, 0, -days)}
}

// RankingsWindow maps weekly to the most recent anchor weekday on or before
// ref's date, and anything else to the first day of ref's month. Both
// boundaries are midnight in ref's location.
func RankingsWindow(p Period, ref time.Time) Window {
	y, m, d := ref.Date()
	if p == Weekly {
		back := (int(ref.Weekday()) - int(RankingsAnchor) + 7) % 7
		return Window{Period: p, Start: time.Date(y, m, d-back, 0, 0, 0, 0, ref.Location())}
	}
	return Window{Period: Monthly, Start: time.Date(y, m, 1, 0, 0, 0, 0, ref.Location())}
}
