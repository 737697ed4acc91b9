package calendar

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidTime = errors.New("invalid time of day")
	ErrInvalidDate = errors.New("invalid date")
)

// DateLayout is the ISO calendar date used in persisted records.
const DateLayout = "2006-01-02"

// operatorDateLayout is the day-first form typed at the front desk.
const operatorDateLayout = "02-01-2006"

// TimeOfDay is a wall-clock time expressed in minutes after midnight.
type TimeOfDay int

// Clock builds a TimeOfDay from hours and minutes.
func Clock(hour, minute int) TimeOfDay {
	return TimeOfDay(hour*60 + minute)
}

// ParseTimeOfDay parses "HH:MM".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	s = strings.TrimSpace(s)
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTime, s)
	}
	return Clock(t.Hour(), t.Minute()), nil
}

func (t TimeOfDay) Hour() int   { return int(t) / 60 }
func (t TimeOfDay) Minute() int { return int(t) % 60 }

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour(), t.Minute())
}

// Add shifts the time by d, truncated to whole minutes.
func (t TimeOfDay) Add(d time.Duration) TimeOfDay {
	return t + TimeOfDay(d/time.Minute)
}

// On anchors the time of day to the given calendar date.
func (t TimeOfDay) On(date time.Time) time.Time {
	y, m, d := date.Date()
	return time.Date(y, m, d, t.Hour(), t.Minute(), 0, 0, date.Location())
}

func (t TimeOfDay) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *TimeOfDay) UnmarshalText(b []byte) error {
	v, err := ParseTimeOfDay(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Day returns the calendar date of t at midnight UTC.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate accepts ISO dates (2025-05-05) and operator dates (05-05-2025).
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{DateLayout, operatorDateLayout} {
		if d, err := time.Parse(layout, s); err == nil {
			return d, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
}

// FormatDate renders the ISO form of a date.
func FormatDate(d time.Time) string {
	return d.Format(DateLayout)
}

// WeekStart returns the Monday of the week containing d.
func WeekStart(d time.Time) time.Time {
	d = Day(d)
	offset := (int(d.Weekday()) + 6) % 7
	return d.AddDate(0, 0, -offset)
}

// WeekIndex numbers the week containing d relative to the week containing ref,
// starting at 1. Weeks before ref yield values below 1.
func WeekIndex(ref, d time.Time) int {
	days := int(WeekStart(d).Sub(WeekStart(ref)).Hours() / 24)
	return floorDiv(days, 7) + 1
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
