package core

import (
	"fmt"
	"strings"
	"time"
)

const (
	dayLayout   = "2006-01-02"
	monthLayout = "2006-01"
)

type Date struct {
	time.Time
}

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to its calendar day in UTC.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return NewDate(y, int(m), d)
}

// ParseDay parses a YYYY-MM-DD calendar date.
func ParseDay(s string) (Date, error) {
	t, err := time.Parse(dayLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("%w: %q", ErrInvalidDay, s)
	}
	return Date{Time: t}, nil
}

// ParseMonth parses a month key. Both YYYY-MM and YYYY-MM-DD are accepted;
// the result is always the first day of that month.
func ParseMonth(s string) (Date, error) {
	s = strings.TrimSpace(s)
	if len(s) == len(dayLayout) {
		d, err := ParseDay(s)
		if err != nil {
			return Date{}, fmt.Errorf("%w: %q", ErrInvalidMonth, s)
		}
		return d.MonthStart(), nil
	}
	t, err := time.Parse(monthLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("%w: %q", ErrInvalidMonth, s)
	}
	return Date{Time: t}, nil
}

func (d Date) Validate() error {
	if d.IsZero() {
		return fmt.Errorf("%w: date cannot be zero", ErrInvalidDay)
	}
	return nil
}

// String renders the date as YYYY-MM-DD.
func (d Date) String() string {
	return d.Format(dayLayout)
}

// MonthKey renders the date as YYYY-MM.
func (d Date) MonthKey() string {
	return d.Format(monthLayout)
}

// MondayOf returns the Monday starting the ISO week that contains d.
// Sunday belongs to the week that started six days earlier.
func (d Date) MondayOf() Date {
	wd := int(d.Weekday())
	back := wd - 1
	if d.Weekday() == time.Sunday {
		back = 6
	}
	return Date{Time: d.AddDate(0, 0, -back)}
}

// MonthStart returns the first day of d's month.
func (d Date) MonthStart() Date {
	return NewDate(d.Year(), int(d.Month()), 1)
}

// MonthEnd returns the last day of d's month.
func (d Date) MonthEnd() Date {
	return Date{Time: d.MonthStart().AddDate(0, 1, -1)}
}

// AddMonths shifts a first-of-month date by n calendar months.
func (d Date) AddMonths(n int) Date {
	return Date{Time: d.MonthStart().AddDate(0, n, 0)}
}

// Before reports whether d is strictly before o.
func (d Date) Before(o Date) bool {
	return d.Time.Before(o.Time)
}

// After reports whether d is strictly after o.
func (d Date) After(o Date) bool {
	return d.Time.After(o.Time)
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + d.String() + `"`), nil
}

// DateRange is an inclusive calendar window. A zero bound is open.
type DateRange struct {
	Start Date
	End   Date
}

// Year returns the inclusive range covering a whole calendar year.
func Year(y int) DateRange {
	return DateRange{Start: NewDate(y, 1, 1), End: NewDate(y, 12, 31)}
}

func (r DateRange) Validate() error {
	if !r.Start.IsZero() && !r.End.IsZero() && r.Start.After(r.End) {
		return ErrInvalidRange
	}
	return nil
}

// Contains reports whether d falls inside the range.
func (r DateRange) Contains(d Date) bool {
	if !r.Start.IsZero() && d.Before(r.Start) {
		return false
	}
	if !r.End.IsZero() && d.After(r.End) {
		return false
	}
	return true
}
