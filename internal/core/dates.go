package core

import (
	"strings"
	"time"
)

// DateLayout is the wire and storage format of a calendar date.
const DateLayout = "2006-01-02"

// ParseDate parses a YYYY-MM-DD calendar date.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, ErrInvalidDate
	}
	return Date{Time: t}, nil
}

// DateOf returns the calendar date t falls on, in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return NewDate(y, int(m), d)
}

// Today returns the calendar date of now.
func Today(now time.Time) Date {
	return DateOf(now)
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.utc().Format(DateLayout)
}

// Equal reports whether both dates name the same calendar day.
func (d Date) Equal(other Date) bool {
	if d.IsZero() || other.IsZero() {
		return d.IsZero() && other.IsZero()
	}
	return d.utc().Equal(other.utc())
}

// Before reports whether d is an earlier calendar day than other.
func (d Date) Before(other Date) bool {
	return d.utc().Before(other.utc())
}

// After reports whether d is a later calendar day than other.
func (d Date) After(other Date) bool {
	return d.utc().After(other.utc())
}

// AddDays moves d by n calendar days.
func (d Date) AddDays(n int) Date {
	y, m, day := d.Time.Date()
	return NewDate(y, int(m), day+n)
}

func (d Date) utc() time.Time {
	y, m, day := d.Time.Date()
	return time.Date(y, m, day, 0, 0, 0, 0, time.UTC)
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// AddMonthsClamped moves d by n months, clamping to the last day of the
// target month when the day does not exist there (Jan 31 + 1 -> Feb 28/29).
func AddMonthsClamped(d Date, n int) Date {
	y, m, day := d.Time.Date()
	first := time.Date(y, m+time.Month(n), 1, 0, 0, 0, 0, time.UTC)
	if last := daysIn(first.Year(), first.Month()); day > last {
		day = last
	}
	return NewDate(first.Year(), int(first.Month()), day)
}

// AddYearsClamped moves d by n years. Feb 29 maps to Feb 28 in non-leap years.
func AddYearsClamped(d Date, n int) Date {
	return AddMonthsClamped(d, 12*n)
}

// DaysUntil returns the signed number of calendar days from the date of now
// to target. Zero means today, negative means past.
func DaysUntil(target Date, now time.Time) int {
	today := Today(now)
	return int(target.utc().Sub(today.utc()) / (24 * time.Hour))
}

// NextRenewalDate advances current by exactly one billing period. A custom
// period without a positive day count returns current unchanged.
func NextRenewalDate(current Date, period BillingPeriod, customDays *int) Date {
	switch period {
	case Yearly:
		return AddYearsClamped(current, 1)
	case Custom:
		if customDays != nil && *customDays > 0 {
			return current.AddDays(*customDays)
		}
		return current
	default:
		return AddMonthsClamped(current, 1)
	}
}

// AdvanceUntil rolls current forward by whole billing periods until it is on
// or after today. It stops early when a step does not move the date.
func AdvanceUntil(current Date, period BillingPeriod, customDays *int, today Date) Date {
	for current.Before(today) {
		next := NextRenewalDate(current, period, customDays)
		if !next.After(current) {
			break
		}
		current = next
	}
	return current
}
