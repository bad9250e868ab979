// Package timeutil provides calendar-date helpers for academic records.
// Grades, enrollments and study sessions are compared as civil dates: the
// wall-clock date in the location the timestamp was recorded in.
package timeutil

import (
	"time"
)

// DateLayout is the ISO layout used for date keys.
const DateLayout = "2006-01-02"

// Date creates a UTC midnight for the given civil date.
func Date(year, month, day int) time.Time {
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
}

// DateTime creates a UTC time with the given date and clock.
func DateTime(year, month, day, hour, min int) time.Time {
	return time.Date(year, time.Month(month), day, hour, min, 0, 0, time.UTC)
}

// DateOnly drops the clock and the location, keeping the civil date in UTC.
func DateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// DateKey formats the civil date of t as YYYY-MM-DD.
func DateKey(t time.Time) string {
	return t.Format(DateLayout)
}

// ParseDate parses a YYYY-MM-DD string into a UTC date.
func ParseDate(value string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, value, time.UTC)
}

// DaysBetween returns the signed number of calendar days from a to b.
func DaysBetween(a, b time.Time) int {
	d := DateOnly(b).Sub(DateOnly(a))
	return int(d.Hours() / 24)
}

// SameDay reports whether a and b fall on the same civil date.
func SameDay(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month() && a.Day() == b.Day()
}

// IsWeekend reports whether t is a Saturday or Sunday.
func IsWeekend(t time.Time) bool {
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// MonthIn reports whether t's month is one of months.
func MonthIn(t time.Time, months ...time.Month) bool {
	m := t.Month()
	for _, candidate := range months {
		if m == candidate {
			return true
		}
	}
	return false
}

// AcademicPeriod maps a date to its teaching period: months 2-6 are period 1,
// months 8-12 are period 2. January and July are recess and return ok=false.
func AcademicPeriod(t time.Time) (year int, period int, ok bool) {
	m := int(t.Month())
	switch {
	case m >= 2 && m <= 6:
		return t.Year(), 1, true
	case m >= 8 && m <= 12:
		return t.Year(), 2, true
	default:
		return 0, 0, false
	}
}

// FourMonthPeriod splits the year into three blocks of four months (1..3).
func FourMonthPeriod(t time.Time) (year int, period int) {
	return t.Year(), (int(t.Month())-1)/4 + 1
}

// YearMonth returns a sortable year*100+month key.
func YearMonth(t time.Time) int {
	return t.Year()*100 + int(t.Month())
}
