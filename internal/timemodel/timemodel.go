// Package timemodel converts affiliation years into wall-clock spans.
package timemodel

import "time"

const (
	// DaysPerYear is the number of real days in one affiliation year.
	DaysPerYear = 7
	// MaxYears is the longest contract duration.
	MaxYears = 8
	// MaxDurationDays is the longest contract span in real days.
	MaxDurationDays = MaxYears * DaysPerYear

	day = 24 * time.Hour
)

// ClampYears bounds years to [1, MaxYears].
func ClampYears(years int) int {
	if years < 1 {
		return 1
	}
	if years > MaxYears {
		return MaxYears
	}
	return years
}

// YearsToExpiry returns the expiry for a contract of the given length starting at start,
// together with the duration actually applied after clamping.
func YearsToExpiry(start time.Time, years int) (time.Time, int) {
	years = ClampYears(years)
	days := years * DaysPerYear
	if days > MaxDurationDays {
		days = MaxDurationDays
		years = MaxYears
	}
	return start.Add(time.Duration(days) * day), years
}

// Span returns the wall-clock length of a contract of the given years.
func Span(years int) time.Duration {
	exp, _ := YearsToExpiry(time.Time{}, years)
	return exp.Sub(time.Time{})
}

// YearsBetween re-derives whole affiliation years from a start and expiry.
func YearsBetween(start, expiry time.Time) int {
	return int(expiry.Sub(start) / (DaysPerYear * day))
}
