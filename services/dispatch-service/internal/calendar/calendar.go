// Package calendar adapts the operational solar-Hijri calendar (day
// granularity, used for all booking dates) to the rest of the
// scheduler. Gregorian time appears only at the conversion boundary;
// every downstream comparison operates on Date values, never on raw
// strings.
package calendar

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"

	ptime "github.com/yaa110/go-persian-calendar"
)

// ErrInvalidFormat is returned by ParseStrict for anything that is not
// a canonical YYYY/MM/DD string encoding a real calendar day.
var ErrInvalidFormat = errors.New("invalid date format")

// Date is a solar-Hijri (year, month, day) triple. Totally ordered,
// compared by value. Immutable.
type Date struct {
	Year  int
	Month int
	Day   int
}

// Moment is a calendar day plus the hour of day, the finest
// granularity the scheduler reasons about.
type Moment struct {
	Date Date
	Hour int
}

var datePattern = regexp.MustCompile(`^(\d{4})/(\d{2})/(\d{2})$`)

// Format renders d in the canonical YYYY/MM/DD form.
func Format(d Date) string {
	return fmt.Sprintf("%04d/%02d/%02d", d.Year, d.Month, d.Day)
}

// ParseStrict parses a canonical YYYY/MM/DD string. Any deviation from
// the pattern, or an impossible day-of-month, fails with
// ErrInvalidFormat.
func ParseStrict(s string) (Date, error) {
	m := datePattern.FindStringSubmatch(s)
	if m == nil {
		return Date{}, ErrInvalidFormat
	}
	year, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	day, _ := strconv.Atoi(m[3])
	if year < 1 || month < 1 || month > 12 {
		return Date{}, ErrInvalidFormat
	}
	if day < 1 || day > DaysInMonth(year, month) {
		return Date{}, ErrInvalidFormat
	}
	return Date{Year: year, Month: month, Day: day}, nil
}

// DaysInMonth reports the length of a solar-Hijri month: months 1-6
// have 31 days, 7-11 have 30, and Esfand has 29 (30 in leap years).
func DaysInMonth(year, month int) int {
	switch {
	case month >= 1 && month <= 6:
		return 31
	case month >= 7 && month <= 11:
		return 30
	case month == 12:
		if isLeap(year) {
			return 30
		}
		return 29
	default:
		return 0
	}
}

func isLeap(year int) bool {
	return ptime.Date(year, ptime.Farvardin, 1, 0, 0, 0, 0, ptime.Iran()).IsLeap()
}

// AddDays returns d shifted by n calendar days (n may be negative).
// The shift goes through linear time so month and year boundaries are
// handled by the calendar itself.
func AddDays(d Date, n int) Date {
	// Noon keeps the round trip clear of DST transitions.
	g := ptime.Date(d.Year, ptime.Month(d.Month), d.Day, 12, 0, 0, 0, ptime.Iran()).Time()
	return fromPersian(ptime.New(g.AddDate(0, 0, n)))
}

// Compare orders two dates: -1 if a precedes b, 0 if equal, 1 if a
// follows b.
func Compare(a, b Date) int {
	switch {
	case a.Year != b.Year:
		return sign(a.Year - b.Year)
	case a.Month != b.Month:
		return sign(a.Month - b.Month)
	default:
		return sign(a.Day - b.Day)
	}
}

// Before reports whether d precedes other.
func (d Date) Before(other Date) bool { return Compare(d, other) < 0 }

// After reports whether d follows other.
func (d Date) After(other Date) bool { return Compare(d, other) > 0 }

func (d Date) String() string { return Format(d) }

func fromPersian(t ptime.Time) Date {
	return Date{Year: t.Year(), Month: int(t.Month()), Day: t.Day()}
}

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	default:
		return 0
	}
}
