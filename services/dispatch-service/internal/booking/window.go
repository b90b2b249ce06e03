// Package booking decides whether a requested (date, hour, urgency)
// is bookable given the current moment. It is pure and deterministic:
// no shared state, no retries, every rejection maps to one sentinel
// error surfaced verbatim to the caller. Interval conflicts are out of
// scope here; the off-registry owns those.
package booking

import (
	"errors"

	"github.com/arashpm/karigar/services/dispatch-service/internal/calendar"
)

// Bookable hours run 8..20 inclusive.
const (
	MinHour = 8
	MaxHour = 20
)

var (
	ErrOutOfRange             = errors.New("hour outside bookable range")
	ErrAlreadyPassed          = errors.New("requested hour already passed")
	ErrInsufficientLead       = errors.New("insufficient lead time")
	ErrInsufficientUrgentLead = errors.New("insufficient lead time for urgent booking")
	ErrPastDate               = errors.New("requested date is in the past")
)

// ErrInvalidFormat mirrors the calendar sentinel so callers can match
// every rejection kind against this package alone.
var ErrInvalidFormat = calendar.ErrInvalidFormat

// Request is one incoming booking attempt.
type Request struct {
	Date             string // raw YYYY/MM/DD, parsed strictly here
	Hour             int
	DurationSections int
	Urgent           bool
}

// Validate applies the booking window rules in order and returns nil
// on acceptance, or the matching rejection sentinel. The parsed date
// is returned so callers do not parse twice.
func Validate(req Request, now calendar.Moment) (calendar.Date, error) {
	if req.Hour < MinHour || req.Hour > MaxHour {
		return calendar.Date{}, ErrOutOfRange
	}
	date, err := calendar.ParseStrict(req.Date)
	if err != nil {
		return calendar.Date{}, err
	}
	if err := checkWindow(date, req.Hour, req.Urgent, now); err != nil {
		return calendar.Date{}, err
	}
	return date, nil
}

func checkWindow(date calendar.Date, hour int, urgent bool, now calendar.Moment) error {
	today := now.Date
	tomorrow := calendar.AddDays(today, 1)

	switch {
	case date == today:
		return checkSameDay(hour, urgent, now.Hour)
	case date == tomorrow:
		return checkNextDay(hour, urgent, now.Hour)
	case date.Before(today):
		return ErrPastDate
	default:
		// Two or more days out: the hour range check above is the only
		// temporal constraint; worker availability decides the rest.
		return nil
	}
}

func checkSameDay(hour int, urgent bool, curHour int) error {
	if curHour > hour {
		return ErrAlreadyPassed
	}
	lead := hour - curHour
	if urgent {
		if lead < 5 {
			return ErrInsufficientUrgentLead
		}
		return nil
	}
	if lead < 7 {
		return ErrInsufficientLead
	}
	return nil
}

// checkNextDay keeps the legacy rule set literally. The urgent checks
// are cumulative, not mutually exclusive: past 16:00 more than one
// floor applies and the tightest one wins.
func checkNextDay(hour int, urgent bool, curHour int) error {
	if urgent {
		if curHour >= 16 && curHour < 18 && hour < 10 {
			return ErrInsufficientUrgentLead
		}
		if curHour >= 18 && hour < 12 {
			return ErrInsufficientUrgentLead
		}
		if curHour >= 16 && hour < 16 {
			return ErrInsufficientUrgentLead
		}
		return nil
	}
	cap := curHour
	if cap > MaxHour {
		cap = MaxHour
	}
	if cap-hour >= 5 {
		return ErrInsufficientLead
	}
	return nil
}
