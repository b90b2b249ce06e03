package calendar

import (
	"time"

	ptime "github.com/yaa110/go-persian-calendar"
)

// Clock supplies the current solar-Hijri moment. Validation and search
// code never reads wall time directly; they take a Clock so tests can
// supply fixed instants.
type Clock interface {
	Now() Moment
}

// SystemClock reads wall time in the Iran location.
type SystemClock struct{}

func (SystemClock) Now() Moment {
	t := ptime.New(time.Now().In(ptime.Iran()))
	return Moment{
		Date: Date{Year: t.Year(), Month: int(t.Month()), Day: t.Day()},
		Hour: t.Hour(),
	}
}

// FixedClock always reports the same moment. Test helper.
type FixedClock struct {
	At Moment
}

func (c FixedClock) Now() Moment { return c.At }

// Today returns the current calendar day.
func Today(c Clock) Date { return c.Now().Date }

// Tomorrow returns the day after the current calendar day.
func Tomorrow(c Clock) Date { return AddDays(c.Now().Date, 1) }
