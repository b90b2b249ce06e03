package booking

import (
	"errors"
	"testing"

	"github.com/arashpm/karigar/services/dispatch-service/internal/calendar"
)

var (
	today    = calendar.Date{Year: 1404, Month: 6, Day: 15}
	tomorrow = calendar.Date{Year: 1404, Month: 6, Day: 16}
)

func moment(hour int) calendar.Moment {
	return calendar.Moment{Date: today, Hour: hour}
}

func TestValidate_HourRange(t *testing.T) {
	for _, h := range []int{-1, 0, 7, 21, 24} {
		_, err := Validate(Request{Date: calendar.Format(today), Hour: h}, moment(6))
		if !errors.Is(err, ErrOutOfRange) {
			t.Errorf("hour %d: want ErrOutOfRange, got %v", h, err)
		}
	}
}

func TestValidate_InvalidDate(t *testing.T) {
	_, err := Validate(Request{Date: "1404-06-15", Hour: 10}, moment(6))
	if !errors.Is(err, ErrInvalidFormat) {
		t.Fatalf("want ErrInvalidFormat, got %v", err)
	}
}

func TestValidate_SameDay(t *testing.T) {
	cases := []struct {
		name    string
		curHour int
		hour    int
		urgent  bool
		want    error
	}{
		{"hour already passed", 14, 12, false, ErrAlreadyPassed},
		{"non-urgent 8h lead ok", 10, 18, false, nil},
		{"non-urgent 7h lead ok", 9, 16, false, nil},
		{"non-urgent 6h lead rejected", 10, 16, false, ErrInsufficientLead},
		{"non-urgent 5h lead rejected", 10, 15, false, ErrInsufficientLead},
		{"urgent 5h lead ok", 10, 15, true, nil},
		{"urgent 4h lead rejected", 10, 14, true, ErrInsufficientUrgentLead},
		{"urgent same hour rejected", 10, 10, true, ErrInsufficientUrgentLead},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := Validate(Request{
				Date:   calendar.Format(today),
				Hour:   c.hour,
				Urgent: c.urgent,
			}, moment(c.curHour))
			if !errors.Is(err, c.want) && !(c.want == nil && err == nil) {
				t.Fatalf("want %v, got %v", c.want, err)
			}
		})
	}
}

func TestValidate_NextDayUrgent(t *testing.T) {
	cases := []struct {
		name    string
		curHour int
		hour    int
		want    error
	}{
		{"morning request, early hour fine", 9, 8, nil},
		{"16h: hour 9 hits the 10 floor", 16, 9, ErrInsufficientUrgentLead},
		{"16h: hour 12 hits the 16 floor", 16, 12, ErrInsufficientUrgentLead},
		{"16h: hour 16 accepted", 16, 16, nil},
		{"18h: hour 11 hits the 12 floor", 18, 11, ErrInsufficientUrgentLead},
		{"18h: hour 13 still hits the 16 floor", 18, 13, ErrInsufficientUrgentLead},
		{"18h: hour 17 accepted", 18, 17, nil},
		{"20h: hour 15 rejected", 20, 15, ErrInsufficientUrgentLead},
		{"20h: hour 16 accepted", 20, 16, nil},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := Validate(Request{
				Date:   calendar.Format(tomorrow),
				Hour:   c.hour,
				Urgent: true,
			}, moment(c.curHour))
			if !errors.Is(err, c.want) && !(c.want == nil && err == nil) {
				t.Fatalf("want %v, got %v", c.want, err)
			}
		})
	}
}

func TestValidate_NextDayNonUrgent(t *testing.T) {
	// cap = min(curHour, 20); reject when cap - hour >= 5.
	cases := []struct {
		curHour int
		hour    int
		want    error
	}{
		{9, 8, nil},        // cap 9, diff 1
		{14, 9, ErrInsufficientLead}, // cap 14, diff 5
		{14, 10, nil},      // diff 4
		{22, 15, ErrInsufficientLead}, // cap clamps to 20, diff 5
		{22, 16, nil},      // diff 4
	}
	for _, c := range cases {
		_, err := Validate(Request{
			Date: calendar.Format(tomorrow),
			Hour: c.hour,
		}, moment(c.curHour))
		if !errors.Is(err, c.want) && !(c.want == nil && err == nil) {
			t.Errorf("curHour=%d hour=%d: want %v, got %v", c.curHour, c.hour, c.want, err)
		}
	}
}

func TestValidate_PastAndFarFuture(t *testing.T) {
	yesterday := calendar.AddDays(today, -1)
	_, err := Validate(Request{Date: calendar.Format(yesterday), Hour: 10}, moment(9))
	if !errors.Is(err, ErrPastDate) {
		t.Fatalf("want ErrPastDate, got %v", err)
	}

	nextWeek := calendar.AddDays(today, 7)
	date, err := Validate(Request{Date: calendar.Format(nextWeek), Hour: 8}, moment(19))
	if err != nil {
		t.Fatalf("far future date must only be hour-range checked: %v", err)
	}
	if date != nextWeek {
		t.Fatalf("parsed date %v, want %v", date, nextWeek)
	}
}

func TestAvailableHours_NonUrgentToday(t *testing.T) {
	got := AvailableHours(today, false, moment(9), nil)
	want := []int{16, 17, 18, 19, 20}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestAvailableHours_SkipsBooked(t *testing.T) {
	booked := BookedIndex{today: {17: true, 19: true}}
	got := AvailableHours(today, false, moment(9), booked)
	want := []int{16, 18, 20}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestAvailableHours_PastDateEmpty(t *testing.T) {
	yesterday := calendar.AddDays(today, -1)
	if got := AvailableHours(yesterday, false, moment(9), nil); len(got) != 0 {
		t.Fatalf("past date must have no hours, got %v", got)
	}
}

func TestAvailableHours_FarFutureFullDay(t *testing.T) {
	nextWeek := calendar.AddDays(today, 7)
	got := AvailableHours(nextWeek, false, moment(9), nil)
	if len(got) != 13 {
		t.Fatalf("expected all 13 hours, got %v", got)
	}
	if got[0] != 8 || got[12] != 20 {
		t.Fatalf("hours must span 8..20, got %v", got)
	}
}
