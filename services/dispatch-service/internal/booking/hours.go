package booking

import (
	"github.com/arashpm/karigar/services/dispatch-service/internal/calendar"
)

// BookedIndex maps a calendar day to the set of hours already taken.
// AvailableHours only reads it.
type BookedIndex map[calendar.Date]map[int]bool

// AvailableHours sweeps every bookable hour for a date, applies the
// same temporal rules as Validate plus the booked-hours index, and
// returns the admissible hours in ascending order. The result is a
// finite slice of at most 13 elements; callers render it to end users
// as the set of choices.
func AvailableHours(date calendar.Date, urgent bool, now calendar.Moment, booked BookedIndex) []int {
	taken := booked[date]
	hours := make([]int, 0, MaxHour-MinHour+1)
	for h := MinHour; h <= MaxHour; h++ {
		if taken[h] {
			continue
		}
		if checkWindow(date, h, urgent, now) != nil {
			continue
		}
		hours = append(hours, h)
	}
	return hours
}
