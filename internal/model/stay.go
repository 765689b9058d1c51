package model

import (
	"slices"
	"strings"
	"time"
)

// Stay is one recorded trip or hotel visit.
//
// CheckOut is optional: a stay without one counts as a single day.
// Times are stored with their original location so calendar-day arithmetic
// happens in the zone the user entered them in.
type Stay struct {
	ID       string     `json:"id"`
	Title    string     `json:"title"`
	City     *string    `json:"city,omitempty"`
	CheckIn  time.Time  `json:"checkIn"`
	CheckOut *time.Time `json:"checkOut,omitempty"`
	Note     *string    `json:"note,omitempty"`
}

// Nights is the number of calendar days between check-in and check-out,
// never negative. Zero when there is no check-out.
func (s Stay) Nights() int {
	if s.CheckOut == nil {
		return 0
	}
	return max(0, DaysBetween(s.CheckIn, *s.CheckOut))
}

// DayCount counts check-in and check-out days inclusively, minimum 1.
func (s Stay) DayCount() int {
	if s.CheckOut == nil {
		return 1
	}
	return max(1, DaysBetween(s.CheckIn, *s.CheckOut)+1)
}

// Matches reports whether query appears in the title, city or note,
// ignoring case. A blank query matches everything.
func (s Stay) Matches(query string) bool {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return true
	}
	for _, field := range []string{s.Title, Deref(s.City), Deref(s.Note)} {
		if strings.Contains(strings.ToLower(field), q) {
			return true
		}
	}
	return false
}

// SortByCheckIn orders stays ascending by check-in. Stays sharing a check-in
// keep their relative order.
func SortByCheckIn(stays []Stay) {
	slices.SortStableFunc(stays, func(a, b Stay) int {
		return a.CheckIn.Compare(b.CheckIn)
	})
}

// DaysBetween returns the whole calendar days from a to b, using a's location
// for both. Negative when b is on an earlier day.
func DaysBetween(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.In(a.Location()).Date()
	start := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	end := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(end.Sub(start).Hours() / 24)
}

// StartOfDay truncates t to midnight in its own location.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// StayStats is the summary shown on the stats screen.
type StayStats struct {
	Stays       int        `json:"stays"`
	TotalDays   int        `json:"totalDays"`
	Cities      int        `json:"cities"`
	Hotels      int        `json:"hotels"`
	Years       float64    `json:"years"`
	NextCheckIn *time.Time `json:"nextCheckIn,omitempty"`
}
