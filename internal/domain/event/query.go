package event

import (
	"fmt"
	"sort"
	"time"
)

// Upcoming returns events whose date+time in loc is not before now, earliest first.
// Events sharing an instant keep their input order.
// PRE: every event holds canonical date/time; loc is non-nil
// POST: returns ErrMalformedInput (wrapped) if stored data is not canonical
func Upcoming(events []Event, now time.Time, loc *time.Location) ([]Event, error) {
	type timed struct {
		e  Event
		at time.Time
	}
	list := make([]timed, 0, len(events))
	for _, e := range events {
		at, err := Instant(e.Date, e.Time, loc)
		if err != nil {
			return nil, fmt.Errorf("event %s: %w", e.ID, err)
		}
		list = append(list, timed{e: e, at: at})
	}
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].at.Before(list[j].at)
	})

	var out []Event
	for _, t := range list {
		if !t.at.Before(now) {
			out = append(out, t.e)
		}
	}
	return out, nil
}

// NextUpcoming returns the earliest event at or after now, if any.
func NextUpcoming(events []Event, now time.Time, loc *time.Location) (Event, bool, error) {
	up, err := Upcoming(events, now, loc)
	if err != nil || len(up) == 0 {
		return Event{}, false, err
	}
	return up[0], true, nil
}

// OnDate returns the events whose canonical date equals date, in input order.
func OnDate(events []Event, date string) []Event {
	var out []Event
	for _, e := range events {
		if e.Date == date {
			out = append(out, e)
		}
	}
	return out
}
