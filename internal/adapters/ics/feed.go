package ics

import (
	"fmt"
	"io"
	"time"

	ical "github.com/arran4/golang-ical"

	"pandaconnect/internal/domain/event"
)

// DefaultDuration is the length given to events, which carry only a start time.
const DefaultDuration = time.Hour

// FeedOptions controls calendar metadata.
type FeedOptions struct {
	Name     string // calendar display name
	Domain   string // UID suffix, e.g. "school.example"
	Location *time.Location
	Duration time.Duration
}

// Build renders events as an iCalendar feed.
// PRE: every event holds canonical date and time
// POST: one VEVENT per event with UID "<id>@<domain>"; returns an error wrapping
// event.ErrMalformedInput for corrupt stored data
func Build(events []event.Event, opts FeedOptions) (*ical.Calendar, error) {
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	dur := opts.Duration
	if dur <= 0 {
		dur = DefaultDuration
	}

	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId("-//Panda Connect//School Events//EN")
	if opts.Name != "" {
		cal.SetName(opts.Name)
		cal.SetXWRCalName(opts.Name)
	}
	cal.SetXWRTimezone(loc.String())

	for _, e := range events {
		start, err := event.Instant(e.Date, e.Time, loc)
		if err != nil {
			return nil, fmt.Errorf("event %s: %w", e.ID, err)
		}
		ve := cal.AddEvent(uid(e.ID, opts.Domain))
		ve.SetCreatedTime(e.CreatedAt)
		ve.SetDtStampTime(e.CreatedAt)
		ve.SetStartAt(start)
		ve.SetEndAt(start.Add(dur))
		ve.SetSummary(e.Title)
		ve.SetDescription(e.Description)
	}
	return cal, nil
}

// Write builds the feed and serializes it to w.
func Write(w io.Writer, events []event.Event, opts FeedOptions) error {
	cal, err := Build(events, opts)
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, cal.Serialize())
	return err
}

func uid(id, domain string) string {
	if domain == "" {
		return id
	}
	return id + "@" + domain
}
