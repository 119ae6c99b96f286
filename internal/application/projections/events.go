package projections

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"time"

	"github.com/yuin/goldmark"
	goldmarkHTML "github.com/yuin/goldmark/renderer/html"

	"pandaconnect/internal/domain/event"
)

// mdRenderer renders event descriptions. Raw HTML in the source is escaped.
var mdRenderer = goldmark.New(
	goldmark.WithRendererOptions(
		goldmarkHTML.WithHardWraps(),
	),
)

// EventReader is the read side of the event store.
type EventReader interface {
	Get(ctx context.Context, id string) (event.Event, error)
	List(ctx context.Context) ([]event.Event, error)
	FindUpcoming(ctx context.Context, now time.Time) (event.Event, bool, error)
	FindOnDate(ctx context.Context, date string) ([]event.Event, error)
}

// EventQueryDeps holds dependencies for event queries.
type EventQueryDeps struct {
	EventStore EventReader
	Now        func() time.Time
	Location   *time.Location
}

func (d EventQueryDeps) now() time.Time {
	if d.Now == nil {
		return time.Now()
	}
	return d.Now()
}

func (d EventQueryDeps) location() *time.Location {
	if d.Location == nil {
		return time.Local
	}
	return d.Location
}

// EventView is an event shaped for display on the portal.
type EventView struct {
	event.Event
	DisplayDate     string        `json:"displayDate"`
	ShortDate       string        `json:"shortDate"`
	DisplayTime     string        `json:"displayTime"`
	DescriptionHTML template.HTML `json:"descriptionHtml"`
}

// NewEventView formats e for display.
// PRE: e holds canonical date and time
// POST: returns an error wrapping event.ErrMalformedInput if stored data is corrupt
func NewEventView(e event.Event) (EventView, error) {
	date, err := event.ToDisplayDate(e.Date)
	if err != nil {
		return EventView{}, fmt.Errorf("event %s: %w", e.ID, err)
	}
	short, _ := event.ToShortDisplayDate(e.Date)
	clock, err := event.ToDisplayTime(e.Time)
	if err != nil {
		return EventView{}, fmt.Errorf("event %s: %w", e.ID, err)
	}
	return EventView{
		Event:           e,
		DisplayDate:     date,
		ShortDate:       short,
		DisplayTime:     clock,
		DescriptionHTML: renderMarkdown(e.Description),
	}, nil
}

func renderMarkdown(md string) template.HTML {
	var buf bytes.Buffer
	if err := mdRenderer.Convert([]byte(md), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(md))
	}
	return template.HTML(buf.String())
}

func viewsOf(events []event.Event) ([]EventView, error) {
	views := make([]EventView, 0, len(events))
	for _, e := range events {
		v, err := NewEventView(e)
		if err != nil {
			return nil, err
		}
		views = append(views, v)
	}
	return views, nil
}

// QueryListEvents returns every event in insertion order.
// POST: result is never nil
func QueryListEvents(ctx context.Context, deps EventQueryDeps) ([]EventView, error) {
	events, err := deps.EventStore.List(ctx)
	if err != nil {
		return nil, err
	}
	return viewsOf(events)
}

// QueryUpcomingEvent returns the soonest event at or after now.
// POST: ok is false when every event is in the past
func QueryUpcomingEvent(ctx context.Context, deps EventQueryDeps) (view EventView, ok bool, err error) {
	e, ok, err := deps.EventStore.FindUpcoming(ctx, deps.now())
	if err != nil || !ok {
		return EventView{}, false, err
	}
	view, err = NewEventView(e)
	if err != nil {
		return EventView{}, false, err
	}
	return view, true, nil
}

// UpcomingEventsQuery carries query parameters.
type UpcomingEventsQuery struct {
	Limit int // zero means no limit
}

// QueryUpcomingEvents returns events at or after now, soonest first.
// INVARIANT: events starting at the same instant keep insertion order
func QueryUpcomingEvents(ctx context.Context, query UpcomingEventsQuery, deps EventQueryDeps) ([]EventView, error) {
	all, err := deps.EventStore.List(ctx)
	if err != nil {
		return nil, err
	}
	upcoming, err := event.Upcoming(all, deps.now(), deps.location())
	if err != nil {
		return nil, err
	}
	if query.Limit > 0 && len(upcoming) > query.Limit {
		upcoming = upcoming[:query.Limit]
	}
	return viewsOf(upcoming)
}

// EventsOnDateQuery carries query parameters.
type EventsOnDateQuery struct {
	Date string
}

// QueryEventsOnDate returns the events scheduled on a calendar date.
// PRE: none
// POST: a malformed date yields a *event.ValidationError for field "date"
func QueryEventsOnDate(ctx context.Context, query EventsOnDateQuery, deps EventQueryDeps) ([]EventView, error) {
	if !event.IsCanonicalDate(query.Date) {
		return nil, &event.ValidationError{Fields: []event.FieldError{{
			Field:   "date",
			Code:    event.CodeInvalidFormat,
			Message: "Date must be in YYYY-MM-DD format",
		}}}
	}
	events, err := deps.EventStore.FindOnDate(ctx, query.Date)
	if err != nil {
		return nil, err
	}
	return viewsOf(events)
}

// EventForm is the editor prefill for an existing event.
type EventForm struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Date        string `json:"date"`
	DisplayDate string `json:"displayDate"`
	Time        string `json:"time"`
	Description string `json:"description"`
}

// QueryEventForm loads an event in the shape the admin editor expects.
// POST: Time is in "h:mm AM/PM" form; returns event.ErrNotFound for unknown ids
func QueryEventForm(ctx context.Context, id string, deps EventQueryDeps) (EventForm, error) {
	e, err := deps.EventStore.Get(ctx, id)
	if err != nil {
		return EventForm{}, err
	}
	v, err := NewEventView(e)
	if err != nil {
		return EventForm{}, err
	}
	return EventForm{
		ID:          e.ID,
		Title:       e.Title,
		Date:        e.Date,
		DisplayDate: v.DisplayDate,
		Time:        v.DisplayTime,
		Description: e.Description,
	}, nil
}
