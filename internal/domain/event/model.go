package event

import (
	"time"
)

// Max length constants.
const (
	MaxTitleLength       = 100
	MaxDescriptionLength = 500
)

// Canonical layouts. Display layouts live in codec.go.
const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

// Event is a stored school event.
// INVARIANT: Date is YYYY-MM-DD and Time is HH:MM. ID, CreatedBy and CreatedAt never change after creation.
type Event struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Date        string    `json:"date"`
	Time        string    `json:"time"`
	Description string    `json:"description"`
	CreatedBy   string    `json:"createdBy"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Payload is the replaceable part of an event, already validated and in canonical form.
type Payload struct {
	Title       string
	Date        string
	Time        string
	Description string
}

// Payload returns the replaceable fields of e.
func (e Event) Payload() Payload {
	return Payload{
		Title:       e.Title,
		Date:        e.Date,
		Time:        e.Time,
		Description: e.Description,
	}
}

// Apply returns a copy of e with every replaceable field taken from p.
// POST: ID, CreatedBy and CreatedAt are unchanged
func (e Event) Apply(p Payload) Event {
	e.Title = p.Title
	e.Date = p.Date
	e.Time = p.Time
	e.Description = p.Description
	return e
}

// New builds a fresh event from a validated payload.
// PRE: p passed Validate; id and createdBy are non-empty
func New(id, createdBy string, p Payload, now time.Time) Event {
	return Event{ID: id, CreatedBy: createdBy, CreatedAt: now}.Apply(p)
}
