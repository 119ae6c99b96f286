package event

import (
	"context"
	"time"

	"github.com/google/uuid"

	domain "pandaconnect/internal/domain/event"
)

// Store persists events. Implementations must keep ids unique and apply each
// write atomically; readers never observe a partially applied write.
type Store interface {
	Create(ctx context.Context, p domain.Payload, createdBy string) (domain.Event, error)
	Get(ctx context.Context, id string) (domain.Event, error)
	Update(ctx context.Context, id string, p domain.Payload) (domain.Event, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]domain.Event, error)
	FindUpcoming(ctx context.Context, now time.Time) (domain.Event, bool, error)
	FindOnDate(ctx context.Context, date string) ([]domain.Event, error)
}

// Options are shared by every Store implementation. Zero fields get defaults.
type Options struct {
	GenerateID func() string
	Now        func() time.Time
	// Location is the zone event date+time is read in when comparing with now.
	Location *time.Location
}

func (o Options) withDefaults() Options {
	if o.GenerateID == nil {
		o.GenerateID = func() string { return uuid.New().String() }
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Location == nil {
		o.Location = time.Local
	}
	return o
}

const timestampLayout = time.RFC3339Nano
