package orchestrators

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"pandaconnect/internal/domain/access"
	"pandaconnect/internal/domain/event"
)

// Change notification names published after a successful write.
const (
	NotifyEventCreated = "event.created"
	NotifyEventUpdated = "event.updated"
	NotifyEventDeleted = "event.deleted"
)

// EventStoreForOrchestrator defines the store interface needed by event orchestrators.
type EventStoreForOrchestrator interface {
	Create(ctx context.Context, p event.Payload, createdBy string) (event.Event, error)
	Update(ctx context.Context, id string, p event.Payload) (event.Event, error)
	Delete(ctx context.Context, id string) error
}

// EventPublisher announces committed event changes to other systems.
type EventPublisher interface {
	Publish(ctx context.Context, name string, e event.Event) error
}

// EventWriteDeps holds dependencies shared by the create, update and delete orchestrators.
type EventWriteDeps struct {
	EventStore EventStoreForOrchestrator
	Authorizer access.Authorizer
	Publisher  EventPublisher // optional
	Outbox     OutboxWriter   // optional; holds notifications the publisher rejected
}

// --- Create Event ---

// CreateEventInput carries input for the create event orchestrator.
type CreateEventInput struct {
	Event     event.Input
	Principal access.Principal
}

// ExecuteCreateEvent authorizes, validates and stores a new event.
// PRE: deps.EventStore and deps.Authorizer are set
// POST: on success the event is stored with a fresh id and CreatedBy = Principal.UserID;
// on any error the store is untouched
func ExecuteCreateEvent(ctx context.Context, input CreateEventInput, deps EventWriteDeps) (event.Event, error) {
	if err := access.Check(ctx, deps.Authorizer, input.Principal); err != nil {
		return event.Event{}, err
	}
	p, err := event.Validate(input.Event)
	if err != nil {
		return event.Event{}, err
	}
	e, err := deps.EventStore.Create(ctx, p, input.Principal.UserID)
	if err != nil {
		return event.Event{}, err
	}

	slog.Info("event_change", "event", "event_created", "event_id", e.ID, "date", e.Date, "created_by", e.CreatedBy)
	publish(ctx, deps, NotifyEventCreated, e)
	return e, nil
}

// --- Update Event ---

// UpdateEventInput carries input for the update event orchestrator.
type UpdateEventInput struct {
	EventID   string
	Event     event.Input
	Principal access.Principal
}

// ExecuteUpdateEvent replaces every editable field of an existing event.
// PRE: deps.EventStore and deps.Authorizer are set
// POST: id and CreatedBy are preserved; returns event.ErrNotFound if the event does not exist
func ExecuteUpdateEvent(ctx context.Context, input UpdateEventInput, deps EventWriteDeps) (event.Event, error) {
	if err := access.Check(ctx, deps.Authorizer, input.Principal); err != nil {
		return event.Event{}, err
	}
	if input.EventID == "" {
		return event.Event{}, event.ErrNotFound
	}
	p, err := event.Validate(input.Event)
	if err != nil {
		return event.Event{}, err
	}
	e, err := deps.EventStore.Update(ctx, input.EventID, p)
	if err != nil {
		return event.Event{}, err
	}

	slog.Info("event_change", "event", "event_updated", "event_id", e.ID, "updated_by", input.Principal.UserID)
	publish(ctx, deps, NotifyEventUpdated, e)
	return e, nil
}

// --- Delete Event ---

// DeleteEventInput carries input for the delete event orchestrator.
type DeleteEventInput struct {
	EventID   string
	Principal access.Principal
}

// ExecuteDeleteEvent removes an event.
// PRE: deps.EventStore and deps.Authorizer are set
// POST: returns event.ErrNotFound if the event does not exist
func ExecuteDeleteEvent(ctx context.Context, input DeleteEventInput, deps EventWriteDeps) error {
	if err := access.Check(ctx, deps.Authorizer, input.Principal); err != nil {
		return err
	}
	if input.EventID == "" {
		return event.ErrNotFound
	}
	if err := deps.EventStore.Delete(ctx, input.EventID); err != nil {
		return err
	}

	slog.Info("event_change", "event", "event_deleted", "event_id", input.EventID, "deleted_by", input.Principal.UserID)
	publish(ctx, deps, NotifyEventDeleted, event.Event{ID: input.EventID})
	return nil
}

// publish is best effort: the write is already committed. Rejected notifications go to the outbox when one is configured.
func publish(ctx context.Context, deps EventWriteDeps, name string, e event.Event) {
	if deps.Publisher == nil {
		return
	}
	err := deps.Publisher.Publish(ctx, name, e)
	if err == nil {
		return
	}
	if !errors.Is(err, context.Canceled) {
		slog.Warn("event_publish_failed", "name", name, "event_id", e.ID, "error", err.Error())
	}
	if deps.Outbox == nil {
		return
	}
	entry, err := newOutboxEntry(name, e, time.Now())
	if err == nil {
		err = deps.Outbox.Save(context.WithoutCancel(ctx), entry)
	}
	if err != nil {
		slog.Error("outbox_enqueue_failed", "name", name, "event_id", e.ID, "error", err.Error())
		return
	}
	slog.Info("outbox_enqueued", "entry_id", entry.ID, "name", name, "event_id", e.ID)
}
