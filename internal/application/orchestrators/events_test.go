package orchestrators

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	outboxStore "pandaconnect/internal/adapters/storage/outbox"
	"pandaconnect/internal/domain/access"
	"pandaconnect/internal/domain/event"
)

// mockEventStore implements EventStoreForOrchestrator and DigestEventStore for testing.
type mockEventStore struct {
	events  map[string]event.Event
	nextID  int
	failErr error
}

func newMockEventStore() *mockEventStore {
	return &mockEventStore{events: make(map[string]event.Event)}
}

func (m *mockEventStore) Create(_ context.Context, p event.Payload, createdBy string) (event.Event, error) {
	if m.failErr != nil {
		return event.Event{}, m.failErr
	}
	m.nextID++
	e := event.New(fmt.Sprintf("evt-%d", m.nextID), createdBy, p, eventClock)
	m.events[e.ID] = e
	return e, nil
}

func (m *mockEventStore) Update(_ context.Context, id string, p event.Payload) (event.Event, error) {
	e, ok := m.events[id]
	if !ok {
		return event.Event{}, event.ErrNotFound
	}
	e = e.Apply(p)
	m.events[id] = e
	return e, nil
}

func (m *mockEventStore) Delete(_ context.Context, id string) error {
	if _, ok := m.events[id]; !ok {
		return event.ErrNotFound
	}
	delete(m.events, id)
	return nil
}

func (m *mockEventStore) FindOnDate(_ context.Context, date string) ([]event.Event, error) {
	var out []event.Event
	for _, e := range m.events {
		if e.Date == date {
			out = append(out, e)
		}
	}
	return out, nil
}

// mockPublisher records published notifications.
type mockPublisher struct {
	names []string
	err   error
}

func (m *mockPublisher) Publish(_ context.Context, name string, _ event.Event) error {
	m.names = append(m.names, name)
	return m.err
}

var eventClock = time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

var (
	staff  = access.Principal{UserID: "u-staff", Email: "teacher@school.example"}
	parent = access.Principal{UserID: "u-parent", Email: "parent@home.example"}
)

func writeDeps(store *mockEventStore, pub EventPublisher) EventWriteDeps {
	return EventWriteDeps{
		EventStore: store,
		Authorizer: access.NewAllowlist(nil, []string{"school.example"}),
		Publisher:  pub,
	}
}

func bookFair() event.Input {
	return event.Input{Title: "Book Fair", Date: "2025-03-04", Time: "9:00 AM", Description: "Gym, all day"}
}

// --- ExecuteCreateEvent tests ---

// TestExecuteCreateEvent_Valid tests that a staff member can create an event and it is normalized.
func TestExecuteCreateEvent_Valid(t *testing.T) {
	store := newMockEventStore()
	pub := &mockPublisher{}
	e, err := ExecuteCreateEvent(context.Background(), CreateEventInput{Event: bookFair(), Principal: staff}, writeDeps(store, pub))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.Time != "09:00" {
		t.Errorf("expected canonical time 09:00, got %s", e.Time)
	}
	if e.CreatedBy != "u-staff" {
		t.Errorf("expected CreatedBy=u-staff, got %s", e.CreatedBy)
	}
	if len(store.events) != 1 {
		t.Errorf("expected 1 stored event, got %d", len(store.events))
	}
	if len(pub.names) != 1 || pub.names[0] != NotifyEventCreated {
		t.Errorf("expected %s published, got %v", NotifyEventCreated, pub.names)
	}
}

// TestExecuteCreateEvent_Access tests that missing and unlisted identities are refused before storage.
func TestExecuteCreateEvent_Access(t *testing.T) {
	tests := []struct {
		name      string
		principal access.Principal
		want      error
	}{
		{"anonymous", access.Principal{}, access.ErrUnauthenticated},
		{"parent", parent, access.ErrForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMockEventStore()
			_, err := ExecuteCreateEvent(context.Background(), CreateEventInput{Event: bookFair(), Principal: tt.principal}, writeDeps(store, nil))
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if len(store.events) != 0 {
				t.Error("store must be untouched")
			}
		})
	}
}

// TestExecuteCreateEvent_Invalid tests that validation errors are returned and nothing is stored.
func TestExecuteCreateEvent_Invalid(t *testing.T) {
	store := newMockEventStore()
	in := bookFair()
	in.Title = ""
	in.Time = "9am"
	_, err := ExecuteCreateEvent(context.Background(), CreateEventInput{Event: in, Principal: staff}, writeDeps(store, nil))
	var verr *event.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %v", err)
	}
	if !verr.Has("title") || !verr.Has("time") {
		t.Errorf("expected title and time errors, got %+v", verr.Fields)
	}
	if len(store.events) != 0 {
		t.Error("store must be untouched")
	}
}

// TestExecuteCreateEvent_PublishFailureKeepsWrite tests that a broker outage does not fail the request.
func TestExecuteCreateEvent_PublishFailureKeepsWrite(t *testing.T) {
	store := newMockEventStore()
	pub := &mockPublisher{err: errors.New("broker down")}
	if _, err := ExecuteCreateEvent(context.Background(), CreateEventInput{Event: bookFair(), Principal: staff}, writeDeps(store, pub)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(store.events) != 1 {
		t.Error("event must remain stored")
	}
}

// TestExecuteCreateEvent_PublishFailureQueuesNotification tests that a rejected notification lands in the outbox.
func TestExecuteCreateEvent_PublishFailureQueuesNotification(t *testing.T) {
	store := newMockEventStore()
	box := outboxStore.NewMemoryStore()
	deps := writeDeps(store, &mockPublisher{err: errors.New("broker down")})
	deps.Outbox = box

	e, err := ExecuteCreateEvent(context.Background(), CreateEventInput{Event: bookFair(), Principal: staff}, deps)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	pending, _ := box.ListPending(context.Background(), 10)
	if len(pending) != 1 || pending[0].EventID != e.ID || pending[0].Name != NotifyEventCreated {
		t.Fatalf("outbox = %+v", pending)
	}
}

// TestExecuteCreateEvent_StoreError tests that storage failures propagate.
func TestExecuteCreateEvent_StoreError(t *testing.T) {
	store := newMockEventStore()
	store.failErr = errors.New("disk full")
	pub := &mockPublisher{}
	if _, err := ExecuteCreateEvent(context.Background(), CreateEventInput{Event: bookFair(), Principal: staff}, writeDeps(store, pub)); err == nil {
		t.Fatal("expected error")
	}
	if len(pub.names) != 0 {
		t.Error("nothing should be published for a failed write")
	}
}

// --- ExecuteUpdateEvent tests ---

// TestExecuteUpdateEvent_Valid tests a full replace that keeps identity.
func TestExecuteUpdateEvent_Valid(t *testing.T) {
	store := newMockEventStore()
	deps := writeDeps(store, &mockPublisher{})
	created, _ := ExecuteCreateEvent(context.Background(), CreateEventInput{Event: bookFair(), Principal: staff}, deps)

	other := access.Principal{UserID: "u-other", Email: "office@school.example"}
	in := event.Input{Title: "Book Fair (moved)", Date: "2025-03-05", Time: "13:30", Description: "Library"}
	u, err := ExecuteUpdateEvent(context.Background(), UpdateEventInput{EventID: created.ID, Event: in, Principal: other}, deps)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u.ID != created.ID || u.CreatedBy != "u-staff" {
		t.Errorf("identity changed: %+v", u)
	}
	if u.Date != "2025-03-05" || u.Time != "13:30" {
		t.Errorf("fields not replaced: %+v", u)
	}
}

// TestExecuteUpdateEvent_NotFound tests updating an unknown id.
func TestExecuteUpdateEvent_NotFound(t *testing.T) {
	store := newMockEventStore()
	_, err := ExecuteUpdateEvent(context.Background(), UpdateEventInput{EventID: "missing", Event: bookFair(), Principal: staff}, writeDeps(store, nil))
	if !errors.Is(err, event.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

// TestExecuteUpdateEvent_Forbidden tests that parents cannot edit.
func TestExecuteUpdateEvent_Forbidden(t *testing.T) {
	store := newMockEventStore()
	_, err := ExecuteUpdateEvent(context.Background(), UpdateEventInput{EventID: "x", Event: bookFair(), Principal: parent}, writeDeps(store, nil))
	if !errors.Is(err, access.ErrForbidden) {
		t.Fatalf("err = %v, want ErrForbidden", err)
	}
}

// --- ExecuteDeleteEvent tests ---

// TestExecuteDeleteEvent tests delete followed by a repeated delete.
func TestExecuteDeleteEvent(t *testing.T) {
	store := newMockEventStore()
	pub := &mockPublisher{}
	deps := writeDeps(store, pub)
	created, _ := ExecuteCreateEvent(context.Background(), CreateEventInput{Event: bookFair(), Principal: staff}, deps)

	if err := ExecuteDeleteEvent(context.Background(), DeleteEventInput{EventID: created.ID, Principal: staff}, deps); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(store.events) != 0 {
		t.Error("expected event removed")
	}
	err := ExecuteDeleteEvent(context.Background(), DeleteEventInput{EventID: created.ID, Principal: staff}, deps)
	if !errors.Is(err, event.ErrNotFound) {
		t.Fatalf("second delete err = %v, want ErrNotFound", err)
	}
	if got := pub.names[len(pub.names)-1]; got != NotifyEventDeleted {
		t.Errorf("last published = %s, want %s", got, NotifyEventDeleted)
	}
}
