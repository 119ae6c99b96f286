package web

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"pandaconnect/internal/adapters/http/middleware"
	"pandaconnect/internal/application/orchestrators"
	"pandaconnect/internal/application/projections"
	"pandaconnect/internal/domain/access"
	"pandaconnect/internal/domain/event"
)

// maxUpcomingLimit caps ?limit= on the upcoming list.
const maxUpcomingLimit = 100

type server struct {
	deps Deps
}

func newServer(d Deps) *server {
	if d.Location == nil {
		d.Location = time.Local
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &server{deps: d}
}

func (s *server) writeDeps() orchestrators.EventWriteDeps {
	return orchestrators.EventWriteDeps{
		EventStore: s.deps.Events,
		Authorizer: s.deps.Authorizer,
		Publisher:  s.deps.Publisher,
		Outbox:     s.deps.Outbox,
	}
}

func (s *server) queryDeps() projections.EventQueryDeps {
	return projections.EventQueryDeps{
		EventStore: s.deps.Events,
		Now:        s.deps.Now,
		Location:   s.deps.Location,
	}
}

// internalError logs the real error and returns a generic message to the client.
func internalError(w http.ResponseWriter, err error) {
	slog.Error("internal_error", "error", err.Error())
	http.Error(w, "internal server error", http.StatusInternalServerError)
}

// strictDecode decodes JSON from the request body, rejecting unknown fields.
func strictDecode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("encode_response_failed", "error", err.Error())
	}
}

// writeError maps domain errors to status codes. Validation failures return the bare issues array.
func writeError(w http.ResponseWriter, err error) {
	var verr *event.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, verr.Fields)
	case errors.Is(err, event.ErrNotFound):
		http.Error(w, "event not found", http.StatusNotFound)
	case errors.Is(err, access.ErrUnauthenticated):
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
	case errors.Is(err, access.ErrForbidden):
		http.Error(w, "Forbidden", http.StatusForbidden)
	case errors.Is(err, event.ErrMalformedInput):
		slog.Error("malformed_event_data", "error", err.Error())
		http.Error(w, "internal server error", http.StatusInternalServerError)
	default:
		internalError(w, err)
	}
}

func badBody(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusBadRequest, []event.FieldError{{
		Field:   "body",
		Code:    event.CodeInvalidFormat,
		Message: "Request body must be a JSON object with title, date, time and description: " + err.Error(),
	}})
}

func handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("ok"))
}

func (s *server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	views, err := projections.QueryListEvents(r.Context(), s.queryDeps())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *server) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	e, err := s.deps.Events.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	v, err := projections.NewEventView(e)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *server) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	var in event.Input
	if err := strictDecode(r, &in); err != nil {
		badBody(w, err)
		return
	}
	e, err := orchestrators.ExecuteCreateEvent(r.Context(), orchestrators.CreateEventInput{
		Event:     in,
		Principal: middleware.PrincipalFromContext(r.Context()),
	}, s.writeDeps())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

func (s *server) handleUpdateEvent(w http.ResponseWriter, r *http.Request) {
	var in event.Input
	if err := strictDecode(r, &in); err != nil {
		badBody(w, err)
		return
	}
	e, err := orchestrators.ExecuteUpdateEvent(r.Context(), orchestrators.UpdateEventInput{
		EventID:   r.PathValue("id"),
		Event:     in,
		Principal: middleware.PrincipalFromContext(r.Context()),
	}, s.writeDeps())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *server) handleDeleteEvent(w http.ResponseWriter, r *http.Request) {
	err := orchestrators.ExecuteDeleteEvent(r.Context(), orchestrators.DeleteEventInput{
		EventID:   r.PathValue("id"),
		Principal: middleware.PrincipalFromContext(r.Context()),
	}, s.writeDeps())
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleEventForm(w http.ResponseWriter, r *http.Request) {
	form, err := projections.QueryEventForm(r.Context(), r.PathValue("id"), s.queryDeps())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, form)
}

func (s *server) handleUpcomingEvents(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, []event.FieldError{{Field: "limit", Code: event.CodeInvalidFormat, Message: "limit must be a non-negative integer"}})
			return
		}
		limit = min(n, maxUpcomingLimit)
	}
	views, err := projections.QueryUpcomingEvents(r.Context(), projections.UpcomingEventsQuery{Limit: limit}, s.queryDeps())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

// handleCurrentEvent returns the next upcoming event, or JSON null when none remain.
func (s *server) handleCurrentEvent(w http.ResponseWriter, r *http.Request) {
	v, ok, err := projections.QueryUpcomingEvent(r.Context(), s.queryDeps())
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *server) handleEventsOnDate(w http.ResponseWriter, r *http.Request) {
	views, err := projections.QueryEventsOnDate(r.Context(), projections.EventsOnDateQuery{Date: r.URL.Query().Get("date")}, s.queryDeps())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}
