package web

import (
	"bytes"
	"net/http"
	"strconv"
	"time"

	"pandaconnect/internal/adapters/http/middleware"
	"pandaconnect/internal/adapters/ics"
	"pandaconnect/internal/application/orchestrators"
	"pandaconnect/internal/domain/event"
)

// maxFormBytes bounds the admin editor body.
const maxFormBytes = 16 << 10

// editorInput reads the admin editor form. The date field comes from a date picker
// ("YYYY-MM-DD"); the time field is "h:mm AM/PM".
func editorInput(r *http.Request) event.Input {
	in := event.Input{
		Title:       r.PostFormValue("title"),
		Date:        r.PostFormValue("date"),
		Time:        r.PostFormValue("time"),
		Description: r.PostFormValue("description"),
	}
	if d, err := event.ParseDate(in.Date); err == nil {
		in.DateValue = d
	}
	return in
}

// handleAdminSaveEvent creates an event, or updates one when the form carries an id.
func (s *server) handleAdminSaveEvent(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	principal := middleware.PrincipalFromContext(r.Context())
	in := editorInput(r)

	var err error
	if id := r.PostFormValue("id"); id != "" {
		_, err = orchestrators.ExecuteUpdateEvent(r.Context(), orchestrators.UpdateEventInput{
			EventID: id, Event: in, Principal: principal,
		}, s.writeDeps())
	} else {
		_, err = orchestrators.ExecuteCreateEvent(r.Context(), orchestrators.CreateEventInput{
			Event: in, Principal: principal,
		}, s.writeDeps())
	}
	if err != nil {
		writeError(w, err)
		return
	}
	http.Redirect(w, r, "/admin/events", http.StatusSeeOther)
}

func (s *server) handleAdminDeleteEvent(w http.ResponseWriter, r *http.Request) {
	err := orchestrators.ExecuteDeleteEvent(r.Context(), orchestrators.DeleteEventInput{
		EventID:   r.PathValue("id"),
		Principal: middleware.PrincipalFromContext(r.Context()),
	}, s.writeDeps())
	if err != nil {
		writeError(w, err)
		return
	}
	http.Redirect(w, r, "/admin/events", http.StatusSeeOther)
}

func (s *server) handleCalendarFeed(w http.ResponseWriter, r *http.Request) {
	events, err := s.deps.Events.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	opts := s.deps.Calendar
	opts.Location = s.deps.Location

	var buf bytes.Buffer
	if err := ics.Write(&buf, events, opts); err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `inline; filename="events.ics"`)
	w.Write(buf.Bytes())
}

// handlePerf serves the timing snapshot. ?minutes= sets the window (default 60).
func (s *server) handlePerf(w http.ResponseWriter, r *http.Request) {
	if s.deps.Collector == nil {
		http.Error(w, "perf collection disabled", http.StatusNotFound)
		return
	}
	minutes := 60
	if v, err := strconv.Atoi(r.URL.Query().Get("minutes")); err == nil && v > 0 {
		minutes = v
	}
	since := s.deps.Now().Add(-time.Duration(minutes) * time.Minute)
	writeJSON(w, http.StatusOK, s.deps.Collector.Snapshot(since, 10))
}
