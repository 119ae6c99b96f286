package web

import (
	"net/http"

	"pandaconnect/internal/adapters/http/middleware"
)

// registerRoutes wires every route. Writes sit behind RequireWriter so callers are
// authorized before any body is read.
func registerRoutes(mux *http.ServeMux, s *server) {
	writer := middleware.RequireWriter(s.deps.Authorizer)

	mux.HandleFunc("GET /healthz", handleHealthz)

	mux.HandleFunc("GET /api/events", s.handleListEvents)
	mux.Handle("POST /api/events", writer(http.HandlerFunc(s.handleCreateEvent)))
	mux.HandleFunc("GET /api/events/upcoming", s.handleUpcomingEvents)
	mux.HandleFunc("GET /api/events/current", s.handleCurrentEvent)
	mux.HandleFunc("GET /api/events/on", s.handleEventsOnDate)
	mux.HandleFunc("GET /api/events/{id}", s.handleGetEvent)
	mux.Handle("PUT /api/events/{id}", writer(http.HandlerFunc(s.handleUpdateEvent)))
	mux.Handle("DELETE /api/events/{id}", writer(http.HandlerFunc(s.handleDeleteEvent)))
	mux.HandleFunc("GET /api/events/{id}/form", s.handleEventForm)

	mux.Handle("POST /admin/events", writer(http.HandlerFunc(s.handleAdminSaveEvent)))
	mux.Handle("POST /admin/events/{id}/delete", writer(http.HandlerFunc(s.handleAdminDeleteEvent)))

	mux.HandleFunc("GET /calendar.ics", s.handleCalendarFeed)

	mux.Handle("GET /api/admin/perf", writer(http.HandlerFunc(s.handlePerf)))
	mux.Handle("GET /api/admin/outbox", writer(http.HandlerFunc(s.handleAdminOutbox)))
	mux.Handle("POST /api/admin/outbox/{id}/retry", writer(http.HandlerFunc(s.handleAdminOutboxRetry)))
	mux.Handle("POST /api/admin/outbox/{id}/abandon", writer(http.HandlerFunc(s.handleAdminOutboxAbandon)))
}
