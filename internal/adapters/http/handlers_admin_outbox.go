package web

import (
	"errors"
	"net/http"
	"strconv"

	"pandaconnect/internal/application/orchestrators"
	"pandaconnect/internal/domain/outbox"
)

const defaultOutboxLimit = 50

func (s *server) outboxEnabled(w http.ResponseWriter) bool {
	if s.deps.Outbox == nil || s.deps.Publisher == nil {
		http.Error(w, "notification outbox disabled", http.StatusNotFound)
		return false
	}
	return true
}

// handleAdminOutbox lists undelivered notifications. ?status=pending lists those still retrying;
// the default lists entries that exhausted their attempts.
func (s *server) handleAdminOutbox(w http.ResponseWriter, r *http.Request) {
	if !s.outboxEnabled(w) {
		return
	}
	limit := defaultOutboxLimit
	if n, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && n > 0 && n <= 100 {
		limit = n
	}

	var entries []outbox.Entry
	var err error
	if r.URL.Query().Get("status") == outbox.StatusPending {
		entries, err = s.deps.Outbox.ListPending(r.Context(), limit)
	} else {
		entries, err = s.deps.Outbox.ListFailed(r.Context(), limit)
	}
	if err != nil {
		internalError(w, err)
		return
	}
	if entries == nil {
		entries = []outbox.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *server) handleAdminOutboxRetry(w http.ResponseWriter, r *http.Request) {
	if !s.outboxEnabled(w) {
		return
	}
	entry, err := orchestrators.NewOutboxProcessor(s.deps.Outbox, s.deps.Publisher).ProcessSingle(r.Context(), r.PathValue("id"))
	if err != nil {
		writeOutboxError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *server) handleAdminOutboxAbandon(w http.ResponseWriter, r *http.Request) {
	if !s.outboxEnabled(w) {
		return
	}
	if err := orchestrators.NewOutboxProcessor(s.deps.Outbox, s.deps.Publisher).AbandonEntry(r.Context(), r.PathValue("id")); err != nil {
		writeOutboxError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeOutboxError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, outbox.ErrNotFound):
		http.Error(w, "outbox entry not found", http.StatusNotFound)
	case errors.Is(err, outbox.ErrTerminalEntry):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		// Delivery failures are expected while the broker is down.
		http.Error(w, "delivery failed: "+err.Error(), http.StatusBadGateway)
	}
}
