package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"pandaconnect/internal/adapters/http/middleware"
	"pandaconnect/internal/adapters/http/perf"
	"pandaconnect/internal/adapters/ics"
	eventStore "pandaconnect/internal/adapters/storage/event"
	"pandaconnect/internal/domain/access"
	"pandaconnect/internal/domain/event"
)

var testNow = time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC)

type testApp struct {
	full      http.Handler // complete middleware chain
	bare      http.Handler // routes behind Identity only, for form posts without CSRF tokens
	store     *eventStore.MemoryStore
	collector *perf.Collector
}

func newTestApp(t *testing.T) testApp {
	t.Helper()
	return newTestAppWith(t, nil)
}

// newTestAppWith lets a test adjust Deps before the handlers are built.
func newTestAppWith(t *testing.T, adjust func(*Deps)) testApp {
	t.Helper()
	store := eventStore.NewMemoryStore(eventStore.Options{Location: time.UTC, Now: func() time.Time { return testNow }})
	collector := perf.NewCollector(100)
	limiter := middleware.NewRateLimiter(1000, time.Second)
	t.Cleanup(limiter.Stop)

	d := Deps{
		Events:      store,
		Authorizer:  access.NewAllowlist([]string{"head@school.example"}, []string{"staff.school.example"}),
		Collector:   collector,
		Location:    time.UTC,
		Now:         func() time.Time { return testNow },
		Calendar:    ics.FeedOptions{Name: "School Events", Domain: "school.example"},
		UserHeader:  "X-Auth-User-Id",
		EmailHeader: "X-Auth-Email",
		CSRFKey:     []byte(strings.Repeat("k", 32)),
		Limiter:     limiter,
	}
	if adjust != nil {
		adjust(&d)
	}
	mux := http.NewServeMux()
	registerRoutes(mux, newServer(d))
	return testApp{
		full:      NewMux(d),
		bare:      middleware.Identity(d.UserHeader, d.EmailHeader)(mux),
		store:     store,
		collector: collector,
	}
}

func asStaff(req *http.Request) *http.Request {
	req.Header.Set("X-Auth-User-Id", "u-staff")
	req.Header.Set("X-Auth-Email", "teacher@staff.school.example")
	return req
}

func asParent(req *http.Request) *http.Request {
	req.Header.Set("X-Auth-User-Id", "u-parent")
	req.Header.Set("X-Auth-Email", "parent@home.example")
	return req
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func seed(t *testing.T, app testApp, title, date, clock string) event.Event {
	t.Helper()
	e, err := app.store.Create(context.Background(), event.Payload{Title: title, Date: date, Time: clock, Description: title + " details"}, "u-staff")
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return e
}

// TestCreateEvent_API tests the JSON create path end to end.
func TestCreateEvent_API(t *testing.T) {
	app := newTestApp(t)
	body := `{"title":"Book Fair","date":"2025-03-04","time":"14:30","description":"Gym"}`
	rr := serve(app.full, asStaff(jsonRequest(http.MethodPost, "/api/events", body)))
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	var got event.Event
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID == "" || got.CreatedBy != "u-staff" || got.Time != "14:30" {
		t.Errorf("unexpected record %+v", got)
	}
	if rr.Header().Get("X-Frame-Options") != "DENY" {
		t.Error("security headers missing")
	}
}

// TestCreateEvent_ValidationIssues tests the 400 body is the bare issues array.
func TestCreateEvent_ValidationIssues(t *testing.T) {
	app := newTestApp(t)
	body := `{"title":"","date":"2025-03-04","time":"14:30","description":"x"}`
	rr := serve(app.full, asStaff(jsonRequest(http.MethodPost, "/api/events", body)))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
	var issues []event.FieldError
	if err := json.Unmarshal(rr.Body.Bytes(), &issues); err != nil {
		t.Fatalf("decode: %v (%s)", err, rr.Body.String())
	}
	if len(issues) != 1 || issues[0].Field != "title" || issues[0].Code != event.CodeRequired {
		t.Errorf("issues = %+v", issues)
	}
	if list, _ := app.store.List(context.Background()); len(list) != 0 {
		t.Error("store must be untouched")
	}
}

// TestCreateEvent_RejectsUnknownFields tests strict decoding.
func TestCreateEvent_RejectsUnknownFields(t *testing.T) {
	app := newTestApp(t)
	body := `{"title":"A","date":"2025-03-04","time":"14:30","description":"x","createdBy":"mallory"}`
	if rr := serve(app.full, asStaff(jsonRequest(http.MethodPost, "/api/events", body))); rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

// TestWriteAccess tests 401 for anonymous callers and 403 for callers outside the allowlist.
func TestWriteAccess(t *testing.T) {
	app := newTestApp(t)
	body := `{"title":"A","date":"2025-03-04","time":"14:30","description":"x"}`

	if rr := serve(app.full, jsonRequest(http.MethodPost, "/api/events", body)); rr.Code != http.StatusUnauthorized {
		t.Errorf("anonymous status = %d, want 401", rr.Code)
	}
	if rr := serve(app.full, asParent(jsonRequest(http.MethodPost, "/api/events", body))); rr.Code != http.StatusForbidden {
		t.Errorf("parent status = %d, want 403", rr.Code)
	}
	e := seed(t, app, "Fair", "2025-03-05", "09:00")
	if rr := serve(app.full, asParent(httptest.NewRequest(http.MethodDelete, "/api/events/"+e.ID, nil))); rr.Code != http.StatusForbidden {
		t.Errorf("parent delete status = %d, want 403", rr.Code)
	}
}

// TestWriteAccess_CheckedBeforeBody tests that an unauthorized caller learns nothing about body parsing.
func TestWriteAccess_CheckedBeforeBody(t *testing.T) {
	app := newTestApp(t)
	tests := []struct {
		name string
		req  *http.Request
		want int
	}{
		{"anonymous malformed post", jsonRequest(http.MethodPost, "/api/events", `{"title":`), http.StatusUnauthorized},
		{"anonymous unknown field", jsonRequest(http.MethodPost, "/api/events", `{"extra":1}`), http.StatusUnauthorized},
		{"anonymous put", jsonRequest(http.MethodPut, "/api/events/e1", `not json`), http.StatusUnauthorized},
		{"parent malformed post", asParent(jsonRequest(http.MethodPost, "/api/events", `{"title":`)), http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := serve(app.full, tt.req)
			if rr.Code != tt.want {
				t.Fatalf("status = %d, want %d (body %q)", rr.Code, tt.want, rr.Body.String())
			}
			if strings.Contains(rr.Body.String(), "json") {
				t.Errorf("decoder detail leaked: %q", rr.Body.String())
			}
		})
	}
}

// TestUpdateAndDelete_API tests replace, not-found and repeated delete.
func TestUpdateAndDelete_API(t *testing.T) {
	app := newTestApp(t)
	e := seed(t, app, "Fair", "2025-03-05", "09:00")

	body := `{"title":"Fair (moved)","date":"2025-03-06","time":"1:15 PM","description":"Hall"}`
	rr := serve(app.full, asStaff(jsonRequest(http.MethodPut, "/api/events/"+e.ID, body)))
	if rr.Code != http.StatusOK {
		t.Fatalf("update status = %d, body = %s", rr.Code, rr.Body.String())
	}
	got, _ := app.store.Get(context.Background(), e.ID)
	if got.Time != "13:15" || got.Date != "2025-03-06" || got.CreatedBy != "u-staff" {
		t.Errorf("stored after update: %+v", got)
	}

	if rr := serve(app.full, asStaff(jsonRequest(http.MethodPut, "/api/events/missing", body))); rr.Code != http.StatusNotFound {
		t.Errorf("update missing status = %d, want 404", rr.Code)
	}

	if rr := serve(app.full, asStaff(httptest.NewRequest(http.MethodDelete, "/api/events/"+e.ID, nil))); rr.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rr.Code)
	}
	if rr := serve(app.full, asStaff(httptest.NewRequest(http.MethodDelete, "/api/events/"+e.ID, nil))); rr.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", rr.Code)
	}
}

// TestReadEndpoints tests list, current, upcoming, on-date and form prefill.
func TestReadEndpoints(t *testing.T) {
	app := newTestApp(t)
	seed(t, app, "Morning", "2025-03-04", "09:00")
	afternoon := seed(t, app, "Afternoon", "2025-03-04", "14:00")
	seed(t, app, "Friday", "2025-03-07", "08:30")

	rr := serve(app.full, httptest.NewRequest(http.MethodGet, "/api/events", nil))
	var list []map[string]any
	json.Unmarshal(rr.Body.Bytes(), &list)
	if rr.Code != http.StatusOK || len(list) != 3 {
		t.Fatalf("list status=%d len=%d", rr.Code, len(list))
	}

	rr = serve(app.full, httptest.NewRequest(http.MethodGet, "/api/events/current", nil))
	var current map[string]any
	json.Unmarshal(rr.Body.Bytes(), &current)
	if current["title"] != "Afternoon" || current["displayTime"] != "2:00 PM" {
		t.Errorf("current = %v", current)
	}

	rr = serve(app.full, httptest.NewRequest(http.MethodGet, "/api/events/upcoming?limit=1", nil))
	var upcoming []map[string]any
	json.Unmarshal(rr.Body.Bytes(), &upcoming)
	if len(upcoming) != 1 || upcoming[0]["title"] != "Afternoon" {
		t.Errorf("upcoming = %v", upcoming)
	}

	rr = serve(app.full, httptest.NewRequest(http.MethodGet, "/api/events/on?date=2025-03-04", nil))
	var onDate []map[string]any
	json.Unmarshal(rr.Body.Bytes(), &onDate)
	if len(onDate) != 2 {
		t.Errorf("on date = %v", onDate)
	}

	if rr := serve(app.full, httptest.NewRequest(http.MethodGet, "/api/events/on?date=tomorrow", nil)); rr.Code != http.StatusBadRequest {
		t.Errorf("bad date status = %d, want 400", rr.Code)
	}

	rr = serve(app.full, httptest.NewRequest(http.MethodGet, "/api/events/"+afternoon.ID+"/form", nil))
	var form map[string]any
	json.Unmarshal(rr.Body.Bytes(), &form)
	if form["time"] != "2:00 PM" || form["date"] != "2025-03-04" {
		t.Errorf("form = %v", form)
	}
}

// TestCurrentEvent_NoneLeft tests the null body when every event has passed.
func TestCurrentEvent_NoneLeft(t *testing.T) {
	app := newTestApp(t)
	seed(t, app, "Yesterday", "2025-03-03", "09:00")
	rr := serve(app.full, httptest.NewRequest(http.MethodGet, "/api/events/current", nil))
	if rr.Code != http.StatusOK || strings.TrimSpace(rr.Body.String()) != "null" {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
}

// TestAdminForm_EditorPath tests the 12-hour form submission creates and updates.
func TestAdminForm_EditorPath(t *testing.T) {
	app := newTestApp(t)
	form := url.Values{"title": {"Concert"}, "date": {"2025-03-08"}, "time": {"12:30 AM"}, "description": {"Hall"}}
	req := httptest.NewRequest(http.MethodPost, "/admin/events", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := serve(app.bare, asStaff(req))
	if rr.Code != http.StatusSeeOther {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	list, _ := app.store.List(context.Background())
	if len(list) != 1 || list[0].Time != "00:30" || list[0].Date != "2025-03-08" {
		t.Fatalf("stored = %+v", list)
	}

	form.Set("id", list[0].ID)
	form.Set("time", "7:05 PM")
	req = httptest.NewRequest(http.MethodPost, "/admin/events", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if rr := serve(app.bare, asStaff(req)); rr.Code != http.StatusSeeOther {
		t.Fatalf("update status = %d", rr.Code)
	}
	got, _ := app.store.Get(context.Background(), list[0].ID)
	if got.Time != "19:05" {
		t.Errorf("time after update = %s", got.Time)
	}
}

// TestAdminForm_Invalid tests that a bad 12-hour time is reported as a field issue.
func TestAdminForm_Invalid(t *testing.T) {
	app := newTestApp(t)
	form := url.Values{"title": {"Concert"}, "date": {"2025-03-08"}, "time": {"19:05 PM"}, "description": {"Hall"}}
	req := httptest.NewRequest(http.MethodPost, "/admin/events", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := serve(app.bare, asStaff(req))
	if rr.Code != http.StatusBadRequest || !strings.Contains(rr.Body.String(), `"field":"time"`) {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
}

// TestAdminForm_RequiresCSRFToken tests that the full chain rejects a form post without a token.
func TestAdminForm_RequiresCSRFToken(t *testing.T) {
	app := newTestApp(t)
	form := url.Values{"title": {"Concert"}, "date": {"2025-03-08"}, "time": {"9:00 AM"}, "description": {"Hall"}}
	req := httptest.NewRequest(http.MethodPost, "/admin/events", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if rr := serve(app.full, asStaff(req)); rr.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rr.Code)
	}
}

// TestCalendarFeed tests the iCalendar export.
func TestCalendarFeed(t *testing.T) {
	app := newTestApp(t)
	e := seed(t, app, "Book Fair", "2025-03-04", "09:00")
	rr := serve(app.full, httptest.NewRequest(http.MethodGet, "/calendar.ics", nil))
	if rr.Code != http.StatusOK || !strings.HasPrefix(rr.Header().Get("Content-Type"), "text/calendar") {
		t.Fatalf("status=%d type=%s", rr.Code, rr.Header().Get("Content-Type"))
	}
	body := rr.Body.String()
	if !strings.Contains(body, "UID:"+e.ID+"@school.example") || !strings.Contains(body, "SUMMARY:Book Fair") {
		t.Errorf("feed missing event:\n%s", body)
	}
}

// TestPerfEndpoint tests that only writers can read the perf snapshot.
func TestPerfEndpoint(t *testing.T) {
	app := newTestApp(t)
	serve(app.full, httptest.NewRequest(http.MethodGet, "/api/events", nil))

	if rr := serve(app.full, httptest.NewRequest(http.MethodGet, "/api/admin/perf", nil)); rr.Code != http.StatusUnauthorized {
		t.Errorf("anonymous status = %d, want 401", rr.Code)
	}
	rr := serve(app.full, asStaff(httptest.NewRequest(http.MethodGet, "/api/admin/perf", nil)))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var snap perf.Snapshot
	if err := json.Unmarshal(rr.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.TotalRecorded < 1 {
		t.Errorf("expected recorded requests, got %+v", snap)
	}
}

func TestHealthz(t *testing.T) {
	rr := serve(newTestApp(t).full, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK || rr.Body.String() != "ok" {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
}

func TestLoadCSRFKey(t *testing.T) {
	if _, err := LoadCSRFKey("", true); err == nil {
		t.Error("production without key must fail")
	}
	if _, err := LoadCSRFKey("abcd", false); err == nil {
		t.Error("short key must fail")
	}
	key, err := LoadCSRFKey(strings.Repeat("ab", 32), true)
	if err != nil || len(key) != 32 {
		t.Fatalf("valid key: %v", err)
	}
	if key, err := LoadCSRFKey("", false); err != nil || len(key) != 32 {
		t.Fatalf("dev key: %v", err)
	}
}
