package middleware

import (
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"pandaconnect/internal/adapters/http/perf"
)

// DefaultSlowRequestMs is the slow request threshold when PANDA_SLOW_REQUEST_MS is unset.
const DefaultSlowRequestMs = 200

func slowRequestThreshold() float64 {
	if n, err := strconv.Atoi(os.Getenv("PANDA_SLOW_REQUEST_MS")); err == nil && n > 0 {
		return float64(n)
	}
	return DefaultSlowRequestMs
}

var requestSeq atomic.Uint64

// statusRecorder captures the status code written by the handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

// routeLabel collapses event ids so perf stats group by route.
func routeLabel(path string) string {
	const prefix = "/api/events/"
	rest, ok := strings.CutPrefix(path, prefix)
	if !ok || rest == "" {
		return path
	}
	id, tail, _ := strings.Cut(rest, "/")
	switch id {
	case "upcoming", "current", "on":
		return path
	}
	if tail != "" {
		return prefix + "{id}/" + tail
	}
	return prefix + "{id}"
}

// Timing logs request duration: DEBUG normally, WARN above the slow threshold.
// Static assets are skipped. A non-nil collector also receives each entry.
func Timing(collector *perf.Collector) func(http.Handler) http.Handler {
	threshold := slowRequestThreshold()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasPrefix(r.URL.Path, "/static/") {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			ms := float64(time.Since(start).Microseconds()) / 1000.0

			level := slog.LevelDebug
			msg := "request"
			if ms >= threshold {
				level, msg = slog.LevelWarn, "slow_request"
			}
			slog.Log(r.Context(), level, msg,
				"request_id", requestSeq.Add(1),
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"duration_ms", ms,
			)

			if collector != nil {
				collector.Record(perf.Entry{
					Kind:       perf.KindRequest,
					Path:       r.Method + " " + routeLabel(r.URL.Path),
					StatusCode: rec.status,
					DurationMs: ms,
					Timestamp:  start,
				})
			}
		})
	}
}
