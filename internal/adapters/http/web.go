package web

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log"
	"net/http"
	"time"

	"pandaconnect/internal/adapters/http/middleware"
	"pandaconnect/internal/adapters/http/perf"
	"pandaconnect/internal/adapters/ics"
	eventStore "pandaconnect/internal/adapters/storage/event"
	outboxStore "pandaconnect/internal/adapters/storage/outbox"
	"pandaconnect/internal/application/orchestrators"
	"pandaconnect/internal/domain/access"
)

// Deps holds everything the HTTP layer needs. Built once in main.
type Deps struct {
	Events     eventStore.Store
	Authorizer access.Authorizer
	Publisher  orchestrators.EventPublisher // optional
	Outbox     outboxStore.Store            // optional; requires Publisher
	Collector  *perf.Collector              // optional
	Location   *time.Location
	Now        func() time.Time
	Calendar   ics.FeedOptions

	UserHeader  string
	EmailHeader string

	CSRFKey        []byte
	SecureCookies  bool
	TrustedOrigins []string
	Limiter        *middleware.RateLimiter // nil builds one at RateLimitPerSecond
}

// RateLimitPerSecond controls the per-IP rate limit. Tests can increase this.
var RateLimitPerSecond = 10

// LoadCSRFKey decodes a hex-encoded 32-byte key. An empty key is an error in production
// and yields a random per-process key otherwise.
func LoadCSRFKey(keyHex string, production bool) ([]byte, error) {
	if keyHex != "" {
		key, err := hex.DecodeString(keyHex)
		if err != nil || len(key) != 32 {
			return nil, errors.New("PANDA_CSRF_KEY must be 64 hex characters (32 bytes)")
		}
		return key, nil
	}
	if production {
		return nil, errors.New("PANDA_CSRF_KEY is required in production")
	}
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	log.Println("WARNING: using random CSRF key (form tokens won't survive restart). Set PANDA_CSRF_KEY for production.")
	return key, nil
}

// NewMux wires the event routes behind the middleware chain.
// Order, innermost first: SecurityHeaders, CSRF, Identity, RateLimit, Timing.
func NewMux(d Deps) http.Handler {
	mux := http.NewServeMux()
	registerRoutes(mux, newServer(d))

	limiter := d.Limiter
	if limiter == nil {
		limiter = middleware.NewRateLimiter(RateLimitPerSecond, time.Second)
	}
	return middleware.Chain(mux,
		middleware.SecurityHeaders,
		middleware.CSRF(d.CSRFKey, d.SecureCookies, d.TrustedOrigins),
		middleware.Identity(d.UserHeader, d.EmailHeader),
		middleware.RateLimit(limiter),
		middleware.Timing(d.Collector),
	)
}
