package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "modernc.org/sqlite"

	"pandaconnect/internal/adapters/broker"
	emailPkg "pandaconnect/internal/adapters/email"
	web "pandaconnect/internal/adapters/http"
	"pandaconnect/internal/adapters/http/middleware"
	"pandaconnect/internal/adapters/http/perf"
	"pandaconnect/internal/adapters/ics"
	"pandaconnect/internal/adapters/storage"
	eventStore "pandaconnect/internal/adapters/storage/event"
	outboxStore "pandaconnect/internal/adapters/storage/outbox"
	"pandaconnect/internal/application/orchestrators"
	"pandaconnect/internal/config"
	"pandaconnect/internal/domain/access"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

func main() {
	// .env first: it may set PANDA_CONFIG, the -config default.
	loadDotEnv(".env")
	configPath, err := parseConfigFlag(os.Args[1:])
	if err != nil {
		log.Fatal(err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	setupLogging(cfg)

	loc, err := cfg.Location()
	if err != nil {
		log.Fatalf("invalid timezone: %v", err)
	}

	collector := perf.NewCollector(perf.DefaultRingSize)
	storeOpts := eventStore.Options{Location: loc}

	events, outbox, closeStore := openStore(cfg, collector, storeOpts)
	defer closeStore()

	var publisher orchestrators.EventPublisher = broker.NoopPublisher{}
	var outboxForWeb outboxStore.Store
	if cfg.Broker.URL != "" {
		producer := broker.NewProducer(cfg.Broker.URL, cfg.Broker.Exchange)
		if err := producer.Open(); err != nil {
			log.Fatalf("cannot open amqp connection: %v", err)
		}
		defer producer.Close()
		publisher = producer
		outboxForWeb = outbox

		// Redeliver notifications the broker rejected while it was unavailable.
		outboxStopCh := make(chan struct{})
		orchestrators.StartBackgroundWorker(orchestrators.NewOutboxProcessor(outbox, producer), time.Minute, outboxStopCh)
		defer close(outboxStopCh)
		log.Println("Change notifications enabled (AMQP, with outbox retry)")
	}

	var sender emailPkg.Sender
	if cfg.Email.ResendAPIKey != "" {
		sender = emailPkg.NewResendSender(cfg.Email.ResendAPIKey, cfg.Email.From)
		log.Println("Email sender configured (Resend)")
	} else {
		sender = emailPkg.NewNoopSender()
		log.Println("Email sender configured (noop, set RESEND_API_KEY for real delivery)")
	}

	if cfg.Email.DigestCron != "" {
		sched, err := orchestrators.StartDigestScheduler(cfg.Email.DigestCron, orchestrators.DailyDigestDeps{
			EventStore: events,
			Sender:     sender,
			To:         cfg.Email.DigestRecipients,
			ReplyTo:    cfg.Email.ReplyTo,
			Location:   loc,
		})
		if err != nil {
			log.Fatalf("failed to start digest: %v", err)
		}
		defer func() { <-sched.Stop().Done() }()
	}

	csrfKey, err := web.LoadCSRFKey(os.Getenv("PANDA_CSRF_KEY"), cfg.IsProduction())
	if err != nil {
		log.Fatal(err)
	}
	limiter := middleware.NewRateLimiter(web.RateLimitPerSecond, time.Second)
	defer limiter.Stop()

	handler := web.NewMux(web.Deps{
		Events:     events,
		Authorizer: access.NewAllowlist(cfg.Auth.WriterEmails, cfg.Auth.WriterDomains),
		Publisher:  publisher,
		Outbox:     outboxForWeb,
		Collector:  collector,
		Location:   loc,
		Calendar: ics.FeedOptions{
			Name:     cfg.Calendar.Name,
			Domain:   cfg.Calendar.Domain,
			Duration: time.Duration(cfg.Calendar.DurationMinutes) * time.Minute,
		},
		UserHeader:     cfg.Auth.UserHeader,
		EmailHeader:    cfg.Auth.EmailHeader,
		CSRFKey:        csrfKey,
		SecureCookies:  cfg.IsProduction(),
		TrustedOrigins: splitOrigins(os.Getenv("PANDA_TRUSTED_ORIGINS")),
		Limiter:        limiter,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown_failed", "error", err.Error())
		}
	}()

	log.Printf("PandaConnect %s starting on %s (env=%s, store=%s, schema=%d)",
		version, cfg.Addr, cfg.Env, cfg.Storage.Driver, storage.LatestSchemaVersion())
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Server failed: %v", err)
	}
	log.Println("Server stopped")
}

// openStore builds the configured event store and notification outbox and returns their cleanup.
// The outbox lives in SQLite when that is the event store and in memory otherwise.
func openStore(cfg *config.Config, collector *perf.Collector, opts eventStore.Options) (eventStore.Store, outboxStore.Store, func()) {
	switch cfg.Storage.Driver {
	case config.DriverMemory:
		log.Println("WARNING: in-memory event store, events are lost on restart")
		return eventStore.NewMemoryStore(opts), outboxStore.NewMemoryStore(), func() {}

	case config.DriverPostgres:
		s, err := eventStore.OpenPostgresStore(context.Background(), cfg.Storage.PostgresURL, opts)
		if err != nil {
			log.Fatalf("cannot open postgres: %v", err)
		}
		log.Println("Postgres event store ready")
		return s, outboxStore.NewMemoryStore(), s.Close

	default:
		// WAL mode with busy timeout; writers wait instead of failing with SQLITE_BUSY.
		dsn := cfg.Storage.SQLitePath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
		db, err := sql.Open("sqlite", dsn)
		if err != nil {
			log.Fatalf("failed to open database: %v", err)
		}
		db.SetMaxOpenConns(10)
		if err := db.Ping(); err != nil {
			log.Fatalf("database unreachable: %v", err)
		}
		if err := storage.MigrateDB(db); err != nil {
			log.Fatalf("failed to migrate database: %v", err)
		}
		log.Println("Database initialized successfully!")
		timedDB := storage.NewTimedDB(db, collector)
		return eventStore.NewSQLiteStore(timedDB, opts), outboxStore.NewSQLiteStore(timedDB), func() { db.Close() }
	}
}

// loadDotEnv sets variables from path that are not already in the environment. A missing file is fine.
func loadDotEnv(path string) {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("WARNING: %s not loaded: %v", path, err)
	}
}

// parseConfigFlag returns the YAML config path: -config, else PANDA_CONFIG, else pandaconnect.yaml.
func parseConfigFlag(args []string) (string, error) {
	fs := flag.NewFlagSet("pandaconnect", flag.ContinueOnError)
	path := fs.String("config", envOrDefault("PANDA_CONFIG", "pandaconnect.yaml"), "path to YAML config")
	if err := fs.Parse(args); err != nil {
		return "", err
	}
	return *path, nil
}

func setupLogging(cfg *config.Config) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.IsProduction() {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, opts)))
		return
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, opts)))
}

func splitOrigins(v string) []string {
	var out []string
	for _, o := range strings.Split(v, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
