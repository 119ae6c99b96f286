package event

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	domain "pandaconnect/internal/domain/event"
)

//go:embed migration/*.sql
var migrationFS embed.FS

// PostgresStore implements Store on a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
	opts Options
}

var _ Store = (*PostgresStore)(nil)

// OpenPostgresStore connects to connStr and applies pending migrations.
// PRE: connStr is a valid Postgres DSN
// POST: store is ready for use; caller must Close it
func OpenPostgresStore(ctx context.Context, connStr string, opts Options) (*PostgresStore, error) {
	if connStr == "" {
		return nil, errors.New("postgres connection string required")
	}
	pool, err := pgxpool.Connect(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s := &PostgresStore{pool: pool, opts: opts.withDefaults()}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("error whilst migrating: %w", err)
	}
	return s, nil
}

// Close releases the pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS migrations (name TEXT PRIMARY KEY)`); err != nil {
		return fmt.Errorf("cannot create migrations table: %w", err)
	}
	names, err := fs.Glob(migrationFS, "migration/*.sql")
	if err != nil {
		return err
	}
	sort.Strings(names)
	for _, name := range names {
		if err := s.migrateFile(ctx, name); err != nil {
			return fmt.Errorf("migration error: name=%q err=%w", name, err)
		}
	}
	return nil
}

func (s *PostgresStore) migrateFile(ctx context.Context, name string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var n int
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM migrations WHERE name = $1`, name).Scan(&n); err != nil {
		return err
	} else if n != 0 {
		return nil
	}

	buf, err := fs.ReadFile(migrationFS, name)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, string(buf)); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `INSERT INTO migrations (name) VALUES ($1)`, name); err != nil {
		return err
	}
	slog.Info("schema_migrated", "backend", "postgres", "name", name)
	return tx.Commit(ctx)
}

// Create inserts a new event with a fresh id.
// PRE: p passed domain.Validate
func (s *PostgresStore) Create(ctx context.Context, p domain.Payload, createdBy string) (domain.Event, error) {
	e := domain.New(s.opts.GenerateID(), createdBy, p, s.opts.Now().UTC().Truncate(time.Microsecond))
	_, err := s.pool.Exec(ctx,
		`INSERT INTO events (`+eventColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, e.Title, e.Date, e.Time, e.Description, e.CreatedBy, e.CreatedAt,
	)
	if err != nil {
		return domain.Event{}, fmt.Errorf("insert event: %w", err)
	}
	return e, nil
}

// Get retrieves an event by id or domain.ErrNotFound.
func (s *PostgresStore) Get(ctx context.Context, id string) (domain.Event, error) {
	return scanPgRow(s.pool.QueryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1`, id))
}

// Update replaces every field but id and author in one statement.
// POST: returns domain.ErrNotFound and changes nothing if id is absent
func (s *PostgresStore) Update(ctx context.Context, id string, p domain.Payload) (domain.Event, error) {
	return scanPgRow(s.pool.QueryRow(ctx,
		`UPDATE events SET title = $1, date = $2, time = $3, description = $4
		 WHERE id = $5
		 RETURNING `+eventColumns,
		p.Title, p.Date, p.Time, p.Description, id,
	))
}

// Delete removes an event by id.
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM events WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// List returns all events in insertion order.
func (s *PostgresStore) List(ctx context.Context) ([]domain.Event, error) {
	return s.query(ctx, `SELECT `+eventColumns+` FROM events ORDER BY seq ASC`)
}

// FindUpcoming returns the earliest event at or after now.
func (s *PostgresStore) FindUpcoming(ctx context.Context, now time.Time) (domain.Event, bool, error) {
	events, err := s.List(ctx)
	if err != nil {
		return domain.Event{}, false, err
	}
	return domain.NextUpcoming(events, now, s.opts.Location)
}

// FindOnDate returns events on the canonical date, in insertion order.
func (s *PostgresStore) FindOnDate(ctx context.Context, date string) ([]domain.Event, error) {
	return s.query(ctx, `SELECT `+eventColumns+` FROM events WHERE date = $1 ORDER BY seq ASC`, date)
}

func (s *PostgresStore) query(ctx context.Context, q string, args ...any) ([]domain.Event, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []domain.Event{}
	for rows.Next() {
		e, err := scanPgRow(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func scanPgRow(r pgx.Row) (domain.Event, error) {
	var e domain.Event
	err := r.Scan(&e.ID, &e.Title, &e.Date, &e.Time, &e.Description, &e.CreatedBy, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Event{}, domain.ErrNotFound
	}
	return e, err
}
