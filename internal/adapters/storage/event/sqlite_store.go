package event

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"pandaconnect/internal/adapters/storage"
	domain "pandaconnect/internal/domain/event"
)

const eventColumns = `id, title, date, time, description, created_by, created_at`

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db   storage.SQLDB
	opts Options
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLiteStore.
// PRE: db is a valid, open database connection with migrations applied
// POST: store is ready for use
func NewSQLiteStore(db storage.SQLDB, opts Options) *SQLiteStore {
	return &SQLiteStore{db: db, opts: opts.withDefaults()}
}

// Create inserts a new event with a fresh id.
// PRE: p passed domain.Validate
// POST: event is persisted
func (s *SQLiteStore) Create(ctx context.Context, p domain.Payload, createdBy string) (domain.Event, error) {
	e := domain.New(s.opts.GenerateID(), createdBy, p, s.opts.Now().UTC())
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO event (`+eventColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Title, e.Date, e.Time, e.Description, e.CreatedBy, e.CreatedAt.Format(timestampLayout),
	)
	if err != nil {
		return domain.Event{}, fmt.Errorf("insert event: %w", err)
	}
	return e, nil
}

// Get retrieves an event by id.
// PRE: id is non-empty
// POST: returns the event or domain.ErrNotFound
func (s *SQLiteStore) Get(ctx context.Context, id string) (domain.Event, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM event WHERE id = ?`, id)
	return scanSQLRow(row)
}

// Update replaces every field but id and author in one statement.
// POST: returns domain.ErrNotFound and changes nothing if id is absent
func (s *SQLiteStore) Update(ctx context.Context, id string, p domain.Payload) (domain.Event, error) {
	row := s.db.QueryRowContext(ctx,
		`UPDATE event SET title = ?, date = ?, time = ?, description = ?
		 WHERE id = ?
		 RETURNING `+eventColumns,
		p.Title, p.Date, p.Time, p.Description, id,
	)
	return scanSQLRow(row)
}

// Delete removes an event by id.
// POST: returns domain.ErrNotFound if nothing was removed
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM event WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// List returns all events in insertion order.
func (s *SQLiteStore) List(ctx context.Context) ([]domain.Event, error) {
	return s.query(ctx, `SELECT `+eventColumns+` FROM event ORDER BY seq ASC`)
}

// FindUpcoming returns the earliest event at or after now.
func (s *SQLiteStore) FindUpcoming(ctx context.Context, now time.Time) (domain.Event, bool, error) {
	events, err := s.List(ctx)
	if err != nil {
		return domain.Event{}, false, err
	}
	return domain.NextUpcoming(events, now, s.opts.Location)
}

// FindOnDate returns events on the canonical date, in insertion order.
// PRE: date is YYYY-MM-DD
func (s *SQLiteStore) FindOnDate(ctx context.Context, date string) ([]domain.Event, error) {
	return s.query(ctx, `SELECT `+eventColumns+` FROM event WHERE date = ? ORDER BY seq ASC`, date)
}

func (s *SQLiteStore) query(ctx context.Context, q string, args ...any) ([]domain.Event, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []domain.Event{}
	for rows.Next() {
		e, err := scanSQLRow(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLRow(r rowScanner) (domain.Event, error) {
	var e domain.Event
	var createdAt string
	err := r.Scan(&e.ID, &e.Title, &e.Date, &e.Time, &e.Description, &e.CreatedBy, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Event{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Event{}, err
	}
	if e.CreatedAt, err = time.Parse(timestampLayout, createdAt); err != nil {
		return domain.Event{}, fmt.Errorf("event %s created_at: %w: %w", e.ID, domain.ErrMalformedInput, err)
	}
	return e, nil
}
