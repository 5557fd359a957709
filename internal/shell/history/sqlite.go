package history

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// timeFormat is fixed width so recorded_at sorts lexically.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// =============================================================================
// SQLiteRecorder
// =============================================================================

// SQLiteRecorder implements Recorder using SQLite.
type SQLiteRecorder struct {
	db *sqlx.DB
}

// NewSQLiteRecorder opens the ledger at dsn and runs migrations.
func NewSQLiteRecorder(dsn string) (*SQLiteRecorder, error) {
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, NewHistoryError("NewSQLiteRecorder", "", "failed to open database", ErrConnectionFailed)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, NewHistoryError("NewSQLiteRecorder", "", "failed to ping database", ErrConnectionFailed)
	}

	// One connection keeps ":memory:" databases alive across calls.
	db.SetMaxOpenConns(1)

	if err := runMigrations(db.DB); err != nil {
		db.Close()
		return nil, NewHistoryError("NewSQLiteRecorder", "", err.Error(), ErrMigrationFailed)
	}

	return &SQLiteRecorder{db: db}, nil
}

func runMigrations(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteRecorder) Close() error {
	return s.db.Close()
}

// =============================================================================
// Entries
// =============================================================================

type entryRow struct {
	ID         string `db:"id"`
	RecordedAt string `db:"recorded_at"`
	Operation  string `db:"operation"`
	Backend    string `db:"backend"`
	Region     string `db:"region"`
	Repository string `db:"repository"`
	Name       string `db:"name"`
	Alias      string `db:"alias"`
	From       string `db:"from_ref"`
	To         string `db:"to_ref"`
	Outcome    string `db:"outcome"`
	Message    string `db:"message"`
	SessionID  string `db:"session_id"`
}

// Record inserts entry. Missing ids and timestamps are filled in.
func (s *SQLiteRecorder) Record(ctx context.Context, entry Entry) error {
	if entry.Operation == "" || entry.Outcome == "" {
		return NewHistoryError("Record", entry.ID, "operation and outcome are required", ErrInvalidEntry)
	}
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.RecordedAt.IsZero() {
		entry.RecordedAt = time.Now().UTC()
	}

	row := entryRow{
		ID:         entry.ID,
		RecordedAt: entry.RecordedAt.UTC().Format(timeFormat),
		Operation:  string(entry.Operation),
		Backend:    entry.Backend,
		Region:     entry.Region,
		Repository: entry.Repository,
		Name:       entry.Name,
		Alias:      entry.Alias,
		From:       entry.From,
		To:         entry.To,
		Outcome:    entry.Outcome,
		Message:    entry.Message,
		SessionID:  entry.SessionID,
	}

	query := `
		INSERT INTO history (
			id, recorded_at, operation, backend, region, repository, name, alias,
			from_ref, to_ref, outcome, message, session_id
		) VALUES (
			:id, :recorded_at, :operation, :backend, :region, :repository, :name, :alias,
			:from_ref, :to_ref, :outcome, :message, :session_id
		)`

	if _, err := s.db.NamedExecContext(ctx, query, row); err != nil {
		return NewHistoryError("Record", entry.ID, "failed to insert entry", err)
	}
	return nil
}

// List returns entries newest first.
func (s *SQLiteRecorder) List(ctx context.Context, opts ListOptions) ([]Entry, error) {
	var (
		where []string
		args  []any
	)
	if opts.Repository != "" {
		where = append(where, "repository = ?")
		args = append(args, opts.Repository)
	}
	if opts.Name != "" {
		where = append(where, "name = ?")
		args = append(args, opts.Name)
	}
	if opts.SessionID != "" {
		where = append(where, "session_id = ?")
		args = append(args, opts.SessionID)
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}

	query := "SELECT * FROM history"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY recorded_at DESC, rowid DESC LIMIT ?"
	args = append(args, limit)

	var rows []entryRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, NewHistoryError("List", "", "failed to list entries", err)
	}

	entries := make([]Entry, 0, len(rows))
	for _, r := range rows {
		recorded, err := time.Parse(timeFormat, r.RecordedAt)
		if err != nil {
			return nil, NewHistoryError("List", r.ID, "invalid recorded_at", err)
		}
		entries = append(entries, Entry{
			ID:         r.ID,
			RecordedAt: recorded,
			Operation:  Operation(r.Operation),
			Backend:    r.Backend,
			Region:     r.Region,
			Repository: r.Repository,
			Name:       r.Name,
			Alias:      r.Alias,
			From:       r.From,
			To:         r.To,
			Outcome:    r.Outcome,
			Message:    r.Message,
			SessionID:  r.SessionID,
		})
	}
	return entries, nil
}

var _ Recorder = (*SQLiteRecorder)(nil)
