package logsink

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // Pure Go SQLite driver, registers as "sqlite".
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Entry is one persisted journal record.
type Entry struct {
	ID        int64
	Category  Category
	Source    string
	Message   string
	CreatedAt time.Time
}

// SQLiteSink persists journal entries to an embedded SQLite database.
// Recent returns entries newest first; ordering is the sink's
// responsibility, not the writers'.
type SQLiteSink struct {
	db     *sql.DB
	logger *slog.Logger
}

// OpenSQLite opens (creating if needed) the journal database at path
// and applies pending schema migrations.
func OpenSQLite(ctx context.Context, path string, logger *slog.Logger) (*SQLiteSink, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("logsink: open sqlite: %w", err)
	}

	// WAL lets concurrent readers coexist with the single writer.
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("logsink: enabling WAL: %w", err)
	}

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteSink{db: db, logger: logger}, nil
}

// runMigrations applies all pending schema migrations using the goose
// v3 Provider API (no global state, context-aware).
func runMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	subFS, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("logsink: creating migration sub-filesystem: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, subFS)
	if err != nil {
		return fmt.Errorf("logsink: creating migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("logsink: running migrations: %w", err)
	}

	for _, r := range results {
		logger.Debug("applied journal migration",
			slog.String("source", r.Source.Path),
			slog.Int64("duration_ms", r.Duration.Milliseconds()),
		)
	}

	return nil
}

// Record appends an entry. Credentials are never part of source or
// message; callers pass only provider, operation, and remote id.
func (s *SQLiteSink) Record(ctx context.Context, category Category, source, message string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO entries (category, source, message, created_at) VALUES (?, ?, ?, ?)",
		string(category), source, message, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("logsink: inserting entry: %w", err)
	}

	return nil
}

// Recent returns up to limit entries, newest first.
func (s *SQLiteSink) Recent(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, category, source, message, created_at FROM entries ORDER BY id DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("logsink: querying entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry

	for rows.Next() {
		var (
			e   Entry
			cat string
			ts  string
		)

		if err := rows.Scan(&e.ID, &cat, &e.Source, &e.Message, &ts); err != nil {
			return nil, fmt.Errorf("logsink: scanning entry: %w", err)
		}

		e.Category = Category(cat)

		e.CreatedAt, err = time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("logsink: parsing entry timestamp: %w", err)
		}

		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("logsink: iterating entries: %w", err)
	}

	return entries, nil
}

// Close releases the underlying database handle.
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}
