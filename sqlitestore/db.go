// Package sqlitestore persists conversations, turns, user settings and the whitelist in SQLite.
// It uses modernc.org/sqlite, a pure-Go driver, so the binary needs no CGO.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	// Register the modernc sqlite driver under the name "sqlite".
	_ "modernc.org/sqlite"
)

// FileName is the database file created inside the configured directory.
const FileName = "universalis.db"

// Store is the SQLite-backed persistence layer. It is safe for concurrent use.
type Store struct {
	db            *sql.DB
	defaultPrompt string
	logger        *zap.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithDefaultSystemPrompt sets the system prompt given to new and reset users.
func WithDefaultSystemPrompt(prompt string) Option {
	return func(s *Store) { s.defaultPrompt = prompt }
}

// WithLogger sets the logger. Default: zap.NewNop().
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Open opens (or creates) the database at path, applies pending migrations and returns a Store.
// The parent directory must exist.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	db, err := newDB(ctx, path)
	if err != nil {
		return nil, err
	}
	s := &Store{db: db, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	if err := migrateUp(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	v, err := migrationVersion(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s.logger.Info("sqlite store ready", zap.String("path", path), zap.Int("schema_version", v))
	return s, nil
}

// OpenDir opens FileName inside dir.
func OpenDir(ctx context.Context, dir string, opts ...Option) (*Store, error) {
	return Open(ctx, filepath.Join(dir, FileName), opts...)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks that the database answers.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// newDB opens path with WAL journaling, foreign keys on and a busy timeout.
func newDB(ctx context.Context, path string) (*sql.DB, error) {
	dir := filepath.Dir(path)
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("sqlitestore: parent directory %q does not exist", dir)
	}

	dsn := path +
		"?_pragma=journal_mode(WAL)" +
		"&_pragma=foreign_keys(ON)" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=synchronous(NORMAL)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlitestore: ping %q: %w", path, err)
	}
	return db, nil
}
