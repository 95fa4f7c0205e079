// Package store provides the SQLite persistence shared by modules.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/HerbHall/servicedesk/pkg/plugin"
	_ "modernc.org/sqlite" // Pure-Go SQLite driver
)

// Compile-time interface guard.
var _ plugin.Store = (*SQLiteStore)(nil)

// SQLiteStore implements plugin.Store with modernc.org/sqlite.
type SQLiteStore struct {
	db    *sql.DB
	mu    sync.Mutex // serializes migrations
	ready bool       // _migrations exists
}

// New opens (or creates) the SQLite database at path and applies the
// pragmas modules rely on (WAL, foreign keys, busy timeout).
func New(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}

	// One connection: ":memory:" databases are per-connection.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite %q: %w", path, err)
	}

	// modernc.org/sqlite takes pragmas as statements, not DSN params.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("exec %q: %w", p, err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// DB returns the underlying *sql.DB.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// Tx runs fn in a transaction, committing only when fn returns nil.
func (s *SQLiteStore) Tx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}

	return tx.Commit()
}

// ErrMigrationOrder is returned when a module's migrations are not listed in
// strictly ascending version order.
var ErrMigrationOrder = errors.New("migrations out of order")

// Migrate runs pending migrations for the named module, each in its own
// transaction. Versions already recorded in _migrations are skipped.
func (s *SQLiteStore) Migrate(ctx context.Context, module string, migrations []plugin.Migration) error {
	for i := 1; i < len(migrations); i++ {
		if migrations[i].Version <= migrations[i-1].Version {
			return fmt.Errorf("%w: %s version %d after %d",
				ErrMigrationOrder, module, migrations[i].Version, migrations[i-1].Version)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureMigrationsTable(ctx); err != nil {
		return err
	}
	applied, err := s.appliedVersions(ctx, module)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}
		if err := s.applyMigration(ctx, module, m); err != nil {
			return fmt.Errorf("migration %s/%d (%s): %w", module, m.Version, m.Description, err)
		}
	}
	return nil
}

// SchemaVersion returns the highest applied migration version of module, or
// zero when none has run.
func (s *SQLiteStore) SchemaVersion(ctx context.Context, module string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureMigrationsTable(ctx); err != nil {
		return 0, err
	}
	var v sql.NullInt64
	if err := s.db.QueryRowContext(ctx,
		"SELECT MAX(version) FROM _migrations WHERE module = ?", module,
	).Scan(&v); err != nil {
		return 0, fmt.Errorf("schema version %s: %w", module, err)
	}
	return int(v.Int64), nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ensureMigrationsTable creates the _migrations table. Callers hold s.mu.
func (s *SQLiteStore) ensureMigrationsTable(ctx context.Context) error {
	if s.ready {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS _migrations (
			module      TEXT     NOT NULL,
			version     INTEGER  NOT NULL,
			description TEXT     NOT NULL,
			applied_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (module, version)
		)
	`); err != nil {
		return fmt.Errorf("create _migrations: %w", err)
	}
	s.ready = true
	return nil
}

func (s *SQLiteStore) appliedVersions(ctx context.Context, module string) (map[int]bool, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT version FROM _migrations WHERE module = ?", module)
	if err != nil {
		return nil, fmt.Errorf("list migrations %s: %w", module, err)
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan migration %s: %w", module, err)
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

func (s *SQLiteStore) applyMigration(ctx context.Context, module string, m plugin.Migration) error {
	return s.Tx(ctx, func(tx *sql.Tx) error {
		if err := m.Up(tx); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			"INSERT INTO _migrations (module, version, description) VALUES (?, ?, ?)",
			module, m.Version, m.Description,
		)
		return err
	})
}
