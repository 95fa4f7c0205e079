package plugin

import (
	"context"
	"database/sql"
)

// Store is the shared SQLite handle offered to modules that persist data.
type Store interface {
	DB() *sql.DB
	Tx(ctx context.Context, fn func(tx *sql.Tx) error) error
	Migrate(ctx context.Context, module string, migrations []Migration) error
}

// Migration is one schema step owned by a module. Versions ascend per module.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}
