package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"dialer-platform/internal/config"
	"dialer-platform/pkg/utils"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Open connects to the configured engine and returns the store with its handle.
// The caller closes the *sql.DB.
func Open(ctx context.Context, cfg config.Config) (*SQLStore, *sql.DB, error) {
	d, ok := DialectFor(cfg.Store.Driver)
	if !ok {
		return nil, nil, fmt.Errorf("storage: unknown driver %q", cfg.Store.Driver)
	}

	dsn, pool := cfg.PostgresDSN(), utils.PoolConfig{}
	if d.Name == SQLite.Name {
		dsn, pool = cfg.SQLiteDSN(), utils.SQLitePool()
		if dir := filepath.Dir(cfg.Store.SQLitePath); dir != "." && !strings.HasPrefix(cfg.Store.SQLitePath, ":memory:") {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, nil, fmt.Errorf("storage: create sqlite dir: %w", err)
			}
		}
	}

	db, err := utils.OpenDB(ctx, d.DriverName, dsn, pool)
	if err != nil {
		return nil, nil, fmt.Errorf("storage: open %s: %w", d.Name, err)
	}
	return New(db, d), db, nil
}
