package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rl1809/vending-fleet/internal/port"
)

// Store is what both SQL adapters provide.
type Store interface {
	port.InventoryRepository
	port.SaleRepository
	Migrate(ctx context.Context) error
}

// OpenStore connects to driver ("mysql" or "sqlite"), runs the schema
// migrations and returns the adapter with its pool. The caller closes the
// pool.
func OpenStore(ctx context.Context, driver, dsn string, maxOpen, maxIdle int) (Store, *sql.DB, error) {
	var (
		db    *sql.DB
		store Store
		err   error
	)

	switch driver {
	case "mysql":
		db, err = OpenMySQL(ctx, dsn, maxOpen, maxIdle)
		if err == nil {
			store = NewMySQLAdapter(db)
		}
	case "sqlite":
		db, err = OpenSQLite(ctx, dsn)
		if err == nil {
			store = NewSQLiteAdapter(db)
		}
	default:
		return nil, nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	if err != nil {
		return nil, nil, err
	}

	if err := store.Migrate(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("migrate %s: %w", driver, err)
	}
	return store, db, nil
}
