package storage

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

var sqliteDialect = dialect{
	name:      "sqlite",
	dayExpr:   "strftime('%Y-%m-%d', sale_date)",
	monthExpr: "strftime('%Y-%m', sale_date)",
	migrations: []string{
		`CREATE TABLE IF NOT EXISTS drink_inventory (
			id    INTEGER PRIMARY KEY,
			name  TEXT NOT NULL,
			price INTEGER NOT NULL,
			stock INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS sales_log (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			client_id  TEXT NOT NULL,
			sale_date  TEXT NOT NULL,
			drink_name TEXT NOT NULL,
			price      INTEGER NOT NULL,
			quantity   INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sales_date ON sales_log(sale_date)`,
	},
}

// SQLiteAdapter persists a single machine's or a small fleet's data in an
// embedded database file.
type SQLiteAdapter struct {
	sqlStore
}

func NewSQLiteAdapter(db *sql.DB) *SQLiteAdapter {
	return &SQLiteAdapter{sqlStore{db: db, dialect: sqliteDialect}}
}

// OpenSQLite opens path with WAL and a busy timeout. SQLite allows one
// writer, so the pool is capped at a single connection.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return db, nil
}
