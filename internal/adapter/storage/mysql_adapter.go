package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

var mysqlDialect = dialect{
	name:      "mysql",
	dayExpr:   "DATE_FORMAT(sale_date, '%Y-%m-%d')",
	monthExpr: "DATE_FORMAT(sale_date, '%Y-%m')",
	migrations: []string{
		`CREATE TABLE IF NOT EXISTS drink_inventory (
			id    INT PRIMARY KEY,
			name  VARCHAR(64) NOT NULL,
			price INT NOT NULL,
			stock INT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS sales_log (
			id         BIGINT AUTO_INCREMENT PRIMARY KEY,
			client_id  VARCHAR(64) NOT NULL,
			sale_date  DATE NOT NULL,
			drink_name VARCHAR(64) NOT NULL,
			price      INT NOT NULL,
			quantity   INT NOT NULL,
			INDEX idx_sales_date (sale_date)
		)`,
	},
}

type MySQLAdapter struct {
	sqlStore
}

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{sqlStore{db: db, dialect: mysqlDialect}}
}

// OpenMySQL opens and pings a pooled MySQL connection.
func OpenMySQL(ctx context.Context, dsn string, maxOpen, maxIdle int) (*sql.DB, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}
	return db, nil
}
