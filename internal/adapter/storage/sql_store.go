package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rl1809/vending-fleet/internal/core/domain"
)

// dialect carries the few statements that differ between MySQL and SQLite.
type dialect struct {
	name       string
	dayExpr    string
	monthExpr  string
	migrations []string
}

// sqlStore implements InventoryRepository and SaleRepository over
// database/sql. Item slots are stored with id = index + 1.
type sqlStore struct {
	db      *sql.DB
	dialect dialect
}

// Migrate creates the tables if they do not exist.
func (s *sqlStore) Migrate(ctx context.Context) error {
	for _, stmt := range s.dialect.migrations {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s migrate: %w", s.dialect.name, err)
		}
	}
	return nil
}

func (s *sqlStore) LoadInventory(ctx context.Context) ([]domain.Item, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, price, stock
		FROM drink_inventory ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query inventory: %w", err)
	}
	defer rows.Close()

	var items []domain.Item
	for rows.Next() {
		var item domain.Item
		if err := rows.Scan(&item.Name, &item.Price, &item.Stock); err != nil {
			return nil, fmt.Errorf("scan inventory: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate inventory: %w", err)
	}

	return items, nil
}

func (s *sqlStore) SaveInventory(ctx context.Context, items []domain.Item) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		REPLACE INTO drink_inventory (id, name, price, stock)
		VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare inventory: %w", err)
	}
	defer stmt.Close()

	for i, item := range items {
		if _, err := stmt.ExecContext(ctx, i+1, item.Name, item.Price, item.Stock); err != nil {
			return fmt.Errorf("save item %d: %w", i, err)
		}
	}

	return tx.Commit()
}

func (s *sqlStore) AppendSale(ctx context.Context, machineID string, record domain.SaleRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sales_log (client_id, sale_date, drink_name, price, quantity)
		VALUES (?, ?, ?, ?, ?)`,
		machineID, record.Date.Format(domain.SaleDateLayout), record.ItemName,
		record.UnitPrice, record.Quantity,
	)
	if err != nil {
		return fmt.Errorf("insert sale: %w", err)
	}
	return nil
}

func (s *sqlStore) SalesByDay(ctx context.Context) (map[string]int, error) {
	return s.aggregate(ctx, s.dialect.dayExpr)
}

func (s *sqlStore) SalesByMonth(ctx context.Context) (map[string]int, error) {
	return s.aggregate(ctx, s.dialect.monthExpr)
}

func (s *sqlStore) SalesByItem(ctx context.Context) (map[string]int, error) {
	return s.aggregate(ctx, "drink_name")
}

func (s *sqlStore) aggregate(ctx context.Context, keyExpr string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s AS period, SUM(price * quantity) AS total
		FROM sales_log GROUP BY period`, keyExpr))
	if err != nil {
		return nil, fmt.Errorf("query sales: %w", err)
	}
	defer rows.Close()

	totals := make(map[string]int)
	for rows.Next() {
		var period string
		var total int
		if err := rows.Scan(&period, &total); err != nil {
			return nil, fmt.Errorf("scan sales: %w", err)
		}
		totals[period] = total
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sales: %w", err)
	}

	return totals, nil
}
