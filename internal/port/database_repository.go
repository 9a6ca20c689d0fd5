package port

import (
	"context"

	"github.com/rl1809/vending-fleet/internal/core/domain"
)

type InventoryRepository interface {
	// LoadInventory returns the persisted catalog in slot order
	LoadInventory(ctx context.Context) ([]domain.Item, error)

	// SaveInventory persists the full catalog, replacing existing slots
	SaveInventory(ctx context.Context, items []domain.Item) error
}

type SaleRepository interface {
	// AppendSale persists one sale record for the given machine
	AppendSale(ctx context.Context, machineID string, record domain.SaleRecord) error

	// SalesByDay returns revenue per day ("2006-01-02")
	SalesByDay(ctx context.Context) (map[string]int, error)

	// SalesByMonth returns revenue per month ("2006-01")
	SalesByMonth(ctx context.Context) (map[string]int, error)

	// SalesByItem returns revenue per item name
	SalesByItem(ctx context.Context) (map[string]int, error)
}
