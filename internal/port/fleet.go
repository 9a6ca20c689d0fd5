package port

import (
	"context"

	"github.com/rl1809/vending-fleet/internal/core/domain"
)

// FleetClient is the peer side of the fleet sync channel as seen by a machine.
type FleetClient interface {
	Edit(ctx context.Context, index int, name string, price, stock int) error
	Restock(ctx context.Context, index, amount int) error
	FetchInventory(ctx context.Context) ([]domain.IndexedItem, error)
	ViewSales(ctx context.Context, view domain.SalesView) ([]domain.SalesTotal, error)
}

type Authenticator interface {
	CheckPassword(plain string) bool
	ChangePassword(plain string) error
}
