package port

import "context"

type StockEstimator interface {
	// Decrement atomically lowers the estimate for item by quantity, seeding it
	// with the default first if absent. Returns the estimate before and after.
	Decrement(ctx context.Context, item string, quantity int) (before, after int, err error)

	// Seed sets the estimate for item, e.g. from authoritative inventory
	Seed(ctx context.Context, item string, stock int) error

	// Estimate returns the current estimate and whether one exists
	Estimate(ctx context.Context, item string) (int, bool, error)
}
