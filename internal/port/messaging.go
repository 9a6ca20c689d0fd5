package port

import (
	"context"

	"github.com/rl1809/vending-fleet/internal/core/domain"
)

type SalePublisher interface {
	// PublishSale forwards an accepted sale record downstream
	PublishSale(ctx context.Context, machineID string, record domain.SaleRecord) error
}

type SaleReporter interface {
	// Report streams one sale record to the telemetry collector
	Report(record domain.SaleRecord) error
}
