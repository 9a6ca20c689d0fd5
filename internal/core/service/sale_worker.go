package service

import (
	"context"
	"time"

	"github.com/rl1809/vending-fleet/internal/core/domain"
	"github.com/rl1809/vending-fleet/internal/logger"
	"github.com/rl1809/vending-fleet/internal/metrics"
	"github.com/rl1809/vending-fleet/internal/port"
)

const saleWriteTimeout = 5 * time.Second

// SaleWorker drains completed sales into local persistence and the telemetry
// stream. Both sinks are best-effort: failures are logged and the record is
// not retried.
type SaleWorker struct {
	machineID string
	repo      port.SaleRepository
	reporter  port.SaleReporter
}

func NewSaleWorker(machineID string, repo port.SaleRepository, reporter port.SaleReporter) *SaleWorker {
	return &SaleWorker{machineID: machineID, repo: repo, reporter: reporter}
}

// Run processes records until queue is closed.
func (w *SaleWorker) Run(id int, queue <-chan domain.SaleRecord) {
	for record := range queue {
		w.handle(id, record)
	}
}

func (w *SaleWorker) handle(id int, record domain.SaleRecord) {
	metrics.Sales.WithLabelValues(record.ItemName).Inc()

	if w.repo != nil {
		ctx, cancel := context.WithTimeout(context.Background(), saleWriteTimeout)
		if err := w.repo.AppendSale(ctx, w.machineID, record); err != nil {
			metrics.PersistFailures.WithLabelValues("sales").Inc()
			logger.Logger.Error().
				Err(err).
				Int("worker", id).
				Str("item", record.ItemName).
				Msg("failed to persist sale")
		}
		cancel()
	}

	if w.reporter != nil {
		if err := w.reporter.Report(record); err != nil {
			logger.Logger.Warn().
				Err(err).
				Int("worker", id).
				Str("item", record.ItemName).
				Msg("failed to report sale to collector")
			return
		}
	}

	logger.Logger.Debug().
		Int("worker", id).
		Str("item", record.ItemName).
		Int("price", record.UnitPrice).
		Msg("sale processed")
}
