package service

import (
	"context"
	"fmt"
	"sort"

	"github.com/rl1809/vending-fleet/internal/core/domain"
	"github.com/rl1809/vending-fleet/internal/port"
)

// ReportService turns the sale aggregates into ordered views.
type ReportService struct {
	sales port.SaleRepository
}

func NewReportService(sales port.SaleRepository) *ReportService {
	return &ReportService{sales: sales}
}

// SalesView returns revenue rows for view, sorted by period.
func (s *ReportService) SalesView(ctx context.Context, view domain.SalesView) ([]domain.SalesTotal, error) {
	switch view {
	case domain.SalesViewDaily:
		byDay, err := s.sales.SalesByDay(ctx)
		if err != nil {
			return nil, fmt.Errorf("daily sales: %w", err)
		}
		return sortedTotals(byDay), nil

	case domain.SalesViewMonthly:
		byMonth, err := s.sales.SalesByMonth(ctx)
		if err != nil {
			return nil, fmt.Errorf("monthly sales: %w", err)
		}
		return sortedTotals(byMonth), nil

	case domain.SalesViewTotal:
		byDay, err := s.sales.SalesByDay(ctx)
		if err != nil {
			return nil, fmt.Errorf("total sales: %w", err)
		}
		sum := 0
		for _, v := range byDay {
			sum += v
		}
		return []domain.SalesTotal{{Total: sum}}, nil

	case domain.SalesViewItem:
		return s.ItemTotals(ctx)

	default:
		return nil, fmt.Errorf("%q: %w", view, domain.ErrUnsupportedSalesView)
	}
}

// ItemTotals returns revenue per item name.
func (s *ReportService) ItemTotals(ctx context.Context) ([]domain.SalesTotal, error) {
	byItem, err := s.sales.SalesByItem(ctx)
	if err != nil {
		return nil, fmt.Errorf("item sales: %w", err)
	}
	return sortedTotals(byItem), nil
}

func sortedTotals(m map[string]int) []domain.SalesTotal {
	out := make([]domain.SalesTotal, 0, len(m))
	for period, total := range m {
		out = append(out, domain.SalesTotal{Period: period, Total: total})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Period < out[j].Period })
	return out
}
