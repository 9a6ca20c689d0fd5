package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rl1809/vending-fleet/internal/core/domain"
)

// Mock SaleRepository
type mockSaleRepo struct {
	mu      sync.Mutex
	records []domain.SaleRecord
	err     error
}

func (m *mockSaleRepo) AppendSale(ctx context.Context, machineID string, record domain.SaleRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.records = append(m.records, record)
	return nil
}

func (m *mockSaleRepo) SalesByDay(ctx context.Context) (map[string]int, error)   { return nil, nil }
func (m *mockSaleRepo) SalesByMonth(ctx context.Context) (map[string]int, error) { return nil, nil }
func (m *mockSaleRepo) SalesByItem(ctx context.Context) (map[string]int, error)  { return nil, nil }

// Mock SaleReporter
type mockReporter struct {
	mu       sync.Mutex
	reported []domain.SaleRecord
	err      error
}

func (m *mockReporter) Report(record domain.SaleRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.reported = append(m.reported, record)
	return nil
}

func TestSaleWorker_DeliversToBothSinks(t *testing.T) {
	repo := &mockSaleRepo{}
	reporter := &mockReporter{}
	worker := NewSaleWorker("vm-1", repo, reporter)

	queue := make(chan domain.SaleRecord, 3)
	for _, name := range []string{"A", "B", "C"} {
		queue <- domain.SaleRecord{Date: time.Now(), ItemName: name, UnitPrice: 100, Quantity: 1}
	}
	close(queue)

	worker.Run(0, queue)

	if len(repo.records) != 3 {
		t.Errorf("persisted = %d, want 3", len(repo.records))
	}
	if len(reporter.reported) != 3 {
		t.Errorf("reported = %d, want 3", len(reporter.reported))
	}
	if reporter.reported[1].ItemName != "B" {
		t.Errorf("order not preserved: %+v", reporter.reported)
	}
}

func TestSaleWorker_PersistFailureStillReports(t *testing.T) {
	repo := &mockSaleRepo{err: errors.New("db down")}
	reporter := &mockReporter{}
	worker := NewSaleWorker("vm-1", repo, reporter)

	queue := make(chan domain.SaleRecord, 1)
	queue <- domain.SaleRecord{ItemName: "A", UnitPrice: 100, Quantity: 1}
	close(queue)

	worker.Run(0, queue)

	if len(reporter.reported) != 1 {
		t.Errorf("reported = %d, want 1", len(reporter.reported))
	}
}

func TestSaleWorker_NilSinks(t *testing.T) {
	worker := NewSaleWorker("vm-1", nil, nil)
	queue := make(chan domain.SaleRecord, 1)
	queue <- domain.SaleRecord{ItemName: "A"}
	close(queue)

	worker.Run(0, queue)
}
