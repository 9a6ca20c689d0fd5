package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rl1809/vending-fleet/internal/core/domain"
	"github.com/rl1809/vending-fleet/internal/logger"
	"github.com/rl1809/vending-fleet/internal/metrics"
	"github.com/rl1809/vending-fleet/internal/port"
)

const maxWarnings = 50

// MoneyStatus is a read-only view of the ledger.
type MoneyStatus struct {
	Balance     int         `json:"balance"`
	Inserted    []int       `json:"inserted"`
	CoinStock   map[int]int `json:"coin_stock"`
	TotalStored int         `json:"total_stored"`
}

// MachineService runs the purchase and admin flows of one vending machine.
// Completed sales are queued on a channel that a worker drains into
// persistence and telemetry.
type MachineService struct {
	machineID      string
	collectMinimum int

	mu    sync.Mutex
	money *MoneyEngine

	inventory *InventoryStore
	fleet     port.FleetClient
	now       func() time.Time

	// queueMu guards sends on saleQueue against Close
	queueMu     sync.RWMutex
	saleQueue   chan domain.SaleRecord
	queueClosed bool

	warnMu   sync.Mutex
	warnings []string
}

func NewMachineService(machineID string, money *MoneyEngine, inventory *InventoryStore, fleet port.FleetClient, collectMinimum, queueSize int) *MachineService {
	return &MachineService{
		machineID:      machineID,
		collectMinimum: collectMinimum,
		money:          money,
		inventory:      inventory,
		fleet:          fleet,
		saleQueue:      make(chan domain.SaleRecord, queueSize),
		now:            time.Now,
	}
}

func (s *MachineService) MachineID() string {
	return s.machineID
}

// Insert accepts one unit of currency and deposits it into coin stock.
func (s *MachineService) Insert(amount int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isDenomination(amount) {
		return s.money.Balance(), domain.ErrUnknownDenomination
	}
	if !s.money.Accept(amount) {
		return s.money.Balance(), domain.ErrInsertRejected
	}
	s.money.Deposit(amount)
	return s.money.Balance(), nil
}

func (s *MachineService) isDenomination(amount int) bool {
	for _, d := range s.money.Denominations() {
		if d == amount {
			return true
		}
	}
	return false
}

// Purchase sells one unit of the item at index out of the current balance.
func (s *MachineService) Purchase(index int) (domain.Item, error) {
	s.mu.Lock()
	item, err := s.inventory.Purchase(index, s.money.Balance())
	if err != nil {
		s.mu.Unlock()
		return domain.Item{}, err
	}
	if err := s.money.Settle(item.Price); err != nil {
		s.mu.Unlock()
		return domain.Item{}, fmt.Errorf("settle: %w", err)
	}
	s.mu.Unlock()

	record := domain.SaleRecord{
		Date:      s.now(),
		ItemName:  item.Name,
		UnitPrice: item.Price,
		Quantity:  1,
	}
	if !s.enqueueSale(record) {
		logger.Logger.Warn().Str("item", item.Name).Msg("sale queue closed, record not reported")
	}

	return item, nil
}

// enqueueSale hands record to the sale worker. It reports false once the
// queue has been closed.
func (s *MachineService) enqueueSale(record domain.SaleRecord) bool {
	s.queueMu.RLock()
	defer s.queueMu.RUnlock()
	if s.queueClosed {
		return false
	}
	s.saleQueue <- record
	return true
}

// Change pays out the balance, or fails without side effects.
func (s *MachineService) Change() (map[int]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	change, err := s.money.ComputeChange()
	if err != nil {
		metrics.ChangeFailures.Inc()
		return nil, err
	}
	return change, nil
}

// Refund returns the units inserted since the last purchase.
func (s *MachineService) Refund() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.money.Refund()
}

// Collect empties coin stock down to the configured minimum.
func (s *MachineService) Collect() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.money.Collect(s.collectMinimum)
}

func (s *MachineService) MoneyStatus() MoneyStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return MoneyStatus{
		Balance:     s.money.Balance(),
		Inserted:    s.money.Inserted(),
		CoinStock:   s.money.CoinStock(),
		TotalStored: s.money.TotalStored(),
	}
}

func (s *MachineService) Inventory() []domain.IndexedItem {
	return s.inventory.Indexed()
}

// Edit forwards an admin edit to the coordinator. The local mirror changes
// only when the broadcast comes back.
func (s *MachineService) Edit(ctx context.Context, index int, name string, price, stock int) error {
	if err := (domain.Item{Name: name, Price: price, Stock: stock}).Validate(); err != nil {
		return err
	}
	return s.fleet.Edit(ctx, index, name, price, stock)
}

// Restock forwards an admin restock to the coordinator.
func (s *MachineService) Restock(ctx context.Context, index, amount int) error {
	return s.fleet.Restock(ctx, index, amount)
}

// SyncInventory replaces the mirror with the coordinator's snapshot.
func (s *MachineService) SyncInventory(ctx context.Context) error {
	snapshot, err := s.fleet.FetchInventory(ctx)
	if err != nil {
		return fmt.Errorf("fetch inventory: %w", err)
	}

	items := make([]domain.Item, len(snapshot))
	for _, it := range snapshot {
		if it.Index < 0 || it.Index >= len(items) {
			return fmt.Errorf("snapshot index %d out of range: %w", it.Index, domain.ErrMalformedMessage)
		}
		items[it.Index] = it.Item
	}
	s.inventory.Replace(items)
	return nil
}

func (s *MachineService) SalesView(ctx context.Context, view domain.SalesView) ([]domain.SalesTotal, error) {
	return s.fleet.ViewSales(ctx, view)
}

// RecordWarning keeps the most recent low-stock warnings from the collector.
func (s *MachineService) RecordWarning(msg string) {
	s.warnMu.Lock()
	defer s.warnMu.Unlock()

	s.warnings = append(s.warnings, msg)
	if len(s.warnings) > maxWarnings {
		s.warnings = s.warnings[len(s.warnings)-maxWarnings:]
	}
}

func (s *MachineService) Warnings() []string {
	s.warnMu.Lock()
	defer s.warnMu.Unlock()
	return append([]string(nil), s.warnings...)
}

func (s *MachineService) GetSaleQueue() <-chan domain.SaleRecord {
	return s.saleQueue
}

// Close stops accepting sale records and closes the queue. Purchases still
// in flight complete without queueing their record.
func (s *MachineService) Close() {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	if s.queueClosed {
		return
	}
	s.queueClosed = true
	close(s.saleQueue)
}
