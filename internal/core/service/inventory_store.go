package service

import (
	"sync"

	"github.com/rl1809/vending-fleet/internal/core/domain"
)

// InventoryStore is an index-addressed catalog guarded by a single lock. The
// coordinator holds the authoritative copy; each machine holds a mirror that
// local purchases and inbound sync broadcasts both mutate.
type InventoryStore struct {
	mu    sync.RWMutex
	items []domain.Item
}

func NewInventoryStore(items []domain.Item) *InventoryStore {
	return &InventoryStore{items: append([]domain.Item(nil), items...)}
}

func (s *InventoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

func (s *InventoryStore) Get(index int) (domain.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if index < 0 || index >= len(s.items) {
		return domain.Item{}, domain.ErrItemNotFound
	}
	return s.items[index], nil
}

// Snapshot returns a copy of every item in slot order.
func (s *InventoryStore) Snapshot() []domain.Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Item(nil), s.items...)
}

// Indexed returns a snapshot with slot indexes attached.
func (s *InventoryStore) Indexed() []domain.IndexedItem {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.IndexedItem, len(s.items))
	for i, item := range s.items {
		out[i] = domain.IndexedItem{Index: i, Item: item}
	}
	return out
}

// Replace swaps in a full catalog, e.g. after a getInventory response.
func (s *InventoryStore) Replace(items []domain.Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append([]domain.Item(nil), items...)
}

// Purchase removes one unit from the item at index if its price fits within
// budget. The price check and the decrement happen under the same lock so a
// concurrent remote edit cannot change the price in between.
func (s *InventoryStore) Purchase(index, budget int) (domain.Item, error) {
	return s.mutate(index, func(item *domain.Item) error {
		if item.SoldOut() {
			return domain.ErrSoldOut
		}
		if item.Price > budget {
			return domain.ErrInsufficientBalance
		}
		return item.RemoveUnit()
	})
}

// Restock adds amount units to the item at index.
func (s *InventoryStore) Restock(index, amount int) (domain.Item, error) {
	return s.mutate(index, func(item *domain.Item) error {
		return item.Restock(amount)
	})
}

// Edit replaces every field of the item at index.
func (s *InventoryStore) Edit(index int, name string, price, stock int) (domain.Item, error) {
	return s.mutate(index, func(item *domain.Item) error {
		next := domain.Item{Name: name, Price: price, Stock: stock}
		if err := next.Validate(); err != nil {
			return err
		}
		*item = next
		return nil
	})
}

// ApplyRemote applies an edit broadcast to a mirror: name and price are
// replaced, stock is reconciled as a relative restock of the difference.
func (s *InventoryStore) ApplyRemote(index int, name string, price, stock int) (domain.Item, error) {
	return s.mutate(index, func(item *domain.Item) error {
		if price < 0 {
			return domain.ErrInvalidPrice
		}
		if err := item.Restock(stock - item.Stock); err != nil {
			return err
		}
		item.Name = name
		item.Price = price
		return nil
	})
}

// mutate applies fn to a scratch copy and commits only on success.
func (s *InventoryStore) mutate(index int, fn func(*domain.Item) error) (domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if index < 0 || index >= len(s.items) {
		return domain.Item{}, domain.ErrItemNotFound
	}

	item := s.items[index]
	if err := fn(&item); err != nil {
		return s.items[index], err
	}
	s.items[index] = item
	return item, nil
}
