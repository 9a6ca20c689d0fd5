package domain

// Item is one catalog slot of a vending machine. Its identity is the slot
// index inside the inventory, not the name.
type Item struct {
	Name  string `json:"name"`
	Price int    `json:"price"`
	Stock int    `json:"stock"`
}

// SoldOut reports whether no units are left.
func (i Item) SoldOut() bool {
	return i.Stock <= 0
}

// RemoveUnit takes one unit out of stock.
func (i *Item) RemoveUnit() error {
	if i.Stock <= 0 {
		return ErrSoldOut
	}
	i.Stock--
	return nil
}

// Restock adds amount units. A negative amount is a stock correction and is
// rejected when it would drive stock below zero.
func (i *Item) Restock(amount int) error {
	if i.Stock+amount < 0 {
		return ErrNegativeStock
	}
	i.Stock += amount
	return nil
}

// Validate checks the item invariants.
func (i Item) Validate() error {
	if i.Price < 0 {
		return ErrInvalidPrice
	}
	if i.Stock < 0 {
		return ErrNegativeStock
	}
	return nil
}

// IndexedItem is an item together with its slot index, as carried in
// inventory snapshots.
type IndexedItem struct {
	Index int `json:"id"`
	Item
}
