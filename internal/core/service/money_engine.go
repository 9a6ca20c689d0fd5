package service

import (
	"sort"

	"github.com/rl1809/vending-fleet/internal/core/domain"
)

const (
	// MaxBalance caps the total funds that may be inserted.
	MaxBalance = 7000

	// BillDenomination is the bill tier; bill insertions have their own cap.
	BillDenomination = 1000

	// MaxBillTotal caps cumulative bill insertions per open transaction.
	MaxBillTotal = 5000
)

// DefaultDenominations are the face values a machine accepts, largest first.
var DefaultDenominations = []int{1000, 500, 100, 50, 10}

// MoneyEngine is the currency ledger of a single machine. It is not safe for
// concurrent use; MachineService serializes access to it.
type MoneyEngine struct {
	denominations []int
	coinStock     map[int]int
	balance       int
	inserted      []int
	billTotal     int
}

// NewMoneyEngine creates a ledger holding initialStock units of every
// denomination. Denominations are sorted descending.
func NewMoneyEngine(denominations []int, initialStock int) *MoneyEngine {
	denoms := append([]int(nil), denominations...)
	sort.Sort(sort.Reverse(sort.IntSlice(denoms)))

	stock := make(map[int]int, len(denoms))
	for _, d := range denoms {
		stock[d] = initialStock
	}

	return &MoneyEngine{
		denominations: denoms,
		coinStock:     stock,
	}
}

// Accept registers an inserted unit. It returns false without touching the
// ledger when the amount is not an accepted denomination, when the balance
// would exceed MaxBalance, or when bill insertions would exceed MaxBillTotal.
func (m *MoneyEngine) Accept(amount int) bool {
	if _, ok := m.coinStock[amount]; !ok {
		return false
	}
	if m.balance+amount > MaxBalance {
		return false
	}
	if amount == BillDenomination {
		if m.billTotal+amount > MaxBillTotal {
			return false
		}
		m.billTotal += amount
	}

	m.balance += amount
	m.inserted = append(m.inserted, amount)
	return true
}

// Deposit puts one physically inserted unit into coin stock.
func (m *MoneyEngine) Deposit(amount int) {
	if _, ok := m.coinStock[amount]; ok {
		m.coinStock[amount]++
	}
}

// Settle consumes price from the balance. The remaining balance carries over
// to the next purchase; the insertion history is cleared. The bill total is
// kept, so bills inserted before a purchase still count against
// MaxBillTotal until change is paid out or the insertion is refunded.
func (m *MoneyEngine) Settle(price int) error {
	if price > m.balance {
		return domain.ErrInsufficientBalance
	}
	m.balance -= price
	m.inserted = m.inserted[:0]
	return nil
}

// ComputeChange pays out the balance greedily, largest denomination first,
// bounded by coin stock. The dispense runs on a scratch copy of the stock and
// is committed only when the whole balance could be paid; otherwise
// ErrInsufficientChange is returned and nothing changes.
//
// Greedy can fail where another combination would succeed. That is the
// accepted policy.
func (m *MoneyEngine) ComputeChange() (map[int]int, error) {
	change, scratch, ok := m.dryRunChange()
	if !ok {
		return nil, domain.ErrInsufficientChange
	}

	m.coinStock = scratch
	m.reset()
	return change, nil
}

// CanMakeChange reports whether ComputeChange would succeed right now.
func (m *MoneyEngine) CanMakeChange() bool {
	_, _, ok := m.dryRunChange()
	return ok
}

func (m *MoneyEngine) dryRunChange() (map[int]int, map[int]int, bool) {
	scratch := make(map[int]int, len(m.coinStock))
	for d, n := range m.coinStock {
		scratch[d] = n
	}

	change := make(map[int]int)
	remaining := m.balance
	for _, d := range m.denominations {
		count := remaining / d
		if count > scratch[d] {
			count = scratch[d]
		}
		if count == 0 {
			continue
		}
		scratch[d] -= count
		remaining -= count * d
		change[d] = count
	}

	return change, scratch, remaining == 0
}

// Refund hands back the exact units inserted since the last settle, takes
// them out of coin stock and removes their value from the balance. A
// carry-over balance from an earlier purchase stays in the ledger.
func (m *MoneyEngine) Refund() []int {
	refund := append([]int(nil), m.inserted...)
	for _, amount := range refund {
		if m.coinStock[amount] > 0 {
			m.coinStock[amount]--
		}
		m.balance -= amount
	}
	m.inserted = m.inserted[:0]
	m.billTotal = 0
	return refund
}

// Collect removes every unit above minimum from each denomination and returns
// the collected value. Denominations at or below minimum are untouched.
func (m *MoneyEngine) Collect(minimum int) int {
	collected := 0
	for _, d := range m.denominations {
		current := m.coinStock[d]
		if current > minimum {
			collected += d * (current - minimum)
			m.coinStock[d] = minimum
		}
	}
	return collected
}

func (m *MoneyEngine) reset() {
	m.balance = 0
	m.billTotal = 0
	m.inserted = m.inserted[:0]
}

// Balance returns the funds currently available for purchases.
func (m *MoneyEngine) Balance() int {
	return m.balance
}

// Inserted returns a copy of the insertion history of the open transaction.
func (m *MoneyEngine) Inserted() []int {
	return append([]int(nil), m.inserted...)
}

// Denominations returns the accepted face values, largest first.
func (m *MoneyEngine) Denominations() []int {
	return append([]int(nil), m.denominations...)
}

// CoinStock returns a copy of the per-denomination unit counts.
func (m *MoneyEngine) CoinStock() map[int]int {
	stock := make(map[int]int, len(m.coinStock))
	for d, n := range m.coinStock {
		stock[d] = n
	}
	return stock
}

// SetCoinStock overrides the unit count of one denomination.
func (m *MoneyEngine) SetCoinStock(denomination, count int) error {
	if _, ok := m.coinStock[denomination]; !ok {
		return domain.ErrUnknownDenomination
	}
	if count < 0 {
		count = 0
	}
	m.coinStock[denomination] = count
	return nil
}

// TotalStored returns the value of all units held.
func (m *MoneyEngine) TotalStored() int {
	total := 0
	for d, n := range m.coinStock {
		total += d * n
	}
	return total
}
