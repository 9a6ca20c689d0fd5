package fleetsync

import (
	"errors"
	"fmt"

	"github.com/rl1809/vending-fleet/internal/core/domain"
)

// Message types. edit, restock, getInventory and viewSales are requests a
// peer sends; the rest are produced by the coordinator.
const (
	TypeEdit         = "edit"
	TypeRestock      = "restock"
	TypeGetInventory = "getInventory"
	TypeViewSales    = "viewSales"

	TypeInventory = "inventory"
	TypeSalesData = "salesData"
	TypeAck       = "ack"
	TypeError     = "error"
)

// Message is the tagged union carried on the sync stream. Request fields are
// pointers so a missing field can be told apart from a zero value.
type Message struct {
	Type string `json:"type"`

	// RID correlates a reply with its request. Broadcasts carry none.
	RID string `json:"rid,omitempty"`

	ID     *int    `json:"id,omitempty"`
	Name   *string `json:"name,omitempty"`
	Price  *int    `json:"price,omitempty"`
	Stock  *int    `json:"stock,omitempty"`
	Amount *int    `json:"amount,omitempty"`

	ViewType  string              `json:"viewType,omitempty"`
	SalesType string              `json:"salesType,omitempty"`
	Sales     []domain.SalesTotal `json:"sales,omitempty"`

	Data []domain.IndexedItem `json:"data,omitempty"`

	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

func EditMessage(index int, item domain.Item) Message {
	return Message{
		Type:  TypeEdit,
		ID:    &index,
		Name:  &item.Name,
		Price: &item.Price,
		Stock: &item.Stock,
	}
}

func RestockMessage(index, amount int) Message {
	return Message{Type: TypeRestock, ID: &index, Amount: &amount}
}

func GetInventoryMessage() Message {
	return Message{Type: TypeGetInventory}
}

func ViewSalesMessage(view domain.SalesView) Message {
	return Message{Type: TypeViewSales, ViewType: string(view)}
}

func inventoryMessage(rid string, items []domain.IndexedItem) Message {
	return Message{Type: TypeInventory, RID: rid, Data: items}
}

func salesDataMessage(rid string, view domain.SalesView, sales []domain.SalesTotal) Message {
	return Message{Type: TypeSalesData, RID: rid, SalesType: string(view), Sales: sales}
}

func ackMessage(rid, text string) Message {
	return Message{Type: TypeAck, RID: rid, Message: text}
}

// Validate checks that every field the tag requires is present.
func (m Message) Validate() error {
	switch m.Type {
	case TypeEdit:
		if m.ID == nil || m.Name == nil || m.Price == nil || m.Stock == nil {
			return fmt.Errorf("edit requires id, name, price and stock: %w", domain.ErrMalformedMessage)
		}
	case TypeRestock:
		if m.ID == nil || m.Amount == nil {
			return fmt.Errorf("restock requires id and amount: %w", domain.ErrMalformedMessage)
		}
	case TypeGetInventory:
	case TypeViewSales:
		if m.ViewType == "" {
			return fmt.Errorf("viewSales requires viewType: %w", domain.ErrMalformedMessage)
		}
	case "":
		return fmt.Errorf("missing type: %w", domain.ErrMalformedMessage)
	default:
		return fmt.Errorf("%q: %w", m.Type, domain.ErrUnsupportedCommand)
	}
	return nil
}

// ─── Error replies ──────────────────────────────────────────────────────────

// errorCodes lets a peer map an error reply back to the domain sentinel.
var errorCodes = []struct {
	code string
	err  error
}{
	{"item_not_found", domain.ErrItemNotFound},
	{"negative_stock", domain.ErrNegativeStock},
	{"invalid_price", domain.ErrInvalidPrice},
	{"malformed_message", domain.ErrMalformedMessage},
	{"unsupported_command", domain.ErrUnsupportedCommand},
	{"unsupported_sales_view", domain.ErrUnsupportedSalesView},
}

const codeInternal = "internal"

func errorMessage(rid string, err error) Message {
	code := codeInternal
	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			code = c.code
			break
		}
	}
	return Message{Type: TypeError, RID: rid, Code: code, Message: err.Error()}
}

// RemoteError is an error reply from the coordinator.
type RemoteError struct {
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	return "coordinator: " + e.Message
}

// Unwrap returns the domain sentinel matching the reply code, if any.
func (e *RemoteError) Unwrap() error {
	for _, c := range errorCodes {
		if c.code == e.Code {
			return c.err
		}
	}
	return nil
}
