package domain

import "time"

// SaleDateLayout is the day granularity sales are recorded with.
const SaleDateLayout = "2006-01-02"

// SaleRecord is one completed sale. It is immutable once emitted.
type SaleRecord struct {
	Date      time.Time
	ItemName  string
	UnitPrice int
	Quantity  int
}

// Total returns the revenue of the record.
func (r SaleRecord) Total() int {
	return r.UnitPrice * r.Quantity
}

// SalesTotal is one row of an aggregated sales view. Period is a day
// ("2006-01-02"), a month ("2006-01"), an item name, or empty for the grand
// total.
type SalesTotal struct {
	Period string `json:"period"`
	Total  int    `json:"total"`
}

// SalesView selects an aggregation.
type SalesView string

const (
	SalesViewDaily   SalesView = "daily"
	SalesViewMonthly SalesView = "monthly"
	SalesViewTotal   SalesView = "total"
	SalesViewItem    SalesView = "item"
)
