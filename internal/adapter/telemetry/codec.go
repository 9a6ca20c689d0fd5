// Package telemetry streams sale records from machines to a collector over a
// long-lived TCP connection and carries low-stock warnings back on the same
// connection.
//
// A record travels as one line: base64 of "date,name,price,quantity". The
// base64 step only keeps the payload opaque to casual inspection. It gives no
// confidentiality and no integrity; a corrupted line is dropped as malformed.
package telemetry

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rl1809/vending-fleet/internal/core/domain"
)

const fieldDelimiter = ","

// EncodeRecord renders record as a single transport line without the
// trailing newline.
func EncodeRecord(record domain.SaleRecord) (string, error) {
	if strings.ContainsAny(record.ItemName, fieldDelimiter+"\r\n") {
		return "", fmt.Errorf("item name %q contains a delimiter: %w", record.ItemName, domain.ErrMalformedRecord)
	}

	plain := strings.Join([]string{
		record.Date.Format(domain.SaleDateLayout),
		record.ItemName,
		strconv.Itoa(record.UnitPrice),
		strconv.Itoa(record.Quantity),
	}, fieldDelimiter)

	return base64.StdEncoding.EncodeToString([]byte(plain)), nil
}

// DecodeRecord parses one transport line.
func DecodeRecord(line string) (domain.SaleRecord, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(line))
	if err != nil {
		return domain.SaleRecord{}, fmt.Errorf("decode: %w", domain.ErrMalformedRecord)
	}

	fields := strings.Split(string(raw), fieldDelimiter)
	if len(fields) != 4 {
		return domain.SaleRecord{}, fmt.Errorf("expected 4 fields, got %d: %w", len(fields), domain.ErrMalformedRecord)
	}

	date, err := time.Parse(domain.SaleDateLayout, fields[0])
	if err != nil {
		return domain.SaleRecord{}, fmt.Errorf("date %q: %w", fields[0], domain.ErrMalformedRecord)
	}
	price, err := strconv.Atoi(fields[2])
	if err != nil || price < 0 {
		return domain.SaleRecord{}, fmt.Errorf("price %q: %w", fields[2], domain.ErrMalformedRecord)
	}
	quantity, err := strconv.Atoi(fields[3])
	if err != nil || quantity <= 0 {
		return domain.SaleRecord{}, fmt.Errorf("quantity %q: %w", fields[3], domain.ErrMalformedRecord)
	}

	return domain.SaleRecord{
		Date:      date,
		ItemName:  fields[1],
		UnitPrice: price,
		Quantity:  quantity,
	}, nil
}

// FormatWarning renders the low-stock warning line sent back to a machine.
func FormatWarning(item string, remaining int) string {
	return fmt.Sprintf("low stock: %s (estimated %d left)", item, remaining)
}
