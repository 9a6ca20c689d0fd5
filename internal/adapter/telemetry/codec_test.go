package telemetry

import (
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/rl1809/vending-fleet/internal/core/domain"
)

func TestEncodeRecord(t *testing.T) {
	record := domain.SaleRecord{
		Date:      time.Date(2025, 6, 1, 15, 4, 5, 0, time.UTC),
		ItemName:  "Cola",
		UnitPrice: 1500,
		Quantity:  2,
	}

	line, err := EncodeRecord(record)
	if err != nil {
		t.Fatalf("EncodeRecord: %v", err)
	}
	raw, _ := base64.StdEncoding.DecodeString(line)
	if string(raw) != "2025-06-01,Cola,1500,2" {
		t.Errorf("plain = %q", raw)
	}

	decoded, err := DecodeRecord(line + "\r\n")
	if err != nil {
		t.Fatalf("DecodeRecord: %v", err)
	}
	if decoded.ItemName != "Cola" || decoded.UnitPrice != 1500 || decoded.Quantity != 2 {
		t.Errorf("decoded = %+v", decoded)
	}
	if decoded.Date.Format(domain.SaleDateLayout) != "2025-06-01" {
		t.Errorf("date = %v", decoded.Date)
	}
}

func TestEncodeRecord_RejectsDelimiterInName(t *testing.T) {
	for _, name := range []string{"Cola,Zero", "Cola\nZero"} {
		_, err := EncodeRecord(domain.SaleRecord{Date: time.Now(), ItemName: name, UnitPrice: 1, Quantity: 1})
		if !errors.Is(err, domain.ErrMalformedRecord) {
			t.Errorf("EncodeRecord(%q): expected ErrMalformedRecord, got %v", name, err)
		}
	}
}

func TestDecodeRecord_Malformed(t *testing.T) {
	enc := func(s string) string { return base64.StdEncoding.EncodeToString([]byte(s)) }

	tests := []struct {
		name string
		line string
	}{
		{"not base64", "!!!"},
		{"three fields", enc("2025-06-01,Cola,1500")},
		{"five fields", enc("2025-06-01,Cola,Zero,1500,1")},
		{"bad date", enc("06/01/2025,Cola,1500,1")},
		{"bad price", enc("2025-06-01,Cola,abc,1")},
		{"negative price", enc("2025-06-01,Cola,-1,1")},
		{"zero quantity", enc("2025-06-01,Cola,1500,0")},
		{"empty", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeRecord(tt.line); !errors.Is(err, domain.ErrMalformedRecord) {
				t.Errorf("expected ErrMalformedRecord, got %v", err)
			}
		})
	}
}
