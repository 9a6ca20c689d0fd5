package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"

	"github.com/rl1809/vending-fleet/internal/core/domain"
)

func testRecord() domain.SaleRecord {
	return domain.SaleRecord{
		Date:      time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		ItemName:  "Cola",
		UnitPrice: 1500,
		Quantity:  2,
	}
}

func TestPublishSale(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	defer producer.Close()

	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(value []byte) error {
		var event SaleRecordedEvent
		if err := json.Unmarshal(value, &event); err != nil {
			return err
		}
		if event.EventType != EventTypeSaleRecorded || event.EventID == "" {
			return fmt.Errorf("bad metadata: %+v", event)
		}
		if event.MachineID != "vm-1" || event.ItemName != "Cola" || event.Total != 3000 || event.SaleDate != "2025-06-01" {
			return fmt.Errorf("bad payload: %+v", event)
		}
		return nil
	})

	publisher := NewSalePublisherWithProducer(producer, "")
	if err := publisher.PublishSale(context.Background(), "vm-1", testRecord()); err != nil {
		t.Fatalf("PublishSale: %v", err)
	}
}

func TestPublishSale_ProducerError(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	defer producer.Close()

	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	publisher := NewSalePublisherWithProducer(producer, "sales")
	err := publisher.PublishSale(context.Background(), "vm-1", testRecord())
	if !errors.Is(err, sarama.ErrOutOfBrokers) {
		t.Errorf("expected ErrOutOfBrokers, got %v", err)
	}
}

func TestPublishSale_CancelledContext(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	defer producer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	publisher := NewSalePublisherWithProducer(producer, "sales")
	if err := publisher.PublishSale(ctx, "vm-1", testRecord()); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
