package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"

	"github.com/rl1809/vending-fleet/internal/core/domain"
	"github.com/rl1809/vending-fleet/internal/logger"
)

const (
	DefaultSaleTopic      = "vending-sales"
	EventTypeSaleRecorded = "sale.recorded"
)

// SaleRecordedEvent is the payload published for every accepted sale record.
type SaleRecordedEvent struct {
	EventID     string    `json:"event_id"`
	EventType   string    `json:"event_type"`
	MachineID   string    `json:"machine_id"`
	ItemName    string    `json:"item_name"`
	UnitPrice   int       `json:"unit_price"`
	Quantity    int       `json:"quantity"`
	Total       int       `json:"total"`
	SaleDate    string    `json:"sale_date"`
	PublishedAt time.Time `json:"published_at"`
}

// SalePublisher forwards sale records collected from the fleet to Kafka.
type SalePublisher struct {
	producer sarama.SyncProducer
	topic    string
}

// NewSalePublisher connects a sync producer to brokers.
func NewSalePublisher(brokers []string, topic string) (*SalePublisher, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.Retry.Max = 3
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Compression = sarama.CompressionSnappy

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	logger.Logger.Info().
		Strs("brokers", brokers).
		Str("topic", topic).
		Msg("Kafka sale publisher initialized")

	return NewSalePublisherWithProducer(producer, topic), nil
}

func NewSalePublisherWithProducer(producer sarama.SyncProducer, topic string) *SalePublisher {
	if topic == "" {
		topic = DefaultSaleTopic
	}
	return &SalePublisher{producer: producer, topic: topic}
}

// PublishSale sends one event keyed by machine so a machine's sales stay
// ordered within a partition.
func (p *SalePublisher) PublishSale(ctx context.Context, machineID string, record domain.SaleRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	event := SaleRecordedEvent{
		EventID:     uuid.NewString(),
		EventType:   EventTypeSaleRecorded,
		MachineID:   machineID,
		ItemName:    record.ItemName,
		UnitPrice:   record.UnitPrice,
		Quantity:    record.Quantity,
		Total:       record.Total(),
		SaleDate:    record.Date.Format(domain.SaleDateLayout),
		PublishedAt: time.Now().UTC(),
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(machineID),
		Value: sarama.ByteEncoder(payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(event.EventType)},
			{Key: []byte("event_id"), Value: []byte(event.EventID)},
		},
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("failed to send message to Kafka: %w", err)
	}

	logger.Logger.Debug().
		Str("event_id", event.EventID).
		Str("topic", p.topic).
		Int32("partition", partition).
		Int64("offset", offset).
		Str("machine", machineID).
		Str("item", record.ItemName).
		Msg("sale event published")

	return nil
}

func (p *SalePublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}
