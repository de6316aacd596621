package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/smartbank/ledger-core/internal/interfaces"
	"github.com/smartbank/ledger-core/internal/models"
)

// Sink publishes audit events to a Kafka topic as JSON. Events are keyed by
// principal so one principal's actions stay ordered within a partition.
type Sink struct {
	writer *kafka.Writer
}

func NewSink(brokers []string, topic string) *Sink {
	return &Sink{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.LeastBytes{},
		},
	}
}

func (s *Sink) Record(ctx context.Context, principalID, action string, details map[string]any) error {
	event := models.AuditEvent{
		ID:          uuid.NewString(),
		PrincipalID: principalID,
		Action:      action,
		Details:     details,
		Timestamp:   time.Now().UTC(),
	}

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	return s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(principalID),
		Value: data,
	})
}

func (s *Sink) Close() error {
	return s.writer.Close()
}

var _ interfaces.AuditSink = (*Sink)(nil)
