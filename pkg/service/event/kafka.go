package event

import (
	"context"
	"encoding/json"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/icsrlink/pkg/domain/model"
	"github.com/secmon-lab/icsrlink/pkg/utils/logging"
	"github.com/segmentio/kafka-go"
)

// Source is the producer name stamped on every event
const Source = "icsrlink"

// Event is the message published for each submission history entry
type Event struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Source     string            `json:"source"`
	CaseID     string            `json:"case_id,omitempty"`
	BatchID    string            `json:"batch_id,omitempty"`
	FromStatus string            `json:"from_status,omitempty"`
	ToStatus   string            `json:"to_status,omitempty"`
	Message    string            `json:"message,omitempty"`
	Details    map[string]string `json:"details,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka publishes history entries to a Kafka topic
type Kafka struct {
	writer messageWriter
	topic  string
}

// NewKafka creates a synchronous producer that waits for all in-sync replicas
func NewKafka(brokers []string, topic string) (*Kafka, error) {
	if len(brokers) == 0 {
		return nil, goerr.New("kafka brokers are required")
	}
	if topic == "" {
		return nil, goerr.New("kafka topic is required")
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
		BatchSize:    1,
		BatchTimeout: 10 * time.Millisecond,
	}
	return &Kafka{writer: writer, topic: topic}, nil
}

// NewFromEntry converts a history entry to its event envelope
func NewFromEntry(entry *model.HistoryEntry) *Event {
	return &Event{
		ID:         string(entry.ID),
		Type:       entry.Event.String(),
		Source:     Source,
		CaseID:     string(entry.CaseID),
		BatchID:    string(entry.BatchID),
		FromStatus: entry.FromStatus,
		ToStatus:   entry.ToStatus,
		Message:    entry.Message,
		Details:    entry.Details,
		Timestamp:  entry.CreatedAt,
	}
}

// messageKey keeps every event of one subject on the same partition
func messageKey(ev *Event) string {
	if ev.BatchID != "" && ev.CaseID == "" {
		return "batch:" + ev.BatchID
	}
	return "case:" + ev.CaseID
}

func (k *Kafka) Publish(ctx context.Context, entry *model.HistoryEntry) error {
	ev := NewFromEntry(entry)
	value, err := json.Marshal(ev)
	if err != nil {
		return goerr.Wrap(err, "failed to marshal event", goerr.V("event_id", ev.ID))
	}

	msg := kafka.Message{
		Key:   []byte(messageKey(ev)),
		Value: value,
		Time:  ev.Timestamp,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(ev.Type)},
			{Key: "source", Value: []byte(Source)},
		},
	}

	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return goerr.Wrap(err, "failed to publish event",
			goerr.V("event_id", ev.ID),
			goerr.V("event_type", ev.Type),
			goerr.V("topic", k.topic))
	}

	logging.From(ctx).Debug("Event published",
		"event_id", ev.ID,
		"event_type", ev.Type,
		"topic", k.topic,
	)
	return nil
}

// Close flushes and closes the producer
func (k *Kafka) Close() error {
	return k.writer.Close()
}
