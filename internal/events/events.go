// Package events publishes trade and settlement lifecycle events to Kafka.
// The stream is optional; when no brokers are configured the publisher is
// nil and callers skip it.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/segmentio/kafka-go"
	"github.com/voltsync/voltsync/internal/settlement"
)

// DefaultTopic is the settlement event stream topic.
const DefaultTopic = "voltsync.settlements"

var eventsPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "voltsync",
	Subsystem: "events",
	Name:      "published_total",
	Help:      "Kafka events by type and outcome.",
}, []string{"type", "outcome"}) // outcome: "ok", "error"

func init() {
	prometheus.MustRegister(eventsPublished)
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Envelope is the wire shape of one published event.
type Envelope struct {
	Type          string    `json:"type"`
	TransactionID string    `json:"transactionId"`
	Timestamp     time.Time `json:"timestamp"`
	Data          any       `json:"data"`
}

// Publisher writes lifecycle events to a Kafka topic, keyed by transaction
// id so per-trade ordering is preserved across partitions.
type Publisher struct {
	writer messageWriter
	logger *slog.Logger
}

// NewPublisher creates a Kafka publisher for the given brokers and topic.
func NewPublisher(brokers []string, topic string, logger *slog.Logger) *Publisher {
	if topic == "" {
		topic = DefaultTopic
	}
	if logger == nil {
		logger = slog.Default()
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}
	return &Publisher{writer: writer, logger: logger}
}

// Close flushes and closes the underlying writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}

func (p *Publisher) publish(ctx context.Context, eventType, transactionID string, data any) {
	env := Envelope{
		Type:          eventType,
		TransactionID: transactionID,
		Timestamp:     time.Now().UTC(),
		Data:          data,
	}
	value, err := json.Marshal(env)
	if err != nil {
		eventsPublished.WithLabelValues(eventType, "error").Inc()
		p.logger.Error("failed to encode event", "type", eventType, "error", err)
		return
	}

	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = p.writer.WriteMessages(writeCtx, kafka.Message{
		Key:   []byte(transactionID),
		Value: value,
	})
	if err != nil {
		eventsPublished.WithLabelValues(eventType, "error").Inc()
		p.logger.Warn("failed to publish event",
			"type", eventType, "transactionId", transactionID, "error", err)
		return
	}
	eventsPublished.WithLabelValues(eventType, "ok").Inc()
}

// TradeConfirmed publishes a trade confirmation event.
func (p *Publisher) TradeConfirmed(ctx context.Context, transactionID string, order map[string]any) {
	p.publish(ctx, "trade_confirmed", transactionID, order)
}

// SettlementUpdated publishes a settlement status transition. The publisher
// acts as an event sink for the reconciliation poller.
func (p *Publisher) SettlementUpdated(ctx context.Context, s *settlement.Settlement) {
	p.publish(ctx, "settlement_updated", s.TransactionID, s)
}
