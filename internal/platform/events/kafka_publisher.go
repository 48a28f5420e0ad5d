package events

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/oceanbutterfly/shop-api/internal/services"
)

// ErrPublisherClosed is returned after Close.
var ErrPublisherClosed = errors.New("events: publisher closed")

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConfig configures the Kafka writer.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	BatchTimeout time.Duration
	MaxAttempts  int
}

// KafkaOrderPublisher writes order events to a Kafka topic keyed by order id, so every event
// of one order lands on the same partition.
type KafkaOrderPublisher struct {
	writer messageWriter
	topic  string
	enc    encoder
	closed atomic.Bool
}

var _ services.OrderEventPublisher = (*KafkaOrderPublisher)(nil)

// NewKafkaOrderPublisher builds a synchronous writer requiring acknowledgement from all replicas.
func NewKafkaOrderPublisher(cfg KafkaConfig) (*KafkaOrderPublisher, error) {
	brokers := make([]string, 0, len(cfg.Brokers))
	for _, broker := range cfg.Brokers {
		if trimmed := strings.TrimSpace(broker); trimmed != "" {
			brokers = append(brokers, trimmed)
		}
	}
	if len(brokers) == 0 {
		return nil, errors.New("kafka order publisher: at least one broker is required")
	}
	topic := strings.TrimSpace(cfg.Topic)
	if topic == "" {
		return nil, errors.New("kafka order publisher: topic is required")
	}
	batchTimeout := cfg.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = 10 * time.Millisecond
	}
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: batchTimeout,
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  attempts,
		Compression:  kafka.Snappy,
	}
	return newKafkaOrderPublisher(writer, topic), nil
}

func newKafkaOrderPublisher(writer messageWriter, topic string) *KafkaOrderPublisher {
	return &KafkaOrderPublisher{writer: writer, topic: topic, enc: defaultEncoder()}
}

// PublishOrderEvent writes one message and blocks until the brokers acknowledge it.
func (p *KafkaOrderPublisher) PublishOrderEvent(ctx context.Context, event services.OrderEvent) error {
	if p.closed.Load() {
		return ErrPublisherClosed
	}
	msg, data, err := p.enc.encode(event)
	if err != nil {
		return fmt.Errorf("marshal order event: %w", err)
	}

	attrs := attributes(msg)
	headers := make([]kafka.Header, 0, len(attrs))
	for key, value := range attrs {
		headers = append(headers, kafka.Header{Key: key, Value: []byte(value)})
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(strconv.FormatInt(msg.OrderID, 10)),
		Value:   data,
		Headers: headers,
		Time:    msg.OccurredAt,
	})
	if err != nil {
		return fmt.Errorf("publish order event to %s: %w", p.topic, err)
	}
	return nil
}

// Close flushes and closes the writer. Later publishes fail with ErrPublisherClosed.
func (p *KafkaOrderPublisher) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	return p.writer.Close()
}
