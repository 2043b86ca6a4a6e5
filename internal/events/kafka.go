package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/songrequests/pkg/djrequest"
	"github.com/segmentio/kafka-go"
)

const defaultWriteTimeout = 5 * time.Second

var errMissingKafkaConfig = errors.New("events: kafka brokers and topic are required")

// MessageWriter is the subset of kafka.Writer the publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, messages ...kafka.Message) error
	Close() error
}

// KafkaPublisher streams lifecycle events to a topic keyed by DJ id, so one DJ's events
// stay ordered within a partition.
type KafkaPublisher struct {
	writer MessageWriter
}

// NewKafkaPublisher builds a publisher writing to topic on brokers.
func NewKafkaPublisher(brokers []string, topic string) (*KafkaPublisher, error) {
	var addresses []string
	for _, broker := range brokers {
		if trimmed := strings.TrimSpace(broker); trimmed != "" {
			addresses = append(addresses, trimmed)
		}
	}
	if len(addresses) == 0 || strings.TrimSpace(topic) == "" {
		return nil, errMissingKafkaConfig
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(addresses...),
		Topic:        strings.TrimSpace(topic),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		WriteTimeout: defaultWriteTimeout,
	}
	return NewKafkaPublisherWithWriter(writer), nil
}

// NewKafkaPublisherWithWriter wraps an existing writer.
func NewKafkaPublisherWithWriter(writer MessageWriter) *KafkaPublisher {
	return &KafkaPublisher{writer: writer}
}

// Publish writes event as JSON.
func (publisher *KafkaPublisher) Publish(ctx context.Context, event djrequest.LifecycleEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("events: encode %s: %w", event.Type, err)
	}
	message := kafka.Message{
		Key:   []byte(event.DJID),
		Value: payload,
		Time:  event.OccurredAt,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(event.Type)},
		},
	}
	if err := publisher.writer.WriteMessages(ctx, message); err != nil {
		return fmt.Errorf("events: kafka write %s: %w", event.Type, err)
	}
	return nil
}

// Close flushes and closes the writer.
func (publisher *KafkaPublisher) Close() error {
	return publisher.writer.Close()
}

var _ djrequest.EventPublisher = (*KafkaPublisher)(nil)
