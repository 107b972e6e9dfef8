// Package mq publishes persisted sightings to Kafka for downstream consumers.
package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/hervehildenbrand/cti-radar/pkg/logger"
	"github.com/hervehildenbrand/cti-radar/pkg/models"
)

const (
	// DefaultTopic receives every stored sighting.
	DefaultTopic = "cti.threats"

	publishTimeout = 5 * time.Second
)

// NewWriter creates a synchronous writer for topic.
func NewWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 250 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}
}

// Message builds the Kafka message for rec, keyed by indicator so every
// sighting of an indicator lands on the same partition.
func Message(rec models.ThreatRecord) (kafka.Message, error) {
	body, err := json.Marshal(rec)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal threat: %w", err)
	}
	return kafka.Message{
		Key:   []byte(rec.Indicator),
		Value: body,
		Time:  rec.Timestamp.UTC(),
		Headers: []kafka.Header{
			{Key: "source", Value: []byte(rec.Source)},
			{Key: "severity", Value: []byte(rec.Data.Severity)},
		},
	}, nil
}

// ParseMessage decodes a message produced by Message.
func ParseMessage(msg kafka.Message) (models.ThreatRecord, error) {
	var rec models.ThreatRecord
	err := json.Unmarshal(msg.Value, &rec)
	return rec, err
}

// messageWriter is the subset of *kafka.Writer used by Publisher.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher sends threat records to Kafka.
type Publisher struct {
	writer messageWriter
	topic  string

	published uint64
	failed    uint64
}

// NewPublisher creates a publisher for brokers and topic.
func NewPublisher(brokers []string, topic string) *Publisher {
	if topic == "" {
		topic = DefaultTopic
	}
	logger.Info("[mq] publishing to %s on %v", topic, brokers)
	return &Publisher{writer: NewWriter(brokers, topic), topic: topic}
}

// Publish writes rec and waits for the broker acknowledgement.
func (p *Publisher) Publish(ctx context.Context, rec models.ThreatRecord) error {
	msg, err := Message(rec)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		atomic.AddUint64(&p.failed, 1)
		return fmt.Errorf("publish to %s: %w", p.topic, err)
	}
	atomic.AddUint64(&p.published, 1)
	return nil
}

// Stats returns current statistics.
func (p *Publisher) Stats() map[string]interface{} {
	return map[string]interface{}{
		"topic":     p.topic,
		"published": atomic.LoadUint64(&p.published),
		"failed":    atomic.LoadUint64(&p.failed),
	}
}

// Close flushes and closes the writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}
