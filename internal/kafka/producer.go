package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// MessageWriter is the part of *kafka.Writer the producer needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Producer struct {
	Writer MessageWriter
	Topic  string
}

func NewProducer(brokers []string, topic string) *Producer {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
	return &Producer{Writer: writer, Topic: topic}
}

// PublishJSON sends v as JSON. Messages with the same key land on the same partition,
// so per-key ordering holds.
func (p *Producer) PublishJSON(ctx context.Context, key string, v interface{}, headers ...kafka.Header) error {
	msgBytes, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode message for %s: %w", p.Topic, err)
	}
	return p.Writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(key),
		Value:   msgBytes,
		Headers: headers,
		Time:    time.Now().UTC(),
	})
}

func (p *Producer) Close() error {
	return p.Writer.Close()
}
