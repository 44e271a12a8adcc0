package kafka

import (
	"context"
	"errors"
	"fmt"
	"io"

	"ms-reservations/internal/logger"

	"github.com/segmentio/kafka-go"
)

// MessageReader is the part of *kafka.Reader the consumer needs.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Handler func(ctx context.Context, msg kafka.Message) error

type Consumer struct {
	reader MessageReader
	topic  string
	logger *logger.Logger
}

func NewConsumer(brokers []string, topic, groupID string, log *logger.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})
	return NewConsumerWithReader(reader, topic, log)
}

func NewConsumerWithReader(reader MessageReader, topic string, log *logger.Logger) *Consumer {
	return &Consumer{reader: reader, topic: topic, logger: log}
}

// Run consumes until ctx is cancelled. A message is committed after its handler
// returns, even when the handler fails: a poison message must not stall the partition.
func (c *Consumer) Run(ctx context.Context, handle Handler) error {
	c.logger.LogKafka("CONSUME", c.topic, "consumer started")
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.Canceled) {
				c.logger.LogKafka("CONSUME", c.topic, "consumer stopped")
				return nil
			}
			if errors.Is(err, io.EOF) {
				// reader closed
				return nil
			}
			c.logger.Error("KAFKA", fmt.Sprintf("read %s: %v", c.topic, err))
			return err
		}

		if err := handle(ctx, msg); err != nil {
			c.logger.Warn("KAFKA", fmt.Sprintf("handle %s offset %d: %v", c.topic, msg.Offset, err))
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.logger.Warn("KAFKA", fmt.Sprintf("commit %s offset %d: %v", c.topic, msg.Offset, err))
		}
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
