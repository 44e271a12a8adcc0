package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"ms-reservations/internal/config"
	"ms-reservations/internal/kafka"
	"ms-reservations/internal/logger"

	amqp "github.com/rabbitmq/amqp091-go"
	kafkago "github.com/segmentio/kafka-go"
)

// KafkaTransport publishes notifications keyed by reservation id, or by waitlist entry
// id for offers that have no reservation yet.
type KafkaTransport struct {
	Producer *kafka.Producer
}

func (t *KafkaTransport) Name() string { return "kafka" }

func (t *KafkaTransport) Deliver(ctx context.Context, n Notification) error {
	key := n.ReservationID
	if key == "" {
		key = n.WaitlistEntryID
	}
	return t.Producer.PublishJSON(ctx, key, n, kafkago.Header{Key: "kind", Value: []byte(n.Kind)})
}

func (t *KafkaTransport) Close() error {
	return t.Producer.Close()
}

// AMQPPublisher is the subset of *amqp.Channel used for publishing.
type AMQPPublisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPTransport publishes to a topic exchange with the notification kind as routing key.
type AMQPTransport struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	channel  AMQPPublisher
	exchange string
}

func DialAMQP(url, exchange string) (*AMQPTransport, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp exchange declare %s: %w", exchange, err)
	}
	return &AMQPTransport{conn: conn, channel: ch, exchange: exchange}, nil
}

func NewAMQPTransport(ch AMQPPublisher, exchange string) *AMQPTransport {
	return &AMQPTransport{channel: ch, exchange: exchange}
}

func (t *AMQPTransport) Name() string { return "amqp" }

func (t *AMQPTransport) Deliver(ctx context.Context, n Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.channel.PublishWithContext(ctx, t.exchange, string(n.Kind), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    n.ID,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
}

func (t *AMQPTransport) Close() error {
	err := t.channel.Close()
	if t.conn != nil {
		if cerr := t.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// LogTransport writes notifications to the service log. Used when no broker is configured.
type LogTransport struct {
	Logger *logger.Logger
}

func (t *LogTransport) Name() string { return "log" }

func (t *LogTransport) Deliver(_ context.Context, n Notification) error {
	t.Logger.LogNotify(string(n.Kind), n.Contact.Email, fmt.Sprintf("event=%s reservation=%s waitlist=%s", n.EventID, n.ReservationID, n.WaitlistEntryID))
	return nil
}

func (t *LogTransport) Close() error { return nil }

// NewTransport picks the transport named by NOTIFIER_TRANSPORT. A broker that is
// disabled or unreachable falls back to the log transport.
func NewTransport(cfg *config.Config, log *logger.Logger) Transport {
	switch cfg.Notifier.Transport {
	case "kafka":
		if cfg.Kafka.Enabled {
			return &KafkaTransport{Producer: kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topics.Notifications)}
		}
		log.Warn("NOTIFY", "Kafka transport requested but Kafka is disabled, falling back to log")
	case "amqp":
		t, err := DialAMQP(cfg.AMQP.URL, cfg.AMQP.Exchange)
		if err == nil {
			log.Info("AMQP", fmt.Sprintf("Publishing notifications to exchange %s", cfg.AMQP.Exchange))
			return t
		}
		log.Error("AMQP", fmt.Sprintf("AMQP unavailable, falling back to log transport: %v", err))
	}
	return &LogTransport{Logger: log}
}
