package brokers

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/solana-nft-programs/solana-indexer-plugin/pkg/config"
)

// Kafka реализует MessageBroker для Apache Kafka
type Kafka struct {
	config      config.BrokerConfig
	writer      *kafka.Writer
	reader      *kafka.Reader
	lastMessage *kafka.Message // Последнее полученное сообщение (для manual commit)
}

// NewKafka создает новый Kafka брокер
func NewKafka(cfg config.BrokerConfig) (*Kafka, error) {
	if cfg.Topic == "" {
		return nil, fmt.Errorf("topic name is required for Kafka")
	}
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("at least one broker address is required for Kafka")
	}
	if cfg.ConsumerGroup == "" {
		cfg.ConsumerGroup = "indexer-sink-group"
	}

	return &Kafka{config: cfg}, nil
}

// Connect устанавливает соединение с Kafka
func (k *Kafka) Connect(ctx context.Context) error {
	k.writer = &kafka.Writer{
		Addr:         kafka.TCP(k.config.Brokers...),
		Topic:        k.config.Topic,
		Balancer:     &kafka.Hash{}, // Ключ сообщения = pubkey: per-key порядок внутри партиции
		RequiredAcks: kafka.RequireAll,
		Async:        false,
		Compression:  kafka.Snappy,
		MaxAttempts:  3,
		WriteTimeout: 10 * time.Second,
	}

	k.reader = kafka.NewReader(kafka.ReaderConfig{
		Brokers:        k.config.Brokers,
		GroupID:        k.config.ConsumerGroup,
		Topic:          k.config.Topic,
		MinBytes:       1,
		MaxBytes:       10e6, // 10MB
		CommitInterval: 0,    // Manual commit
		StartOffset:    kafka.FirstOffset,
		MaxWait:        1 * time.Second,
		ReadBackoffMin: 100 * time.Millisecond,
		ReadBackoffMax: 1 * time.Second,
	})

	return k.Ping(ctx)
}

// Close закрывает соединение с Kafka
func (k *Kafka) Close() error {
	var errs []error

	if k.writer != nil {
		if err := k.writer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close writer: %w", err))
		}
	}
	if k.reader != nil {
		if err := k.reader.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close reader: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during close: %v", errs)
	}
	return nil
}

// Send отправляет envelope в Kafka topic
func (k *Kafka) Send(ctx context.Context, message []byte) error {
	if k.writer == nil {
		return fmt.Errorf("not connected to Kafka")
	}

	msg := kafka.Message{
		Key:   EnvelopeKey(message),
		Value: message,
		Time:  time.Now(),
		Headers: []kafka.Header{
			{Key: "content-type", Value: []byte("application/octet-stream")},
			{Key: "protocol", Value: []byte("indexer-envelope")},
		},
	}

	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write message to Kafka: %w", err)
	}
	return nil
}

// Receive получает сообщение из Kafka topic.
// Offset НЕ коммитится автоматически - после успешной обработки AckLast.
func (k *Kafka) Receive(ctx context.Context) ([]byte, error) {
	if k.reader == nil {
		return nil, fmt.Errorf("not connected to Kafka")
	}

	msg, err := k.reader.FetchMessage(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch message: %w", err)
	}

	k.lastMessage = &msg
	return msg.Value, nil
}

// AckLast коммитит offset последнего полученного сообщения
func (k *Kafka) AckLast(ctx context.Context) error {
	if k.lastMessage == nil {
		return fmt.Errorf("no message to commit")
	}

	if err := k.reader.CommitMessages(ctx, *k.lastMessage); err != nil {
		return fmt.Errorf("failed to commit message: %w", err)
	}

	k.lastMessage = nil
	return nil
}

// Ping проверяет доступность Kafka
func (k *Kafka) Ping(ctx context.Context) error {
	conn, err := kafka.DialContext(ctx, "tcp", k.config.Brokers[0])
	if err != nil {
		return fmt.Errorf("failed to dial Kafka broker: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ReadPartitions(k.config.Topic); err != nil {
		return fmt.Errorf("failed to read topic partitions: %w", err)
	}
	return nil
}

// BrokerType возвращает тип брокера
func (k *Kafka) BrokerType() string {
	return "kafka"
}
