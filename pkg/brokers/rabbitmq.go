package brokers

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/solana-nft-programs/solana-indexer-plugin/pkg/config"
)

// RabbitMQ реализует MessageBroker для RabbitMQ
type RabbitMQ struct {
	config       config.BrokerConfig
	conn         *amqp.Connection
	channel      *amqp.Channel
	queue        amqp.Queue
	lastDelivery *amqp.Delivery // Последнее полученное сообщение (для manual ack)
}

// NewRabbitMQ создает новый RabbitMQ брокер
func NewRabbitMQ(cfg config.BrokerConfig) (*RabbitMQ, error) {
	if cfg.Queue == "" {
		return nil, fmt.Errorf("queue name is required for RabbitMQ")
	}
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		if cfg.UseTLS {
			cfg.Port = 5671 // amqps default
		} else {
			cfg.Port = 5672 // amqp default
		}
	}
	if cfg.VHost == "" {
		cfg.VHost = "/"
	}

	return &RabbitMQ{config: cfg}, nil
}

// Connect устанавливает соединение с RabbitMQ
func (r *RabbitMQ) Connect(ctx context.Context) error {
	scheme := "amqp"
	if r.config.UseTLS {
		scheme = "amqps"
	}

	connStr := fmt.Sprintf("%s://%s:%s@%s:%d/%s",
		scheme,
		r.config.User,
		r.config.Password,
		r.config.Host,
		r.config.Port,
		r.config.VHost,
	)

	var err error
	if r.config.UseTLS {
		tlsConfig := &tls.Config{
			ServerName: r.config.Host,
			MinVersion: tls.VersionTLS12,
		}
		r.conn, err = amqp.DialTLS(connStr, tlsConfig)
	} else {
		r.conn, err = amqp.Dial(connStr)
	}
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	r.channel, err = r.conn.Channel()
	if err != nil {
		r.conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	// Идемпотентное объявление очереди. Durable: поток событий переживает
	// перезапуск брокера.
	r.queue, err = r.channel.QueueDeclare(
		r.config.Queue, // name
		true,           // durable
		false,          // auto-delete
		false,          // exclusive
		false,          // no-wait
		nil,            // arguments
	)
	if err != nil {
		r.channel.Close()
		r.conn.Close()
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	return nil
}

// Close закрывает соединение с RabbitMQ
func (r *RabbitMQ) Close() error {
	if r.channel != nil {
		if err := r.channel.Close(); err != nil {
			return fmt.Errorf("failed to close channel: %w", err)
		}
	}
	if r.conn != nil {
		if err := r.conn.Close(); err != nil {
			return fmt.Errorf("failed to close connection: %w", err)
		}
	}
	return nil
}

// Send отправляет envelope в очередь
func (r *RabbitMQ) Send(ctx context.Context, message []byte) error {
	if r.channel == nil {
		return fmt.Errorf("not connected to RabbitMQ")
	}

	err := r.channel.PublishWithContext(
		ctx,
		"",             // exchange (default)
		r.config.Queue, // routing key = имя очереди
		false,          // mandatory
		false,          // immediate
		amqp.Publishing{
			ContentType:  "application/octet-stream",
			Body:         message,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

// Receive получает одно сообщение с manual ack. Пустая очередь возвращает
// ErrNoMessage после короткого ожидания - потребитель трактует как таймаут.
func (r *RabbitMQ) Receive(ctx context.Context) ([]byte, error) {
	if r.channel == nil {
		return nil, fmt.Errorf("not connected to RabbitMQ")
	}

	delivery, ok, err := r.channel.Get(r.config.Queue, false)
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	if !ok {
		select {
		case <-time.After(500 * time.Millisecond):
			return nil, ErrNoMessage
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	r.lastDelivery = &delivery
	return delivery.Body, nil
}

// AckLast подтверждает последнее полученное сообщение (удаляет из очереди)
func (r *RabbitMQ) AckLast(ctx context.Context) error {
	if r.lastDelivery == nil {
		return fmt.Errorf("no message to acknowledge")
	}

	if err := r.lastDelivery.Ack(false); err != nil {
		return fmt.Errorf("failed to acknowledge message: %w", err)
	}

	r.lastDelivery = nil
	return nil
}

// Ping проверяет доступность RabbitMQ
func (r *RabbitMQ) Ping(ctx context.Context) error {
	if r.conn == nil || r.conn.IsClosed() {
		return fmt.Errorf("not connected to RabbitMQ")
	}
	return nil
}

// BrokerType возвращает тип брокера
func (r *RabbitMQ) BrokerType() string {
	return "rabbitmq"
}
