package brokers

import (
	"context"
	"errors"
	"fmt"

	"github.com/solana-nft-programs/solana-indexer-plugin/pkg/config"
)

// ErrNoMessage возвращается из Receive, когда за отведенное время сообщений
// не пришло. Потребитель трактует это как таймаут, а не как сбой транспорта.
var ErrNoMessage = errors.New("no messages available")

// MessageBroker - транспорт event-потока от upstream producer'а.
// Producer сериализует запросы в envelope (см. envelope.go) и публикует их;
// потребитель читает, декодирует и скармливает пулу воркеров.
type MessageBroker interface {
	// Connect устанавливает соединение с брокером
	Connect(ctx context.Context) error

	// Close закрывает соединение с брокером
	Close() error

	// Send отправляет envelope в очередь/topic
	Send(ctx context.Context, message []byte) error

	// Receive получает одно сообщение. Сообщение не подтверждается
	// автоматически - после успешной обработки нужно вызвать AckLast.
	Receive(ctx context.Context) ([]byte, error)

	// AckLast подтверждает последнее полученное сообщение
	AckLast(ctx context.Context) error

	// Ping проверяет доступность брокера
	Ping(ctx context.Context) error

	// BrokerType возвращает тип брокера (kafka, rabbitmq)
	BrokerType() string
}

// New создает MessageBroker по конфигурации. Пустой type - брокер не
// используется (события подаются в пул напрямую, in-process).
func New(cfg config.BrokerConfig) (MessageBroker, error) {
	switch cfg.Type {
	case "kafka":
		return NewKafka(cfg)
	case "rabbitmq":
		return NewRabbitMQ(cfg)
	default:
		return nil, fmt.Errorf("unknown broker type %q (kafka/rabbitmq)", cfg.Type)
	}
}
