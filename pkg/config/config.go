package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// PluginConfig содержит полную конфигурацию ingestion pipeline:
// подключение к PostgreSQL, параметры батчинга/воркеров, селектор аккаунтов,
// транспорт от producer'а и публикация статуса.
type PluginConfig struct {
	Connection ConnectionConfig `yaml:"connection"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`

	// AccountsSelector сужает набор account handler'ов (allow-list по id
	// и/или по owner). nil = все зарегистрированные handler'ы.
	AccountsSelector *AccountsSelectorConfig `yaml:"accounts_selector"`

	// DisableHandlers полностью отключает перечисленные handler'ы:
	// они не создают таблиц (Init возвращает "") и не получают записей.
	DisableHandlers []string `yaml:"disable_handlers"`

	Broker    BrokerConfig    `yaml:"broker"`
	ResultLog ResultLogConfig `yaml:"result_log"`
	Audit     AuditConfig     `yaml:"audit"`
}

// ConnectionConfig — параметры подключения к PostgreSQL
type ConnectionConfig struct {
	DSN string `yaml:"dsn"` // Строка подключения (postgres://...)

	// UseSSL включает TLS. При включении server_ca, client_cert и client_key
	// обязаны быть указаны все три — частичная конфигурация фатальна.
	UseSSL     bool   `yaml:"use_ssl"`
	ServerCA   string `yaml:"server_ca"`   // Путь к CA сертификату сервера (PEM)
	ClientCert string `yaml:"client_cert"` // Путь к клиентскому сертификату (PEM)
	ClientKey  string `yaml:"client_key"`  // Путь к клиентскому ключу (PEM)
}

// PipelineConfig — параметры dispatch-слоя и батчинга
type PipelineConfig struct {
	BatchSize   int `yaml:"batch_size"`   // Размер батча account-обновлений при startup replay (по умолчанию 10)
	ThreadCount int `yaml:"thread_count"` // Количество независимых (queue, worker, sink) троек (по умолчанию 1)
	QueueSize   int `yaml:"queue_size"`   // Ёмкость очереди каждого воркера (по умолчанию 1024)

	// RecvTimeoutMs — таймаут блокирующего чтения из очереди. На таймауте
	// воркер проверяет флаг завершения startup replay.
	RecvTimeoutMs int `yaml:"recv_timeout_ms"`

	// PanicOnDBErrors — fail-fast режим: любая ошибка БД останавливает
	// весь процесс. Иначе ошибка логируется и запись теряется (best-effort).
	PanicOnDBErrors bool `yaml:"panic_on_db_errors"`

	// SkipUpsertExistingAccountsAtStartup включает оптимизацию: аккаунты со
	// слотом ниже (max(slot) - cushion) считаются уже записанными.
	SkipUpsertExistingAccountsAtStartup bool   `yaml:"skip_upsert_existing_accounts_at_startup"`
	SafeBatchStartingSlotCushion        uint64 `yaml:"safe_batch_starting_slot_cushion"`
}

// AccountsSelectorConfig — опциональный фильтр eligible handler'ов.
// Пустой список = фильтр по этому измерению отключен.
type AccountsSelectorConfig struct {
	Handlers []string `yaml:"handlers"` // Allow-list идентификаторов handler'ов
	Owners   []string `yaml:"owners"`   // Allow-list owner'ов (base58)
}

// BrokerConfig — транспорт событий от upstream producer'а.
// Пустой Type = брокер не используется (прямое встраивание в процесс).
type BrokerConfig struct {
	Type string `yaml:"type"` // kafka | rabbitmq | "" (отключен)

	// Kafka
	Brokers       []string `yaml:"brokers"`        // Адреса Kafka brokers
	Topic         string   `yaml:"topic"`          // Имя topic
	ConsumerGroup string   `yaml:"consumer_group"` // Consumer group ID

	// RabbitMQ
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Queue    string `yaml:"queue"`
	VHost    string `yaml:"vhost"`
	UseTLS   bool   `yaml:"use_tls"` // amqps:// вместо amqp://
}

// ResultLogConfig определяет публикацию статуса pipeline в Redis.
// Позволяет оркестратору отслеживать завершение startup replay через GET/SUBSCRIBE.
type ResultLogConfig struct {
	Type     string `yaml:"type"`     // Тип: redis (пустое = отключено)
	Address  string `yaml:"address"`  // Адрес Redis, например "127.0.0.1:6379"
	Name     string `yaml:"name"`     // Имя pipeline (ключ/канал)
	Password string `yaml:"password"` // Пароль Redis (опционально)
	DB       int    `yaml:"db"`       // Индекс базы данных Redis (по умолчанию 0)
	TTL      int    `yaml:"ttl"`      // TTL ключа в секундах (по умолчанию 3600)
}

// AuditConfig — параметры операционного лога
type AuditConfig struct {
	Enabled    bool   `yaml:"enabled"`
	File       string `yaml:"file"`        // Путь к JSON-lines файлу (пустое = stdout)
	Async      bool   `yaml:"async"`       // Асинхронная запись через буфер
	BufferSize int    `yaml:"buffer_size"` // Размер буфера для async режима
}

// Load читает и валидирует YAML конфиг
func Load(path string) (*PluginConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %q: %w", path, err)
	}

	var cfg PluginConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate проверяет конфигурацию и проставляет значения по умолчанию.
// Ошибки конфигурации фатальны — до запуска воркеров.
func (c *PluginConfig) Validate() error {
	if c.Connection.DSN == "" {
		return fmt.Errorf("connection: dsn is required")
	}

	if c.Connection.UseSSL {
		// Частичный TLS-комплект — ошибка конфигурации, а не предупреждение
		if c.Connection.ServerCA == "" {
			return fmt.Errorf("connection: \"server_ca\" must be specified when \"use_ssl\" is set")
		}
		if c.Connection.ClientCert == "" {
			return fmt.Errorf("connection: \"client_cert\" must be specified when \"use_ssl\" is set")
		}
		if c.Connection.ClientKey == "" {
			return fmt.Errorf("connection: \"client_key\" must be specified when \"use_ssl\" is set")
		}
	}

	if c.Pipeline.BatchSize == 0 {
		c.Pipeline.BatchSize = 10
	}
	if c.Pipeline.BatchSize < 1 {
		return fmt.Errorf("pipeline: batch_size must be >= 1, got %d", c.Pipeline.BatchSize)
	}

	if c.Pipeline.ThreadCount == 0 {
		c.Pipeline.ThreadCount = 1
	}
	if c.Pipeline.ThreadCount < 1 {
		return fmt.Errorf("pipeline: thread_count must be >= 1, got %d", c.Pipeline.ThreadCount)
	}

	if c.Pipeline.QueueSize == 0 {
		c.Pipeline.QueueSize = 1024
	}
	if c.Pipeline.QueueSize < 1 {
		return fmt.Errorf("pipeline: queue_size must be >= 1, got %d", c.Pipeline.QueueSize)
	}

	if c.Pipeline.RecvTimeoutMs == 0 {
		c.Pipeline.RecvTimeoutMs = 500
	}
	if c.Pipeline.RecvTimeoutMs < 0 {
		return fmt.Errorf("pipeline: recv_timeout_ms must be positive, got %d", c.Pipeline.RecvTimeoutMs)
	}

	switch c.Broker.Type {
	case "", "kafka", "rabbitmq":
	default:
		return fmt.Errorf("broker: unknown type %q (kafka/rabbitmq)", c.Broker.Type)
	}
	if c.Broker.Type == "kafka" {
		if len(c.Broker.Brokers) == 0 {
			return fmt.Errorf("broker: at least one broker address is required for Kafka")
		}
		if c.Broker.Topic == "" {
			return fmt.Errorf("broker: topic is required for Kafka")
		}
	}
	if c.Broker.Type == "rabbitmq" {
		if c.Broker.Host == "" {
			return fmt.Errorf("broker: host is required for RabbitMQ")
		}
		if c.Broker.Queue == "" {
			return fmt.Errorf("broker: queue is required for RabbitMQ")
		}
		if c.Broker.Port == 0 {
			c.Broker.Port = 5672
		}
	}

	if c.ResultLog.Type != "" && c.ResultLog.Type != "redis" {
		return fmt.Errorf("result_log: unknown type %q (redis)", c.ResultLog.Type)
	}
	if c.ResultLog.Type == "redis" {
		if c.ResultLog.Address == "" {
			return fmt.Errorf("result_log: address is required for redis")
		}
		if c.ResultLog.Name == "" {
			return fmt.Errorf("result_log: name is required for redis")
		}
		if c.ResultLog.TTL == 0 {
			c.ResultLog.TTL = 3600
		}
	}

	return nil
}

// HandlerDisabled сообщает, отключен ли handler с данным id конфигурацией
func (c *PluginConfig) HandlerDisabled(id string) bool {
	for _, h := range c.DisableHandlers {
		if h == id {
			return true
		}
	}
	return false
}
