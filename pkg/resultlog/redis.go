package resultlog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/solana-nft-programs/solana-indexer-plugin/pkg/config"
	"github.com/solana-nft-programs/solana-indexer-plugin/pkg/worker"
)

// IngestResult представляет состояние ingestion pipeline, публикуемое в
// Redis при ключевых переходах (startup replay записан, остановка).
//
// Redis-ключи:
//
//	SET  indexer:pipeline:<name>:state  <JSON>  EX <ttl>  - для GET-запросов оркестратора
//	PUB  indexer:pipeline:<name>                          - для event-driven маршрутизации
type IngestResult struct {
	PipelineName        string    `json:"pipeline_name"`
	Phase               string    `json:"phase"`  // "startup_drained" | "shutdown"
	Status              string    `json:"status"` // "success" | "failed"
	Timestamp           time.Time `json:"timestamp"`
	AccountsWritten     uint64    `json:"accounts_written"`
	SlotsWritten        uint64    `json:"slots_written"`
	TransactionsWritten uint64    `json:"transactions_written"`
	BlocksWritten       uint64    `json:"blocks_written"`
	WriteErrors         uint64    `json:"write_errors"`
	Error               *string   `json:"error,omitempty"`
}

// RedisPublisher публикует состояние pipeline в Redis
type RedisPublisher struct {
	client *redis.Client
	config config.ResultLogConfig
}

// NewRedisPublisher создает новый Redis publisher на основе конфигурации
func NewRedisPublisher(cfg config.ResultLogConfig) *RedisPublisher {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &RedisPublisher{client: client, config: cfg}
}

// Publish публикует состояние pipeline:
//   - SET indexer:pipeline:<name>:state <JSON> EX <ttl>  -> для опроса (polling)
//   - PUBLISH indexer:pipeline:<name> <JSON>             -> для подписки (pub/sub)
//
// Вызывается независимо от результата (execErr == nil означает успех).
func (p *RedisPublisher) Publish(ctx context.Context, phase string, stats worker.Stats, execErr error) error {
	result := IngestResult{
		PipelineName:        p.config.Name,
		Phase:               phase,
		Timestamp:           time.Now(),
		AccountsWritten:     stats.AccountsWritten,
		SlotsWritten:        stats.SlotsWritten,
		TransactionsWritten: stats.TransactionsWritten,
		BlocksWritten:       stats.BlocksWritten,
		WriteErrors:         stats.WriteErrors,
	}

	if execErr != nil {
		result.Status = "failed"
		errStr := execErr.Error()
		result.Error = &errStr
	} else {
		result.Status = "success"
	}

	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal ingest result: %w", err)
	}

	stateKey := fmt.Sprintf("indexer:pipeline:%s:state", p.config.Name)
	channel := fmt.Sprintf("indexer:pipeline:%s", p.config.Name)
	ttl := time.Duration(p.config.TTL) * time.Second

	if err := p.client.Set(ctx, stateKey, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set state key %q: %w", stateKey, err)
	}
	if err := p.client.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish to channel %q: %w", channel, err)
	}
	return nil
}

// Close закрывает соединение с Redis
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
