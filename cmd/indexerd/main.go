package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/solana-nft-programs/solana-indexer-plugin/pkg/audit"
	"github.com/solana-nft-programs/solana-indexer-plugin/pkg/brokers"
	"github.com/solana-nft-programs/solana-indexer-plugin/pkg/config"
	"github.com/solana-nft-programs/solana-indexer-plugin/pkg/resultlog"
	"github.com/solana-nft-programs/solana-indexer-plugin/pkg/sink"
	"github.com/solana-nft-programs/solana-indexer-plugin/pkg/worker"
)

func main() {
	configFile := flag.String("config", "", "path to indexer config YAML (required)")
	threads := flag.Int("threads", 0, "worker count, overrides config value")
	flag.Parse()

	if *configFile == "" {
		fmt.Fprintln(os.Stderr, "Usage: indexerd --config <name>.yaml [--threads N]")
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "Flags:")
		fmt.Fprintln(os.Stderr, "  --config   path to YAML config file (required)")
		fmt.Fprintln(os.Stderr, "  --threads  number of (queue, worker, sink) triples, overrides config")
		os.Exit(1)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if *threads > 0 {
		cfg.Pipeline.ThreadCount = *threads
	}

	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Indexer error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg *config.PluginConfig) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log, err := buildLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Close()

	// Каждому воркеру - собственное соединение; никакого шаринга между тройками
	dbs := make([]*sink.Postgres, 0, cfg.Pipeline.ThreadCount)
	defer func() {
		for _, db := range dbs {
			db.Close()
		}
	}()
	sinks := make([]*sink.Sink, 0, cfg.Pipeline.ThreadCount)
	for i := 0; i < cfg.Pipeline.ThreadCount; i++ {
		db, err := sink.Connect(ctx, &cfg.Connection)
		if err != nil {
			return err
		}
		dbs = append(dbs, db)
		sinks = append(sinks, sink.New(db, cfg, log))
	}
	log.LogSuccess(ctx, audit.OpConnect).WithRecords(int64(len(dbs)))

	// DDL идемпотентен, достаточно одного соединения
	if err := sink.InitSchema(ctx, dbs[0], cfg); err != nil {
		return err
	}
	log.LogSuccess(ctx, audit.OpInitSchema)

	if bound, err := sink.BatchStartingSlot(ctx, dbs[0], cfg); err != nil {
		return err
	} else if bound != nil {
		log.LogSuccess(ctx, audit.OpInitSchema).
			WithResource("batch_starting_slot").
			WithMetadata("bound", *bound)
	}

	pool, err := worker.NewPool(sinks, worker.OptionsFromConfig(cfg, log))
	if err != nil {
		return err
	}
	pool.Start(ctx)

	var publisher *resultlog.RedisPublisher
	if cfg.ResultLog.Type == "redis" {
		publisher = resultlog.NewRedisPublisher(cfg.ResultLog)
		defer publisher.Close()
	}

	if cfg.Broker.Type != "" {
		if err := consume(ctx, cfg, pool, publisher, log); err != nil {
			return err
		}
	} else {
		// Без брокера процесс только обслуживает уже поставленную работу
		// (встраивание через pkg/worker) и ждет сигнала остановки
		<-ctx.Done()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	shutdownErr := pool.Shutdown(shutdownCtx)

	if publisher != nil {
		if err := publisher.Publish(shutdownCtx, "shutdown", pool.Stats(), shutdownErr); err != nil {
			log.LogFailure(shutdownCtx, audit.OpShutdown, err)
		}
	}
	log.LogSuccess(shutdownCtx, audit.OpShutdown)
	return shutdownErr
}

// consume читает envelope'ы из брокера и скармливает пулу до остановки.
// Сообщение подтверждается после постановки в очередь: брокер гарантирует
// at-least-once, идемпотентные upsert'ы гасят дубликаты.
func consume(ctx context.Context, cfg *config.PluginConfig, pool *worker.Pool, publisher *resultlog.RedisPublisher, log *audit.Logger) error {
	broker, err := brokers.New(cfg.Broker)
	if err != nil {
		return err
	}
	if err := broker.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect to %s: %w", broker.BrokerType(), err)
	}
	defer broker.Close()

	for {
		message, err := broker.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil // остановка по сигналу
			}
			if errors.Is(err, brokers.ErrNoMessage) {
				continue
			}
			log.LogFailure(ctx, audit.OpReceive, err)
			continue
		}

		decoded, err := brokers.Decode(message)
		if err != nil {
			// Poison message: лог, ack, дальше - очередь не должна встать
			log.LogFailure(ctx, audit.OpReceive, err)
			if ackErr := broker.AckLast(ctx); ackErr != nil {
				log.LogFailure(ctx, audit.OpReceive, ackErr)
			}
			continue
		}

		if decoded.EndOfStartup {
			pool.NotifyStartupComplete()
			if err := pool.AwaitStartupDrained(ctx); err != nil {
				return err
			}
			log.LogSuccess(ctx, audit.OpEndOfStartup).WithResource("pool")
			if publisher != nil {
				if err := publisher.Publish(ctx, "startup_drained", pool.Stats(), nil); err != nil {
					log.LogFailure(ctx, audit.OpEndOfStartup, err)
				}
			}
		} else {
			pool.Enqueue(decoded.Request)
		}

		if err := broker.AckLast(ctx); err != nil {
			log.LogFailure(ctx, audit.OpReceive, err)
		}
	}
}

func buildLogger(cfg *config.PluginConfig) (*audit.Logger, error) {
	if !cfg.Audit.Enabled {
		return audit.NewLogger(audit.LoggerConfig{}), nil
	}

	var appenders []audit.Appender
	if cfg.Audit.File != "" {
		fa, err := audit.NewFileAppender(cfg.Audit.File)
		if err != nil {
			return nil, fmt.Errorf("failed to create audit file appender: %w", err)
		}
		appenders = append(appenders, fa)
	}

	return audit.NewLogger(audit.LoggerConfig{
		AsyncMode:  cfg.Audit.Async,
		BufferSize: cfg.Audit.BufferSize,
	}, appenders...), nil
}
