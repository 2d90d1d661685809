package sink

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/solana-nft-programs/solana-indexer-plugin/pkg/config"
)

// Таксономия ошибок sink-слоя. Каждая ошибка выполнения оборачивается
// контекстом операции и одной из этих sentinel-ошибок (errors.Is).
var (
	// ErrConnection - не удалось установить соединение с БД (фатально на старте)
	ErrConnection = errors.New("database connection error")

	// ErrSchema - ошибка execute/batch_execute в нормальной работе
	// (восстановимость определяется политикой воркера)
	ErrSchema = errors.New("data schema error")

	// ErrAccountsUpdate - ошибка encode/execute для конкретного аккаунта
	ErrAccountsUpdate = errors.New("accounts update error")
)

// DB - граница между sink и SQL-примитивами соединения.
// Реализуется Postgres; в тестах подменяется фейком.
type DB interface {
	// Execute выполняет один statement с параметрами, возвращает row count
	Execute(ctx context.Context, sql string, args ...any) (int64, error)

	// BatchExecute выполняет многооператорную строку одним вызовом
	BatchExecute(ctx context.Context, sql string) error

	// QueryUint64 выполняет запрос, возвращающий одно число
	QueryUint64(ctx context.Context, sql string) (uint64, error)
}

// Compile-time check: Postgres реализует DB
var _ DB = (*Postgres)(nil)

// Postgres владеет одним соединением с БД (pool с MaxConns=1: sink
// однопоточен по построению, соединение не делится между воркерами).
type Postgres struct {
	pool *pgxpool.Pool
}

// Connect устанавливает подключение к PostgreSQL согласно конфигурации.
// Частичный TLS-комплект отсекается валидацией конфига до этого вызова,
// но проверяется и здесь - Connect может вызываться напрямую.
func Connect(ctx context.Context, cfg *config.ConnectionConfig) (*Postgres, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("[connect_to_db] failed to parse connection string: %w: %w", ErrConnection, err)
	}

	// Одно соединение на sink; выполнение строго последовательное
	poolCfg.MaxConns = 1
	poolCfg.MinConns = 1

	if cfg.UseSSL {
		tlsCfg, err := buildTLSConfig(cfg)
		if err != nil {
			return nil, err
		}
		poolCfg.ConnConfig.TLSConfig = tlsCfg
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("[connect_to_db] connection_str=%q: %w: %w", cfg.DSN, ErrConnection, err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("[connect_to_db] connection_str=%q: %w: %w", cfg.DSN, ErrConnection, err)
	}

	return &Postgres{pool: pool}, nil
}

// buildTLSConfig собирает tls.Config из PEM-файлов комплекта.
// Цепочка сертификатов проверяется против server_ca; hostname не
// проверяется (сервер БД часто адресуется по IP за балансировщиком).
func buildTLSConfig(cfg *config.ConnectionConfig) (*tls.Config, error) {
	if cfg.ServerCA == "" || cfg.ClientCert == "" || cfg.ClientKey == "" {
		return nil, fmt.Errorf("[connect_to_db] \"server_ca\", \"client_cert\" and \"client_key\" must all be specified when \"use_ssl\" is set: %w", ErrConnection)
	}

	caPEM, err := os.ReadFile(cfg.ServerCA)
	if err != nil {
		return nil, fmt.Errorf("[connect_to_db] failed to read the server certificate specified by \"server_ca\": %s: %w: %w", cfg.ServerCA, ErrConnection, err)
	}
	caPool := x509.NewCertPool()
	if !caPool.AppendCertsFromPEM(caPEM) {
		return nil, fmt.Errorf("[connect_to_db] no certificates found in \"server_ca\": %s: %w", cfg.ServerCA, ErrConnection)
	}

	clientCert, err := tls.LoadX509KeyPair(cfg.ClientCert, cfg.ClientKey)
	if err != nil {
		return nil, fmt.Errorf("[connect_to_db] failed to load the client certificate pair %q/%q: %w: %w", cfg.ClientCert, cfg.ClientKey, ErrConnection, err)
	}

	return &tls.Config{
		Certificates:       []tls.Certificate{clientCert},
		RootCAs:            caPool,
		InsecureSkipVerify: true, // цепочка проверяется вручную ниже
		VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			if len(rawCerts) == 0 {
				return fmt.Errorf("server presented no certificates")
			}
			leaf, err := x509.ParseCertificate(rawCerts[0])
			if err != nil {
				return fmt.Errorf("failed to parse server certificate: %w", err)
			}
			intermediates := x509.NewCertPool()
			for _, raw := range rawCerts[1:] {
				cert, err := x509.ParseCertificate(raw)
				if err != nil {
					return fmt.Errorf("failed to parse intermediate certificate: %w", err)
				}
				intermediates.AddCert(cert)
			}
			_, err = leaf.Verify(x509.VerifyOptions{Roots: caPool, Intermediates: intermediates})
			return err
		},
	}, nil
}

// Execute выполняет один statement с параметрами
func (p *Postgres) Execute(ctx context.Context, sql string, args ...any) (int64, error) {
	tag, err := p.pool.Exec(ctx, sql, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// BatchExecute выполняет многооператорную строку. Без параметров pgx
// использует simple query protocol, допускающий несколько statement'ов.
func (p *Postgres) BatchExecute(ctx context.Context, sql string) error {
	_, err := p.pool.Exec(ctx, sql)
	return err
}

// QueryUint64 выполняет запрос одного числа
func (p *Postgres) QueryUint64(ctx context.Context, sql string) (uint64, error) {
	var v int64
	if err := p.pool.QueryRow(ctx, sql).Scan(&v); err != nil {
		return 0, err
	}
	if v < 0 {
		return 0, nil
	}
	return uint64(v), nil
}

// Close закрывает соединение
func (p *Postgres) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}
