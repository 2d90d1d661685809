package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_FullConfig(t *testing.T) {
	path := writeConfig(t, `
connection:
  dsn: "postgres://indexer:secret@db:5432/solana"
pipeline:
  batch_size: 20
  thread_count: 4
  queue_size: 2048
  recv_timeout_ms: 250
  panic_on_db_errors: true
  skip_upsert_existing_accounts_at_startup: true
  safe_batch_starting_slot_cushion: 1000
accounts_selector:
  handlers: ["token_account"]
  owners: ["TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"]
disable_handlers: ["account"]
broker:
  type: kafka
  brokers: ["kafka-1:9092", "kafka-2:9092"]
  topic: solana-updates
  consumer_group: indexer
result_log:
  type: redis
  address: "127.0.0.1:6379"
  name: mainnet-indexer
audit:
  enabled: true
  file: /var/log/indexer/audit.jsonl
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Pipeline.BatchSize != 20 || cfg.Pipeline.ThreadCount != 4 {
		t.Errorf("pipeline mismatch: %+v", cfg.Pipeline)
	}
	if !cfg.Pipeline.PanicOnDBErrors {
		t.Error("panic_on_db_errors not parsed")
	}
	if cfg.Pipeline.SafeBatchStartingSlotCushion != 1000 {
		t.Errorf("cushion = %d, want 1000", cfg.Pipeline.SafeBatchStartingSlotCushion)
	}
	if cfg.AccountsSelector == nil || len(cfg.AccountsSelector.Owners) != 1 {
		t.Errorf("accounts_selector not parsed: %+v", cfg.AccountsSelector)
	}
	if !cfg.HandlerDisabled("account") || cfg.HandlerDisabled("token_account") {
		t.Error("disable_handlers not honored")
	}
	if cfg.Broker.Type != "kafka" || len(cfg.Broker.Brokers) != 2 {
		t.Errorf("broker mismatch: %+v", cfg.Broker)
	}
	if cfg.ResultLog.TTL != 3600 {
		t.Errorf("result_log ttl default = %d, want 3600", cfg.ResultLog.TTL)
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
connection:
  dsn: "postgres://localhost/solana"
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Pipeline.BatchSize != 10 {
		t.Errorf("batch_size default = %d, want 10", cfg.Pipeline.BatchSize)
	}
	if cfg.Pipeline.ThreadCount != 1 {
		t.Errorf("thread_count default = %d, want 1", cfg.Pipeline.ThreadCount)
	}
	if cfg.Pipeline.QueueSize != 1024 {
		t.Errorf("queue_size default = %d, want 1024", cfg.Pipeline.QueueSize)
	}
	if cfg.Pipeline.RecvTimeoutMs != 500 {
		t.Errorf("recv_timeout_ms default = %d, want 500", cfg.Pipeline.RecvTimeoutMs)
	}
	if cfg.Broker.Type != "" {
		t.Errorf("broker should be disabled by default, got %q", cfg.Broker.Type)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	if _, err := Load(writeConfig(t, "connection: [broken")); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestValidate_RequiresDSN(t *testing.T) {
	cfg := &PluginConfig{}
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "dsn") {
		t.Fatalf("expected dsn error, got %v", err)
	}
}

func TestValidate_TLSTripleAllOrNothing(t *testing.T) {
	// Частичный TLS-комплект фатален: все три файла или ничего
	cases := []struct {
		name          string
		ca, cert, key string
		wantErr       bool
	}{
		{"complete", "/pki/ca.pem", "/pki/cert.pem", "/pki/key.pem", false},
		{"missing ca", "", "/pki/cert.pem", "/pki/key.pem", true},
		{"missing cert", "/pki/ca.pem", "", "/pki/key.pem", true},
		{"missing key", "/pki/ca.pem", "/pki/cert.pem", "", true},
		{"all missing", "", "", "", true},
	}
	for _, tc := range cases {
		cfg := &PluginConfig{}
		cfg.Connection.DSN = "postgres://localhost/solana"
		cfg.Connection.UseSSL = true
		cfg.Connection.ServerCA = tc.ca
		cfg.Connection.ClientCert = tc.cert
		cfg.Connection.ClientKey = tc.key

		err := cfg.Validate()
		if tc.wantErr && err == nil {
			t.Errorf("%s: expected validation error", tc.name)
		}
		if !tc.wantErr && err != nil {
			t.Errorf("%s: unexpected error: %v", tc.name, err)
		}
	}
}

func TestValidate_BrokerRequirements(t *testing.T) {
	base := func() *PluginConfig {
		cfg := &PluginConfig{}
		cfg.Connection.DSN = "postgres://localhost/solana"
		return cfg
	}

	cfg := base()
	cfg.Broker.Type = "nats"
	if err := cfg.Validate(); err == nil {
		t.Error("expected unknown broker type to fail")
	}

	cfg = base()
	cfg.Broker.Type = "kafka"
	if err := cfg.Validate(); err == nil {
		t.Error("expected kafka without brokers to fail")
	}

	cfg = base()
	cfg.Broker.Type = "rabbitmq"
	cfg.Broker.Host = "mq.internal"
	cfg.Broker.Queue = "solana-updates"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Broker.Port != 5672 {
		t.Errorf("rabbitmq port default = %d, want 5672", cfg.Broker.Port)
	}
}

func TestValidate_ResultLogRequirements(t *testing.T) {
	cfg := &PluginConfig{}
	cfg.Connection.DSN = "postgres://localhost/solana"
	cfg.ResultLog.Type = "redis"
	if err := cfg.Validate(); err == nil {
		t.Error("expected redis without address to fail")
	}

	cfg.ResultLog.Address = "127.0.0.1:6379"
	cfg.ResultLog.Name = "indexer"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ResultLog.TTL != 3600 {
		t.Errorf("ttl default = %d, want 3600", cfg.ResultLog.TTL)
	}
}
