package handlers

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/solana-nft-programs/solana-indexer-plugin/pkg/config"
)

// TransactionHandler пишет транзакции сразу, минуя батчинг: объем небольшой,
// ценность высокая, батчинг только добавил бы латентность.
type TransactionHandler struct{}

func (h *TransactionHandler) Init(cfg *config.PluginConfig) string {
	return `
		CREATE TABLE IF NOT EXISTS transaction (
			signature VARCHAR(88) NOT NULL,
			slot BIGINT NOT NULL,
			is_vote BOOL NOT NULL,
			payload BYTEA,
			updated_on TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (signature, slot)
		);
	`
}

// Update выполняет append-only вставку: конфликт по (signature, slot)
// означает повторную доставку, запись не обновляется.
func (h *TransactionHandler) Update(ctx context.Context, db Execer, rec *TransactionRecord) error {
	_, err := db.Execute(ctx,
		`INSERT INTO transaction (signature, slot, is_vote, payload, updated_on)
		 VALUES ($1, $2, $3, $4, NOW())
		 ON CONFLICT (signature, slot) DO NOTHING`,
		base58.Encode(rec.Signature), int64(rec.Slot), rec.IsVote, rec.Payload,
	)
	if err != nil {
		return fmt.Errorf("[log_transaction] signature=[%s] slot=[%d]: %w", base58.Encode(rec.Signature), rec.Slot, err)
	}
	return nil
}
