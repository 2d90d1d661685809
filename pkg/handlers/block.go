package handlers

import (
	"context"
	"fmt"

	"github.com/solana-nft-programs/solana-indexer-plugin/pkg/config"
)

// BlockHandler пишет метаданные блока сразу, минуя батчинг.
type BlockHandler struct{}

func (h *BlockHandler) Init(cfg *config.PluginConfig) string {
	return `
		CREATE TABLE IF NOT EXISTS block (
			slot BIGINT PRIMARY KEY,
			blockhash VARCHAR(44),
			rewards JSONB,
			block_time BIGINT,
			block_height BIGINT,
			updated_on TIMESTAMPTZ NOT NULL
		);
	`
}

// Update выполняет append-only вставку метаданных блока
func (h *BlockHandler) Update(ctx context.Context, db Execer, rec *BlockMetadataRecord) error {
	var rewards any
	if len(rec.RewardsJSON) > 0 {
		rewards = string(rec.RewardsJSON)
	}
	var blockTime any
	if rec.BlockTime != 0 {
		blockTime = rec.BlockTime
	}
	var blockHeight any
	if rec.BlockHeight != 0 {
		blockHeight = int64(rec.BlockHeight)
	}

	_, err := db.Execute(ctx,
		`INSERT INTO block (slot, blockhash, rewards, block_time, block_height, updated_on)
		 VALUES ($1, $2, $3, $4, $5, NOW())
		 ON CONFLICT (slot) DO NOTHING`,
		int64(rec.Slot), rec.Blockhash, rewards, blockTime, blockHeight,
	)
	if err != nil {
		return fmt.Errorf("[update_block_metadata] slot=[%d]: %w", rec.Slot, err)
	}
	return nil
}
