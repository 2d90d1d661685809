package sink

import (
	"context"
	"fmt"
	"strings"

	"github.com/solana-nft-programs/solana-indexer-plugin/pkg/config"
	"github.com/solana-nft-programs/solana-indexer-plugin/pkg/handlers"
)

// InitSchema выполняет DDL всех handler'ов одной многооператорной строкой.
// DDL идемпотентен (CREATE ... IF NOT EXISTS), повторный запуск безопасен.
// Отключенные handler'ы отдают пустую строку и таблиц не создают.
func InitSchema(ctx context.Context, db DB, cfg *config.PluginConfig) error {
	var b strings.Builder
	for _, h := range handlers.AllHandlers() {
		b.WriteString(h.Init(cfg))
	}
	b.WriteString((&handlers.SlotHandler{}).Init(cfg))
	b.WriteString((&handlers.BlockHandler{}).Init(cfg))
	b.WriteString((&handlers.TransactionHandler{}).Init(cfg))

	if err := db.BatchExecute(ctx, b.String()); err != nil {
		return fmt.Errorf("[init_schema]: %w: %w", ErrSchema, err)
	}
	return nil
}

// BatchStartingSlot вычисляет нижнюю границу для оптимизации
// skip_upsert_existing_accounts_at_startup: max(slot) из таблицы slot минус
// cushion (с насыщением в ноль). Аккаунты со слотом НИЖЕ границы producer
// может считать уже записанными; аккаунты на границе и выше пропускать
// нельзя. nil - оптимизация выключена.
func BatchStartingSlot(ctx context.Context, db DB, cfg *config.PluginConfig) (*uint64, error) {
	if !cfg.Pipeline.SkipUpsertExistingAccountsAtStartup {
		return nil, nil
	}

	highest, err := db.QueryUint64(ctx, handlers.HighestAvailableSlotSQL)
	if err != nil {
		return nil, fmt.Errorf("[batch_starting_slot]: %w: %w", ErrSchema, err)
	}

	bound := highest
	if cushion := cfg.Pipeline.SafeBatchStartingSlotCushion; cushion < bound {
		bound -= cushion
	} else {
		bound = 0
	}
	return &bound, nil
}
