package handlers

import (
	"strconv"
	"strings"

	"github.com/solana-nft-programs/solana-indexer-plugin/pkg/config"
)

// SlotHandler кодирует смену статуса слота. Stateless: только DDL и
// статический шаблон upsert'а.
type SlotHandler struct{}

func (h *SlotHandler) Init(cfg *config.PluginConfig) string {
	return `
		CREATE TABLE IF NOT EXISTS slot (
			slot BIGINT PRIMARY KEY,
			parent BIGINT,
			status VARCHAR(16) NOT NULL,
			stage SMALLINT NOT NULL,
			updated_on TIMESTAMPTZ NOT NULL
		);
	`
}

// Update строит upsert статуса слота с monotonicity guard: конфликтная
// строка перезаписывается только если новый статус представляет равный или
// более поздний прогресс (stage растет: processed -> confirmed -> rooted).
// Доставка вне порядка не может откатить записанный статус.
//
// parent == nil не затирает ранее известного родителя (COALESCE).
func (h *SlotHandler) Update(slot uint64, parent *uint64, status SlotStatus) string {
	if !status.Valid() {
		return ""
	}

	parentLit := "NULL"
	if parent != nil {
		parentLit = uint64Literal(*parent)
	}

	var b strings.Builder
	b.WriteString("INSERT INTO slot AS s (slot, parent, status, stage, updated_on) VALUES (")
	b.WriteString(uint64Literal(slot))
	b.WriteString(", ")
	b.WriteString(parentLit)
	b.WriteString(", ")
	b.WriteString(quoteLiteral(status.String()))
	b.WriteString(", ")
	b.WriteString(strconv.Itoa(status.Stage()))
	b.WriteString(", NOW()) ")
	b.WriteString("ON CONFLICT (slot) DO UPDATE SET ")
	b.WriteString("parent=COALESCE(excluded.parent, s.parent), status=excluded.status, stage=excluded.stage, updated_on=excluded.updated_on ")
	b.WriteString("WHERE s.stage < excluded.stage;")
	return b.String()
}

// HighestAvailableSlotSQL - запрос верхней границы для оптимизации
// skip_upsert_existing_accounts_at_startup
const HighestAvailableSlotSQL = "SELECT COALESCE(MAX(slot), 0) FROM slot"
