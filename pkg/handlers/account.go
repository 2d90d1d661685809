package handlers

import (
	"strings"

	"github.com/solana-nft-programs/solana-indexer-plugin/pkg/config"
)

// AccountUpdateHandler - generic handler: пишет последнее известное состояние
// каждого аккаунта в таблицу account. Совпадает с любой записью.
//
// Guard upsert'а: запись обновляется только если (slot, write_version)
// строго продвинулись - повторная доставка того же обновления является no-op,
// а конкурентные воркеры не могут откатить состояние назад.
type AccountUpdateHandler struct{}

func (h *AccountUpdateHandler) ID() string {
	return "account"
}

func (h *AccountUpdateHandler) Init(cfg *config.PluginConfig) string {
	if cfg.HandlerDisabled(h.ID()) {
		return ""
	}
	return `
		CREATE TABLE IF NOT EXISTS account (
			pubkey VARCHAR(44) NOT NULL,
			owner VARCHAR(44) NOT NULL,
			lamports BIGINT NOT NULL,
			slot BIGINT NOT NULL,
			executable BOOL NOT NULL,
			write_version BIGINT NOT NULL,
			data BYTEA,
			updated_on TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (pubkey)
		);
		CREATE INDEX IF NOT EXISTS account_owner ON account (owner);
		CREATE INDEX IF NOT EXISTS account_slot ON account (slot);
	`
}

func (h *AccountUpdateHandler) Matches(rec *AccountRecord) bool {
	return len(rec.Pubkey) == PubkeyBytes
}

func (h *AccountUpdateHandler) EncodeUpdate(rec *AccountRecord) string {
	if !h.Matches(rec) {
		return ""
	}

	var b strings.Builder
	b.WriteString("INSERT INTO account AS acct (pubkey, owner, lamports, slot, executable, write_version, data, updated_on) VALUES (")
	b.WriteString(base58Literal(rec.Pubkey))
	b.WriteString(", ")
	b.WriteString(base58Literal(rec.Owner))
	b.WriteString(", ")
	b.WriteString(uint64Literal(rec.Lamports))
	b.WriteString(", ")
	b.WriteString(uint64Literal(rec.Slot))
	b.WriteString(", ")
	b.WriteString(boolLiteral(rec.Executable))
	b.WriteString(", ")
	b.WriteString(uint64Literal(rec.WriteVersion))
	b.WriteString(", ")
	b.WriteString(byteaLiteral(rec.Data))
	b.WriteString(", NOW()) ")
	b.WriteString("ON CONFLICT (pubkey) DO UPDATE SET ")
	b.WriteString("owner=excluded.owner, lamports=excluded.lamports, slot=excluded.slot, ")
	b.WriteString("executable=excluded.executable, write_version=excluded.write_version, ")
	b.WriteString("data=excluded.data, updated_on=excluded.updated_on ")
	b.WriteString("WHERE acct.slot < excluded.slot OR (acct.slot = excluded.slot AND acct.write_version < excluded.write_version);")
	return b.String()
}
