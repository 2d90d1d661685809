package handlers

import (
	"bytes"
	"strings"

	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/solana-nft-programs/solana-indexer-plugin/pkg/config"
)

// Идентификаторы token-программ (base58)
const (
	tokenProgramID  = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA" // legacy
	tokenzProgramID = "TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb" // extensions
)

// Фиксированный layout token-аккаунта:
//
//	mint   Pubkey  @ offset 0
//	owner  Pubkey  @ offset 32
//	... остальные поля не извлекаем
//
// Legacy-вариант - ровно 165 байт. Расширенный вариант (Tokenz) длиннее:
// байт-дискриминатор со значением 2 лежит на offset 165, дальше TLV-расширения.
const (
	tokenAccountMintOffset    = 0
	tokenAccountOwnerOffset   = 32
	tokenAccountLength        = 165
	tokenAccountDiscriminator = 2
)

var (
	tokenProgramKey  = base58.Decode(tokenProgramID)
	tokenzProgramKey = base58.Decode(tokenzProgramID)
)

// TokenAccountHandler распознает token-аккаунты по owner-программе и
// структуре данных и извлекает (mint, owner) срезами по фиксированным
// offset'ам, без полной десериализации.
type TokenAccountHandler struct{}

func (h *TokenAccountHandler) ID() string {
	return "spl_token_account"
}

func (h *TokenAccountHandler) Init(cfg *config.PluginConfig) string {
	if cfg.HandlerDisabled(h.ID()) {
		return ""
	}
	return `
		CREATE TABLE IF NOT EXISTS spl_token_account (
			pubkey VARCHAR(44) NOT NULL,
			owner VARCHAR(44) NOT NULL,
			mint VARCHAR(44) NOT NULL,
			slot BIGINT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS spl_token_account_owner ON spl_token_account (owner);
		CREATE INDEX IF NOT EXISTS spl_token_account_mint ON spl_token_account (mint);
		CREATE UNIQUE INDEX IF NOT EXISTS spl_token_account_owner_pair ON spl_token_account (pubkey, owner, mint);
	`
}

// Matches - чистый структурный предикат. Любая проверка offset'а
// предваряется проверкой длины: обрезанные данные отклоняются, не паникуют.
func (h *TokenAccountHandler) Matches(rec *AccountRecord) bool {
	if len(rec.Data) < tokenAccountLength {
		return false
	}
	if bytes.Equal(rec.Owner, tokenProgramKey) {
		return len(rec.Data) == tokenAccountLength
	}
	if bytes.Equal(rec.Owner, tokenzProgramKey) {
		return len(rec.Data) > tokenAccountLength && rec.Data[tokenAccountLength] == tokenAccountDiscriminator
	}
	return false
}

func (h *TokenAccountHandler) EncodeUpdate(rec *AccountRecord) string {
	if !h.Matches(rec) {
		return ""
	}

	mint := rec.Data[tokenAccountMintOffset : tokenAccountMintOffset+PubkeyBytes]
	owner := rec.Data[tokenAccountOwnerOffset : tokenAccountOwnerOffset+PubkeyBytes]

	var b strings.Builder
	b.WriteString("INSERT INTO spl_token_account AS tok (pubkey, owner, mint, slot) VALUES (")
	b.WriteString(base58Literal(rec.Pubkey))
	b.WriteString(", ")
	b.WriteString(base58Literal(owner))
	b.WriteString(", ")
	b.WriteString(base58Literal(mint))
	b.WriteString(", ")
	b.WriteString(uint64Literal(rec.Slot))
	b.WriteString(") ON CONFLICT (pubkey, owner, mint) DO UPDATE SET slot=excluded.slot WHERE tok.slot < excluded.slot;")
	return b.String()
}
