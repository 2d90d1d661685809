package handlers

import (
	"strings"
	"testing"

	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/solana-nft-programs/solana-indexer-plugin/pkg/config"
)

func TestAllHandlers(t *testing.T) {
	registry := AllHandlers()
	for _, id := range []string{"account", "spl_token_account"} {
		h, ok := registry[id]
		if !ok {
			t.Fatalf("handler %q not registered", id)
		}
		if h.ID() != id {
			t.Errorf("handler registered under %q reports ID %q", id, h.ID())
		}
	}
}

func TestSelectHandlers_NoSelector(t *testing.T) {
	registry := AllHandlers()

	// Обычный аккаунт: только generic handler
	rec := &AccountRecord{Pubkey: testKey(1), Owner: testKey(2), Slot: 1}
	selected := SelectHandlers(nil, registry, rec)
	if len(selected) != 1 || selected[0].ID() != "account" {
		t.Fatalf("expected only the generic handler, got %d handlers", len(selected))
	}

	// Token-аккаунт: generic + специализированный
	rec = &AccountRecord{
		Pubkey: testKey(1),
		Owner:  tokenProgramKey,
		Data:   tokenAccountData(testKey(2), testKey(3), nil),
		Slot:   1,
	}
	selected = SelectHandlers(nil, registry, rec)
	if len(selected) != 2 {
		t.Fatalf("expected both handlers to match a token account, got %d", len(selected))
	}
}

func TestSelectHandlers_HandlerAllowList(t *testing.T) {
	registry := AllHandlers()
	sel := &config.AccountsSelectorConfig{Handlers: []string{"spl_token_account"}}

	rec := &AccountRecord{
		Pubkey: testKey(1),
		Owner:  tokenProgramKey,
		Data:   tokenAccountData(testKey(2), testKey(3), nil),
		Slot:   1,
	}
	selected := SelectHandlers(sel, registry, rec)
	if len(selected) != 1 || selected[0].ID() != "spl_token_account" {
		t.Fatalf("expected only the token handler, got %d handlers", len(selected))
	}
}

func TestSelectHandlers_OwnerFilter(t *testing.T) {
	registry := AllHandlers()
	sel := &config.AccountsSelectorConfig{Owners: []string{base58.Encode(testKey(5))}}

	allowed := &AccountRecord{Pubkey: testKey(1), Owner: testKey(5), Slot: 1}
	if got := SelectHandlers(sel, registry, allowed); len(got) != 1 {
		t.Errorf("expected allowed owner to select the generic handler, got %d", len(got))
	}

	denied := &AccountRecord{Pubkey: testKey(1), Owner: testKey(6), Slot: 1}
	if got := SelectHandlers(sel, registry, denied); len(got) != 0 {
		t.Errorf("expected filtered owner to select nothing, got %d", len(got))
	}
}

func TestAccountUpdateHandler_EncodeUpdate(t *testing.T) {
	h := &AccountUpdateHandler{}
	rec := &AccountRecord{
		Pubkey:       testKey(1),
		Owner:        testKey(2),
		Lamports:     100,
		Slot:         55,
		Executable:   true,
		WriteVersion: 9,
		Data:         []byte{0xDE, 0xAD},
	}

	query := h.EncodeUpdate(rec)
	for _, want := range []string{
		base58.Encode(rec.Pubkey),
		base58.Encode(rec.Owner),
		"'\\xdead'::bytea",
		"ON CONFLICT (pubkey) DO UPDATE",
		"WHERE acct.slot < excluded.slot OR (acct.slot = excluded.slot AND acct.write_version < excluded.write_version)",
	} {
		if !strings.Contains(query, want) {
			t.Errorf("statement missing %q: %s", want, query)
		}
	}
}

func TestAccountUpdateHandler_RejectsBadKey(t *testing.T) {
	h := &AccountUpdateHandler{}
	rec := &AccountRecord{Pubkey: []byte{1, 2, 3}, Owner: testKey(2), Slot: 1}
	if q := h.EncodeUpdate(rec); q != "" {
		t.Errorf("expected empty statement for malformed key, got %q", q)
	}
}

func TestHandlerInit_Disabled(t *testing.T) {
	cfg := &config.PluginConfig{DisableHandlers: []string{"spl_token_account"}}

	if ddl := (&TokenAccountHandler{}).Init(cfg); ddl != "" {
		t.Errorf("expected disabled handler to produce no DDL, got %q", ddl)
	}
	if ddl := (&AccountUpdateHandler{}).Init(cfg); ddl == "" {
		t.Error("expected enabled handler to produce DDL")
	}
}

func TestQuoteLiteral(t *testing.T) {
	if got := quoteLiteral("it's"); got != "'it''s'" {
		t.Errorf("expected escaped literal, got %s", got)
	}
}
