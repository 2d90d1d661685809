package handlers

import (
	"context"

	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/solana-nft-programs/solana-indexer-plugin/pkg/config"
)

// Execer - минимальная способность выполнить один SQL statement.
// Реализуется в pkg/sink; здесь только контракт, чтобы transaction/block
// handler'ы могли писать сразу, минуя батчинг.
type Execer interface {
	Execute(ctx context.Context, sql string, args ...any) (int64, error)
}

// AccountHandler - pluggable encoder одного класса аккаунтов.
//
// Контракт:
//   - ID: стабильный идентификатор (используется в accounts_selector и disable_handlers)
//   - Init: идемпотентный DDL (CREATE ... IF NOT EXISTS); "" если handler отключен
//   - Matches: чистый предикат по owner/структуре данных, без side effect'ов
//   - EncodeUpdate: upsert statement; обязан сам перепроверить Matches и
//     вернуть "" если запись не подходит - вызов вне пути селекции безопасен
//
// Handler только строит строки; выполнение - ответственность sink.
// Несколько handler'ов могут совпасть на одном аккаунте, их statement'ы
// конкатенируются и выполняются вместе.
type AccountHandler interface {
	ID() string
	Init(cfg *config.PluginConfig) string
	Matches(rec *AccountRecord) bool
	EncodeUpdate(rec *AccountRecord) string
}

// AllHandlers возвращает полный реестр account handler'ов.
// Реестр фиксируется при старте процесса и дальше не меняется.
// Новые handler'ы добавляются сюда, dispatch-логика не меняется.
func AllHandlers() map[string]AccountHandler {
	registry := map[string]AccountHandler{}
	for _, h := range []AccountHandler{
		&AccountUpdateHandler{},
		&TokenAccountHandler{},
	} {
		registry[h.ID()] = h
	}
	return registry
}

// SelectHandlers отбирает handler'ы, применимые к записи.
//
// Селектор (если задан) сужает кандидатов: allow-list по id handler'а
// и/или по owner (base58). Без селектора кандидаты - весь реестр, и каждый
// handler сам решает применимость через Matches.
func SelectHandlers(sel *config.AccountsSelectorConfig, registry map[string]AccountHandler, rec *AccountRecord) []AccountHandler {
	var out []AccountHandler
	for _, h := range registry {
		if !selectorAllows(sel, h.ID(), rec) {
			continue
		}
		if h.Matches(rec) {
			out = append(out, h)
		}
	}
	return out
}

func selectorAllows(sel *config.AccountsSelectorConfig, handlerID string, rec *AccountRecord) bool {
	if sel == nil {
		return true
	}
	if len(sel.Handlers) > 0 && !containsString(sel.Handlers, handlerID) {
		return false
	}
	if len(sel.Owners) > 0 && !containsString(sel.Owners, base58.Encode(rec.Owner)) {
		return false
	}
	return true
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
