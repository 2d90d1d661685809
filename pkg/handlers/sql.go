package handlers

import (
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil/base58"
)

// Хелперы для инлайн SQL-литералов. Батч account-обновлений выполняется
// одной многооператорной строкой через batch_execute, поэтому значения
// встраиваются в текст запроса, а не передаются параметрами.

// quoteLiteral экранирует строку как SQL-литерал (одинарные кавычки)
func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// base58Literal кодирует 32-байтный ключ в base58 и оборачивает в литерал.
// Base58-алфавит не содержит спецсимволов, но экранируем единообразно.
func base58Literal(key []byte) string {
	return quoteLiteral(base58.Encode(key))
}

// byteaLiteral кодирует байты как bytea hex-литерал ('\x...'::bytea)
func byteaLiteral(data []byte) string {
	return "'\\x" + hex.EncodeToString(data) + "'::bytea"
}

// uint64Literal форматирует число без кавычек
func uint64Literal(v uint64) string {
	return strconv.FormatUint(v, 10)
}

// boolLiteral форматирует bool как TRUE/FALSE
func boolLiteral(v bool) string {
	if v {
		return "TRUE"
	}
	return "FALSE"
}
