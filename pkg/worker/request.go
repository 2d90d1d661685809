package worker

import "github.com/solana-nft-programs/solana-indexer-plugin/pkg/handlers"

// Request - единица работы в очереди воркера. Tagged union из четырех
// видов запросов; очередь владеет запросом пока воркер его не заберет.
type Request interface {
	requestKind() string
}

// UpdateAccountRequest - обновление аккаунта (+ флаг startup replay)
type UpdateAccountRequest struct {
	Account   handlers.AccountRecord
	IsStartup bool
}

// UpdateSlotRequest - смена статуса слота
type UpdateSlotRequest struct {
	Slot   uint64
	Parent *uint64 // nil = родитель неизвестен
	Status handlers.SlotStatus
}

// LogTransactionRequest - запись транзакции
type LogTransactionRequest struct {
	Transaction handlers.TransactionRecord
}

// UpdateBlockMetadataRequest - запись метаданных блока
type UpdateBlockMetadataRequest struct {
	Block handlers.BlockMetadataRecord
}

func (*UpdateAccountRequest) requestKind() string       { return "update_account" }
func (*UpdateSlotRequest) requestKind() string          { return "update_slot" }
func (*LogTransactionRequest) requestKind() string      { return "log_transaction" }
func (*UpdateBlockMetadataRequest) requestKind() string { return "update_block_metadata" }
