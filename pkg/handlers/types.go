package handlers

import "fmt"

// PubkeyBytes - длина ключа аккаунта в байтах
const PubkeyBytes = 32

// AccountRecord - состояние аккаунта в момент slot.
// Идентичность = Pubkey; новая запись с большим slot вытесняет старую.
type AccountRecord struct {
	Pubkey       []byte // 32-байтный ключ аккаунта
	Owner        []byte // 32-байтный ключ программы-владельца
	Lamports     uint64
	Slot         uint64
	Executable   bool
	WriteVersion uint64
	Data         []byte // Сырое содержимое аккаунта (может быть пустым)
}

// SlotStatus - глубина подтверждения слота
type SlotStatus string

const (
	SlotProcessed SlotStatus = "processed"
	SlotConfirmed SlotStatus = "confirmed"
	SlotRooted    SlotStatus = "rooted"
)

// Stage возвращает числовой ранг статуса для monotonicity guard в SQL:
// processed(0) -> confirmed(1) -> rooted(2). Статус в БД никогда не
// откатывается на меньший ранг, даже при доставке вне порядка.
func (s SlotStatus) Stage() int {
	switch s {
	case SlotProcessed:
		return 0
	case SlotConfirmed:
		return 1
	case SlotRooted:
		return 2
	default:
		return -1
	}
}

// Valid сообщает, известен ли статус
func (s SlotStatus) Valid() bool {
	return s.Stage() >= 0
}

func (s SlotStatus) String() string {
	return string(s)
}

// ParseSlotStatus разбирает статус из wire-формы
func ParseSlotStatus(v string) (SlotStatus, error) {
	s := SlotStatus(v)
	if !s.Valid() {
		return "", fmt.Errorf("unknown slot status %q", v)
	}
	return s, nil
}

// TransactionRecord - запись о транзакции. Payload непрозрачен для sink:
// append-only, никогда не обновляется.
type TransactionRecord struct {
	Signature []byte // Сигнатура транзакции (ключ)
	Slot      uint64
	IsVote    bool
	Payload   []byte // Сериализованная транзакция (как отдал producer)
}

// BlockMetadataRecord - метаданные блока. Append-only.
type BlockMetadataRecord struct {
	Slot        uint64
	Blockhash   string
	RewardsJSON []byte // Rewards в JSON, как отдал producer (может быть пустым)
	BlockTime   int64  // Unix time, 0 = неизвестно
	BlockHeight uint64 // 0 = неизвестно
}
