package brokers

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/solana-nft-programs/solana-indexer-plugin/pkg/handlers"
	"github.com/solana-nft-programs/solana-indexer-plugin/pkg/worker"
	"github.com/zeebo/xxh3"
)

// Envelope - wire-формат сообщения брокера:
//
//	[1 байт flags][8 байт xxh3 payload, big-endian][payload]
//
// payload - JSON wireEnvelope, опционально сжатый zstd (flagZstd).
// Несовпадение контрольной суммы отклоняет сообщение целиком: поврежденные
// данные не должны добираться до БД.

const (
	envelopeHeaderLen = 9
	flagZstd          = 0x01
)

// Переиспользуемые кодеки; EncodeAll/DecodeAll конкурентно-безопасны
var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	zstdDecoder, _ = zstd.NewReader(nil)
)

// wireEnvelope - JSON-представление запроса. Kind определяет, какое из
// полей заполнено. end_of_startup - управляющий сигнал без тела.
type wireEnvelope struct {
	Kind        string           `json:"kind"` // account | slot | transaction | block | end_of_startup
	Account     *wireAccount     `json:"account,omitempty"`
	Slot        *wireSlot        `json:"slot,omitempty"`
	Transaction *wireTransaction `json:"transaction,omitempty"`
	Block       *wireBlock       `json:"block,omitempty"`
}

type wireAccount struct {
	Pubkey       []byte `json:"pubkey"`
	Owner        []byte `json:"owner"`
	Lamports     uint64 `json:"lamports"`
	Slot         uint64 `json:"slot"`
	Executable   bool   `json:"executable"`
	WriteVersion uint64 `json:"write_version"`
	Data         []byte `json:"data,omitempty"`
	IsStartup    bool   `json:"is_startup"`
}

type wireSlot struct {
	Slot   uint64  `json:"slot"`
	Parent *uint64 `json:"parent,omitempty"`
	Status string  `json:"status"`
}

type wireTransaction struct {
	Signature []byte `json:"signature"`
	Slot      uint64 `json:"slot"`
	IsVote    bool   `json:"is_vote"`
	Payload   []byte `json:"payload,omitempty"`
}

type wireBlock struct {
	Slot        uint64 `json:"slot"`
	Blockhash   string `json:"blockhash,omitempty"`
	RewardsJSON []byte `json:"rewards,omitempty"`
	BlockTime   int64  `json:"block_time,omitempty"`
	BlockHeight uint64 `json:"block_height,omitempty"`
}

// Decoded - результат разбора envelope: либо запрос для пула, либо
// управляющий сигнал конца startup replay
type Decoded struct {
	Request      worker.Request
	EndOfStartup bool
}

// EncodeRequest сериализует запрос в envelope
func EncodeRequest(req worker.Request, compress bool) ([]byte, error) {
	env, err := toWire(req)
	if err != nil {
		return nil, err
	}
	return seal(env, compress)
}

// EncodeEndOfStartup сериализует управляющий сигнал конца startup replay
func EncodeEndOfStartup(compress bool) ([]byte, error) {
	return seal(&wireEnvelope{Kind: "end_of_startup"}, compress)
}

// Decode разбирает envelope: проверяет контрольную сумму, распаковывает,
// десериализует
func Decode(message []byte) (Decoded, error) {
	if len(message) < envelopeHeaderLen {
		return Decoded{}, fmt.Errorf("envelope too short: %d bytes", len(message))
	}

	flags := message[0]
	want := binary.BigEndian.Uint64(message[1:envelopeHeaderLen])
	payload := message[envelopeHeaderLen:]

	if got := xxh3.Hash(payload); got != want {
		return Decoded{}, fmt.Errorf("envelope checksum mismatch: expected %016x, got %016x (data corruption detected)", want, got)
	}

	if flags&flagZstd != 0 {
		var err error
		payload, err = zstdDecoder.DecodeAll(payload, nil)
		if err != nil {
			return Decoded{}, fmt.Errorf("failed to decompress envelope: %w", err)
		}
	}

	var env wireEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Decoded{}, fmt.Errorf("failed to unmarshal envelope: %w", err)
	}
	return fromWire(&env)
}

// EnvelopeKey возвращает ключ партиционирования для сообщения: pubkey для
// account-запросов (per-key порядок внутри партиции), иначе хеш сообщения
func EnvelopeKey(message []byte) []byte {
	if dec, err := Decode(message); err == nil {
		if r, ok := dec.Request.(*worker.UpdateAccountRequest); ok {
			return r.Account.Pubkey
		}
	}
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, xxh3.Hash(message))
	return key
}

func seal(env *wireEnvelope, compress bool) ([]byte, error) {
	payload, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal envelope: %w", err)
	}

	var flags byte
	if compress {
		flags |= flagZstd
		payload = zstdEncoder.EncodeAll(payload, nil)
	}

	out := make([]byte, envelopeHeaderLen+len(payload))
	out[0] = flags
	binary.BigEndian.PutUint64(out[1:envelopeHeaderLen], xxh3.Hash(payload))
	copy(out[envelopeHeaderLen:], payload)
	return out, nil
}

func toWire(req worker.Request) (*wireEnvelope, error) {
	switch r := req.(type) {
	case *worker.UpdateAccountRequest:
		return &wireEnvelope{Kind: "account", Account: &wireAccount{
			Pubkey:       r.Account.Pubkey,
			Owner:        r.Account.Owner,
			Lamports:     r.Account.Lamports,
			Slot:         r.Account.Slot,
			Executable:   r.Account.Executable,
			WriteVersion: r.Account.WriteVersion,
			Data:         r.Account.Data,
			IsStartup:    r.IsStartup,
		}}, nil
	case *worker.UpdateSlotRequest:
		return &wireEnvelope{Kind: "slot", Slot: &wireSlot{
			Slot:   r.Slot,
			Parent: r.Parent,
			Status: r.Status.String(),
		}}, nil
	case *worker.LogTransactionRequest:
		return &wireEnvelope{Kind: "transaction", Transaction: &wireTransaction{
			Signature: r.Transaction.Signature,
			Slot:      r.Transaction.Slot,
			IsVote:    r.Transaction.IsVote,
			Payload:   r.Transaction.Payload,
		}}, nil
	case *worker.UpdateBlockMetadataRequest:
		return &wireEnvelope{Kind: "block", Block: &wireBlock{
			Slot:        r.Block.Slot,
			Blockhash:   r.Block.Blockhash,
			RewardsJSON: r.Block.RewardsJSON,
			BlockTime:   r.Block.BlockTime,
			BlockHeight: r.Block.BlockHeight,
		}}, nil
	default:
		return nil, fmt.Errorf("unsupported request type %T", req)
	}
}

func fromWire(env *wireEnvelope) (Decoded, error) {
	switch env.Kind {
	case "end_of_startup":
		return Decoded{EndOfStartup: true}, nil
	case "account":
		if env.Account == nil {
			return Decoded{}, fmt.Errorf("envelope kind %q without body", env.Kind)
		}
		return Decoded{Request: &worker.UpdateAccountRequest{
			Account: handlers.AccountRecord{
				Pubkey:       env.Account.Pubkey,
				Owner:        env.Account.Owner,
				Lamports:     env.Account.Lamports,
				Slot:         env.Account.Slot,
				Executable:   env.Account.Executable,
				WriteVersion: env.Account.WriteVersion,
				Data:         env.Account.Data,
			},
			IsStartup: env.Account.IsStartup,
		}}, nil
	case "slot":
		if env.Slot == nil {
			return Decoded{}, fmt.Errorf("envelope kind %q without body", env.Kind)
		}
		status, err := handlers.ParseSlotStatus(env.Slot.Status)
		if err != nil {
			return Decoded{}, err
		}
		return Decoded{Request: &worker.UpdateSlotRequest{
			Slot:   env.Slot.Slot,
			Parent: env.Slot.Parent,
			Status: status,
		}}, nil
	case "transaction":
		if env.Transaction == nil {
			return Decoded{}, fmt.Errorf("envelope kind %q without body", env.Kind)
		}
		return Decoded{Request: &worker.LogTransactionRequest{
			Transaction: handlers.TransactionRecord{
				Signature: env.Transaction.Signature,
				Slot:      env.Transaction.Slot,
				IsVote:    env.Transaction.IsVote,
				Payload:   env.Transaction.Payload,
			},
		}}, nil
	case "block":
		if env.Block == nil {
			return Decoded{}, fmt.Errorf("envelope kind %q without body", env.Kind)
		}
		return Decoded{Request: &worker.UpdateBlockMetadataRequest{
			Block: handlers.BlockMetadataRecord{
				Slot:        env.Block.Slot,
				Blockhash:   env.Block.Blockhash,
				RewardsJSON: env.Block.RewardsJSON,
				BlockTime:   env.Block.BlockTime,
				BlockHeight: env.Block.BlockHeight,
			},
		}}, nil
	default:
		return Decoded{}, fmt.Errorf("unknown envelope kind %q", env.Kind)
	}
}
