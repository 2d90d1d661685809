package sink

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/solana-nft-programs/solana-indexer-plugin/pkg/audit"
	"github.com/solana-nft-programs/solana-indexer-plugin/pkg/config"
	"github.com/solana-nft-programs/solana-indexer-plugin/pkg/handlers"
)

// Sink владеет одним соединением с БД, буфером pending-батча и множеством
// слотов, увиденных во время startup replay, и оркестрирует dispatch по
// handler'ам, батчинг и моменты flush'а.
//
// Sink принадлежит ровно одному воркеру: никакой синхронизации внутри не
// требуется, cross-worker contention отсутствует по построению.
//
// Sink никогда не ретраит сам: любая ошибка выполнения оборачивается
// контекстом операции и возвращается воркеру, политика retry/abort - его.
type Sink struct {
	db        DB
	batchSize int

	// stopOnFirstError - fail-fast режим: NotifyEndOfStartup прерывается
	// на первой ошибке вместо per-slot log-and-continue
	stopOnFirstError bool

	pendingAccountUpdates []handlers.AccountRecord
	slotsAtStartup        map[uint64]struct{}

	accountHandlers map[string]handlers.AccountHandler
	selector        *config.AccountsSelectorConfig

	slotHandler        handlers.SlotHandler
	transactionHandler handlers.TransactionHandler
	blockHandler       handlers.BlockHandler

	log *audit.Logger
}

// New создает sink поверх готового соединения
func New(db DB, cfg *config.PluginConfig, log *audit.Logger) *Sink {
	if log == nil {
		log = audit.NewLogger(audit.LoggerConfig{})
	}
	registry := handlers.AllHandlers()
	for id := range registry {
		// Отключенный handler не создает таблиц и не должен получать записей
		if cfg.HandlerDisabled(id) {
			delete(registry, id)
		}
	}
	return &Sink{
		db:                    db,
		batchSize:             cfg.Pipeline.BatchSize,
		stopOnFirstError:      cfg.Pipeline.PanicOnDBErrors,
		pendingAccountUpdates: make([]handlers.AccountRecord, 0, cfg.Pipeline.BatchSize),
		slotsAtStartup:        map[uint64]struct{}{},
		accountHandlers:       registry,
		selector:              cfg.AccountsSelector,
		log:                   log,
	}
}

// UpdateAccount применяет обновление аккаунта.
//
// Во время startup replay обновление копится в pending-батче; при
// достижении batch_size батч кодируется через все подходящие handler'ы,
// конкатенируется и выполняется одной многооператорной строкой. Ошибка
// flush'а поднимается наверх, но буфер очищен в любом случае: at-most-once,
// неудачный батч теряется, буфер не растет без предела.
//
// В steady state обновление кодируется и выполняется сразу - без буферизации,
// видимость с низкой латентностью.
func (s *Sink) UpdateAccount(ctx context.Context, rec handlers.AccountRecord, isStartup bool) error {
	if isStartup {
		s.slotsAtStartup[rec.Slot] = struct{}{}
		s.pendingAccountUpdates = append(s.pendingAccountUpdates, rec)
		if len(s.pendingAccountUpdates) >= s.batchSize {
			if err := s.flushAccountBatch(ctx); err != nil {
				return fmt.Errorf("[update_account_batch]: %w", err)
			}
		}
		return nil
	}

	query := s.encodeAccount(&rec)
	if query == "" {
		return nil
	}
	if err := s.db.BatchExecute(ctx, query); err != nil {
		return fmt.Errorf("[update_account] account=[%s]: %w: %w", base58.Encode(rec.Pubkey), ErrAccountsUpdate, err)
	}
	return nil
}

// UpdateSlotStatus кодирует смену статуса слота и выполняет сразу
func (s *Sink) UpdateSlotStatus(ctx context.Context, slot uint64, parent *uint64, status handlers.SlotStatus) error {
	query := s.slotHandler.Update(slot, parent, status)
	if query == "" {
		return nil
	}
	if err := s.db.BatchExecute(ctx, query); err != nil {
		return fmt.Errorf("[update_slot_status] slot=[%d] status=[%s]: %w: %w", slot, status, ErrSchema, err)
	}
	return nil
}

// LogTransaction пишет транзакцию сразу, без батчинга
func (s *Sink) LogTransaction(ctx context.Context, rec handlers.TransactionRecord) error {
	if err := s.transactionHandler.Update(ctx, s.db, &rec); err != nil {
		return fmt.Errorf("%w: %w", ErrSchema, err)
	}
	return nil
}

// UpdateBlockMetadata пишет метаданные блока сразу, без батчинга
func (s *Sink) UpdateBlockMetadata(ctx context.Context, rec handlers.BlockMetadataRecord) error {
	if err := s.blockHandler.Update(ctx, s.db, &rec); err != nil {
		return fmt.Errorf("%w: %w", ErrSchema, err)
	}
	return nil
}

// NotifyEndOfStartup завершает startup replay: сбрасывает остаток
// pending-батча (даже неполный), затем для каждого слота, увиденного при
// replay, выполняет терминальный Rooted-upsert - последовательно, не батчем,
// чтобы ограничить размер одного statement'а. Множество слотов потребляется
// ровно один раз: после вызова оно пусто.
//
// В best-effort режиме ошибки отдельных слотов логируются, а проход
// продолжается; первая ошибка возвращается в конце. В fail-fast режиме
// возврат происходит на первой же ошибке.
func (s *Sink) NotifyEndOfStartup(ctx context.Context) error {
	started := time.Now()
	var firstErr error

	if err := s.flushAccountBatch(ctx); err != nil {
		firstErr = fmt.Errorf("[notify_end_of_startup][flush_accounts]: %w", err)
		if s.stopOnFirstError {
			return firstErr
		}
		s.log.LogFailure(ctx, audit.OpAccountFlush, err)
	}

	flushed := len(s.slotsAtStartup)
	for slot := range s.slotsAtStartup {
		query := s.slotHandler.Update(slot, nil, handlers.SlotRooted)
		if err := s.db.BatchExecute(ctx, query); err != nil {
			err = fmt.Errorf("[notify_end_of_startup][flush_slots] slot=[%d]: %w: %w", slot, ErrSchema, err)
			if s.stopOnFirstError {
				return err
			}
			if firstErr == nil {
				firstErr = err
			}
			s.log.LogFailure(ctx, audit.OpSlotUpdate, err).WithResource(fmt.Sprintf("slot:%d", slot))
		}
	}
	s.slotsAtStartup = map[uint64]struct{}{}

	s.log.LogSuccess(ctx, audit.OpEndOfStartup).
		WithRecords(int64(flushed)).
		WithDuration(time.Since(started))
	return firstErr
}

// PendingAccounts возвращает текущий размер pending-батча
func (s *Sink) PendingAccounts() int {
	return len(s.pendingAccountUpdates)
}

// flushAccountBatch кодирует весь pending-батч через подходящие handler'ы
// и выполняет одной строкой. Буфер очищается до выполнения: at-most-once.
func (s *Sink) flushAccountBatch(ctx context.Context) error {
	if len(s.pendingAccountUpdates) == 0 {
		return nil
	}

	batch := s.pendingAccountUpdates
	s.pendingAccountUpdates = make([]handlers.AccountRecord, 0, s.batchSize)

	var b strings.Builder
	for i := range batch {
		b.WriteString(s.encodeAccount(&batch[i]))
	}
	query := b.String()
	if query == "" {
		return nil
	}

	if err := s.db.BatchExecute(ctx, query); err != nil {
		return fmt.Errorf("length=%d/%d: %w: %w", len(batch), s.batchSize, ErrSchema, err)
	}

	s.log.LogSuccess(ctx, audit.OpAccountFlush).WithRecords(int64(len(batch)))
	return nil
}

// encodeAccount прогоняет запись через все выбранные handler'ы и
// конкатенирует их statement'ы
func (s *Sink) encodeAccount(rec *handlers.AccountRecord) string {
	var b strings.Builder
	for _, h := range handlers.SelectHandlers(s.selector, s.accountHandlers, rec) {
		b.WriteString(h.EncodeUpdate(rec))
	}
	return b.String()
}
