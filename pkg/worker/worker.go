package worker

import (
	"context"
	"os"
	"sync/atomic"
	"time"

	"github.com/solana-nft-programs/solana-indexer-plugin/pkg/audit"
	"github.com/solana-nft-programs/solana-indexer-plugin/pkg/sink"
)

// Shared - три координационных примитива, разделяемые всеми воркерами пула,
// плюс счетчики статистики. Внедряются при конструировании (не глобальные
// переменные процесса): тесты могут поднимать несколько независимых пулов.
type Shared struct {
	// Exit - кооперативный сигнал остановки; воркер проверяет раз за итерацию
	Exit atomic.Bool

	// StartupDone выставляется внешним актором ровно один раз, когда
	// producer закончил startup replay; воркеры только читают
	StartupDone atomic.Bool

	// StartupDrainedCount инкрементируется каждым воркером не более одного
	// раза после его NotifyEndOfStartup; координатор ждет значения N
	StartupDrainedCount atomic.Int64

	// Счетчики успешно примененных запросов (для resultlog/операторов)
	AccountsWritten     atomic.Uint64
	SlotsWritten        atomic.Uint64
	TransactionsWritten atomic.Uint64
	BlocksWritten       atomic.Uint64
	WriteErrors         atomic.Uint64
}

// Worker - цикл диспетчеризации, привязанный к одному sink'у.
//
// Состояния: Running -> Draining (замечен Exit) -> Stopped (выход из Run).
// Каждая итерация: блокирующее чтение очереди с таймаутом; на запросе -
// dispatch в sink; на таймауте - проверка флага завершения startup replay;
// на закрытой очереди - политика ошибок и выход.
type Worker struct {
	sink    *sink.Sink
	shared  *Shared
	log     *audit.Logger
	timeout time.Duration

	// failFast - любая ошибка sink'а останавливает весь процесс
	failFast bool

	// abort вызывается в fail-fast режиме; по умолчанию завершает процесс.
	// Подменяется в тестах.
	abort func()

	// startupAcked - локальный флаг "этот воркер уже отработал конец startup"
	startupAcked bool
}

// WorkerOptions - параметры конструирования воркера
type WorkerOptions struct {
	RecvTimeout time.Duration // По умолчанию 500ms
	FailFast    bool
	Abort       func() // По умолчанию os.Exit(1)
	Log         *audit.Logger
}

// NewWorker создает воркер, привязанный к sink'у, с внедренным shared-состоянием
func NewWorker(s *sink.Sink, shared *Shared, opts WorkerOptions) *Worker {
	if opts.RecvTimeout <= 0 {
		opts.RecvTimeout = 500 * time.Millisecond
	}
	if opts.Abort == nil {
		opts.Abort = func() { os.Exit(1) }
	}
	if opts.Log == nil {
		opts.Log = audit.NewLogger(audit.LoggerConfig{})
	}
	return &Worker{
		sink:     s,
		shared:   shared,
		log:      opts.Log,
		timeout:  opts.RecvTimeout,
		failFast: opts.FailFast,
		abort:    opts.Abort,
	}
}

// Run крутит цикл диспетчеризации до сигнала Exit или закрытия очереди.
// Текущий statement всегда довыполняется: остановка не преемптивна.
func (w *Worker) Run(ctx context.Context, queue <-chan Request) {
	timer := time.NewTimer(w.timeout)
	defer timer.Stop()

	for !w.shared.Exit.Load() {
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(w.timeout)

		select {
		case req, ok := <-queue:
			if !ok {
				// Producer отключился - это не таймаут: политика и выход
				w.log.LogFailure(ctx, audit.OpReceive, errQueueClosed)
				if w.failFast {
					w.abort()
				}
				return
			}
			w.dispatch(ctx, req)

		case <-timer.C:
			w.checkStartupDone(ctx)
		}
	}
}

// dispatch применяет запрос к sink'у и применяет политику ошибок:
// fail-fast - остановка процесса, иначе - лог и следующий запрос
// (неудачная запись теряется: at-most-once, без retry).
func (w *Worker) dispatch(ctx context.Context, req Request) {
	var err error
	var op audit.Operation

	switch r := req.(type) {
	case *UpdateAccountRequest:
		op = audit.OpAccountUpdate
		err = w.sink.UpdateAccount(ctx, r.Account, r.IsStartup)
		if err == nil {
			w.shared.AccountsWritten.Add(1)
		}
	case *UpdateSlotRequest:
		op = audit.OpSlotUpdate
		err = w.sink.UpdateSlotStatus(ctx, r.Slot, r.Parent, r.Status)
		if err == nil {
			w.shared.SlotsWritten.Add(1)
		}
	case *LogTransactionRequest:
		op = audit.OpTransaction
		err = w.sink.LogTransaction(ctx, r.Transaction)
		if err == nil {
			w.shared.TransactionsWritten.Add(1)
		}
	case *UpdateBlockMetadataRequest:
		op = audit.OpBlockMetadata
		err = w.sink.UpdateBlockMetadata(ctx, r.Block)
		if err == nil {
			w.shared.BlocksWritten.Add(1)
		}
	default:
		return
	}

	if err != nil {
		w.shared.WriteErrors.Add(1)
		w.log.LogFailure(ctx, op, err)
		if w.failFast {
			w.abort()
		}
	}
}

// checkStartupDone - обработка таймаута очереди: если startup replay
// завершен и этот воркер его еще не подтверждал, выполнить финальный flush
// и ровно один раз инкрементировать общий счетчик.
//
// Сигнал process-wide и асинхронен любой конкретной очереди, поэтому каждый
// воркер замечает его самостоятельно через таймаут, не блокируясь навечно
// на чтении.
func (w *Worker) checkStartupDone(ctx context.Context) {
	if w.startupAcked || !w.shared.StartupDone.Load() {
		return
	}

	if err := w.sink.NotifyEndOfStartup(ctx); err != nil {
		w.log.LogFailure(ctx, audit.OpEndOfStartup, err)
		if w.failFast {
			w.abort()
		}
	}
	w.startupAcked = true
	w.shared.StartupDrainedCount.Add(1)
}
