package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/solana-nft-programs/solana-indexer-plugin/pkg/audit"
	"github.com/solana-nft-programs/solana-indexer-plugin/pkg/config"
	"github.com/solana-nft-programs/solana-indexer-plugin/pkg/handlers"
	"github.com/solana-nft-programs/solana-indexer-plugin/pkg/sink"
	"github.com/zeebo/xxh3"
)

var errQueueClosed = errors.New("work queue closed by producer")

// Stats - снимок счетчиков пула
type Stats struct {
	AccountsWritten     uint64
	SlotsWritten        uint64
	TransactionsWritten uint64
	BlocksWritten       uint64
	WriteErrors         uint64
}

// Pool раскидывает работу по N независимым тройкам (queue, worker, sink).
// Тройки не делят соединение с БД; единственное общее состояние - три
// координационных примитива в Shared.
//
// Роутинг: обновления одного аккаунта детерминированно попадают в одну
// очередь (xxh3 по pubkey) - FIFO очереди дает per-key порядок. Остальные
// запросы идут round-robin; межочередной порядок не гарантируется, итоговую
// консистентность держат monotonic guard'ы в upsert'ах.
type Pool struct {
	queues  []chan Request
	workers []*Worker
	shared  *Shared
	wg      sync.WaitGroup
	next    atomic.Uint64 // round-robin счетчик
	started bool
}

// PoolOptions - параметры пула
type PoolOptions struct {
	QueueSize   int // Ёмкость каждой очереди; отправка в полную очередь блокирует (backpressure)
	RecvTimeout time.Duration
	FailFast    bool
	Abort       func()
	Log         *audit.Logger
}

// NewPool создает пул: по одному воркеру на sink. Каждому sink'у положено
// собственное соединение с БД - за это отвечает вызывающая сторона.
func NewPool(sinks []*sink.Sink, opts PoolOptions) (*Pool, error) {
	if len(sinks) == 0 {
		return nil, fmt.Errorf("pool requires at least one sink")
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}

	shared := &Shared{}
	p := &Pool{shared: shared}
	for _, s := range sinks {
		p.queues = append(p.queues, make(chan Request, opts.QueueSize))
		p.workers = append(p.workers, NewWorker(s, shared, WorkerOptions{
			RecvTimeout: opts.RecvTimeout,
			FailFast:    opts.FailFast,
			Abort:       opts.Abort,
			Log:         opts.Log,
		}))
	}
	return p, nil
}

// OptionsFromConfig строит PoolOptions из конфигурации
func OptionsFromConfig(cfg *config.PluginConfig, log *audit.Logger) PoolOptions {
	return PoolOptions{
		QueueSize:   cfg.Pipeline.QueueSize,
		RecvTimeout: time.Duration(cfg.Pipeline.RecvTimeoutMs) * time.Millisecond,
		FailFast:    cfg.Pipeline.PanicOnDBErrors,
		Log:         log,
	}
}

// Start запускает воркеры
func (p *Pool) Start(ctx context.Context) {
	if p.started {
		return
	}
	p.started = true
	for i := range p.workers {
		w, q := p.workers[i], p.queues[i]
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			w.Run(ctx, q)
		}()
	}
}

// UpdateAccount ставит обновление аккаунта в очередь, выбранную по хешу
// ключа: per-key порядок внутри пула сохраняется
func (p *Pool) UpdateAccount(account handlers.AccountRecord, isStartup bool) {
	req := &UpdateAccountRequest{Account: account, IsStartup: isStartup}
	idx := int(xxh3.Hash(account.Pubkey) % uint64(len(p.queues)))
	p.queues[idx] <- req
}

// UpdateSlotStatus ставит смену статуса слота в очередь (round-robin)
func (p *Pool) UpdateSlotStatus(slot uint64, parent *uint64, status handlers.SlotStatus) {
	p.enqueue(&UpdateSlotRequest{Slot: slot, Parent: parent, Status: status})
}

// LogTransaction ставит транзакцию в очередь (round-robin)
func (p *Pool) LogTransaction(tx handlers.TransactionRecord) {
	p.enqueue(&LogTransactionRequest{Transaction: tx})
}

// UpdateBlockMetadata ставит метаданные блока в очередь (round-robin)
func (p *Pool) UpdateBlockMetadata(block handlers.BlockMetadataRecord) {
	p.enqueue(&UpdateBlockMetadataRequest{Block: block})
}

// Enqueue ставит произвольный запрос: account-запросы по хешу ключа,
// остальные round-robin
func (p *Pool) Enqueue(req Request) {
	if r, ok := req.(*UpdateAccountRequest); ok {
		p.UpdateAccount(r.Account, r.IsStartup)
		return
	}
	p.enqueue(req)
}

func (p *Pool) enqueue(req Request) {
	idx := int(p.next.Add(1) % uint64(len(p.queues)))
	p.queues[idx] <- req
}

// NotifyStartupComplete выставляет process-wide флаг завершения startup
// replay. Вызывается producer'ом ровно один раз; повторные вызовы no-op.
func (p *Pool) NotifyStartupComplete() {
	p.shared.StartupDone.Store(true)
}

// AwaitStartupDrained блокируется, пока каждый воркер не выполнит свой
// финальный flush и не отчитается в счетчик. Используется producer'ом,
// чтобы узнать, что startup replay полностью записан.
func (p *Pool) AwaitStartupDrained(ctx context.Context) error {
	want := int64(len(p.workers))
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		if p.shared.StartupDrainedCount.Load() >= want {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("startup drain interrupted: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// StartupDrained - неблокирующий вариант запроса "все воркеры слили startup"
func (p *Pool) StartupDrained() bool {
	return p.shared.StartupDrainedCount.Load() >= int64(len(p.workers))
}

// Shutdown выставляет exit-флаг и ждет остановки воркеров. Остановка
// кооперативная: воркер довыполняет текущий statement, латентность
// ограничена recv-таймаутом (sub-second).
func (p *Pool) Shutdown(ctx context.Context) error {
	p.shared.Exit.Store(true)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("pool shutdown interrupted: %w", ctx.Err())
	}
}

// Stats возвращает снимок счетчиков
func (p *Pool) Stats() Stats {
	return Stats{
		AccountsWritten:     p.shared.AccountsWritten.Load(),
		SlotsWritten:        p.shared.SlotsWritten.Load(),
		TransactionsWritten: p.shared.TransactionsWritten.Load(),
		BlocksWritten:       p.shared.BlocksWritten.Load(),
		WriteErrors:         p.shared.WriteErrors.Load(),
	}
}

// Workers возвращает количество воркеров пула
func (p *Pool) Workers() int {
	return len(p.workers)
}
