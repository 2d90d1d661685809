package worker

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/solana-nft-programs/solana-indexer-plugin/pkg/config"
	"github.com/solana-nft-programs/solana-indexer-plugin/pkg/handlers"
	"github.com/solana-nft-programs/solana-indexer-plugin/pkg/sink"
)

// workerDB - потокобезопасная заглушка sink.DB с инъекцией сбоев
type workerDB struct {
	mu      sync.Mutex
	batches []string
	err     error
}

func (f *workerDB) Execute(ctx context.Context, sql string, args ...any) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	f.batches = append(f.batches, sql)
	return 1, nil
}

func (f *workerDB) BatchExecute(ctx context.Context, sql string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.batches = append(f.batches, sql)
	return nil
}

func (f *workerDB) QueryUint64(ctx context.Context, sql string) (uint64, error) {
	return 0, nil
}

func (f *workerDB) batchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

func workerConfig() *config.PluginConfig {
	cfg := &config.PluginConfig{}
	cfg.Connection.DSN = "postgres://localhost/test"
	if err := cfg.Validate(); err != nil {
		panic(err)
	}
	return cfg
}

func testAccount(key byte, slot uint64) handlers.AccountRecord {
	return handlers.AccountRecord{
		Pubkey:       bytes.Repeat([]byte{key}, handlers.PubkeyBytes),
		Owner:        bytes.Repeat([]byte{0xBB}, handlers.PubkeyBytes),
		Slot:         slot,
		WriteVersion: 1,
	}
}

func TestDispatch_CountsWrites(t *testing.T) {
	db := &workerDB{}
	shared := &Shared{}
	w := NewWorker(sink.New(db, workerConfig(), nil), shared, WorkerOptions{})
	ctx := context.Background()

	parent := uint64(7)
	w.dispatch(ctx, &UpdateAccountRequest{Account: testAccount(1, 8)})
	w.dispatch(ctx, &UpdateSlotRequest{Slot: 8, Parent: &parent, Status: handlers.SlotProcessed})
	w.dispatch(ctx, &LogTransactionRequest{Transaction: handlers.TransactionRecord{
		Signature: bytes.Repeat([]byte{1}, 64), Slot: 8,
	}})
	w.dispatch(ctx, &UpdateBlockMetadataRequest{Block: handlers.BlockMetadataRecord{
		Slot: 8, Blockhash: "hash",
	}})

	if got := shared.AccountsWritten.Load(); got != 1 {
		t.Errorf("AccountsWritten = %d, want 1", got)
	}
	if got := shared.SlotsWritten.Load(); got != 1 {
		t.Errorf("SlotsWritten = %d, want 1", got)
	}
	if got := shared.TransactionsWritten.Load(); got != 1 {
		t.Errorf("TransactionsWritten = %d, want 1", got)
	}
	if got := shared.BlocksWritten.Load(); got != 1 {
		t.Errorf("BlocksWritten = %d, want 1", got)
	}
	if got := shared.WriteErrors.Load(); got != 0 {
		t.Errorf("WriteErrors = %d, want 0", got)
	}
}

func TestDispatch_BestEffortContinues(t *testing.T) {
	db := &workerDB{err: errors.New("connection reset by peer")}
	shared := &Shared{}
	aborted := false
	w := NewWorker(sink.New(db, workerConfig(), nil), shared, WorkerOptions{
		Abort: func() { aborted = true },
	})
	ctx := context.Background()

	// Обе записи падают, но процесс продолжает жить
	w.dispatch(ctx, &UpdateAccountRequest{Account: testAccount(1, 1)})
	w.dispatch(ctx, &UpdateSlotRequest{Slot: 2, Status: handlers.SlotConfirmed})

	if aborted {
		t.Error("best-effort mode must not abort on write errors")
	}
	if got := shared.WriteErrors.Load(); got != 2 {
		t.Errorf("WriteErrors = %d, want 2", got)
	}
}

func TestDispatch_FailFastAborts(t *testing.T) {
	db := &workerDB{err: errors.New("connection reset by peer")}
	shared := &Shared{}
	aborted := 0
	w := NewWorker(sink.New(db, workerConfig(), nil), shared, WorkerOptions{
		FailFast: true,
		Abort:    func() { aborted++ },
	})

	w.dispatch(context.Background(), &UpdateSlotRequest{Slot: 2, Status: handlers.SlotConfirmed})

	if aborted != 1 {
		t.Errorf("expected abort on first failure, aborted=%d", aborted)
	}
}

func TestCheckStartupDone_ExactlyOnce(t *testing.T) {
	db := &workerDB{}
	shared := &Shared{}
	w := NewWorker(sink.New(db, workerConfig(), nil), shared, WorkerOptions{})
	ctx := context.Background()

	// До сигнала - no-op
	w.checkStartupDone(ctx)
	if got := shared.StartupDrainedCount.Load(); got != 0 {
		t.Fatalf("drained before signal: %d", got)
	}

	w.dispatch(ctx, &UpdateAccountRequest{Account: testAccount(1, 42), IsStartup: true})
	shared.StartupDone.Store(true)

	w.checkStartupDone(ctx)
	w.checkStartupDone(ctx)
	w.checkStartupDone(ctx)

	// Счетчик инкрементирован ровно один раз, сколько бы таймаутов ни прошло
	if got := shared.StartupDrainedCount.Load(); got != 1 {
		t.Errorf("StartupDrainedCount = %d, want 1", got)
	}
}

func TestCheckStartupDone_AcksDespiteError(t *testing.T) {
	db := &workerDB{}
	shared := &Shared{}
	w := NewWorker(sink.New(db, workerConfig(), nil), shared, WorkerOptions{})
	ctx := context.Background()

	w.dispatch(ctx, &UpdateAccountRequest{Account: testAccount(1, 42), IsStartup: true})
	db.mu.Lock()
	db.err = errors.New("deadlock detected")
	db.mu.Unlock()
	shared.StartupDone.Store(true)

	w.checkStartupDone(ctx)

	// Ошибка финального flush'а не должна подвешивать координатора
	if got := shared.StartupDrainedCount.Load(); got != 1 {
		t.Errorf("StartupDrainedCount = %d, want 1", got)
	}
}

func TestRun_ExitFlagStops(t *testing.T) {
	db := &workerDB{}
	shared := &Shared{}
	w := NewWorker(sink.New(db, workerConfig(), nil), shared, WorkerOptions{
		RecvTimeout: 5 * time.Millisecond,
	})

	queue := make(chan Request, 4)
	done := make(chan struct{})
	go func() {
		w.Run(context.Background(), queue)
		close(done)
	}()

	queue <- &UpdateAccountRequest{Account: testAccount(1, 1)}

	// Дождаться применения запроса, затем остановить
	deadline := time.Now().Add(2 * time.Second)
	for db.batchCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("request was not applied")
		}
		time.Sleep(time.Millisecond)
	}
	shared.Exit.Store(true)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after exit flag")
	}
	if db.batchCount() != 1 {
		t.Errorf("expected exactly one write, got %d", db.batchCount())
	}
}

func TestRun_ClosedQueue(t *testing.T) {
	db := &workerDB{}
	shared := &Shared{}
	aborted := make(chan struct{}, 1)
	w := NewWorker(sink.New(db, workerConfig(), nil), shared, WorkerOptions{
		RecvTimeout: 5 * time.Millisecond,
		FailFast:    true,
		Abort:       func() { aborted <- struct{}{} },
	})

	queue := make(chan Request)
	close(queue)

	done := make(chan struct{})
	go func() {
		w.Run(context.Background(), queue)
		close(done)
	}()

	select {
	case <-aborted:
	case <-time.After(2 * time.Second):
		t.Fatal("fail-fast worker did not abort on closed queue")
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not return after closed queue")
	}
}
