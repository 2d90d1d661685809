package worker

import (
	"context"
	"testing"
	"time"

	"github.com/solana-nft-programs/solana-indexer-plugin/pkg/handlers"
	"github.com/solana-nft-programs/solana-indexer-plugin/pkg/sink"
)

func testPool(t *testing.T, n int, opts PoolOptions) (*Pool, []*workerDB) {
	t.Helper()
	dbs := make([]*workerDB, n)
	sinks := make([]*sink.Sink, n)
	for i := range sinks {
		dbs[i] = &workerDB{}
		sinks[i] = sink.New(dbs[i], workerConfig(), nil)
	}
	p, err := NewPool(sinks, opts)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	return p, dbs
}

func TestNewPool_RequiresSinks(t *testing.T) {
	if _, err := NewPool(nil, PoolOptions{}); err == nil {
		t.Fatal("expected error for empty sink list")
	}
}

func TestPool_AccountRoutingIsPerKey(t *testing.T) {
	p, _ := testPool(t, 4, PoolOptions{QueueSize: 64})

	// Десять обновлений одного ключа - все в одну и ту же очередь
	for i := 0; i < 10; i++ {
		p.UpdateAccount(testAccount(0x42, uint64(i)), false)
	}

	nonEmpty := 0
	for _, q := range p.queues {
		if len(q) > 0 {
			nonEmpty++
			if len(q) != 10 {
				t.Errorf("expected all 10 updates in one queue, got %d", len(q))
			}
		}
	}
	if nonEmpty != 1 {
		t.Errorf("updates for one key landed in %d queues, want 1", nonEmpty)
	}

	// Разные ключи распределяются по очередям
	for i := 0; i < 64; i++ {
		p.UpdateAccount(testAccount(byte(i), 1), false)
	}
	nonEmpty = 0
	for _, q := range p.queues {
		if len(q) > 0 {
			nonEmpty++
		}
	}
	if nonEmpty < 2 {
		t.Errorf("64 distinct keys landed in %d queues, expected spread", nonEmpty)
	}
}

func TestPool_RoundRobinSpread(t *testing.T) {
	p, _ := testPool(t, 3, PoolOptions{QueueSize: 64})

	for i := 0; i < 9; i++ {
		p.UpdateSlotStatus(uint64(i), nil, handlers.SlotProcessed)
	}

	for i, q := range p.queues {
		if len(q) != 3 {
			t.Errorf("queue %d holds %d requests, want 3", i, len(q))
		}
	}
}

func TestPool_EnqueueRoutesAccounts(t *testing.T) {
	p, _ := testPool(t, 4, PoolOptions{QueueSize: 64})

	rec := testAccount(0x17, 1)

	// Enqueue и UpdateAccount должны выбирать одну и ту же очередь
	p.Enqueue(&UpdateAccountRequest{Account: rec})
	p.UpdateAccount(rec, false)

	for i, q := range p.queues {
		if n := len(q); n != 0 && n != 2 {
			t.Errorf("queue %d holds %d account requests, want 0 or 2", i, n)
		}
	}
}

func TestPool_StartupDrainAndShutdown(t *testing.T) {
	p, dbs := testPool(t, 2, PoolOptions{
		QueueSize:   64,
		RecvTimeout: 5 * time.Millisecond,
	})
	ctx := context.Background()
	p.Start(ctx)

	// По одному startup-обновлению на каждый воркер через разные ключи
	for i := 0; i < 32; i++ {
		p.UpdateAccount(testAccount(byte(i), uint64(i)), true)
	}

	if p.StartupDrained() {
		t.Fatal("drained before startup completion signal")
	}

	p.NotifyStartupComplete()

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := p.AwaitStartupDrained(waitCtx); err != nil {
		t.Fatalf("AwaitStartupDrained: %v", err)
	}
	if !p.StartupDrained() {
		t.Error("StartupDrained() = false after successful drain")
	}

	stats := p.Stats()
	if stats.AccountsWritten != 32 {
		t.Errorf("AccountsWritten = %d, want 32", stats.AccountsWritten)
	}
	if stats.WriteErrors != 0 {
		t.Errorf("WriteErrors = %d, want 0", stats.WriteErrors)
	}

	stopCtx, cancelStop := context.WithTimeout(ctx, 5*time.Second)
	defer cancelStop()
	if err := p.Shutdown(stopCtx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	// Все буферы слиты: каждая запись дошла до своей БД
	total := 0
	for _, db := range dbs {
		total += db.batchCount()
	}
	if total == 0 {
		t.Error("no writes reached the databases")
	}
}

func TestPool_AwaitStartupDrainedHonorsContext(t *testing.T) {
	p, _ := testPool(t, 1, PoolOptions{QueueSize: 4})

	// Пул не запущен - дренаж никогда не случится, ждем отмены контекста
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := p.AwaitStartupDrained(ctx); err == nil {
		t.Fatal("expected context cancellation error")
	}
}
