package audit

import (
	"context"
	"fmt"
	"sync"
)

// Logger - операционный лог ingestion pipeline.
//
// В синхронном режиме записи уходят в appenders в вызывающей горутине.
// В асинхронном - через буферизованный канал; при переполнении буфера
// запись отбрасывается (лог не должен тормозить hot path воркера).
type Logger struct {
	appenders []Appender
	asyncMode bool
	entries   chan *Entry
	wg        sync.WaitGroup
	mu        sync.Mutex
	closed    bool
	onError   func(error)
}

// LoggerConfig - конфигурация логгера
type LoggerConfig struct {
	// AsyncMode - асинхронная запись в appenders
	AsyncMode bool

	// BufferSize - размер буфера для асинхронного режима (по умолчанию 1000)
	BufferSize int

	// OnError - callback при ошибке записи (опционально)
	OnError func(error)
}

// NewLogger - создать новый логгер. Без appenders пишет в stdout.
func NewLogger(config LoggerConfig, appenders ...Appender) *Logger {
	if len(appenders) == 0 {
		appenders = []Appender{NewStdoutAppender()}
	}

	logger := &Logger{
		appenders: appenders,
		asyncMode: config.AsyncMode,
		onError:   config.OnError,
	}

	if config.AsyncMode {
		size := config.BufferSize
		if size <= 0 {
			size = 1000
		}
		logger.entries = make(chan *Entry, size)
		logger.wg.Add(1)
		go logger.drain()
	}

	return logger
}

// Log - записать entry
func (l *Logger) Log(ctx context.Context, entry *Entry) {
	if l == nil || entry == nil {
		return
	}

	if l.asyncMode {
		l.mu.Lock()
		if l.closed {
			l.mu.Unlock()
			return
		}
		select {
		case l.entries <- entry:
		default:
			// Буфер полон - отбрасываем, не блокируем воркер
		}
		l.mu.Unlock()
		return
	}

	l.append(ctx, entry)
}

// LogSuccess - записать успешную операцию
func (l *Logger) LogSuccess(ctx context.Context, operation Operation) *Entry {
	entry := NewEntry(operation, StatusSuccess)
	l.Log(ctx, entry)
	return entry
}

// LogFailure - записать неуспешную операцию с ошибкой
func (l *Logger) LogFailure(ctx context.Context, operation Operation, err error) *Entry {
	entry := NewEntry(operation, StatusFailure).WithError(err)
	l.Log(ctx, entry)
	return entry
}

// Close - остановить логгер и дождаться слива буфера
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	if l.asyncMode {
		close(l.entries)
	}
	l.mu.Unlock()

	if l.asyncMode {
		l.wg.Wait()
	}

	var firstErr error
	for _, a := range l.appenders {
		if err := a.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close appender: %w", err)
		}
	}
	return firstErr
}

// drain - фоновая горутина асинхронного режима
func (l *Logger) drain() {
	defer l.wg.Done()
	for entry := range l.entries {
		l.append(context.Background(), entry)
	}
}

func (l *Logger) append(ctx context.Context, entry *Entry) {
	for _, a := range l.appenders {
		if err := a.Append(ctx, entry); err != nil && l.onError != nil {
			l.onError(err)
		}
	}
}
