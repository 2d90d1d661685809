package audit

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Operation - тип операции ingestion pipeline
type Operation string

const (
	OpConnect       Operation = "connect"
	OpInitSchema    Operation = "init_schema"
	OpAccountUpdate Operation = "account_update"
	OpAccountFlush  Operation = "account_flush"
	OpSlotUpdate    Operation = "slot_update"
	OpTransaction   Operation = "transaction"
	OpBlockMetadata Operation = "block_metadata"
	OpEndOfStartup  Operation = "end_of_startup"
	OpReceive       Operation = "receive"
	OpShutdown      Operation = "shutdown"
)

// Status - статус выполнения операции
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// Entry - запись операционного лога
type Entry struct {
	// ID - уникальный идентификатор записи (в рамках процесса)
	ID string `json:"id"`

	// Timestamp - время операции
	Timestamp time.Time `json:"timestamp"`

	// Operation - тип операции
	Operation Operation `json:"operation"`

	// Status - статус выполнения
	Status Status `json:"status"`

	// Resource - затронутый ресурс (таблица, слот, ключ аккаунта)
	Resource string `json:"resource,omitempty"`

	// RecordsAffected - количество затронутых записей
	RecordsAffected int64 `json:"records_affected,omitempty"`

	// Duration - длительность операции
	Duration time.Duration `json:"duration,omitempty"`

	// ErrorMessage - сообщение об ошибке
	ErrorMessage string `json:"error_message,omitempty"`

	// Metadata - дополнительные метаданные
	Metadata map[string]any `json:"metadata,omitempty"`
}

// NewEntry - создать новую запись
func NewEntry(operation Operation, status Status) *Entry {
	return &Entry{
		ID:        generateID(),
		Timestamp: time.Now(),
		Operation: operation,
		Status:    status,
	}
}

// WithResource - установить ресурс
func (e *Entry) WithResource(resource string) *Entry {
	e.Resource = resource
	return e
}

// WithRecords - установить количество записей
func (e *Entry) WithRecords(n int64) *Entry {
	e.RecordsAffected = n
	return e
}

// WithDuration - установить длительность
func (e *Entry) WithDuration(d time.Duration) *Entry {
	e.Duration = d
	return e
}

// WithError - установить сообщение об ошибке
func (e *Entry) WithError(err error) *Entry {
	if err != nil {
		e.ErrorMessage = err.Error()
	}
	return e
}

// WithMetadata - добавить метаданные
func (e *Entry) WithMetadata(key string, value any) *Entry {
	if e.Metadata == nil {
		e.Metadata = map[string]any{}
	}
	e.Metadata[key] = value
	return e
}

var idCounter atomic.Uint64

// generateID генерирует ID записи: монотонный счетчик на процесс
func generateID() string {
	return fmt.Sprintf("%d-%d", time.Now().Unix(), idCounter.Add(1))
}
