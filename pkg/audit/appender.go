package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Appender - интерфейс для записи операционного лога
type Appender interface {
	// Append - записать entry
	Append(ctx context.Context, entry *Entry) error

	// Close - закрыть appender
	Close() error
}

// StdoutAppender - запись JSON-lines в stdout
type StdoutAppender struct {
	mu sync.Mutex
}

// NewStdoutAppender - создать stdout appender
func NewStdoutAppender() *StdoutAppender {
	return &StdoutAppender{}
}

// Append - записать entry в stdout одной JSON-строкой
func (sa *StdoutAppender) Append(ctx context.Context, entry *Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}

	sa.mu.Lock()
	defer sa.mu.Unlock()
	_, err = fmt.Fprintln(os.Stdout, string(data))
	return err
}

// Close - ничего не закрывает (stdout принадлежит процессу)
func (sa *StdoutAppender) Close() error {
	return nil
}

// FileAppender - запись JSON-lines в файл
type FileAppender struct {
	mu   sync.Mutex
	file *os.File
}

// NewFileAppender - создать file appender (директория создается при необходимости)
func NewFileAppender(path string) (*FileAppender, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit file: %w", err)
	}

	return &FileAppender{file: file}, nil
}

// Append - записать entry в файл
func (fa *FileAppender) Append(ctx context.Context, entry *Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}

	fa.mu.Lock()
	defer fa.mu.Unlock()

	if _, err := fa.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write entry: %w", err)
	}
	return nil
}

// Close - закрыть файл
func (fa *FileAppender) Close() error {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	return fa.file.Close()
}
