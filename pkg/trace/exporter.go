package trace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileExporter appends records to a JSON Lines file and rotates it by size,
// keeping path.1 (newest) through path.N.
type FileExporter struct {
	filePath        string
	maxSizeBytes    int64
	maxRotatedFiles int
	file            *os.File
	encoder         *json.Encoder
	mu              sync.Mutex
	closed          bool
}

// Option configures a FileExporter.
type Option func(*FileExporter)

// WithMaxSize sets the size that triggers rotation (default 10 MiB).
func WithMaxSize(bytes int64) Option {
	return func(fe *FileExporter) { fe.maxSizeBytes = bytes }
}

// WithMaxRotatedFiles sets how many rotated files are kept (default 5).
func WithMaxRotatedFiles(count int) Option {
	return func(fe *FileExporter) { fe.maxRotatedFiles = count }
}

// NewFileExporter opens filePath for appending. An empty path returns a NoopExporter.
func NewFileExporter(filePath string, opts ...Option) (Exporter, error) {
	if filePath == "" {
		return NoopExporter{}, nil
	}

	fe := &FileExporter{
		filePath:        filePath,
		maxSizeBytes:    10 << 20,
		maxRotatedFiles: 5,
	}
	for _, opt := range opts {
		opt(fe)
	}
	if fe.maxRotatedFiles < 1 {
		fe.maxRotatedFiles = 1
	}

	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return nil, fmt.Errorf("create trace directory: %w", err)
	}
	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open trace file: %w", err)
	}

	fe.file = file
	fe.encoder = json.NewEncoder(file)

	return fe, nil
}

// Export appends one record and rotates when the file has grown past the size limit.
func (fe *FileExporter) Export(ctx context.Context, record *Record) error {
	fe.mu.Lock()
	defer fe.mu.Unlock()

	if fe.closed {
		return fmt.Errorf("exporter closed")
	}

	if err := fe.encoder.Encode(record); err != nil {
		return fmt.Errorf("encode trace record: %w", err)
	}

	if err := fe.rotateIfNeeded(); err != nil {
		return fmt.Errorf("rotate trace file: %w", err)
	}

	return nil
}

// Close flushes and closes the trace file.
func (fe *FileExporter) Close() error {
	fe.mu.Lock()
	defer fe.mu.Unlock()

	if fe.closed {
		return nil
	}

	fe.closed = true

	if fe.file != nil {
		if err := fe.file.Sync(); err != nil {
			fe.file.Close()
			return fmt.Errorf("sync trace file: %w", err)
		}
		return fe.file.Close()
	}

	return nil
}

// rotateIfNeeded must be called with fe.mu held.
func (fe *FileExporter) rotateIfNeeded() error {
	info, err := fe.file.Stat()
	if err != nil {
		return fmt.Errorf("stat trace file: %w", err)
	}
	if info.Size() < fe.maxSizeBytes {
		return nil
	}
	if err := fe.file.Close(); err != nil {
		return fmt.Errorf("close trace file: %w", err)
	}

	rotated := func(n int) string { return fmt.Sprintf("%s.%d", fe.filePath, n) }
	if err := os.Remove(rotated(fe.maxRotatedFiles)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", rotated(fe.maxRotatedFiles), err)
	}
	for n := fe.maxRotatedFiles - 1; n >= 1; n-- {
		if err := os.Rename(rotated(n), rotated(n+1)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("shift %s: %w", rotated(n), err)
		}
	}
	if err := os.Rename(fe.filePath, rotated(1)); err != nil {
		return fmt.Errorf("rotate %s: %w", fe.filePath, err)
	}

	file, err := os.OpenFile(fe.filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("reopen trace file: %w", err)
	}
	fe.file = file
	fe.encoder = json.NewEncoder(file)
	return nil
}
