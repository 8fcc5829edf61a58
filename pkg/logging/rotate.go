package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// RotatingWriter is an io.Writer that rotates the underlying file by size,
// keeping up to backupCount previous generations, in the numbered-suffix
// style of Python's logging.handlers.RotatingFileHandler (the reference
// client's log-file backend): path, path.1, path.2, ... path.N.
type RotatingWriter struct {
	mu sync.Mutex

	path        string
	maxBytes    int64
	backupCount int

	file *os.File
	size int64
}

// NewRotatingWriter opens (or creates) path for appending, creating its
// parent directory if needed.
func NewRotatingWriter(path string, maxBytes int64, backupCount int) (*RotatingWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("logging: create log dir: %w", err)
	}
	w := &RotatingWriter{path: path, maxBytes: maxBytes, backupCount: backupCount}
	if err := w.open(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *RotatingWriter) open() error {
	f, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("logging: open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("logging: stat log file: %w", err)
	}
	w.file = f
	w.size = info.Size()
	return nil
}

// Write appends p, rotating first if it would push the file past maxBytes.
func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.maxBytes > 0 && w.size+int64(len(p)) > w.maxBytes && w.size > 0 {
		if err := w.rotate(); err != nil {
			return 0, err
		}
	}

	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

// rotate closes the current file, shifts path.N-1 -> path.N for every
// backup generation, then reopens a fresh file at path.
func (w *RotatingWriter) rotate() error {
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("logging: close log file before rotation: %w", err)
	}

	if w.backupCount > 0 {
		oldest := fmt.Sprintf("%s.%d", w.path, w.backupCount)
		if _, err := os.Stat(oldest); err == nil {
			os.Remove(oldest)
		}
		for i := w.backupCount - 1; i >= 1; i-- {
			src := fmt.Sprintf("%s.%d", w.path, i)
			dst := fmt.Sprintf("%s.%d", w.path, i+1)
			if _, err := os.Stat(src); err == nil {
				os.Rename(src, dst)
			}
		}
		os.Rename(w.path, w.path+".1")
	} else {
		os.Remove(w.path)
	}

	return w.open()
}

// Close closes the underlying file.
func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}
