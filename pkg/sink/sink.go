// Package sink persists NDJSON records, either to stdout for debugging and
// dry runs, or to rotating, atomically-renamed files on disk.
package sink

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"
)

// Sink accepts newline-terminated NDJSON lines.
type Sink interface {
	Write(data []byte) error
	Close() error
}

// StdoutSink writes raw bytes directly to stdout. It is used for debugging
// and dry-run validation; it performs no rotation or buffering beyond what
// the OS pipe provides.
type StdoutSink struct {
	out    io.Writer
	logger *slog.Logger
}

// NewStdoutSink builds a StdoutSink writing to os.Stdout.
func NewStdoutSink(logger *slog.Logger) *StdoutSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &StdoutSink{out: os.Stdout, logger: logger}
}

// Write writes data to stdout, surfacing a broken-pipe error to the caller
// instead of swallowing it.
func (s *StdoutSink) Write(data []byte) error {
	_, err := s.out.Write(data)
	if errors.Is(err, syscall.EPIPE) {
		s.logger.Warn("stdout broken, consumer likely exited")
		return err
	}
	return err
}

// Close is a no-op for stdout.
func (s *StdoutSink) Close() error { return nil }

// FileConfig controls rotation and flush behavior of a FileSink.
type FileConfig struct {
	OutputDir       string
	Prefix          string
	InstanceID      string
	RotationSeconds int
	RotationBytes   int64
	FlushEveryN     int
	FlushIntervalMs int
}

// DefaultFileConfig mirrors the reference client's defaults.
func DefaultFileConfig(outputDir, instanceID string) FileConfig {
	return FileConfig{
		OutputDir:       outputDir,
		Prefix:          "events",
		InstanceID:      instanceID,
		RotationSeconds: 600,
		RotationBytes:   52428800,
		FlushEveryN:     50,
		FlushIntervalMs: 1000,
	}
}

// FileSink is a rotating NDJSON file writer. At most one file carries the
// ".active" suffix at a time; on rotation or close it is fsynced, closed,
// and atomically renamed to its final ".ndjson" name.
type FileSink struct {
	cfg    FileConfig
	logger *slog.Logger

	mu               sync.Mutex
	file             *os.File
	writer           *bufio.Writer
	activePath       string
	finalPath        string
	bytesWritten     int64
	eventsSinceFlush int
	openedAt         time.Time
	lastFlush        time.Time

	now func() time.Time
}

// NewFileSink creates the output directory if needed and opens the first
// active file.
func NewFileSink(cfg FileConfig, logger *slog.Logger) (*FileSink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("sink: create output dir: %w", err)
	}
	s := &FileSink{cfg: cfg, logger: logger, now: time.Now}
	if err := s.openNewFile(); err != nil {
		return nil, err
	}
	return s, nil
}

// Write appends data to the active file, rotating first if a threshold has
// been reached, and flushing afterward if a threshold has been reached.
func (s *FileSink) Write(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.shouldRotate() {
		if err := s.rotate(); err != nil {
			return err
		}
	}

	n, err := s.writer.Write(data)
	if err != nil {
		return fmt.Errorf("sink: write: %w", err)
	}
	s.bytesWritten += int64(n)
	s.eventsSinceFlush++

	if s.shouldFlush() {
		return s.flushLocked()
	}
	return nil
}

// Close flushes, fsyncs, and renames the active file to its final name.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeActiveLocked()
}

func (s *FileSink) closeActiveLocked() error {
	if s.file == nil {
		return nil
	}
	if err := s.flushLocked(); err != nil {
		return err
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("sink: fsync: %w", err)
	}
	if err := s.file.Close(); err != nil {
		return fmt.Errorf("sink: close: %w", err)
	}
	if _, err := os.Stat(s.activePath); err == nil {
		if err := os.Rename(s.activePath, s.finalPath); err != nil {
			return fmt.Errorf("sink: rename: %w", err)
		}
		s.logger.Info("closed and renamed output file",
			"from", filepath.Base(s.activePath), "to", filepath.Base(s.finalPath))
	}
	s.file = nil
	s.writer = nil
	return nil
}

func (s *FileSink) openNewFile() error {
	ts := s.now().UTC().Format("20060102T150405Z")
	base := fmt.Sprintf("%s-%s-%s", s.cfg.Prefix, s.cfg.InstanceID, ts)
	// A rotation within the same second would reuse the previous file's
	// name; add a sequence number so a completed file is never overwritten.
	name := base
	for seq := 1; ; seq++ {
		if _, err := os.Stat(filepath.Join(s.cfg.OutputDir, name+".ndjson")); os.IsNotExist(err) {
			break
		}
		name = fmt.Sprintf("%s-%d", base, seq)
	}
	base = name
	s.activePath = filepath.Join(s.cfg.OutputDir, base+".ndjson.active")
	s.finalPath = filepath.Join(s.cfg.OutputDir, base+".ndjson")

	f, err := os.OpenFile(s.activePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("sink: open active file: %w", err)
	}
	s.file = f
	s.writer = bufio.NewWriter(f)
	s.bytesWritten = 0
	s.eventsSinceFlush = 0
	s.openedAt = s.now()
	s.lastFlush = s.now()
	s.logger.Info("opened new output file", "path", filepath.Base(s.activePath))
	return nil
}

func (s *FileSink) shouldRotate() bool {
	elapsed := s.now().Sub(s.openedAt)
	return s.bytesWritten >= s.cfg.RotationBytes ||
		elapsed >= time.Duration(s.cfg.RotationSeconds)*time.Second
}

func (s *FileSink) rotate() error {
	if err := s.flushLocked(); err != nil {
		return err
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("sink: fsync before rotate: %w", err)
	}
	if err := s.file.Close(); err != nil {
		return fmt.Errorf("sink: close before rotate: %w", err)
	}
	if err := os.Rename(s.activePath, s.finalPath); err != nil {
		return fmt.Errorf("sink: rename on rotate: %w", err)
	}
	s.logger.Info("rotated output file", "path", filepath.Base(s.finalPath), "bytes", s.bytesWritten)
	return s.openNewFile()
}

func (s *FileSink) shouldFlush() bool {
	if s.eventsSinceFlush >= s.cfg.FlushEveryN {
		return true
	}
	elapsedMs := s.now().Sub(s.lastFlush).Milliseconds()
	return elapsedMs >= int64(s.cfg.FlushIntervalMs)
}

func (s *FileSink) flushLocked() error {
	if s.writer == nil {
		return nil
	}
	if err := s.writer.Flush(); err != nil {
		return fmt.Errorf("sink: flush: %w", err)
	}
	s.eventsSinceFlush = 0
	s.lastFlush = s.now()
	return nil
}
