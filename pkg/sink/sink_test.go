package sink

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func listFiles(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func countSuffix(names []string, suffix string) int {
	n := 0
	for _, name := range names {
		if filepath.Ext(name) == suffix || (len(name) >= len(suffix) && name[len(name)-len(suffix):] == suffix) {
			n++
		}
	}
	return n
}

func newTestSink(t *testing.T, cfg FileConfig) *FileSink {
	t.Helper()
	s, err := NewFileSink(cfg, nil)
	require.NoError(t, err)
	return s
}

func TestFileSink_WritesAppearAfterFlush(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultFileConfig(dir, "writer-01")
	cfg.FlushEveryN = 1
	s := newTestSink(t, cfg)

	require.NoError(t, s.Write([]byte("{\"a\":1}\n")))
	require.NoError(t, s.Close())

	names := listFiles(t, dir)
	require.Len(t, names, 1)
	assert.Equal(t, 0, countSuffix(names, ".active"))

	data, err := os.ReadFile(filepath.Join(dir, names[0]))
	require.NoError(t, err)
	assert.Equal(t, "{\"a\":1}\n", string(data))
}

func TestFileSink_RotatesOnSize(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultFileConfig(dir, "writer-01")
	cfg.RotationBytes = 10
	cfg.FlushEveryN = 1
	s := newTestSink(t, cfg)

	require.NoError(t, s.Write([]byte("0123456789\n")))
	require.NoError(t, s.Write([]byte("next-file\n")))
	require.NoError(t, s.Close())

	names := listFiles(t, dir)
	assert.Len(t, names, 2, "expected two rotated files, got %v", names)
	assert.Equal(t, 0, countSuffix(names, ".active"), "no .active file should remain after close")
}

func TestFileSink_RotatesOnTime(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultFileConfig(dir, "writer-01")
	cfg.RotationSeconds = 1
	cfg.FlushEveryN = 1
	s := newTestSink(t, cfg)

	start := time.Now()
	s.now = func() time.Time { return start }
	require.NoError(t, s.Write([]byte("first\n")))

	s.now = func() time.Time { return start.Add(2 * time.Second) }
	require.NoError(t, s.Write([]byte("second\n")))
	require.NoError(t, s.Close())

	names := listFiles(t, dir)
	assert.Len(t, names, 2)
}

func TestFileSink_AtMostOneActiveFileDuringWrites(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultFileConfig(dir, "writer-01")
	cfg.RotationBytes = 10
	cfg.FlushEveryN = 1
	s := newTestSink(t, cfg)

	require.NoError(t, s.Write([]byte("0123456789\n")))
	names := listFiles(t, dir)
	assert.LessOrEqual(t, countSuffix(names, ".active"), 1)

	require.NoError(t, s.Close())
}

func TestFileSink_CloseIsIdempotentNoOpOnSecondCall(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultFileConfig(dir, "writer-01")
	s := newTestSink(t, cfg)

	require.NoError(t, s.Write([]byte("x\n")))
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
}

func TestStdoutSink_WritesBytesVerbatim(t *testing.T) {
	var buf writeRecorder
	s := &StdoutSink{out: &buf}

	require.NoError(t, s.Write([]byte("hello\n")))
	assert.Equal(t, "hello\n", buf.String())
	require.NoError(t, s.Close())
}

type writeRecorder struct {
	data []byte
}

func (w *writeRecorder) Write(p []byte) (int, error) {
	w.data = append(w.data, p...)
	return len(p), nil
}

func (w *writeRecorder) String() string { return string(w.data) }
