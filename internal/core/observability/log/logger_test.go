package log

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("debug"))
	assert.Equal(t, LevelWarn, ParseLevel("warning"))
	assert.Equal(t, LevelError, ParseLevel("error"))
	assert.Equal(t, LevelSilent, ParseLevel("off"))
	assert.Equal(t, LevelInfo, ParseLevel("bogus"))
}

func TestSetLevelPropagatesToDerivedLoggers(t *testing.T) {
	l := NewWithOptions(Options{Level: LevelInfo, Encoding: "console"})
	child := l.With(String("component", "test"))

	l.SetLevel(LevelError)
	assert.Equal(t, LevelError, l.GetLevel())
	assert.Equal(t, LevelError, child.GetLevel())
}

func TestFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wordsync.log")
	l := NewWithOptions(Options{Level: LevelDebug, File: path, MaxSizeMB: 1})

	l.Info("sync finished", Int("entries", 3), Error(errors.New("boom")), Error(nil))
	require.NoError(t, l.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "sync finished")
	assert.Contains(t, string(data), `"entries":3`)
}

func TestWithContextRequestID(t *testing.T) {
	ctx := ContextWithRequestID(context.Background(), "req-1")
	id, ok := RequestIDFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "req-1", id)

	_, ok = RequestIDFromContext(context.Background())
	assert.False(t, ok)

	l := NewNop()
	assert.NotNil(t, l.WithContext(ctx))
	assert.Equal(t, LevelSilent, l.GetLevel())
}

func TestConsoleSinkSyncOnPipe(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	sink := consoleSink{w}
	_, err = sink.Write([]byte("line\n"))
	require.NoError(t, err)
	assert.NoError(t, sink.Sync())
}
