package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/wordsync/internal/core/models"
	"github.com/zeusync/wordsync/internal/core/observability/log"
)

type fakeSyncer struct {
	calls   atomic.Int32
	block   chan struct{}
	entered chan struct{}
	err     error
}

func (f *fakeSyncer) Sync(ctx context.Context) (models.Snapshot, error) {
	f.calls.Add(1)
	if f.entered != nil {
		select {
		case f.entered <- struct{}{}:
		default:
		}
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return models.Snapshot{}, f.err
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 5*time.Minute, cfg.Interval)
}

func TestTicksCallSync(t *testing.T) {
	f := &fakeSyncer{}
	s := New(f, Config{Interval: 10 * time.Millisecond}, log.NewNop())

	s.Start(context.Background())
	s.Start(context.Background())
	assert.Eventually(t, func() bool { return f.calls.Load() >= 3 }, time.Second, 5*time.Millisecond)
	s.Stop()
	s.Stop()

	calls := f.calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, calls, f.calls.Load(), "no ticks after Stop")

	st := s.GetStatus()
	assert.False(t, st.Running)
	assert.False(t, st.LastSyncTime.IsZero())
	assert.NoError(t, st.LastError)
}

func TestSlowSyncSkipsTicks(t *testing.T) {
	f := &fakeSyncer{block: make(chan struct{}), entered: make(chan struct{}, 1)}
	s := New(f, Config{Interval: 5 * time.Millisecond, Immediate: true}, log.NewNop())

	s.Start(context.Background())
	<-f.entered
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), f.calls.Load())
	assert.True(t, s.GetStatus().SyncInProgress)

	assert.ErrorIs(t, s.SyncNow(context.Background()), ErrSyncInProgress)

	close(f.block)
	s.Stop()
}

func TestSyncNowReportsErrors(t *testing.T) {
	boom := errors.New("offline")
	f := &fakeSyncer{err: boom}
	s := New(f, Config{}, log.NewNop())

	assert.ErrorIs(t, s.SyncNow(context.Background()), boom)
	st := s.GetStatus()
	assert.ErrorIs(t, st.LastError, boom)
	assert.True(t, st.LastSyncTime.IsZero())
	assert.Equal(t, 1, st.Runs)
}

func TestZeroIntervalDisablesTicker(t *testing.T) {
	f := &fakeSyncer{}
	s := New(f, Config{Interval: 0}, log.NewNop())
	s.Start(context.Background())
	time.Sleep(20 * time.Millisecond)
	s.Stop()
	assert.Zero(t, f.calls.Load())
}

func TestContextCancelEndsLoop(t *testing.T) {
	f := &fakeSyncer{}
	s := New(f, Config{Interval: 5 * time.Millisecond}, log.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	assert.Eventually(t, func() bool { return f.calls.Load() > 0 }, time.Second, 5*time.Millisecond)
	cancel()

	done := make(chan struct{})
	go func() { s.Stop(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		require.FailNow(t, "Stop hung after context cancel")
	}
}

func TestRestartAfterStop(t *testing.T) {
	f := &fakeSyncer{}
	s := New(f, Config{Interval: 10 * time.Millisecond}, log.NewNop())

	s.Start(context.Background())
	require.Eventually(t, func() bool { return f.calls.Load() >= 1 }, time.Second, 5*time.Millisecond)
	s.Stop()

	calls := f.calls.Load()
	s.Start(context.Background())
	assert.True(t, s.GetStatus().Running)
	assert.Eventually(t, func() bool { return f.calls.Load() >= calls+2 }, time.Second, 5*time.Millisecond)
	s.Stop()
	assert.False(t, s.GetStatus().Running)

	calls = f.calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, calls, f.calls.Load(), "no ticks after second Stop")
}
