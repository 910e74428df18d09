// Package scheduler runs the word list sync on a fixed interval.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/zeusync/wordsync/internal/core/models"
	"github.com/zeusync/wordsync/internal/core/observability/log"
)

// Syncer performs one sync. *client.Client satisfies it.
type Syncer interface {
	Sync(ctx context.Context) (models.Snapshot, error)
}

// ErrSyncInProgress is returned by SyncNow while a scheduled sync runs.
var ErrSyncInProgress = errors.New("sync already in progress")

type Config struct {
	// Interval between syncs. Zero or negative disables the ticker.
	Interval time.Duration
	// Timeout bounds a single scheduled sync.
	Timeout time.Duration
	// Immediate runs one sync as soon as Start is called.
	Immediate bool
}

func DefaultConfig() Config {
	return Config{
		Interval: 5 * time.Minute,
		Timeout:  2 * time.Minute,
	}
}

type Status struct {
	Running        bool
	SyncInProgress bool
	LastSyncTime   time.Time
	LastError      error
	Runs           int
}

// Scheduler manages background sync operations.
type Scheduler struct {
	syncer Syncer
	config Config
	logger log.Log

	stopCh chan struct{}
	wg     sync.WaitGroup

	mu         sync.RWMutex
	running    bool
	inProgress bool
	lastSync   time.Time
	lastErr    error
	runs       int
}

func New(syncer Syncer, config Config, logger log.Log) *Scheduler {
	if config.Timeout <= 0 {
		config.Timeout = DefaultConfig().Timeout
	}
	if logger == nil {
		logger = log.Provide()
	}
	return &Scheduler{
		syncer: syncer,
		config: config,
		logger: logger.With(log.String("component", "scheduler")),
	}
}

// Start launches the ticker loop. It returns at once; the loop ends on Stop
// or when ctx is done. Calling Start twice is a no-op; Start after Stop
// resumes ticking.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	stop := s.stopCh
	s.mu.Unlock()

	if s.config.Interval <= 0 {
		s.logger.Info("Periodic sync disabled")
		return
	}

	s.wg.Add(1)
	go s.loop(ctx, stop)

	s.logger.Info("Background sync scheduler started", log.Duration("interval", s.config.Interval))
}

// Stop stops the loop and waits for a running sync to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()

	s.logger.Info("Background sync scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, stop <-chan struct{}) {
	defer s.wg.Done()

	if s.config.Immediate {
		s.tick(ctx)
	}

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick runs a sync unless one started here is still going.
func (s *Scheduler) tick(ctx context.Context) {
	if !s.begin() {
		s.logger.Debug("Sync already in progress, skipping tick")
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.run(ctx); err != nil {
			s.logger.Warn("Periodic sync failed", log.Error(err))
		}
	}()
}

// SyncNow runs a sync and waits for it.
func (s *Scheduler) SyncNow(ctx context.Context) error {
	if !s.begin() {
		return ErrSyncInProgress
	}
	return s.run(ctx)
}

func (s *Scheduler) begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inProgress {
		return false
	}
	s.inProgress = true
	return true
}

func (s *Scheduler) run(ctx context.Context) error {
	syncCtx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	snapshot, err := s.syncer.Sync(syncCtx)

	s.mu.Lock()
	s.inProgress = false
	s.runs++
	s.lastErr = err
	if err == nil {
		s.lastSync = time.Now()
	}
	s.mu.Unlock()

	if err != nil {
		return err
	}
	s.logger.Debug("Periodic sync completed", log.Int("entries", len(snapshot)))
	return nil
}

func (s *Scheduler) GetStatus() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Status{
		Running:        s.running,
		SyncInProgress: s.inProgress,
		LastSyncTime:   s.lastSync,
		LastError:      s.lastErr,
		Runs:           s.runs,
	}
}
