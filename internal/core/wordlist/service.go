package wordlist

import (
	"context"
	"time"

	"github.com/zeusync/wordsync/internal/core/models"
	"github.com/zeusync/wordsync/internal/core/observability/log"
	"github.com/zeusync/wordsync/internal/core/storage"
)

// Publisher fans a committed snapshot out to rendering surfaces.
type Publisher interface {
	Notify(ctx context.Context, snapshot models.Snapshot)
}

// Trigger requests a background sync. It must not block.
type Trigger interface {
	Trigger()
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithOwner(id int64) Option {
	return func(s *Service) { s.owner = id }
}

func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

func WithTrigger(t Trigger) Option {
	return func(s *Service) { s.trigger = t }
}

// Service runs edits as guarded read-modify-write cycles against the store.
// A changed outcome is published and a sync is requested; sync problems
// never undo the local commit.
type Service struct {
	guard     *storage.Guard
	publisher Publisher
	trigger   Trigger
	owner     int64
	now       func() time.Time
	logger    log.Log
}

func NewService(guard *storage.Guard, logger log.Log, opts ...Option) *Service {
	s := &Service{
		guard:  guard,
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = log.Provide()
	}
	return s
}

func (s *Service) Add(ctx context.Context, word string) (Outcome, error) {
	return s.apply(ctx, "add", word, func(cur models.Snapshot) (models.Snapshot, Outcome, error) {
		return AddWord(cur, word, s.owner, s.now().UTC())
	})
}

func (s *Service) Remove(ctx context.Context, word string) (Outcome, error) {
	return s.apply(ctx, "remove", word, func(cur models.Snapshot) (models.Snapshot, Outcome, error) {
		return RemoveWord(cur, word, s.now().UTC())
	})
}

func (s *Service) Star(ctx context.Context, word string, delta int) (Outcome, error) {
	return s.apply(ctx, "star", word, func(cur models.Snapshot) (models.Snapshot, Outcome, error) {
		return AdjustPopularity(cur, word, delta, s.now().UTC())
	})
}

// List returns the stored snapshot, without tombstones unless all is set.
func (s *Service) List(ctx context.Context, all bool) (models.Snapshot, error) {
	snapshot, err := s.guard.Load(ctx)
	if err != nil {
		return nil, err
	}
	if all {
		return snapshot, nil
	}
	return snapshot.Active(), nil
}

func (s *Service) apply(
	ctx context.Context,
	op, word string,
	fn func(models.Snapshot) (models.Snapshot, Outcome, error),
) (Outcome, error) {
	outcome := OutcomeUnchanged
	committed, err := s.guard.Update(ctx, func(cur models.Snapshot) (models.Snapshot, bool, error) {
		next, o, err := fn(cur)
		if err != nil {
			return nil, false, err
		}
		outcome = o
		return next, o.Changed(), nil
	})
	if err != nil {
		s.logger.Warn("Word list update failed",
			log.String("op", op), log.String("word", word), log.Error(err))
		return OutcomeUnchanged, err
	}

	s.logger.Debug("Word list updated",
		log.String("op", op), log.String("word", word), log.String("outcome", outcome.String()))

	if !outcome.Changed() {
		return outcome, nil
	}
	if s.publisher != nil {
		s.publisher.Notify(ctx, committed)
	}
	if s.trigger != nil {
		s.trigger.Trigger()
	}
	return outcome, nil
}
