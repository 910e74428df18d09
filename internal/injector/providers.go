// Package injector assembles the client application from its config.
package injector

import (
	"context"

	"github.com/google/wire"

	"github.com/zeusync/wordsync/internal/core/config"
	"github.com/zeusync/wordsync/internal/core/notify"
	"github.com/zeusync/wordsync/internal/core/observability/log"
	"github.com/zeusync/wordsync/internal/core/storage"
	"github.com/zeusync/wordsync/internal/core/storage/interfaces"
	"github.com/zeusync/wordsync/internal/core/sync/resolver"
	"github.com/zeusync/wordsync/internal/core/sync/scheduler"
	"github.com/zeusync/wordsync/internal/core/wordlist"
	"github.com/zeusync/wordsync/sdk/go/client"
)

// App is the wired client: local edits go through Service, sync through
// Client, and every committed list reaches Notifier's surfaces.
type App struct {
	Config    *config.Config
	Logger    log.Log
	Guard     *storage.Guard
	Notifier  *notify.Notifier
	Client    *client.Client
	Service   *wordlist.Service
	Scheduler *scheduler.Scheduler
}

// Start launches periodic sync when it is enabled.
func (a *App) Start(ctx context.Context) {
	if a.Config.Sync.Enabled {
		a.Scheduler.Start(ctx)
	}
}

var ProviderSet = wire.NewSet(
	ProvideLogger,
	wire.Bind(new(log.Log), new(*log.Logger)),
	ProvideStore,
	storage.NewGuard,
	ProvideNotifier,
	ProvideResolver,
	ProvideClient,
	ProvideService,
	ProvideScheduler,
	wire.Struct(new(App), "*"),
)

func ProvideLogger(cfg *config.Config) (*log.Logger, func()) {
	logger := log.NewWithOptions(cfg.LogOptions())
	return logger, func() { _ = logger.Sync() }
}

func ProvideStore(cfg *config.Config, logger log.Log) (interfaces.Store, func(), error) {
	store, err := storage.Open(cfg.Storage)
	if err != nil {
		return nil, nil, err
	}
	return store, func() {
		if err := store.Close(); err != nil {
			logger.Warn("Failed to close store", log.Error(err))
		}
	}, nil
}

func ProvideNotifier(logger log.Log) (*notify.Notifier, func()) {
	n := notify.NewNotifier(logger)
	return n, n.Wait
}

func ProvideResolver(cfg *config.Config) *resolver.Resolver {
	return resolver.New(cfg.Strategy())
}

func ProvideClient(
	cfg *config.Config,
	guard *storage.Guard,
	notifier *notify.Notifier,
	r *resolver.Resolver,
	logger log.Log,
) (*client.Client, func()) {
	c := client.NewClient(cfg.ClientConfig(), guard,
		client.WithResolver(r),
		client.WithPublisher(notifier),
		client.WithLogger(logger),
	)
	return c, func() { _ = c.Close() }
}

func ProvideService(
	cfg *config.Config,
	guard *storage.Guard,
	notifier *notify.Notifier,
	c *client.Client,
	logger log.Log,
) *wordlist.Service {
	return wordlist.NewService(guard, logger,
		wordlist.WithOwner(cfg.Identity.ID),
		wordlist.WithPublisher(notifier),
		wordlist.WithTrigger(c),
	)
}

func ProvideScheduler(cfg *config.Config, c *client.Client, logger log.Log) (*scheduler.Scheduler, func()) {
	s := scheduler.New(c, scheduler.Config{
		Interval:  cfg.Sync.Interval,
		Immediate: true,
	}, logger)
	return s, s.Stop
}
