package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/zeusync/wordsync/internal/core/models"
	"github.com/zeusync/wordsync/internal/core/notify"
	"github.com/zeusync/wordsync/internal/core/observability/log"
	"github.com/zeusync/wordsync/internal/core/storage"
	"github.com/zeusync/wordsync/internal/core/storage/interfaces"
	"github.com/zeusync/wordsync/internal/injector"
)

func newSyncCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:     "sync",
		GroupID: "sync",
		Short:   "Exchange the word list with the server once",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, cleanup, err := openApp(opts)
			if err != nil {
				return err
			}
			defer cleanup()

			merged, err := app.Client.Sync(cmd.Context())
			if err != nil {
				return errors.Wrap(err, "sync")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "synced: %d words (%d removed)\n",
				len(merged.Active()), len(merged.Tombstones()))
			return nil
		},
	}
}

func newWatchCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:     "watch",
		GroupID: "sync",
		Short:   "Keep syncing in the background and print every change",
		Long: `Runs until interrupted. The list is printed whenever it changes: after
local edits from another process, after scheduled syncs, and after the
server announces a change made from another device.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, cleanup, err := openApp(opts)
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return watch(ctx, app, cmd)
		},
	}
}

func watch(ctx context.Context, app *injector.App, cmd *cobra.Command) error {
	out := cmd.OutOrStdout()
	unregister := app.Notifier.Register(notify.SurfaceFunc("stdout", func(_ context.Context, s models.Snapshot) error {
		fmt.Fprintln(out, "--")
		printSnapshot(out, s.Active())
		return nil
	}))
	defer unregister()

	g, ctx := errgroup.WithContext(ctx)

	if watchable, ok := app.Guard.Unwrap().(interfaces.WatchableStore); ok {
		changes, err := watchable.Watch(ctx)
		if err != nil {
			return errors.Wrap(err, "watch store")
		}
		g.Go(func() error {
			for range changes {
				app.Logger.Debug("Word list changed on disk")
				app.Notifier.Notify(ctx, storage.LoadOrEmpty(ctx, app.Guard, app.Logger))
				app.Client.Trigger()
			}
			return nil
		})
	}

	// render only once the watcher is in place
	app.Notifier.Notify(ctx, storage.LoadOrEmpty(ctx, app.Guard, app.Logger))
	app.Start(ctx)

	if app.Config.Sync.Enabled {
		g.Go(func() error {
			err := app.Client.Subscribe(ctx, app.Config.Sync.FeedURL)
			if err != nil && !errors.Is(err, context.Canceled) {
				app.Logger.Warn("Change feed stopped", log.Error(err))
			}
			return nil
		})
	} else {
		fmt.Fprintln(cmd.ErrOrStderr(), "sync is disabled; watching local changes only")
	}

	<-ctx.Done()
	return g.Wait()
}
