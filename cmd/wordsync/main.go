// Command wordsync edits the local word list and keeps it in sync with a
// wordsync server.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/zeusync/wordsync/internal/core/config"
	"github.com/zeusync/wordsync/internal/injector"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "wordsync",
		Short:         "Track words and sync them across devices",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", config.DefaultPath(), "path to the config file")

	root.AddGroup(
		&cobra.Group{ID: "words", Title: "Word list:"},
		&cobra.Group{ID: "sync", Title: "Sync:"},
		&cobra.Group{ID: "settings", Title: "Settings:"},
	)

	root.AddCommand(
		newAddCmd(opts),
		newRemoveCmd(opts),
		newStarCmd(opts),
		newListCmd(opts),
		newSyncCmd(opts),
		newWatchCmd(opts),
		newConfigCmd(opts),
		newSitesCmd(opts),
	)
	return root
}

// openApp loads the config, environment overrides included, and wires the
// application. The returned cleanup must always be called.
func openApp(opts *options) (*injector.App, func(), error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, nil, err
	}
	return injector.InitializeApp(cfg)
}

// editConfig applies fn to the config file without environment overrides
// and saves it when fn succeeds.
func editConfig(opts *options, fn func(cfg *config.Config) error) (*config.Config, error) {
	cfg, err := config.LoadFile(opts.configPath)
	if err != nil {
		return nil, err
	}
	if err := fn(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Save(opts.configPath); err != nil {
		return nil, err
	}
	return cfg, nil
}
