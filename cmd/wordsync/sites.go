package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zeusync/wordsync/internal/core/config"
)

func newSitesCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "sites",
		GroupID: "settings",
		Short:   "Manage sites where highlighting is switched off",
	}

	ignore := &cobra.Command{
		Use:   "ignore <site>",
		Short: "Stop highlighting on a site",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var added bool
			if _, err := editConfig(opts, func(cfg *config.Config) error {
				added = cfg.IgnoreSite(args[0])
				return nil
			}); err != nil {
				return err
			}
			if !added {
				fmt.Fprintf(cmd.OutOrStdout(), "%s is already ignored\n", args[0])
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ignoring %s\n", args[0])
			return nil
		},
	}

	unignore := &cobra.Command{
		Use:   "unignore <site>",
		Short: "Highlight on a site again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var removed bool
			if _, err := editConfig(opts, func(cfg *config.Config) error {
				removed = cfg.UnignoreSite(args[0])
				return nil
			}); err != nil {
				return err
			}
			if !removed {
				fmt.Fprintf(cmd.OutOrStdout(), "%s was not ignored\n", args[0])
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "no longer ignoring %s\n", args[0])
			return nil
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "Print ignored sites",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			for _, site := range cfg.IgnoredSites {
				fmt.Fprintln(cmd.OutOrStdout(), site)
			}
			return nil
		},
	}

	cmd.AddCommand(ignore, unignore, list)
	return cmd
}
