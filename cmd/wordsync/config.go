package main

import (
	"fmt"
	"strconv"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/zeusync/wordsync/internal/core/config"
)

func newConfigCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "config",
		GroupID: "settings",
		Short:   "Show or change sync settings",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return errors.Wrap(err, "encode config")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "# %s\n%s", opts.configPath, data)
			return nil
		},
	}

	setURL := &cobra.Command{
		Use:   "set-url <url>",
		Short: "Set the sync endpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := editConfig(opts, func(cfg *config.Config) error {
				return cfg.SetEndpoint(args[0])
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sync endpoint set to %s\n", cfg.Sync.EndpointURL)
			return nil
		},
	}

	setIdentity := &cobra.Command{
		Use:   "set-identity <id> <name>",
		Short: "Set the user the server stores the list for",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return errors.Wrap(config.ErrInvalidIdentity, err.Error())
			}
			cfg, err := editConfig(opts, func(cfg *config.Config) error {
				return cfg.SetIdentity(id, args[1])
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "identity set to %d (%s)\n", cfg.Identity.ID, cfg.Identity.Name)
			return nil
		},
	}

	cmd.AddCommand(show, setURL, setIdentity, toggleCmd(opts, "enable", true), toggleCmd(opts, "disable", false))
	return cmd
}

func toggleCmd(opts *options, use string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: use + " sync with the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := editConfig(opts, func(cfg *config.Config) error {
				if enabled && cfg.Identity.IsZero() {
					return errors.Wrap(config.ErrInvalidIdentity, "set an identity before enabling sync")
				}
				cfg.Sync.Enabled = enabled
				return nil
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sync %sd\n", use)
			return nil
		},
	}
}
