package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/zeusync/wordsync/internal/core/models"
	"github.com/zeusync/wordsync/internal/core/wordlist"
)

func newAddCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:     "add <word>",
		GroupID: "words",
		Short:   "Add a word, or bring back a removed one",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEdit(cmd, opts, args[0], func(s *wordlist.Service) (wordlist.Outcome, error) {
				return s.Add(cmd.Context(), args[0])
			})
		},
	}
}

func newRemoveCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <word>",
		Aliases: []string{"rm"},
		GroupID: "words",
		Short:   "Remove a word; the removal is synced to other devices",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEdit(cmd, opts, args[0], func(s *wordlist.Service) (wordlist.Outcome, error) {
				return s.Remove(cmd.Context(), args[0])
			})
		},
	}
}

func newStarCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "star <word> <delta>",
		GroupID: "words",
		Short:   "Change a word's popularity by delta",
		Long: `Change a word's popularity by delta. Negative deltas are allowed;
popularity never drops below zero.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			delta, err := strconv.Atoi(args[1])
			if err != nil {
				return errors.Wrapf(err, "invalid delta %q", args[1])
			}
			return runEdit(cmd, opts, args[0], func(s *wordlist.Service) (wordlist.Outcome, error) {
				return s.Star(cmd.Context(), args[0], delta)
			})
		},
	}
	// "-1" must reach Args as a value, not a shorthand flag
	cmd.Flags().SetInterspersed(false)
	return cmd
}

func newListCmd(opts *options) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		GroupID: "words",
		Short:   "Print the word list",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, cleanup, err := openApp(opts)
			if err != nil {
				return err
			}
			defer cleanup()

			snapshot, err := app.Service.List(cmd.Context(), all)
			if err != nil {
				return err
			}
			printSnapshot(cmd.OutOrStdout(), snapshot)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&all, "all", "a", false, "include removed words")
	return cmd
}

func runEdit(
	cmd *cobra.Command,
	opts *options,
	word string,
	edit func(*wordlist.Service) (wordlist.Outcome, error),
) error {
	app, cleanup, err := openApp(opts)
	if err != nil {
		return err
	}
	defer cleanup()

	outcome, err := edit(app.Service)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", word, outcome)

	// the edit is committed either way; a failed push is retried next time
	if outcome.Changed() && app.Config.Sync.Enabled {
		if _, err := app.Client.Sync(cmd.Context()); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Warning: sync failed: %v\n", err)
		}
	}
	return nil
}

func printSnapshot(w io.Writer, snapshot models.Snapshot) {
	if len(snapshot) == 0 {
		fmt.Fprintln(w, "(no words)")
		return
	}
	for _, e := range snapshot {
		if e.Deleted {
			fmt.Fprintf(w, "%-24s %4d  (removed)\n", e.Word, e.Popularity)
			continue
		}
		fmt.Fprintf(w, "%-24s %4d\n", e.Word, e.Popularity)
	}
}
