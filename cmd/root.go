// Package cmd defines the CLI commands of the discourse-archiver executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

// newRootCmd creates the root command and attaches every subcommand.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "discourse-archiver",
		Short: "Archives a Discourse forum to disk through its JSON API.",
		Long: `discourse-archiver downloads categories, topics and posts from a
Discourse forum, plus optionally users, tags, groups and site metadata.
Runs are resumable: an interrupted archive picks up after the last topic
or user it saved.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (defaults plus ARCHIVER_* environment when empty)")

	cmd.AddCommand(newArchiveCmd())
	cmd.AddCommand(newVerifyCmd())

	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
