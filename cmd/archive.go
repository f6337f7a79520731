package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/JakeFAU/discourse-archiver/internal/archive"
	"github.com/JakeFAU/discourse-archiver/internal/config"
)

type archiveOptions struct {
	noResume bool
	thorough bool
}

func (o archiveOptions) apply(cfg *config.Config) {
	if o.noResume {
		cfg.Download.Resume = false
	}
	if o.thorough {
		cfg.Verify.Enabled = true
		cfg.Verify.Thorough = true
	}
}

// newArchiveCmd creates the 'archive' subcommand.
func newArchiveCmd() *cobra.Command {
	var opts archiveOptions
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Downloads the forum into the archive root",
		Long: `Archives every enabled step in order: categories and topics (followed by
the verification sweep), users, tags, then site metadata and groups.
Interrupt with Ctrl-C at any time; the next run resumes after the last
saved topic or user.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runArchive(cmd, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.noResume, "no-resume", false, "ignore the resume file and start from the first category")
	cmd.Flags().BoolVar(&opts.thorough, "thorough", false, "check every archived file after the topics step and repair gaps")
	return cmd
}

func runArchive(cmd *cobra.Command, opts archiveOptions) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, appOptions{
		configPath: cfgFile,
		stderr:     cmd.ErrOrStderr(),
		override:   opts.apply,
	})
	if err != nil {
		return fmt.Errorf("initialize archiver: %w", err)
	}
	defer a.Close()

	summary, err := a.archiver.Run(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			a.logger.Warn("archive interrupted, run again to resume")
			return nil
		}
		return fmt.Errorf("archive: %w", err)
	}
	printSummary(cmd.OutOrStdout(), summary)
	return nil
}

func printSummary(w io.Writer, s archive.Summary) {
	status := color.New(color.FgGreen, color.Bold)
	if s.Result == archive.PartialFailure {
		status = color.New(color.FgYellow, color.Bold)
	}
	status.Fprintf(w, "archive finished: %s in %s\n", s.Result, s.Duration.Round(time.Second))

	if s.TopicsStepSkipped {
		fmt.Fprintln(w, "topics: completed by the previous run")
	} else {
		fmt.Fprintf(w, "categories: %s discovered, %s skipped by resume\n",
			humanize.Comma(int64(s.Categories)), humanize.Comma(int64(s.SkippedCategories)))
	}
	if s.ResumedFromStep != archive.StepInvalid {
		fmt.Fprintf(w, "resumed from step %s\n", s.ResumedFromStep)
	}
	if s.Verification != nil {
		renderReport(w, *s.Verification)
	}
	if !s.CheckpointCleared {
		color.New(color.FgYellow).Fprintln(w, "resume file could not be removed; delete it before the next full run")
	}
}
