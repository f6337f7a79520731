package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/discourse-archiver/internal/archive"
	"github.com/JakeFAU/discourse-archiver/internal/config"
)

var errVerifyNeedsDataCache = errors.New("verify reads the per-category data cache; enable download.data_caching")

// newVerifyCmd creates the 'verify' subcommand.
func newVerifyCmd() *cobra.Command {
	var thorough bool
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Checks an existing archive against the forum's reported counts",
		Long: `Lists the forum's categories and compares the archive on disk with the
topic and post counts the forum reports. With --thorough every expected
file is checked as well, and missing topics or categories are downloaded
again.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runVerify(cmd, thorough)
		},
	}
	cmd.Flags().BoolVar(&thorough, "thorough", false, "check every archived file and repair what is missing")
	return cmd
}

func runVerify(cmd *cobra.Command, thorough bool) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, appOptions{
		configPath: cfgFile,
		stderr:     cmd.ErrOrStderr(),
		override: func(cfg *config.Config) {
			cfg.Verify.Enabled = true
			cfg.Verify.Thorough = thorough
		},
	})
	if err != nil {
		return fmt.Errorf("initialize archiver: %w", err)
	}
	defer a.Close()

	if !a.cfg.Download.DataCaching {
		return errVerifyNeedsDataCache
	}
	// Repairs overwrite the resume file.
	if thorough && a.archiver.PendingResume() {
		return errors.New("an interrupted archive run is pending; finish it with 'archive' before repairing")
	}

	categories, err := a.archiver.DiscoverCategories(ctx)
	if err != nil {
		return fmt.Errorf("list categories: %w", err)
	}
	state := archive.NewRunState()
	state.Categories = categories

	report, err := a.archiver.Verify(ctx, state)
	if thorough {
		if clearErr := a.archiver.ClearResume(); clearErr != nil {
			a.logger.Warn("failed to clear resume file after repairs", zap.Error(clearErr))
		}
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			a.logger.Warn("verification interrupted")
			return nil
		}
		return fmt.Errorf("verify: %w", err)
	}

	out := cmd.OutOrStdout()
	renderReport(out, report)
	if report.Problems() > 0 && !thorough {
		color.New(color.FgYellow).Fprintln(out, "run 'verify --thorough' to check files on disk and repair gaps")
	}
	return nil
}

// renderReport prints one row per category and the repair totals.
func renderReport(w io.Writer, report archive.Report) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.Style().Format.Footer = text.FormatDefault
	t.AppendHeader(table.Row{"Category", "Reported", "Recorded", "Post Mismatches", "Missing Topics", "Missing Posts", "Status"})
	for _, c := range report.Categories {
		t.AppendRow(table.Row{
			c.ID,
			humanize.Comma(int64(c.ReportedTopics)),
			humanize.Comma(int64(c.RecordedTopics)),
			humanize.Comma(int64(c.PostCountMismatch)),
			humanize.Comma(int64(c.MissingTopics)),
			humanize.Comma(int64(c.MissingPosts)),
			categoryStatus(c),
		})
	}
	t.AppendFooter(table.Row{
		"", "", "", "", "",
		"Repaired",
		fmt.Sprintf("%s topics, %s categories",
			humanize.Comma(int64(report.RepairedTopics)), humanize.Comma(int64(report.RepairedCategories))),
	})
	t.Render()
}

func categoryStatus(c archive.CategoryReport) string {
	switch {
	case c.Skipped:
		return "not verified"
	case !c.Verifiable:
		return "no data cache"
	case c.Repaired:
		return "archived again"
	case c.NeedsRedownload:
		return "needs full download"
	case c.RepairedTopics > 0:
		return fmt.Sprintf("repaired %d topics", c.RepairedTopics)
	case c.TopicCountMismatch:
		return "topic count mismatch"
	case !c.OK():
		return "mismatch"
	default:
		return "ok"
	}
}
