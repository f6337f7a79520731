package archive

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/discourse-archiver/internal/clock/system"
	"github.com/JakeFAU/discourse-archiver/internal/discourse"
	"github.com/JakeFAU/discourse-archiver/internal/fetcher"
	"github.com/JakeFAU/discourse-archiver/internal/progress"
)

// RunState is the mutable state of one run, owned by the orchestrator and
// passed explicitly through the pipelines.
type RunState struct {
	// Checkpoint is the live position, persisted after each saved unit.
	Checkpoint Checkpoint
	// Previous is the checkpoint loaded at start-up. It is consulted until
	// the resume point has been reached and then cleared; nil means the run
	// starts from the beginning.
	Previous *Checkpoint
	// Categories is every discovered category, in discovery order.
	Categories []*Category
}

// NewRunState returns a state with an unset checkpoint and no resume point.
func NewRunState() *RunState {
	return &RunState{Checkpoint: NewCheckpoint()}
}

// Deps bundles the collaborators of an Archiver.
type Deps struct {
	Fetcher  Fetcher
	Files    FileStore
	Clock    Clock
	Progress progress.Emitter
	RunID    [16]byte
	// Notify shows an operator-facing warning, such as the restart
	// countdown. Nil only logs.
	Notify func(msg string)
}

// Archiver drives the archive pipelines for one forum.
type Archiver struct {
	cfg         Config
	fetch       Fetcher
	files       FileStore
	checkpoints *CheckpointStore
	endpoints   discourse.Endpoints
	clock       Clock
	progress    progress.Emitter
	runID       [16]byte
	notify      func(string)
	logger      *zap.Logger
}

// New constructs an Archiver. Zero-valued tunables fall back to defaults.
func New(cfg Config, deps Deps, logger *zap.Logger) *Archiver {
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults := DefaultConfig()
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = defaults.BatchLimit
	}
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = defaults.ProgressInterval
	}
	if cfg.URLNotifyInterval <= 0 {
		cfg.URLNotifyInterval = defaults.URLNotifyInterval
	}
	if cfg.SkipBudget < 0 {
		cfg.SkipBudget = 0
	}
	if cfg.MaxFailedPages == 0 || cfg.MaxFailedPages < Unset {
		cfg.MaxFailedPages = defaults.MaxFailedPages
	}
	clock := deps.Clock
	if clock == nil {
		clock = system.New()
	}
	return &Archiver{
		cfg:         cfg,
		fetch:       deps.Fetcher,
		files:       deps.Files,
		checkpoints: NewCheckpointStore(deps.Files),
		endpoints:   discourse.NewEndpoints(cfg.SiteURL),
		clock:       clock,
		progress:    deps.Progress,
		runID:       deps.RunID,
		notify:      deps.Notify,
		logger:      logger.Named("archive"),
	}
}

// Summary reports the outcome of a full run.
type Summary struct {
	Result            Result
	Categories        int
	SkippedCategories int
	Verification      *Report
	Duration          time.Duration
	ResumedFromStep   Step
	TopicsStepSkipped bool
	CheckpointCleared bool
}

// Run executes every enabled step: categories and topics (with the
// verification sweep), users, tags, then site metadata and groups.
func (a *Archiver) Run(ctx context.Context) (Summary, error) {
	start := a.clock.Now()
	a.emit(progress.Event{Stage: progress.StageRunStart})

	summary, err := a.run(ctx)
	summary.Duration = a.clock.Now().Sub(start)
	if err != nil {
		a.emit(progress.Event{Stage: progress.StageRunError, Dur: summary.Duration, Note: err.Error()})
		return summary, err
	}
	a.emit(progress.Event{
		Stage:  progress.StageRunDone,
		Result: progressResult(summary.Result),
		Dur:    summary.Duration,
	})
	return summary, nil
}

// PendingResume reports whether an interrupted run left a resume file,
// parsable or not.
func (a *Archiver) PendingResume() bool {
	_, found, _ := a.checkpoints.Load()
	return found
}

// ClearResume deletes the resume file.
func (a *Archiver) ClearResume() error {
	return a.checkpoints.Clear()
}

func (a *Archiver) run(ctx context.Context) (Summary, error) {
	summary := Summary{ResumedFromStep: StepInvalid}
	state := NewRunState()
	if a.cfg.Resume {
		if err := a.loadResume(ctx, state); err != nil {
			return summary, err
		}
		if state.Previous != nil {
			summary.ResumedFromStep = state.Previous.Step
		}
	}

	result := Success
	if a.cfg.Topics {
		if state.Previous != nil && state.Previous.Step == StepUsers {
			a.logger.Info("topics were completed by the previous run, resuming with users")
			summary.TopicsStepSkipped = true
		} else {
			r, err := a.archiveForum(ctx, state, &summary)
			if err != nil {
				return summary, err
			}
			result = result.Merge(r)
		}
	} else {
		a.logger.Warn("topic downloading is disabled in config")
	}

	if a.cfg.Users {
		r, err := a.ArchiveUsers(ctx, state)
		if err != nil {
			return summary, err
		}
		result = result.Merge(r)
	}
	if a.cfg.Tags {
		r, err := a.ArchiveTags(ctx)
		if err != nil {
			return summary, err
		}
		result = result.Merge(r)
	}
	if a.cfg.Misc {
		r, err := a.ArchiveSite(ctx)
		if err != nil {
			return summary, err
		}
		result = result.Merge(r)
		r, err = a.ArchiveGroups(ctx)
		if err != nil {
			return summary, err
		}
		result = result.Merge(r)
	}

	if err := a.checkpoints.Clear(); err != nil {
		a.logger.Warn("failed to clear resume file", zap.Error(err))
	} else {
		summary.CheckpointCleared = true
	}
	summary.Result = result
	if result == PartialFailure {
		a.logger.Warn("some content was not downloaded, run again to retry")
	}
	return summary, nil
}

// archiveForum runs discovery, every category and the verification sweep.
func (a *Archiver) archiveForum(ctx context.Context, state *RunState, summary *Summary) (Result, error) {
	categories, err := a.DiscoverCategories(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return PartialFailure, ctxErr
		}
		a.logger.Error("category listing failed, forum content will not be downloaded", zap.Error(err))
		return PartialFailure, nil
	}
	state.Categories = categories
	summary.Categories = len(categories)

	queue := a.resumeQueue(state)
	summary.SkippedCategories = len(categories) - len(queue)

	result := Success
	for _, category := range queue {
		r, err := a.ArchiveCategory(ctx, state, category)
		if err != nil {
			return result, err
		}
		result = result.Merge(r)
	}
	state.Previous = nil

	if a.cfg.VerifyCounts || a.cfg.VerifyThorough {
		report, err := a.Verify(ctx, state)
		if err != nil {
			return result, err
		}
		summary.Verification = &report
		result = result.Merge(report.Result)
	}
	return result, nil
}

// loadResume reads the resume file into state.Previous. An unparsable file
// restarts the download after the operator countdown.
func (a *Archiver) loadResume(ctx context.Context, state *RunState) error {
	cp, found, err := a.checkpoints.Load()
	if !found {
		a.logger.Info("no resume information found, starting a new download")
		return nil
	}
	if err != nil {
		a.logger.Error("could not parse resume information, download will be restarted", zap.Error(err))
		msg := fmt.Sprintf(
			"resume file could not be parsed: the download restarts from scratch in %s. "+
				"Abort now to inspect or back up %s.",
			a.cfg.RestartDelay, resumePath,
		)
		if a.notify != nil {
			a.notify(msg)
		} else {
			a.logger.Error(msg)
		}
		if sleepErr := a.clock.Sleep(ctx, a.cfg.RestartDelay); sleepErr != nil {
			return fmt.Errorf("restart countdown: %w", sleepErr)
		}
		return nil
	}
	state.Previous = &cp
	a.logger.Info("resuming previous download",
		zap.String("step", string(cp.Step)),
		zap.Int("category_id", cp.CategoryID),
		zap.Int("last_saved_topic", cp.LastSavedTopicID),
		zap.Int("topic_download_index", cp.TopicDownloadIndex),
		zap.Int("last_user_id", cp.LastUserID),
	)
	return nil
}

// resumeQueue drops the categories the previous run already finished.
func (a *Archiver) resumeQueue(state *RunState) []*Category {
	prev := state.Previous
	if prev == nil || prev.Step != StepTopics {
		return state.Categories
	}
	for i, category := range state.Categories {
		if category.ID != prev.CategoryID {
			continue
		}
		for _, done := range state.Categories[:i] {
			a.logger.Info("category will be skipped as it seems to already be downloaded", zap.Int("category_id", done.ID))
		}
		return state.Categories[i:]
	}
	a.logger.Warn("resume category not found in category list, archiving every category",
		zap.Int("category_id", prev.CategoryID))
	state.Previous = nil
	return state.Categories
}

// get fetches url. Failures other than cancellation come back as a zero
// status so callers treat them like any failed response.
func (a *Archiver) get(ctx context.Context, url string) (fetcher.Response, error) {
	resp, err := a.fetch.Fetch(ctx, url)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fetcher.Response{}, ctxErr
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return fetcher.Response{}, err
		}
		a.logger.Warn("request failed", zap.String("url", url), zap.Error(err))
		return fetcher.Response{URL: url}, nil
	}
	return resp, nil
}

// save writes rel and logs failures; it reports whether the write succeeded.
func (a *Archiver) save(rel string, data []byte) bool {
	if err := a.files.Write(rel, data); err != nil {
		a.logger.Error("failed to write archive file", zap.String("path", rel), zap.Error(err))
		return false
	}
	return true
}

func (a *Archiver) emit(evt progress.Event) {
	if a.progress == nil {
		return
	}
	evt.RunID = a.runID
	evt.TS = a.clock.Now()
	a.progress.Emit(evt)
}

func progressResult(r Result) progress.Result {
	if r == PartialFailure {
		return progress.ResultPartial
	}
	return progress.ResultSuccess
}
