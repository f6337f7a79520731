package archive

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/discourse-archiver/internal/progress"
)

// CategoryReport is the verification outcome of one category.
type CategoryReport struct {
	ID                 int
	ReportedTopics     int
	RecordedTopics     int
	Verifiable         bool
	TopicCountMismatch bool
	PostCountMismatch  int
	MissingFiles       bool
	MissingTopics      int
	MissingPosts       int
	NeedsRedownload    bool
	RepairedTopics     int
	Repaired           bool
	// Skipped marks a category this run neither archived nor could load
	// from a data cache; nothing is known about it.
	Skipped bool

	topicsForRepair []TopicURL
}

// OK reports a category with nothing to flag.
func (r CategoryReport) OK() bool {
	if r.Skipped {
		return true
	}
	return r.Verifiable && !r.TopicCountMismatch && r.PostCountMismatch == 0 &&
		!r.MissingFiles && r.MissingTopics == 0 && r.MissingPosts == 0 && !r.NeedsRedownload
}

// Report summarizes a verification sweep.
type Report struct {
	Categories         []CategoryReport
	RepairedTopics     int
	RepairedCategories int
	Result             Result
}

// Problems counts the categories with findings.
func (r Report) Problems() int {
	n := 0
	for _, c := range r.Categories {
		if !c.OK() {
			n++
		}
	}
	return n
}

// Verify checks the archive against the reported counts (Tier 1) and, when
// thorough, against the files on disk (Tier 2), then repairs what Tier 2
// found: single topics are fetched again, categories with missing files or
// missing topics are archived again in full. Count mismatches alone are only
// reported; the result turns partial for unverifiable categories and failed
// repairs.
func (a *Archiver) Verify(ctx context.Context, state *RunState) (Report, error) {
	if state == nil {
		return Report{Result: PartialFailure}, ErrNilState
	}
	report := Report{Result: Success}
	a.logger.Info("verifying archive", zap.Int("categories", len(state.Categories)))

	for _, category := range state.Categories {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		cr := CategoryReport{ID: category.ID, ReportedTopics: category.ReportedTopicCount, Verifiable: true}
		if a.cfg.DataCaching {
			cr.Verifiable = a.loadDataCache(category)
		} else if !category.archived {
			a.logger.Info("category was not archived by this run and has no data cache, skipping verification",
				zap.Int("category_id", category.ID))
			cr.Verifiable = false
			cr.Skipped = true
			report.Categories = append(report.Categories, cr)
			continue
		}
		cr.RecordedTopics = len(category.Topics)
		if cr.Verifiable && a.cfg.VerifyCounts {
			a.checkCounts(category, &cr)
		}
		if a.cfg.VerifyThorough {
			a.checkFiles(category, &cr)
		}
		if a.cfg.DataCaching && len(cr.topicsForRepair) == 0 {
			category.releaseTopics()
		}
		if !cr.Verifiable {
			report.Result = PartialFailure
		}
		report.Categories = append(report.Categories, cr)
	}

	if a.cfg.VerifyThorough {
		if err := a.repair(ctx, state, &report); err != nil {
			return report, err
		}
	}

	a.emit(progress.Event{
		Stage:  progress.StageVerifyDone,
		Done:   report.RepairedTopics + report.RepairedCategories,
		Total:  len(report.Categories),
		Result: progressResult(report.Result),
	})
	if problems := report.Problems(); problems > 0 {
		a.logger.Warn("verification found problems", zap.Int("categories", problems))
	} else {
		a.logger.Info("verification found no problems")
	}
	return report, nil
}

// checkCounts is Tier 1: recorded topic and post counts against the
// reported ones under the configured count policy.
func (a *Archiver) checkCounts(category *Category, cr *CategoryReport) {
	if countMismatch(a.cfg.StrictCounts, len(category.Topics), category.ReportedTopicCount) {
		cr.TopicCountMismatch = true
		a.logger.Warn("topic count mismatch",
			zap.Int("category_id", category.ID),
			zap.Int("recorded", len(category.Topics)), zap.Int("reported", category.ReportedTopicCount))
	}
	for _, t := range category.Topics {
		if countMismatch(a.cfg.StrictCounts, len(t.PostIDs), t.ReportedPostCount) {
			cr.PostCountMismatch++
			a.logger.Warn("post count mismatch",
				zap.Int("category_id", category.ID), zap.Int("topic_id", t.ID),
				zap.Int("recorded", len(t.PostIDs)), zap.Int("reported", t.ReportedPostCount))
		}
	}
}

// checkFiles is Tier 2: every recorded topic and post must exist on disk.
func (a *Archiver) checkFiles(category *Category, cr *CategoryReport) {
	logger := a.logger.With(zap.Int("category_id", category.ID))
	if !a.files.IsDir(categoryDir(category.ID)) || !a.files.Exists(categoryMetaPath(category.ID)) {
		logger.Error("category files are missing, it will be archived again")
		cr.MissingFiles = true
		cr.NeedsRedownload = true
		return
	}
	// Only a shortfall triggers a full download, under either count policy;
	// a strict over-count stays a Tier 1 finding.
	if len(category.Topics) < category.ReportedTopicCount {
		logger.Error("topics are missing from the category, it will be archived again",
			zap.Int("recorded", len(category.Topics)), zap.Int("reported", category.ReportedTopicCount))
		cr.NeedsRedownload = true
	}

	for _, t := range category.Topics {
		broken := false
		switch {
		case !a.files.Exists(topicPath(category.ID, t.ID)):
			logger.Error("topic file is missing", zap.Int("topic_id", t.ID))
			cr.MissingTopics++
			broken = true
		case !a.files.IsDir(postsDir(category.ID, t.ID)):
			logger.Error("posts directory is missing", zap.Int("topic_id", t.ID))
			cr.MissingPosts += max(len(t.PostIDs), t.ReportedPostCount)
			broken = true
		default:
			if countMismatch(a.cfg.StrictCounts, len(t.PostIDs), t.ReportedPostCount) {
				broken = true
			}
			for _, id := range t.PostIDs {
				if !a.files.Exists(postPath(category.ID, t.ID, id)) {
					logger.Error("post file is missing", zap.Int("topic_id", t.ID), zap.Int("post_id", id))
					cr.MissingPosts++
					broken = true
				}
			}
		}
		if broken {
			cr.topicsForRepair = append(cr.topicsForRepair, TopicURL{ID: t.ID, URL: t.RequestURL})
		}
	}
}

func (a *Archiver) repair(ctx context.Context, state *RunState, report *Report) error {
	byID := make(map[int]*Category, len(state.Categories))
	for _, category := range state.Categories {
		byID[category.ID] = category
	}

	var redownload []*Category
	for i := range report.Categories {
		cr := &report.Categories[i]
		category := byID[cr.ID]
		if cr.NeedsRedownload {
			redownload = append(redownload, category)
			continue
		}
		if len(cr.topicsForRepair) == 0 {
			continue
		}
		a.logger.Info("repairing topics",
			zap.Int("category_id", cr.ID), zap.Int("topics", len(cr.topicsForRepair)))
		urls := NewTopicURLs(cr.topicsForRepair...)
		r, err := a.archiveTopics(ctx, state, category, urls, topicPass{force: true})
		if err != nil {
			return err
		}
		report.Result = report.Result.Merge(r)
		cr.RepairedTopics = urls.Len()
		report.RepairedTopics += urls.Len()
		if a.cfg.DataCaching {
			a.writeDataCache(category)
		}
	}

	for _, category := range redownload {
		a.logger.Info("archiving category again", zap.Int("category_id", category.ID))
		r, err := a.archiveCategory(ctx, state, category, true)
		if err != nil {
			return err
		}
		report.Result = report.Result.Merge(r)
		report.RepairedCategories++
		for i := range report.Categories {
			if report.Categories[i].ID == category.ID {
				report.Categories[i].Repaired = true
			}
		}
	}
	return nil
}
