package archive

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/discourse-archiver/internal/discourse"
	"github.com/JakeFAU/discourse-archiver/internal/progress"
)

// maxListingResets bounds how often a moved topic list may restart
// pagination in a row.
const maxListingResets = 5

// ArchiveCategory writes the category metadata and logo, collects its topic
// URLs and archives every topic.
func (a *Archiver) ArchiveCategory(ctx context.Context, state *RunState, category *Category) (Result, error) {
	return a.archiveCategory(ctx, state, category, false)
}

// archiveCategory with force set ignores the skip-existing heuristics; the
// verification sweep repairs through it.
func (a *Archiver) archiveCategory(ctx context.Context, state *RunState, category *Category, force bool) (Result, error) {
	if state == nil {
		return PartialFailure, ErrNilState
	}
	if category == nil {
		return PartialFailure, ErrNilCategory
	}
	logger := a.logger.With(zap.Int("category_id", category.ID), zap.String("slug", category.Slug))

	if !force && a.cfg.SkipExistingCategories && a.categoryExists(category.ID) {
		logger.Info("skipping category as it appears to already exist")
		return Success, nil
	}

	start := a.clock.Now()
	a.emit(progress.Event{Stage: progress.StageCategoryStart, CategoryID: category.ID, Total: category.ReportedTopicCount})
	logger.Info("archiving category")

	if err := a.files.Write(categoryMetaPath(category.ID), category.Doc.Bytes()); err != nil {
		return PartialFailure, err
	}
	if err := a.files.MkdirAll(topicsDir(category.ID)); err != nil {
		return PartialFailure, err
	}

	result, err := a.downloadLogo(ctx, category)
	if err != nil {
		return result, err
	}

	urls, r, err := a.topicURLs(ctx, category)
	if err != nil {
		return result.Merge(r), err
	}
	result = result.Merge(r)

	category.Topics = nil
	r, err = a.archiveTopics(ctx, state, category, urls, topicPass{resume: true, force: force})
	result = result.Merge(r)
	if err != nil {
		return result, err
	}
	category.archived = true

	if a.cfg.DataCaching {
		a.writeDataCache(category)
	}

	a.emit(progress.Event{
		Stage:      progress.StageCategoryDone,
		CategoryID: category.ID,
		Done:       urls.Len(),
		Total:      category.ReportedTopicCount,
		Result:     progressResult(result),
		Dur:        a.clock.Now().Sub(start),
	})
	logger.Info("finished category", zap.Int("topics", urls.Len()), zap.Stringer("result", result))
	return result, nil
}

func (a *Archiver) categoryExists(categoryID int) bool {
	return a.files.IsDir(categoryDir(categoryID)) &&
		a.files.Exists(categoryMetaPath(categoryID)) &&
		a.files.IsDir(topicsDir(categoryID))
}

func (a *Archiver) downloadLogo(ctx context.Context, category *Category) (Result, error) {
	logo, ok := category.Doc.Object("uploaded_logo")
	if !ok {
		return Success, nil
	}
	ref, ok := logo.String("url")
	if !ok || ref == "" {
		return Success, nil
	}
	url := a.endpoints.Upload(ref)
	resp, err := a.get(ctx, url)
	if err != nil {
		return PartialFailure, err
	}
	if !resp.OK() {
		a.logger.Error("could not download category logo",
			zap.Int("category_id", category.ID), zap.Int("status", resp.StatusCode))
		return PartialFailure, nil
	}
	if !a.save(categoryLogoPath(category.ID, discourse.Ext(url)), resp.Body) {
		return PartialFailure, nil
	}
	return Success, nil
}

// topicURLs loads the URL cache when allowed and valid, otherwise pages
// through the topic list. The collected set is cached again either way.
func (a *Archiver) topicURLs(ctx context.Context, category *Category) (*TopicURLs, Result, error) {
	path := urlCachePath(category.ID)
	if a.cfg.URLCaching && a.files.Exists(path) {
		data, err := a.files.Read(path)
		if err == nil {
			var urls *TopicURLs
			urls, err = DecodeURLCache(data)
			if err == nil {
				a.logger.Info("loaded topic urls from cache",
					zap.Int("category_id", category.ID), zap.Int("topics", urls.Len()))
				return urls, Success, nil
			}
		}
		a.logger.Warn("url cache unusable, collecting topic urls again",
			zap.Int("category_id", category.ID), zap.Error(err))
	}

	urls, result, err := a.discoverTopicURLs(ctx, category)
	if err != nil {
		return nil, result, err
	}
	if a.cfg.URLCaching {
		if err := a.files.Write(path, EncodeURLCache(urls)); err != nil {
			a.logger.Warn("failed to write url cache", zap.Int("category_id", category.ID), zap.Error(err))
		}
	}
	return urls, result, nil
}

// discoverTopicURLs pages through the category's topic list. Topics of other
// categories (subcategories, pinned globals) count against a skip budget that
// is refilled by every topic of this category; running out ends pagination
// after the current page. A moved list restarts from page zero.
func (a *Archiver) discoverTopicURLs(ctx context.Context, category *Category) (*TopicURLs, Result, error) {
	logger := a.logger.With(zap.Int("category_id", category.ID))
	urls := NewTopicURLs()
	result := Success
	remaining := a.cfg.SkipBudget
	untilNotify := a.cfg.URLNotifyInterval
	failed := 0
	resets := 0

	for page := 0; ; {
		resp, err := a.get(ctx, a.endpoints.TopicList(category.Slug, category.ID, page))
		if err != nil {
			return nil, result, err
		}

		if resp.Redirected() {
			resets++
			if resets > maxListingResets {
				logger.Error("topic list keeps moving, giving up on pagination", zap.Int("resets", resets))
				return urls, PartialFailure, nil
			}
			logger.Info("topic list moved, restarting from the first page")
			urls.Reset()
			page = 0
			failed = 0
			remaining = a.cfg.SkipBudget
			continue
		}

		var list discourse.TopicListPage
		ok := resp.OK()
		if ok {
			if err := discourse.Decode(resp.Body, &list); err != nil {
				logger.Error("topic list page unreadable", zap.Int("page", page), zap.Error(err))
				ok = false
			}
		} else {
			logger.Error("failed to get topic list page", zap.Int("page", page), zap.Int("status", resp.StatusCode))
		}
		if !ok {
			result = PartialFailure
			failed++
			if a.cfg.MaxFailedPages != Unset && failed >= a.cfg.MaxFailedPages {
				logger.Error("too many failed topic list pages, stopping", zap.Int("failed", failed))
				break
			}
			page++
			continue
		}
		failed = 0
		a.save(topicPagePath(category.ID, page), resp.Body)

		more := list.HasMore()
		for _, ref := range list.TopicList.Topics {
			if !a.cfg.IncludeSubcategoryTopics && ref.CategoryID != category.ID {
				if remaining <= 0 {
					more = false
				}
				remaining--
				continue
			}
			remaining = a.cfg.SkipBudget
			urls.Add(ref.ID, a.endpoints.Topic(ref.ID))
		}

		page++
		untilNotify--
		if untilNotify <= 0 {
			untilNotify = a.cfg.URLNotifyInterval
			logger.Info("collecting topic urls",
				zap.Int("collected", urls.Len()), zap.Int("reported", category.ReportedTopicCount))
		}
		if !more {
			break
		}
	}

	if countMismatch(a.cfg.StrictCounts, urls.Len(), category.ReportedTopicCount) {
		logger.Warn("collected topic count does not match the reported count",
			zap.Int("collected", urls.Len()), zap.Int("reported", category.ReportedTopicCount))
	}
	logger.Info("collected topic urls", zap.Int("topics", urls.Len()))
	return urls, result, nil
}

// writeDataCache persists the category's topic records and releases them.
// On failure the records stay in memory for verification.
func (a *Archiver) writeDataCache(category *Category) {
	if err := a.files.Write(dataCachePath(category.ID), EncodeDataCache(category.Topics)); err != nil {
		a.logger.Warn("failed to write data cache, keeping topic records in memory",
			zap.Int("category_id", category.ID), zap.Error(err))
		return
	}
	category.releaseTopics()
}

// loadDataCache replaces the category's topic records with the cached ones.
// It reports false when no cache file exists.
func (a *Archiver) loadDataCache(category *Category) bool {
	path := dataCachePath(category.ID)
	if !a.files.Exists(path) {
		a.logger.Error("category has no data cache and cannot be verified", zap.Int("category_id", category.ID))
		return false
	}
	data, err := a.files.Read(path)
	if err != nil {
		a.logger.Error("failed to read data cache", zap.Int("category_id", category.ID), zap.Error(err))
		return false
	}
	entries, skipped := DecodeDataCache(data)
	for _, bad := range skipped {
		a.logger.Error("invalid data cache entry", zap.Int("category_id", category.ID), zap.Error(bad))
	}
	category.Topics = make([]*Topic, 0, len(entries))
	for _, entry := range entries {
		category.Topics = append(category.Topics, entry.Topic())
	}
	return true
}
