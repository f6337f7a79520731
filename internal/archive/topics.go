package archive

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/discourse-archiver/internal/discourse"
	"github.com/JakeFAU/discourse-archiver/internal/progress"
)

// topicPass selects how a topic loop treats previous work.
type topicPass struct {
	// resume honors the loaded checkpoint for this category.
	resume bool
	// force refetches topics even when skip-existing would skip them.
	force bool
}

// ArchiveTopics downloads every topic in urls, in ascending id order, into
// category. The checkpoint is saved after each saved topic.
func (a *Archiver) ArchiveTopics(ctx context.Context, state *RunState, category *Category, urls *TopicURLs) (Result, error) {
	return a.archiveTopics(ctx, state, category, urls, topicPass{resume: true})
}

func (a *Archiver) archiveTopics(
	ctx context.Context,
	state *RunState,
	category *Category,
	urls *TopicURLs,
	pass topicPass,
) (Result, error) {
	if state == nil {
		return PartialFailure, ErrNilState
	}
	if category == nil {
		return PartialFailure, ErrNilCategory
	}
	logger := a.logger.With(zap.Int("category_id", category.ID))
	if urls.Len() == 0 {
		logger.Info("category has no topics to archive")
		return Success, nil
	}

	first, last, _ := urls.Bounds()
	cp := &state.Checkpoint
	cp.Step = StepTopics
	cp.CategoryID = category.ID
	cp.TopicFirstID = first
	cp.TopicLastID = last
	cp.TopicDownloadIndex = Unset
	cp.LastSavedTopicID = Unset

	entries := urls.Entries()
	resumeFrom := Unset
	if pass.resume {
		resumeFrom = a.resumePoint(state, category, entries)
		if resumeFrom != Unset {
			cp.TopicDownloadIndex = resumeFrom
			cp.LastSavedTopicID = entries[resumeFrom].ID
		}
	}

	result := Success
	untilNotify := a.cfg.ProgressInterval
	for i, entry := range entries {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if i <= resumeFrom {
			if t := a.restoreTopic(category.ID, entry); t != nil {
				category.upsertTopic(t)
			}
			continue
		}

		t, r, err := a.archiveTopic(ctx, category, entry, pass)
		result = result.Merge(r)
		if err != nil {
			return result, err
		}
		if t != nil {
			category.upsertTopic(t)
			cp.TopicDownloadIndex = i
			cp.LastSavedTopicID = entry.ID
			if err := a.checkpoints.Save(*cp); err != nil {
				return PartialFailure, err
			}
		}

		untilNotify--
		if untilNotify <= 0 {
			untilNotify = a.cfg.ProgressInterval
			logger.Info("downloaded topics", zap.Int("done", i+1), zap.Int("total", len(entries)))
			a.emit(progress.Event{
				Stage:      progress.StageTopicProgress,
				CategoryID: category.ID,
				Done:       i + 1,
				Total:      len(entries),
			})
		}
	}
	a.emit(progress.Event{
		Stage:      progress.StageTopicProgress,
		CategoryID: category.ID,
		Done:       len(entries),
		Total:      len(entries),
	})
	return result, nil
}

// resumePoint returns the ordinal of the last topic saved by the previous
// run, or Unset when the checkpoint does not describe this exact topic list.
// The checkpoint is consumed either way.
func (a *Archiver) resumePoint(state *RunState, category *Category, entries []TopicURL) int {
	prev := state.Previous
	if prev == nil || prev.Step != StepTopics || prev.CategoryID != category.ID {
		return Unset
	}
	state.Previous = nil

	first, last := entries[0].ID, entries[len(entries)-1].ID
	if !prev.resumesTopics(category.ID, first, last) {
		a.logger.Warn("cannot resume topic download, topic list bounds differ from the resume file",
			zap.Int("category_id", category.ID),
			zap.Int("saved_first", prev.TopicFirstID), zap.Int("saved_last", prev.TopicLastID),
			zap.Int("first", first), zap.Int("last", last))
		return Unset
	}
	idx := prev.TopicDownloadIndex
	if idx >= len(entries) || entries[idx].ID != prev.LastSavedTopicID {
		a.logger.Warn("cannot resume topic download, saved topic is not at the saved index",
			zap.Int("category_id", category.ID),
			zap.Int("index", idx), zap.Int("last_saved_topic", prev.LastSavedTopicID))
		return Unset
	}
	a.logger.Info("resuming topic download",
		zap.Int("category_id", category.ID), zap.Int("after_topic", prev.LastSavedTopicID),
		zap.Int("remaining", len(entries)-idx-1))
	return idx
}

// archiveTopic fetches one topic and its posts. A nil topic with a nil error
// means the topic could not be saved.
func (a *Archiver) archiveTopic(ctx context.Context, category *Category, entry TopicURL, pass topicPass) (*Topic, Result, error) {
	logger := a.logger.With(zap.Int("category_id", category.ID), zap.Int("topic_id", entry.ID))

	if !pass.force && a.cfg.SkipExistingTopics && a.topicExists(category.ID, entry.ID) {
		if t := a.restoreTopic(category.ID, entry); t != nil {
			logger.Debug("skipping topic as it appears to already exist")
			return t, Success, nil
		}
	}

	resp, err := a.get(ctx, entry.URL)
	if err != nil {
		return nil, PartialFailure, err
	}
	if !resp.OK() {
		logger.Error("failed to download topic, it will not be archived", zap.Int("status", resp.StatusCode))
		return nil, PartialFailure, nil
	}
	var detail discourse.TopicDetail
	if err := discourse.Decode(resp.Body, &detail); err != nil {
		logger.Error("topic body unreadable", zap.Error(err))
		return nil, PartialFailure, nil
	}
	doc, err := discourse.Parse(resp.Body)
	if err != nil {
		logger.Error("topic body is not a JSON object", zap.Error(err))
		return nil, PartialFailure, nil
	}

	if err := a.files.Write(topicPath(category.ID, entry.ID), resp.Body); err != nil {
		logger.Error("failed to write topic", zap.Error(err))
		return nil, PartialFailure, nil
	}
	if err := a.files.MkdirAll(postsDir(category.ID, entry.ID)); err != nil {
		logger.Error("failed to create posts directory", zap.Error(err))
		return nil, PartialFailure, nil
	}

	t := &Topic{
		ID:                entry.ID,
		RequestURL:        entry.URL,
		ReportedPostCount: detail.PostsCount,
		Doc:               doc,
	}
	result := Success
	stream := detail.PostStream.Stream
	if len(stream) <= a.cfg.BatchLimit {
		result = a.savePosts(category.ID, t, detail.PostStream.Posts)
	} else {
		result, err = a.downloadPostBatches(ctx, category.ID, t, stream)
		if err != nil {
			return nil, result, err
		}
	}

	if countMismatch(a.cfg.StrictCounts, len(t.PostIDs), t.ReportedPostCount) {
		logger.Warn("saved post count does not match the reported count",
			zap.Int("saved", len(t.PostIDs)), zap.Int("reported", t.ReportedPostCount))
	}
	return t, result, nil
}

// downloadPostBatches fetches the stream in groups of at most BatchLimit ids
// and keeps each raw response as a chunk file.
func (a *Archiver) downloadPostBatches(ctx context.Context, categoryID int, t *Topic, stream []int) (Result, error) {
	pending := make([]int, 0, len(stream))
	for _, id := range stream {
		if a.cfg.SkipExistingPosts && a.files.Exists(postPath(categoryID, t.ID, id)) {
			t.PostIDs = append(t.PostIDs, id)
			continue
		}
		pending = append(pending, id)
	}

	result := Success
	for n, batch := range Partition(pending, a.cfg.BatchLimit) {
		resp, err := a.get(ctx, a.endpoints.Posts(t.ID, batch))
		if err != nil {
			return PartialFailure, err
		}
		if !resp.OK() {
			a.logger.Error("failed to download post chunk, these posts will not be archived",
				zap.Int("topic_id", t.ID), zap.Int("chunk", n), zap.Int("status", resp.StatusCode))
			result = PartialFailure
			continue
		}
		a.save(chunkPath(categoryID, t.ID, n), resp.Body)

		var chunk discourse.PostBatch
		if err := discourse.Decode(resp.Body, &chunk); err != nil {
			a.logger.Error("post chunk unreadable", zap.Int("topic_id", t.ID), zap.Int("chunk", n), zap.Error(err))
			result = PartialFailure
			continue
		}
		result = result.Merge(a.savePosts(categoryID, t, chunk.PostStream.Posts))
	}
	return result, nil
}

func (a *Archiver) savePosts(categoryID int, t *Topic, posts []discourse.Document) Result {
	result := Success
	for _, post := range posts {
		id, ok := discourse.PostID(post)
		if !ok {
			a.logger.Warn("post without an id", zap.Int("topic_id", t.ID))
			result = PartialFailure
			continue
		}
		if !a.save(postPath(categoryID, t.ID, id), post.Bytes()) {
			result = PartialFailure
			continue
		}
		t.PostIDs = append(t.PostIDs, id)
	}
	return result
}

// restoreTopic rebuilds a topic record from a previous run's files without
// any request: the post ids are those of the stored stream whose post files
// exist. It returns nil when the topic file is missing or unreadable.
// topicExists reports whether a previous run left the topic directory, its
// detail file and its posts directory.
func (a *Archiver) topicExists(categoryID, topicID int) bool {
	return a.files.IsDir(topicDir(categoryID, topicID)) &&
		a.files.Exists(topicPath(categoryID, topicID)) &&
		a.files.IsDir(postsDir(categoryID, topicID))
}

func (a *Archiver) restoreTopic(categoryID int, entry TopicURL) *Topic {
	data, err := a.files.Read(topicPath(categoryID, entry.ID))
	if err != nil {
		return nil
	}
	var detail discourse.TopicDetail
	if err := discourse.Decode(data, &detail); err != nil {
		a.logger.Debug("stored topic unreadable", zap.Int("topic_id", entry.ID), zap.Error(err))
		return nil
	}
	t := &Topic{ID: entry.ID, RequestURL: entry.URL, ReportedPostCount: detail.PostsCount}
	for _, id := range detail.PostStream.Stream {
		if a.files.Exists(postPath(categoryID, entry.ID, id)) {
			t.PostIDs = append(t.PostIDs, id)
		}
	}
	return t
}
