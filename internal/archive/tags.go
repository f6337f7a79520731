package archive

import (
	"context"
	"path/filepath"
	"strconv"

	"go.uber.org/zap"

	"github.com/JakeFAU/discourse-archiver/internal/discourse"
)

// ArchiveTags saves the tag list, each tag's entry and its topic list: the
// first page as tag_info.json, or every page when AllTagExtras is set.
func (a *Archiver) ArchiveTags(ctx context.Context) (Result, error) {
	resp, err := a.get(ctx, a.endpoints.Tags())
	if err != nil {
		return PartialFailure, err
	}
	if !resp.OK() {
		a.logger.Error("failed to get tag list", zap.Int("status", resp.StatusCode))
		return PartialFailure, nil
	}
	a.save(filepath.Join("tags", "tags.json"), resp.Body)

	var list discourse.TagList
	if err := discourse.Decode(resp.Body, &list); err != nil {
		a.logger.Error("tag list unreadable", zap.Error(err))
		return PartialFailure, nil
	}

	result := Success
	for _, tag := range list.Tags {
		id, ok := discourse.TagID(tag)
		if !ok {
			a.logger.Warn("tag without an id, skipping")
			result = PartialFailure
			continue
		}
		if !a.save(filepath.Join(tagDir(id), "tag.json"), tag.Bytes()) {
			result = PartialFailure
			continue
		}
		r, err := a.archiveTagPages(ctx, id)
		if err != nil {
			return PartialFailure, err
		}
		result = result.Merge(r)
	}
	a.logger.Info("finished downloading tags", zap.Int("tags", len(list.Tags)))
	return result, nil
}

func (a *Archiver) archiveTagPages(ctx context.Context, id string) (Result, error) {
	if !a.cfg.AllTagExtras {
		resp, err := a.get(ctx, a.endpoints.Tag(id, 0))
		if err != nil {
			return PartialFailure, err
		}
		if !resp.OK() {
			a.logger.Error("failed to get tag info", zap.String("tag", id), zap.Int("status", resp.StatusCode))
			return PartialFailure, nil
		}
		if !a.save(filepath.Join(tagDir(id), "tag_info.json"), resp.Body) {
			return PartialFailure, nil
		}
		return Success, nil
	}

	result := Success
	failed := 0
	for page := 0; ; page++ {
		resp, err := a.get(ctx, a.endpoints.Tag(id, page))
		if err != nil {
			return PartialFailure, err
		}
		var list discourse.TopicListPage
		if resp.OK() {
			err = discourse.Decode(resp.Body, &list)
		}
		if !resp.OK() || err != nil {
			a.logger.Error("failed to get tag page",
				zap.String("tag", id), zap.Int("page", page), zap.Int("status", resp.StatusCode), zap.Error(err))
			result = PartialFailure
			failed++
			if a.cfg.MaxFailedPages != Unset && failed >= a.cfg.MaxFailedPages {
				return result, nil
			}
			continue
		}
		failed = 0
		if len(list.TopicList.Topics) == 0 {
			return result, nil
		}
		a.save(filepath.Join(tagDir(id), "pages", "page_"+strconv.Itoa(page)+".json"), resp.Body)
	}
}
