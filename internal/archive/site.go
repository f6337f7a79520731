package archive

import (
	"context"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/discourse-archiver/internal/discourse"
)

// ArchiveSite saves the site metadata.
func (a *Archiver) ArchiveSite(ctx context.Context) (Result, error) {
	resp, err := a.get(ctx, a.endpoints.Site())
	if err != nil {
		return PartialFailure, err
	}
	if !resp.OK() {
		a.logger.Error("failed to get site info", zap.Int("status", resp.StatusCode))
		return PartialFailure, nil
	}
	if !a.save(filepath.Join("site", "site.json"), resp.Body) {
		return PartialFailure, nil
	}
	return Success, nil
}

// ArchiveGroups pages through the group list until it comes back empty,
// saving each page, every group's details and its flair image.
func (a *Archiver) ArchiveGroups(ctx context.Context) (Result, error) {
	result := Success
	failed := 0
	for page := 0; ; page++ {
		resp, err := a.get(ctx, a.endpoints.Groups(page))
		if err != nil {
			return PartialFailure, err
		}
		var groups discourse.GroupPage
		if resp.OK() {
			err = discourse.Decode(resp.Body, &groups)
		}
		if !resp.OK() || err != nil {
			a.logger.Error("failed to get group page",
				zap.Int("page", page), zap.Int("status", resp.StatusCode), zap.Error(err))
			result = PartialFailure
			failed++
			if a.cfg.MaxFailedPages != Unset && failed >= a.cfg.MaxFailedPages {
				break
			}
			continue
		}
		failed = 0
		if len(groups.Groups) == 0 {
			break
		}
		a.save(filepath.Join("groups", "page_"+strconv.Itoa(page)+".json"), resp.Body)

		for _, group := range groups.Groups {
			r, err := a.archiveGroup(ctx, group)
			if err != nil {
				return PartialFailure, err
			}
			result = result.Merge(r)
		}
	}
	a.logger.Info("finished downloading groups")
	return result, nil
}

func (a *Archiver) archiveGroup(ctx context.Context, group discourse.Group) (Result, error) {
	base := groupBase(group.ID, group.Name)
	result := Success

	resp, err := a.get(ctx, a.endpoints.Group(group.Name))
	if err != nil {
		return PartialFailure, err
	}
	if !resp.OK() || !a.save(base+".json", resp.Body) {
		a.logger.Error("failed to save group", zap.String("group", group.Name), zap.Int("status", resp.StatusCode))
		result = PartialFailure
	}

	// flair_url may also name a font icon
	if !strings.HasPrefix(group.FlairURL, "http") && !strings.HasPrefix(group.FlairURL, "/") {
		return result, nil
	}
	url := a.endpoints.Upload(group.FlairURL)
	resp, err = a.get(ctx, url)
	if err != nil {
		return PartialFailure, err
	}
	if !resp.OK() || !a.save(base+"_flair"+discourse.Ext(url), resp.Body) {
		a.logger.Error("failed to save group flair", zap.String("group", group.Name), zap.Int("status", resp.StatusCode))
		result = PartialFailure
	}
	return result, nil
}
