package archive

import (
	"context"
	"net/http"
	"path/filepath"
	"strconv"

	"go.uber.org/zap"

	"github.com/JakeFAU/discourse-archiver/internal/discourse"
)

// ArchiveUsers walks the user directory and saves each user's profile,
// avatar, badges and activity. Users whose profile or avatar failed are
// retried once at the end. With a USERS checkpoint the walk skips to the
// user after the saved one.
func (a *Archiver) ArchiveUsers(ctx context.Context, state *RunState) (Result, error) {
	if state == nil {
		return PartialFailure, ErrNilState
	}
	resumeAfter := Unset
	if prev := state.Previous; prev != nil && prev.Step == StepUsers {
		resumeAfter = prev.LastUserID
		state.Previous = nil
	}

	result, incomplete, found, err := a.walkDirectory(ctx, state, resumeAfter)
	if err != nil {
		return result, err
	}
	if !found {
		a.logger.Warn("saved user not found in the directory, downloading every user",
			zap.Int("last_user_id", resumeAfter))
		var again []discourse.DirectoryItem
		result, again, _, err = a.walkDirectory(ctx, state, Unset)
		if err != nil {
			return result, err
		}
		incomplete = again
	}

	if len(incomplete) > 0 {
		a.logger.Info("retrying incomplete users", zap.Int("users", len(incomplete)))
	}
	for _, item := range incomplete {
		complete, err := a.archiveUser(ctx, item, true)
		if err != nil {
			return PartialFailure, err
		}
		if !complete {
			a.logger.Error("user is still incomplete", zap.String("username", item.User.Username))
			result = PartialFailure
		}
	}
	a.logger.Info("finished downloading users")
	return result, nil
}

// walkDirectory pages through the directory. found is false only when a
// resume user was requested and never seen.
func (a *Archiver) walkDirectory(
	ctx context.Context,
	state *RunState,
	resumeAfter int,
) (result Result, incomplete []discourse.DirectoryItem, found bool, err error) {
	result = Success
	skipping := resumeAfter != Unset
	failed := 0
	done := 0

	for page := 0; ; page++ {
		resp, err := a.get(ctx, a.endpoints.Directory(page))
		if err != nil {
			return PartialFailure, incomplete, !skipping, err
		}
		var dir discourse.DirectoryPage
		ok := resp.OK()
		if ok {
			dir, err = discourse.DecodeDirectoryPage(resp.Body)
			if err != nil {
				a.logger.Error("directory page unreadable", zap.Int("page", page), zap.Error(err))
				ok = false
			}
		} else {
			if resp.StatusCode == http.StatusForbidden && a.cfg.FailOn403 {
				a.logger.Error("directory is forbidden, stopping the user download", zap.Int("page", page))
				return PartialFailure, incomplete, !skipping, nil
			}
			a.logger.Error("failed to get directory page", zap.Int("page", page), zap.Int("status", resp.StatusCode))
		}
		if !ok {
			result = PartialFailure
			failed++
			if a.cfg.MaxFailedPages != Unset && failed >= a.cfg.MaxFailedPages {
				a.logger.Error("too many failed directory pages, stopping", zap.Int("failed", failed))
				break
			}
			continue
		}
		failed = 0
		if len(dir.Items) == 0 {
			break
		}
		a.save(directoryPagePath(page), resp.Body)

		for _, item := range dir.Items {
			if skipping {
				if item.User.ID == resumeAfter {
					skipping = false
					a.logger.Info("resuming user download", zap.String("after", item.User.Username))
				}
				continue
			}
			complete, err := a.archiveUser(ctx, item, false)
			if err != nil {
				return PartialFailure, incomplete, true, err
			}
			if !complete {
				incomplete = append(incomplete, item)
			}
			done++
			state.Checkpoint.Step = StepUsers
			state.Checkpoint.LastUserID = item.User.ID
			if err := a.checkpoints.Save(state.Checkpoint); err != nil {
				return PartialFailure, incomplete, true, err
			}
			a.logger.Debug("downloaded user",
				zap.String("username", item.User.Username), zap.Int("done", done), zap.Int("total", dir.Total))
		}
	}
	return result, incomplete, !skipping, nil
}

// archiveUser saves one user. complete is false when the profile or an
// avatar could not be saved.
func (a *Archiver) archiveUser(ctx context.Context, item discourse.DirectoryItem, retry bool) (bool, error) {
	user := item.User
	dir := userDir(user.ID)
	logger := a.logger.With(zap.String("username", user.Username))
	complete := true

	resp, err := a.get(ctx, a.endpoints.User(user.Username))
	if err != nil {
		return false, err
	}
	var profile discourse.Document
	if resp.OK() {
		profile, err = discourse.Parse(resp.Body)
		if err == nil {
			profile, err = profile.With("directory_item", item.Raw)
		}
	}
	switch {
	case resp.OK() && err == nil:
		if a.save(filepath.Join(dir, "user.json"), profile.Bytes()) {
			_ = a.files.Remove(filepath.Join(dir, "user_d.json"))
		} else {
			complete = false
		}
	default:
		complete = false
		logger.Warn("failed to get user profile, saving the directory entry", zap.Int("status", resp.StatusCode))
		if !retry {
			a.save(filepath.Join(dir, "user_d.json"), item.Raw.Bytes())
		}
	}

	if user.AvatarTemplate != "" {
		sizes := []int{discourse.LargestAvatarSize}
		if a.cfg.AllAvatarSizes {
			sizes = discourse.AvatarSizes
		}
		for _, size := range sizes {
			url := a.endpoints.Avatar(user.AvatarTemplate, size)
			resp, err := a.get(ctx, url)
			if err != nil {
				return false, err
			}
			name := "avatar_" + strconv.Itoa(size) + discourse.Ext(url)
			if !resp.OK() || !a.save(filepath.Join(dir, name), resp.Body) {
				logger.Warn("failed to get avatar", zap.Int("size", size), zap.Int("status", resp.StatusCode))
				complete = false
			}
		}
	}

	if retry {
		return complete, nil
	}

	resp, err = a.get(ctx, a.endpoints.UserBadges(user.Username))
	if err != nil {
		return false, err
	}
	if resp.OK() {
		a.save(filepath.Join(dir, "badges.json"), resp.Body)
	} else {
		logger.Debug("no badges saved", zap.Int("status", resp.StatusCode))
	}

	if err := a.archiveUserActions(ctx, user, dir); err != nil {
		return false, err
	}
	return complete, nil
}

// archiveUserActions saves the first page of activity, or every page until
// an empty one when AllUserActions is set.
func (a *Archiver) archiveUserActions(ctx context.Context, user discourse.DirectoryUser, dir string) error {
	for page, offset := 0, 0; ; page, offset = page+1, offset+discourse.UserActionsPageSize {
		resp, err := a.get(ctx, a.endpoints.UserActions(user.Username, offset))
		if err != nil {
			return err
		}
		if !resp.OK() {
			a.logger.Warn("failed to get user actions",
				zap.String("username", user.Username), zap.Int("page", page), zap.Int("status", resp.StatusCode))
			return nil
		}
		var actions discourse.UserActionsPage
		if err := discourse.Decode(resp.Body, &actions); err != nil || len(actions.UserActions) == 0 {
			if page == 0 {
				a.save(filepath.Join(dir, "actions", "page_0.json"), resp.Body)
			}
			return nil
		}
		a.save(filepath.Join(dir, "actions", "page_"+strconv.Itoa(page)+".json"), resp.Body)
		if !a.cfg.AllUserActions {
			return nil
		}
	}
}
