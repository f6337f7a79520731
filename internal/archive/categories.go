package archive

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/discourse-archiver/internal/discourse"
)

// DiscoverCategories lists every category, subcategories included, in
// listing order with each parent ahead of its children. Categories the filter
// rejects are dropped before any further request is made for them.
func (a *Archiver) DiscoverCategories(ctx context.Context) ([]*Category, error) {
	resp, err := a.get(ctx, a.endpoints.Categories())
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, fmt.Errorf("category listing returned http %d", resp.StatusCode)
	}
	var listing discourse.CategoryListing
	if err := discourse.Decode(resp.Body, &listing); err != nil {
		return nil, err
	}

	var out []*Category
	if err := a.collectCategories(ctx, listing.CategoryList.Categories, &out); err != nil {
		return nil, err
	}
	a.logger.Info("category discovery finished", zap.Int("categories", len(out)))
	return out, nil
}

func (a *Archiver) collectCategories(ctx context.Context, docs []discourse.Document, out *[]*Category) error {
	for _, doc := range docs {
		category, ok := NewCategory(doc)
		if !ok {
			a.logger.Warn("category entry without an id, skipping")
			continue
		}
		if a.cfg.Filter.Allows(category.ID) {
			if err := a.mergeCategoryShow(ctx, category); err != nil {
				return err
			}
			*out = append(*out, category)
		} else {
			a.logger.Info("category filtered out", zap.Int("category_id", category.ID))
		}

		if subs, ok := doc.Objects("subcategory_list"); ok && len(subs) > 0 {
			if err := a.collectCategories(ctx, subs, out); err != nil {
				return err
			}
		}
	}
	return nil
}

// mergeCategoryShow enriches the listing entry with the show endpoint. The
// listing's values win on conflicts. Failures leave the listing entry as is.
func (a *Archiver) mergeCategoryShow(ctx context.Context, category *Category) error {
	resp, err := a.get(ctx, a.endpoints.CategoryShow(category.ID))
	if err != nil {
		return err
	}
	if !resp.OK() {
		a.logger.Warn("could not fetch category details",
			zap.Int("category_id", category.ID), zap.Int("status", resp.StatusCode))
		return nil
	}
	var show discourse.CategoryShow
	if err := discourse.Decode(resp.Body, &show); err != nil || show.Category.IsZero() {
		a.logger.Warn("category details unreadable", zap.Int("category_id", category.ID), zap.Error(err))
		return nil
	}
	category.Doc = category.Doc.Merge(show.Category)
	if category.Slug == "" {
		category.Slug, _ = category.Doc.String("slug")
	}
	if category.ReportedTopicCount == 0 {
		category.ReportedTopicCount, _ = category.Doc.Int("topic_count")
	}
	return nil
}
