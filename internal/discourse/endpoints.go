package discourse

import (
	"net/url"
	"strconv"
	"strings"
)

// AvatarSizes lists every avatar rendition Discourse serves.
var AvatarSizes = []int{30, 40, 45, 48, 50, 67, 96, 120, 135, 180, 240, 360}

// LargestAvatarSize is the rendition fetched when only one is wanted.
const LargestAvatarSize = 360

// UserActionsPageSize is the offset step of the user actions endpoint.
const UserActionsPageSize = 30

// Endpoints builds API URLs for one forum.
type Endpoints struct {
	base string
}

// NewEndpoints returns builders rooted at base (trailing slash ignored).
func NewEndpoints(base string) Endpoints {
	return Endpoints{base: strings.TrimRight(base, "/")}
}

// Base returns the forum root URL.
func (e Endpoints) Base() string { return e.base }

// Categories lists the category tree including subcategories.
func (e Endpoints) Categories() string {
	return e.base + "/categories.json?include_subcategories=true"
}

// CategoryShow returns the detail endpoint of one category.
func (e Endpoints) CategoryShow(id int) string {
	return e.base + "/c/" + strconv.Itoa(id) + "/show.json"
}

// TopicList returns page of a category's topic list.
func (e Endpoints) TopicList(slug string, id, page int) string {
	return e.base + "/c/" + url.PathEscape(slug) + "/" + strconv.Itoa(id) + ".json?page=" + strconv.Itoa(page)
}

// Topic returns a topic's detail endpoint.
func (e Endpoints) Topic(id int) string {
	return e.base + "/t/" + strconv.Itoa(id) + ".json"
}

// Posts returns the batch endpoint for the given post ids of a topic.
func (e Endpoints) Posts(topicID int, postIDs []int) string {
	var b strings.Builder
	b.WriteString(e.base)
	b.WriteString("/t/")
	b.WriteString(strconv.Itoa(topicID))
	b.WriteString("/posts.json")
	for i, id := range postIDs {
		if i == 0 {
			b.WriteByte('?')
		} else {
			b.WriteByte('&')
		}
		b.WriteString("post_ids[]=")
		b.WriteString(strconv.Itoa(id))
	}
	return b.String()
}

// Directory returns a page of the all-time user directory.
func (e Endpoints) Directory(page int) string {
	return e.base + "/directory_items.json?period=all&page=" + strconv.Itoa(page)
}

// User returns a user's profile endpoint.
func (e Endpoints) User(username string) string {
	return e.base + "/u/" + url.PathEscape(username) + ".json"
}

// UserBadges returns a user's badge endpoint.
func (e Endpoints) UserBadges(username string) string {
	return e.base + "/user-badges/" + url.PathEscape(username) + ".json"
}

// UserActions returns a page of a user's activity starting at offset.
func (e Endpoints) UserActions(username string, offset int) string {
	return e.base + "/user_actions.json?username=" + url.QueryEscape(username) + "&offset=" + strconv.Itoa(offset)
}

// Avatar expands an avatar template for size.
func (e Endpoints) Avatar(template string, size int) string {
	return e.Upload(strings.ReplaceAll(template, "{size}", strconv.Itoa(size)))
}

// Tags lists every tag.
func (e Endpoints) Tags() string {
	return e.base + "/tags.json"
}

// Tag returns a page of a tag's topic list.
func (e Endpoints) Tag(id string, page int) string {
	return e.base + "/tag/" + url.PathEscape(id) + ".json?page=" + strconv.Itoa(page)
}

// Site returns the site metadata endpoint.
func (e Endpoints) Site() string {
	return e.base + "/site.json"
}

// Groups returns a page of the group list.
func (e Endpoints) Groups(page int) string {
	return e.base + "/groups.json?page=" + strconv.Itoa(page)
}

// Group returns a group's detail endpoint.
func (e Endpoints) Group(name string) string {
	return e.base + "/groups/" + url.PathEscape(name) + ".json"
}

// Upload resolves an upload reference: protocol-relative URLs get https,
// site-relative paths get the forum root, absolute URLs pass through.
func (e Endpoints) Upload(ref string) string {
	switch {
	case strings.HasPrefix(ref, "//"):
		return "https:" + ref
	case strings.HasPrefix(ref, "/"):
		return e.base + ref
	default:
		return ref
	}
}
