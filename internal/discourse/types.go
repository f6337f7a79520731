package discourse

import (
	"encoding/json"
	"fmt"
	"path"
	"strconv"
	"strings"
)

// CategoryListing is the body of the categories endpoint.
type CategoryListing struct {
	CategoryList struct {
		Categories []Document `json:"categories"`
	} `json:"category_list"`
}

// CategoryShow is the body of a category's show endpoint.
type CategoryShow struct {
	Category Document `json:"category"`
}

// TopicRef is a topic as it appears in a topic list.
type TopicRef struct {
	ID         int `json:"id"`
	CategoryID int `json:"category_id"`
}

// TopicListPage is one page of a category or tag topic list.
type TopicListPage struct {
	TopicList struct {
		MoreTopicsURL string     `json:"more_topics_url"`
		Topics        []TopicRef `json:"topics"`
	} `json:"topic_list"`
}

// HasMore reports whether the server advertised a further page.
func (p TopicListPage) HasMore() bool {
	return strings.TrimSpace(p.TopicList.MoreTopicsURL) != ""
}

// TopicDetail is the body of a topic's detail endpoint.
type TopicDetail struct {
	ID         int `json:"id"`
	PostsCount int `json:"posts_count"`
	PostStream struct {
		Stream []int      `json:"stream"`
		Posts  []Document `json:"posts"`
	} `json:"post_stream"`
}

// PostBatch is the body of the posts batch endpoint.
type PostBatch struct {
	PostStream struct {
		Posts []Document `json:"posts"`
	} `json:"post_stream"`
}

// DirectoryUser is the user block inside a directory item.
type DirectoryUser struct {
	ID             int    `json:"id"`
	Username       string `json:"username"`
	AvatarTemplate string `json:"avatar_template"`
}

// DirectoryItem pairs the raw directory entry with its decoded user.
type DirectoryItem struct {
	Raw  Document
	User DirectoryUser
}

// DirectoryPage is one page of the user directory.
type DirectoryPage struct {
	Items []DirectoryItem
	Total int
}

// UserActionsPage is one page of a user's activity stream.
type UserActionsPage struct {
	UserActions []json.RawMessage `json:"user_actions"`
}

// TagList is the body of the tags endpoint.
type TagList struct {
	Tags []Document `json:"tags"`
}

// TagID returns a tag's identifier; older forums use the name, newer ones a
// number.
func TagID(tag Document) (string, bool) {
	if s, ok := tag.String("id"); ok && s != "" {
		return s, true
	}
	if n, ok := tag.Int("id"); ok {
		return strconv.Itoa(n), true
	}
	return "", false
}

// Group is an entry of the group list.
type Group struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	FlairURL string `json:"flair_url"`
}

// GroupPage is one page of the group list.
type GroupPage struct {
	Groups []Group `json:"groups"`
}

// Decode unmarshals body into v with a uniform error.
func Decode(body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode %T: %w", v, err)
	}
	return nil
}

// DecodeDirectoryPage parses a user directory page, keeping each raw entry.
func DecodeDirectoryPage(body []byte) (DirectoryPage, error) {
	var envelope struct {
		Items []Document `json:"directory_items"`
		Meta  struct {
			Total int `json:"total_rows_directory_items"`
		} `json:"meta"`
	}
	if err := Decode(body, &envelope); err != nil {
		return DirectoryPage{}, err
	}
	page := DirectoryPage{Total: envelope.Meta.Total}
	for _, raw := range envelope.Items {
		var user DirectoryUser
		if err := raw.Decode("user", &user); err != nil {
			continue
		}
		page.Items = append(page.Items, DirectoryItem{Raw: raw, User: user})
	}
	return page, nil
}

// PostID returns a post document's id.
func PostID(post Document) (int, bool) {
	return post.Int("id")
}

// Ext returns the file extension of a URL path, query ignored. An empty
// result means the URL carries none.
func Ext(rawURL string) string {
	p := rawURL
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	return path.Ext(p)
}
