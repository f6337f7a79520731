package discourse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEndpoints(t *testing.T) {
	t.Parallel()

	e := NewEndpoints("https://forum.example.com/")
	tests := map[string]struct {
		got  string
		want string
	}{
		"categories":   {e.Categories(), "https://forum.example.com/categories.json?include_subcategories=true"},
		"show":         {e.CategoryShow(10), "https://forum.example.com/c/10/show.json"},
		"topic list":   {e.TopicList("news", 10, 3), "https://forum.example.com/c/news/10.json?page=3"},
		"topic":        {e.Topic(501), "https://forum.example.com/t/501.json"},
		"posts":        {e.Posts(502, []int{7, 8}), "https://forum.example.com/t/502/posts.json?post_ids[]=7&post_ids[]=8"},
		"directory":    {e.Directory(2), "https://forum.example.com/directory_items.json?period=all&page=2"},
		"user":         {e.User("al ice"), "https://forum.example.com/u/al%20ice.json"},
		"badges":       {e.UserBadges("bob"), "https://forum.example.com/user-badges/bob.json"},
		"actions":      {e.UserActions("bob", 30), "https://forum.example.com/user_actions.json?username=bob&offset=30"},
		"avatar":       {e.Avatar("/user_avatar/forum/bob/{size}/1.png", 360), "https://forum.example.com/user_avatar/forum/bob/360/1.png"},
		"tags":         {e.Tags(), "https://forum.example.com/tags.json"},
		"tag":          {e.Tag("go", 1), "https://forum.example.com/tag/go.json?page=1"},
		"site":         {e.Site(), "https://forum.example.com/site.json"},
		"groups":       {e.Groups(0), "https://forum.example.com/groups.json?page=0"},
		"group":        {e.Group("staff"), "https://forum.example.com/groups/staff.json"},
		"upload proto": {e.Upload("//cdn.example.com/a.png"), "https://cdn.example.com/a.png"},
		"upload abs":   {e.Upload("https://x.example.com/a.png"), "https://x.example.com/a.png"},
	}
	for name, tt := range tests {
		assert.Equal(t, tt.want, tt.got, name)
	}
	assert.Equal(t, "https://forum.example.com", e.Base())
}

func TestTopicDetailDecode(t *testing.T) {
	t.Parallel()

	body := []byte(`{"id":501,"posts_count":2,"post_stream":{"stream":[11,12],"posts":[{"id":11},{"id":12,"cooked":"<p>hi</p>"}]}}`)
	var detail TopicDetail
	require.NoError(t, Decode(body, &detail))
	assert.Equal(t, 501, detail.ID)
	assert.Equal(t, []int{11, 12}, detail.PostStream.Stream)
	require.Len(t, detail.PostStream.Posts, 2)
	id, ok := PostID(detail.PostStream.Posts[1])
	require.True(t, ok)
	assert.Equal(t, 12, id)
	assert.Contains(t, string(detail.PostStream.Posts[1].Bytes()), "cooked")

	assert.Error(t, Decode([]byte(`{`), &detail))
}

func TestTopicListPageHasMore(t *testing.T) {
	t.Parallel()

	var page TopicListPage
	require.NoError(t, Decode([]byte(`{"topic_list":{"more_topics_url":"/c/news/10?page=1","topics":[{"id":1,"category_id":10}]}}`), &page))
	assert.True(t, page.HasMore())
	assert.Equal(t, TopicRef{ID: 1, CategoryID: 10}, page.TopicList.Topics[0])

	page = TopicListPage{}
	require.NoError(t, Decode([]byte(`{"topic_list":{"topics":[]}}`), &page))
	assert.False(t, page.HasMore())
}

func TestDecodeDirectoryPage(t *testing.T) {
	t.Parallel()

	body := []byte(`{
		"directory_items":[
			{"id":1,"likes_received":4,"user":{"id":1,"username":"alice","avatar_template":"/a/{size}.png"}},
			{"id":2,"user":"broken"}
		],
		"meta":{"total_rows_directory_items":2}
	}`)
	page, err := DecodeDirectoryPage(body)
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "alice", page.Items[0].User.Username)
	likes, _ := page.Items[0].Raw.Int("likes_received")
	assert.Equal(t, 4, likes)
}

func TestExt(t *testing.T) {
	t.Parallel()

	assert.Equal(t, ".png", Ext("https://cdn.example.com/logo.png?v=2"))
	assert.Equal(t, ".jpeg", Ext("/uploads/a/b.jpeg#frag"))
	assert.Empty(t, Ext("https://cdn.example.com/logo"))
}

func TestTagID(t *testing.T) {
	t.Parallel()

	var list TagList
	require.NoError(t, Decode([]byte(`{"tags":[{"id":"golang"},{"id":7,"name":"seven"},{"name":"none"}]}`), &list))
	require.Len(t, list.Tags, 3)

	id, ok := TagID(list.Tags[0])
	assert.True(t, ok)
	assert.Equal(t, "golang", id)
	id, ok = TagID(list.Tags[1])
	assert.True(t, ok)
	assert.Equal(t, "7", id)
	_, ok = TagID(list.Tags[2])
	assert.False(t, ok)
}
