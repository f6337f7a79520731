package discourse

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRejectsNonObjects(t *testing.T) {
	t.Parallel()

	for _, body := range []string{`[]`, `null`, `"x"`, `{`} {
		_, err := Parse([]byte(body))
		assert.Error(t, err, body)
	}

	doc, err := Parse([]byte(`{"id": 10}`))
	require.NoError(t, err)
	assert.Equal(t, 1, doc.Len())
}

func TestMergeFirstWins(t *testing.T) {
	t.Parallel()

	listing, err := Parse([]byte(`{"id":10,"name":"News","topic_count":2}`))
	require.NoError(t, err)
	show, err := Parse([]byte(`{"id":99,"name":"Other","description":"all the news"}`))
	require.NoError(t, err)

	merged := listing.Merge(show)
	id, ok := merged.Int("id")
	require.True(t, ok)
	assert.Equal(t, 10, id)
	name, _ := merged.String("name")
	assert.Equal(t, "News", name)
	desc, ok := merged.String("description")
	require.True(t, ok)
	assert.Equal(t, "all the news", desc)

	// Inputs are untouched.
	assert.False(t, listing.Has("description"))
	assert.Equal(t, 3, listing.Len())
}

func TestAccessors(t *testing.T) {
	t.Parallel()

	doc, err := Parse([]byte(`{
		"id": "42",
		"count": 7,
		"ratio": 1.5,
		"slug": "news",
		"logo": {"url": "//cdn.example.com/logo.png"},
		"subs": [{"id": 1}, {"id": 2}]
	}`))
	require.NoError(t, err)

	id, ok := doc.Int("id")
	assert.True(t, ok)
	assert.Equal(t, 42, id)
	count, ok := doc.Int("count")
	assert.True(t, ok)
	assert.Equal(t, 7, count)
	_, ok = doc.Int("ratio")
	assert.False(t, ok)
	_, ok = doc.Int("slug")
	assert.False(t, ok)
	_, ok = doc.Int("missing")
	assert.False(t, ok)

	logo, ok := doc.Object("logo")
	require.True(t, ok)
	url, _ := logo.String("url")
	assert.Equal(t, "//cdn.example.com/logo.png", url)
	_, ok = doc.Object("slug")
	assert.False(t, ok)

	subs, ok := doc.Objects("subs")
	require.True(t, ok)
	require.Len(t, subs, 2)
	second, _ := subs[1].Int("id")
	assert.Equal(t, 2, second)

	var n float64
	require.NoError(t, doc.Decode("ratio", &n))
	assert.InDelta(t, 1.5, n, 1e-9)
	assert.Error(t, doc.Decode("nope", &n))
}

func TestWithAndRoundTrip(t *testing.T) {
	t.Parallel()

	doc, err := Parse([]byte(`{"username":"alice"}`))
	require.NoError(t, err)
	item, err := Parse([]byte(`{"likes_received":3}`))
	require.NoError(t, err)

	out, err := doc.With("directory_item", item)
	require.NoError(t, err)
	assert.False(t, doc.Has("directory_item"))
	assert.JSONEq(t, `{"username":"alice","directory_item":{"likes_received":3}}`, string(out.Bytes()))

	var back Document
	require.NoError(t, json.Unmarshal(out.Bytes(), &back))
	assert.Equal(t, 2, back.Len())
	assert.Equal(t, "{}", string(Document{}.Bytes()))
	assert.True(t, Document{}.IsZero())
}
