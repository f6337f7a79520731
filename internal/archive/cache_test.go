package archive

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestURLCacheRoundTrip(t *testing.T) {
	t.Parallel()

	urls := NewTopicURLs(
		TopicURL{ID: 502, URL: testSite + "/t/502.json"},
		TopicURL{ID: 501, URL: testSite + "/t/501.json"},
	)
	data := EncodeURLCache(urls)
	assert.Equal(t, "501|https://forum.test/t/501.json\n502|https://forum.test/t/502.json\n", string(data))

	decoded, err := DecodeURLCache(data)
	require.NoError(t, err)
	assert.Equal(t, urls.Entries(), decoded.Entries())
}

func TestURLCacheFailsClosed(t *testing.T) {
	t.Parallel()

	for name, raw := range map[string]string{
		"missing field": "501|https://forum.test/t/501.json\n502\n",
		"extra field":   "501|a|b\n",
		"bad id":        "x|https://forum.test/t/1.json\n",
	} {
		_, err := DecodeURLCache([]byte(raw))
		assert.Error(t, err, name)
	}

	empty, err := DecodeURLCache(nil)
	require.NoError(t, err)
	assert.Zero(t, empty.Len())
}

func TestDataCacheEntry(t *testing.T) {
	t.Parallel()

	topic := &Topic{ID: 501, RequestURL: testSite + "/t/501.json", ReportedPostCount: 3, PostIDs: []int{1, 2, 3}}
	line := entryFromTopic(topic).Encode()
	assert.Equal(t, "https://forum.test/t/501.json|501|3|1,2,3", line)

	entry, err := DecodeDataCacheEntry(line)
	require.NoError(t, err)
	assert.Equal(t, topic.PostIDs, entry.Topic().PostIDs)
	assert.Equal(t, 501, entry.Topic().ID)

	empty, err := DecodeDataCacheEntry("u|7|0|")
	require.NoError(t, err)
	assert.Empty(t, empty.PostIDs)

	for name, raw := range map[string]string{
		"count mismatch": "u|7|2|1",
		"fields":         "u|7|1",
		"bad topic":      "u|x|1|1",
		"bad count":      "u|7|x|1",
		"bad post":       "u|7|1|y",
	} {
		_, err := DecodeDataCacheEntry(raw)
		assert.Error(t, err, name)
	}
}

func TestDataCacheFailsPartially(t *testing.T) {
	t.Parallel()

	raw := "u1|1|2|10,11\n" +
		"u2|2|3|20,21\n" +
		"u3|3|1|30\n"
	entries, skipped := DecodeDataCache([]byte(raw))
	require.Len(t, entries, 2)
	require.Len(t, skipped, 1)
	assert.Contains(t, skipped[0].Error(), "line 2")
	assert.Equal(t, 1, entries[0].TopicID)
	assert.Equal(t, 3, entries[1].TopicID)

	topics := []*Topic{entries[0].Topic(), entries[1].Topic()}
	assert.Equal(t, "u1|1|2|10,11\nu3|3|1|30\n", string(EncodeDataCache(topics)))
}
