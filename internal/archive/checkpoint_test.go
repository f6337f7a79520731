package archive

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/discourse-archiver/internal/storage/local"
)

func TestCheckpointEncode(t *testing.T) {
	t.Parallel()

	cp := NewCheckpoint()
	cp.Step = StepTopics
	cp.CategoryID = 10
	cp.LastSavedTopicID = 502
	cp.TopicFirstID = 501
	cp.TopicLastID = 502
	cp.TopicDownloadIndex = 1

	want := "category_id=10\n" +
		"last_saved_topic=502\n" +
		"topic_first_id=501\n" +
		"topic_last_id=502\n" +
		"topic_download_index=1\n" +
		"last_user_id=-1\n" +
		"download_step=TOPICS\n"
	assert.Equal(t, want, string(cp.Encode()))

	decoded, err := DecodeCheckpoint(cp.Encode())
	require.NoError(t, err)
	assert.Equal(t, cp, decoded)
}

func TestDecodeCheckpoint(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		raw     string
		want    Checkpoint
		wantErr bool
	}{
		{
			name: "users step",
			raw:  "last_user_id=42\ndownload_step=USERS\n",
			want: Checkpoint{
				Step: StepUsers, CategoryID: Unset, LastSavedTopicID: Unset, TopicFirstID: Unset,
				TopicLastID: Unset, TopicDownloadIndex: Unset, LastUserID: 42,
			},
		},
		{
			name: "unknown keys ignored",
			raw:  "flavor=vanilla\ncategory_id=3\nlast_saved_topic=9\ndownload_step=TOPICS\n",
			want: Checkpoint{
				Step: StepTopics, CategoryID: 3, LastSavedTopicID: 9, TopicFirstID: Unset,
				TopicLastID: Unset, TopicDownloadIndex: Unset, LastUserID: Unset,
			},
		},
		{name: "non integer value", raw: "category_id=abc\nlast_saved_topic=1\ndownload_step=TOPICS\n", wantErr: true},
		{name: "line without separator", raw: "category_id\n", wantErr: true},
		{name: "no step", raw: "category_id=3\nlast_saved_topic=9\n", wantErr: true},
		{name: "invalid step", raw: "category_id=3\nlast_saved_topic=9\ndownload_step=INVALID\n", wantErr: true},
		{name: "topics without saved topic", raw: "category_id=3\ndownload_step=TOPICS\n", wantErr: true},
		{name: "topics without category", raw: "last_saved_topic=3\ndownload_step=TOPICS\n", wantErr: true},
		{name: "users without saved user", raw: "category_id=3\nlast_saved_topic=9\ndownload_step=USERS\n", wantErr: true},
		{name: "empty", raw: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := DecodeCheckpoint([]byte(tt.raw))
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidCheckpoint)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCheckpointResumesTopics(t *testing.T) {
	t.Parallel()

	cp := NewCheckpoint()
	cp.Step = StepTopics
	cp.CategoryID = 10
	cp.TopicFirstID = 100
	cp.TopicLastID = 500
	cp.TopicDownloadIndex = 37
	cp.LastSavedTopicID = 137

	assert.True(t, cp.resumesTopics(10, 100, 500))
	assert.False(t, cp.resumesTopics(11, 100, 500))
	assert.False(t, cp.resumesTopics(10, 99, 500))
	assert.False(t, cp.resumesTopics(10, 100, 501))

	cp.TopicDownloadIndex = Unset
	assert.False(t, cp.resumesTopics(10, 100, 500))
}

func TestCheckpointStore(t *testing.T) {
	t.Parallel()

	files, err := local.New(local.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)
	store := NewCheckpointStore(files)

	_, found, err := store.Load()
	require.NoError(t, err)
	assert.False(t, found)

	cp := NewCheckpoint()
	cp.Step = StepUsers
	cp.LastUserID = 7
	require.NoError(t, store.Save(cp))

	loaded, found, err := store.Load()
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, cp, loaded)

	require.NoError(t, files.Write(resumePath, []byte("download_step=USERS\nlast_user_id=x\n")))
	_, found, err = store.Load()
	assert.True(t, found)
	require.ErrorIs(t, err, ErrInvalidCheckpoint)

	require.NoError(t, store.Clear())
	require.NoError(t, store.Clear())
	assert.False(t, files.Exists(resumePath))
}
