package archive

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/discourse-archiver/internal/discourse"
	"github.com/JakeFAU/discourse-archiver/internal/fetcher"
	"github.com/JakeFAU/discourse-archiver/internal/progress"
	"github.com/JakeFAU/discourse-archiver/internal/storage/local"
)

const testSite = "https://forum.test"

var testEndpoints = discourse.NewEndpoints(testSite)

// fakeFetcher replays scripted responses per URL; the last response of a
// sequence repeats. Unknown URLs answer 404.
type fakeFetcher struct {
	mu     sync.Mutex
	routes map[string][]fetcher.Response
	calls  map[string]int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{routes: map[string][]fetcher.Response{}, calls: map[string]int{}}
}

func (f *fakeFetcher) on(url string, status int, body string) *fakeFetcher {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routes[url] = append(f.routes[url], fetcher.Response{URL: url, StatusCode: status, Body: []byte(body)})
	return f
}

func (f *fakeFetcher) ok(url, body string) *fakeFetcher {
	return f.on(url, http.StatusOK, body)
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) (fetcher.Response, error) {
	if err := ctx.Err(); err != nil {
		return fetcher.Response{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[url]++
	seq := f.routes[url]
	if len(seq) == 0 {
		return fetcher.Response{URL: url, StatusCode: http.StatusNotFound}, nil
	}
	resp := seq[0]
	if len(seq) > 1 {
		f.routes[url] = seq[1:]
	}
	return resp, nil
}

func (f *fakeFetcher) count(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

type fakeClock struct {
	mu    sync.Mutex
	slept []time.Duration
}

func (c *fakeClock) Now() time.Time {
	return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.slept = append(c.slept, d)
	c.mu.Unlock()
	return ctx.Err()
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (r *recordingEmitter) Emit(evt progress.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recordingEmitter) stages() []progress.Stage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]progress.Stage, 0, len(r.events))
	for _, evt := range r.events {
		out = append(out, evt.Stage)
	}
	return out
}

type harness struct {
	archiver *Archiver
	fetcher  *fakeFetcher
	files    *local.Store
	clock    *fakeClock
	events   *recordingEmitter
	logs     *observer.ObservedLogs
	notes    []string
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.SiteURL = testSite
	cfg.VerifyCounts = false
	cfg.RestartDelay = 0
	return cfg
}

func newHarness(t *testing.T, cfg Config, f *fakeFetcher) *harness {
	t.Helper()
	store, err := local.New(local.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)
	return newHarnessWithStore(t, cfg, f, store)
}

func newHarnessWithStore(t *testing.T, cfg Config, f *fakeFetcher, store *local.Store) *harness {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	h := &harness{fetcher: f, files: store, clock: &fakeClock{}, events: &recordingEmitter{}, logs: logs}
	h.archiver = New(cfg, Deps{
		Fetcher:  f,
		Files:    store,
		Clock:    h.clock,
		Progress: h.events,
		RunID:    [16]byte{1},
		Notify:   func(msg string) { h.notes = append(h.notes, msg) },
	}, zap.New(core))
	return h
}

func (h *harness) read(t *testing.T, rel string) string {
	t.Helper()
	data, err := h.files.Read(rel)
	require.NoError(t, err)
	return string(data)
}

func mustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(data)
}

func seq(from, n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = from + i
	}
	return out
}

func categoriesBody(categories ...map[string]any) string {
	return mustJSON(map[string]any{"category_list": map[string]any{"categories": categories}})
}

func topicListBody(categoryID int, topicIDs []int, more bool) string {
	topics := make([]map[string]any, 0, len(topicIDs))
	for _, id := range topicIDs {
		topics = append(topics, map[string]any{"id": id, "category_id": categoryID})
	}
	list := map[string]any{"topics": topics}
	if more {
		list["more_topics_url"] = "/c/more"
	}
	return mustJSON(map[string]any{"topic_list": list})
}

func postsOf(topicID int, ids []int) []map[string]any {
	posts := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		posts = append(posts, map[string]any{"id": id, "topic_id": topicID, "cooked": "<p>post</p>"})
	}
	return posts
}

// topicBody embeds at most 20 posts, as the forum does.
func topicBody(id int, postIDs []int) string {
	embedded := postIDs[:min(20, len(postIDs))]
	return mustJSON(map[string]any{
		"id":          id,
		"title":       "topic",
		"posts_count": len(postIDs),
		"post_stream": map[string]any{"stream": postIDs, "posts": postsOf(id, embedded)},
	})
}

// serveTopic registers a topic and, when its stream exceeds limit, the
// post batches the archiver will request.
func serveTopic(f *fakeFetcher, id int, postIDs []int, limit int) {
	f.ok(testEndpoints.Topic(id), topicBody(id, postIDs))
	if len(postIDs) <= limit {
		return
	}
	for _, batch := range Partition(postIDs, limit) {
		f.ok(testEndpoints.Posts(id, batch), mustJSON(map[string]any{
			"post_stream": map[string]any{"posts": postsOf(id, batch)},
		}))
	}
}

// serveCategory registers the show endpoint and a single topic list page.
func serveCategory(f *fakeFetcher, id int, slug string, topicIDs []int) {
	f.ok(testEndpoints.CategoryShow(id), mustJSON(map[string]any{
		"category": map[string]any{"id": id, "slug": slug, "name": slug + " name"},
	}))
	f.ok(testEndpoints.TopicList(slug, id, 0), topicListBody(id, topicIDs, false))
}

func categoryDoc(id int, slug string, topics int) map[string]any {
	return map[string]any{"id": id, "slug": slug, "topic_count": topics}
}

func newTestCategory(t *testing.T, id int, slug string, topics int) *Category {
	t.Helper()
	doc, err := discourse.Parse([]byte(mustJSON(categoryDoc(id, slug, topics))))
	require.NoError(t, err)
	category, ok := NewCategory(doc)
	require.True(t, ok)
	return category
}
