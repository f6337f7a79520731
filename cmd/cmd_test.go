package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/discourse-archiver/internal/archive"
	"github.com/JakeFAU/discourse-archiver/internal/config"
)

// forumServer serves one category holding one topic with two posts.
func forumServer(t *testing.T) *httptest.Server {
	t.Helper()
	write := func(w http.ResponseWriter, v any) {
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(v))
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/categories.json", func(w http.ResponseWriter, _ *http.Request) {
		write(w, map[string]any{"category_list": map[string]any{
			"categories": []any{map[string]any{"id": 10, "slug": "news", "topic_count": 1}},
		}})
	})
	mux.HandleFunc("/c/10/show.json", func(w http.ResponseWriter, _ *http.Request) {
		write(w, map[string]any{"category": map[string]any{"id": 10, "slug": "news", "topic_count": 1}})
	})
	mux.HandleFunc("/c/news/10.json", func(w http.ResponseWriter, r *http.Request) {
		topics := []any{}
		if r.URL.Query().Get("page") == "0" {
			topics = append(topics, map[string]any{"id": 501, "category_id": 10})
		}
		write(w, map[string]any{"topic_list": map[string]any{"topics": topics}})
	})
	mux.HandleFunc("/t/501.json", func(w http.ResponseWriter, _ *http.Request) {
		write(w, map[string]any{
			"id":          501,
			"title":       "hello",
			"posts_count": 2,
			"post_stream": map[string]any{
				"stream": []int{1, 2},
				"posts": []any{
					map[string]any{"id": 1, "topic_id": 501},
					map[string]any{"id": 2, "topic_id": 501},
				},
			},
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func writeConfig(t *testing.T, siteURL, root, extra string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "archiver.yaml")
	body := "site:\n  url: " + siteURL + "\n" +
		"paths:\n  root: " + root + "\n" +
		"http:\n  max_retries: 0\n  timeout: 5s\n" +
		"logging:\n  development: false\n  level: error\n" +
		extra
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

// useTestRegistry keeps the progress collectors of each command run apart.
func useTestRegistry(t *testing.T) {
	t.Helper()
	orig := newApp
	newApp = func(ctx context.Context, opts appOptions) (*app, error) {
		opts.registerer = prometheus.NewRegistry()
		return buildApp(ctx, opts)
	}
	t.Cleanup(func() { newApp = orig })
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(&out)
	root.SetErr(&errOut)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	err := root.ExecuteContext(ctx)
	return out.String(), err
}

func TestArchiveAndVerifyCommands(t *testing.T) {
	useTestRegistry(t)
	srv := forumServer(t)
	root := t.TempDir()
	path := writeConfig(t, srv.URL, root, "metrics:\n  textfile: metrics.prom\n")

	out, err := execute(t, "archive", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "archive finished: success")
	assert.Contains(t, out, "categories: 1 discovered, 0 skipped by resume")

	assert.FileExists(t, filepath.Join(root, "c", "10", "topics", "501", "topic.json"))
	assert.FileExists(t, filepath.Join(root, "metrics.prom"))
	assert.NoFileExists(t, filepath.Join(root, "resume"))

	out, err = execute(t, "verify", "--thorough", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, strings.ToUpper(out), "CATEGORY")
	assert.Contains(t, out, "ok")
	assert.NoFileExists(t, filepath.Join(root, "resume"))
}

func TestVerifyRequiresDataCache(t *testing.T) {
	useTestRegistry(t)
	srv := forumServer(t)
	path := writeConfig(t, srv.URL, t.TempDir(), "download:\n  data_caching: false\nmetrics:\n  textfile: \"\"\n")

	_, err := execute(t, "verify", "--config", path)
	require.ErrorIs(t, err, errVerifyNeedsDataCache)
}

func TestThoroughVerifyRefusesPendingResume(t *testing.T) {
	useTestRegistry(t)
	srv := forumServer(t)
	root := t.TempDir()
	path := writeConfig(t, srv.URL, root, "metrics:\n  textfile: \"\"\n")
	require.NoError(t, os.WriteFile(filepath.Join(root, "resume"), []byte("download_step=USERS\nlast_user_id=3\n"), 0o600))

	_, err := execute(t, "verify", "--thorough", "--config", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "interrupted archive run")
	assert.FileExists(t, filepath.Join(root, "resume"))
}

func TestArchiveRejectsInvalidConfig(t *testing.T) {
	useTestRegistry(t)
	path := writeConfig(t, "forum.example.com", t.TempDir(), "")

	_, err := execute(t, "archive", "--config", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "site.url")
}

func TestArchiveConfigMapping(t *testing.T) {
	t.Parallel()

	cfg, err := config.Load(writeConfig(t, "https://forum.example.com/", t.TempDir(), `
download:
  users: true
  max_posts_per_request: 15
  max_skipped_topic_urls: 7
  strict_count_checks: true
  all_tag_extras: true
filter:
  enabled: true
  blacklist: true
  category_ids: [3]
verify:
  thorough: true
`))
	require.NoError(t, err)

	got := archiveConfig(cfg)
	assert.Equal(t, "https://forum.example.com", got.SiteURL)
	assert.True(t, got.Topics)
	assert.True(t, got.Users)
	assert.Equal(t, 15, got.BatchLimit)
	assert.Equal(t, 7, got.SkipBudget)
	assert.Equal(t, 5, got.MaxFailedPages)
	assert.True(t, got.StrictCounts)
	assert.True(t, got.AllTagExtras)
	assert.True(t, got.FailOn403)
	assert.True(t, got.VerifyCounts)
	assert.True(t, got.VerifyThorough)
	assert.Equal(t, archive.FilterConfig{Enabled: true, Blacklist: true, IDs: []int{3}}, got.Filter)
	assert.Equal(t, 10*time.Second, got.RestartDelay)

	policy := retryPolicy(cfg.HTTP)
	assert.Equal(t, 0, policy.MaxRetries)
	assert.Equal(t, 5, policy.Max404s)
	assert.True(t, policy.UseBackoff)
}

func TestArchiveOptionsApply(t *testing.T) {
	t.Parallel()

	var cfg config.Config
	cfg.Download.Resume = true
	archiveOptions{noResume: true, thorough: true}.apply(&cfg)
	assert.False(t, cfg.Download.Resume)
	assert.True(t, cfg.Verify.Enabled)
	assert.True(t, cfg.Verify.Thorough)
}

func TestCategoryStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		report archive.CategoryReport
		want   string
	}{
		{archive.CategoryReport{Verifiable: true}, "ok"},
		{archive.CategoryReport{}, "no data cache"},
		{archive.CategoryReport{Skipped: true}, "not verified"},
		{archive.CategoryReport{Verifiable: true, Repaired: true, NeedsRedownload: true}, "archived again"},
		{archive.CategoryReport{Verifiable: true, NeedsRedownload: true}, "needs full download"},
		{archive.CategoryReport{Verifiable: true, MissingPosts: 2, RepairedTopics: 1}, "repaired 1 topics"},
		{archive.CategoryReport{Verifiable: true, TopicCountMismatch: true}, "topic count mismatch"},
		{archive.CategoryReport{Verifiable: true, PostCountMismatch: 4}, "mismatch"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, categoryStatus(tt.report))
	}
}

func TestRenderReport(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	renderReport(&buf, archive.Report{
		Categories: []archive.CategoryReport{
			{ID: 10, ReportedTopics: 1200, RecordedTopics: 1199, Verifiable: true, TopicCountMismatch: true},
		},
		RepairedTopics: 3,
	})
	out := buf.String()
	assert.Contains(t, out, "1,200")
	assert.Contains(t, out, "1,199")
	assert.Contains(t, out, "topic count mismatch")
	assert.Contains(t, out, "3 topics, 0 categories")
	assert.Contains(t, out, "Repaired")
	assert.Contains(t, out, "CATEGORY")
}

func TestBannerNotifier(t *testing.T) {
	t.Parallel()

	assert.Nil(t, bannerNotifier(nil, defaultBanner))

	var buf bytes.Buffer
	notify := bannerNotifier(&buf, defaultBanner)
	notify("restarting in 10s")
	assert.Contains(t, buf.String(), "restarting in 10s")
	assert.Equal(t, 3, strings.Count(buf.String(), "\n"))
}

func TestPrintSummary(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	printSummary(&buf, archive.Summary{
		Result:            archive.PartialFailure,
		TopicsStepSkipped: true,
		ResumedFromStep:   archive.StepUsers,
		CheckpointCleared: true,
		Duration:          90 * time.Second,
	})
	out := buf.String()
	assert.Contains(t, out, "archive finished: partial in 1m30s")
	assert.Contains(t, out, "topics: completed by the previous run")
	assert.Contains(t, out, "resumed from step USERS")
}
