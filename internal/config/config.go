// Package config loads and validates archiver configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/viper"
)

// Config captures every tunable of an archive run.
type Config struct {
	Site     SiteConfig     `mapstructure:"site"`
	Paths    PathsConfig    `mapstructure:"paths"`
	Download DownloadConfig `mapstructure:"download"`
	Filter   FilterConfig   `mapstructure:"filter"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Verify   VerifyConfig   `mapstructure:"verify"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// SiteConfig identifies the forum and the session used to read it.
type SiteConfig struct {
	URL        string `mapstructure:"url"`
	CookieName string `mapstructure:"cookie_name"`
	Cookie     string `mapstructure:"cookie"`
	UserAgent  string `mapstructure:"user_agent"`
}

// PathsConfig sets where the archive is written.
type PathsConfig struct {
	Root string `mapstructure:"root"`
}

// DownloadConfig governs which content is fetched and how the pipelines behave.
type DownloadConfig struct {
	Topics                   bool          `mapstructure:"topics"`
	Users                    bool          `mapstructure:"users"`
	Misc                     bool          `mapstructure:"misc"`
	Tags                     bool          `mapstructure:"tags"`
	MaxPostsPerRequest       int           `mapstructure:"max_posts_per_request"`
	ProgressInterval         int           `mapstructure:"progress_interval"`
	URLNotifyInterval        int           `mapstructure:"url_notify_interval"`
	MaxSkippedTopicURLs      int           `mapstructure:"max_skipped_topic_urls"`
	SkipExistingCategories   bool          `mapstructure:"skip_existing_categories"`
	SkipExistingTopics       bool          `mapstructure:"skip_existing_topics"`
	SkipExistingPosts        bool          `mapstructure:"skip_existing_posts"`
	URLCaching               bool          `mapstructure:"url_caching"`
	DataCaching              bool          `mapstructure:"data_caching"`
	StrictCountChecks        bool          `mapstructure:"strict_count_checks"`
	IncludeSubcategoryTopics bool          `mapstructure:"include_subcategory_topics"`
	Resume                   bool          `mapstructure:"resume"`
	RestartDelay             time.Duration `mapstructure:"restart_delay"`
	AllUserActions           bool          `mapstructure:"all_user_actions"`
	AllAvatarSizes           bool          `mapstructure:"all_avatar_sizes"`
	AllTagExtras             bool          `mapstructure:"all_tag_extras"`
}

// FilterConfig restricts the archived categories by id.
type FilterConfig struct {
	Enabled     bool  `mapstructure:"enabled"`
	Blacklist   bool  `mapstructure:"blacklist"`
	CategoryIDs []int `mapstructure:"category_ids"`
}

// HTTPConfig configures the transport and its retry policy.
type HTTPConfig struct {
	Timeout           time.Duration `mapstructure:"timeout"`
	MaxRetries        int           `mapstructure:"max_retries"`
	RetryDelay        time.Duration `mapstructure:"retry_delay"`
	UseBackoff        bool          `mapstructure:"use_backoff"`
	BackoffIncrement  time.Duration `mapstructure:"backoff_increment"`
	FailOn403         bool          `mapstructure:"fail_on_403"`
	FailOn404         bool          `mapstructure:"fail_on_404"`
	Max404s           int           `mapstructure:"max_404s"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	MaxBodySize       string        `mapstructure:"max_body_size"`
}

// VerifyConfig toggles the two tiers of the post-run sweep.
type VerifyConfig struct {
	Enabled  bool `mapstructure:"enabled"`
	Thorough bool `mapstructure:"thorough"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
	BannerColor string `mapstructure:"banner_color"`
}

// MetricsConfig controls the Prometheus textfile written at the end of a run.
type MetricsConfig struct {
	Textfile string `mapstructure:"textfile"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	store, err := Open(path)
	if err != nil {
		return Config{}, err
	}
	return store.Config()
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("ARCHIVER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("site.url", "")
	v.SetDefault("site.cookie_name", "_t")
	v.SetDefault("site.cookie", "")
	v.SetDefault("site.user_agent", "")
	v.SetDefault("paths.root", "./archive")
	v.SetDefault("download.topics", true)
	v.SetDefault("download.users", false)
	v.SetDefault("download.misc", false)
	v.SetDefault("download.tags", false)
	v.SetDefault("download.max_posts_per_request", 20)
	v.SetDefault("download.progress_interval", 25)
	v.SetDefault("download.url_notify_interval", 10)
	v.SetDefault("download.max_skipped_topic_urls", 50)
	v.SetDefault("download.skip_existing_categories", false)
	v.SetDefault("download.skip_existing_topics", false)
	v.SetDefault("download.skip_existing_posts", false)
	v.SetDefault("download.url_caching", true)
	v.SetDefault("download.data_caching", true)
	v.SetDefault("download.strict_count_checks", false)
	v.SetDefault("download.include_subcategory_topics", false)
	v.SetDefault("download.resume", true)
	v.SetDefault("download.restart_delay", 10*time.Second)
	v.SetDefault("download.all_user_actions", false)
	v.SetDefault("download.all_avatar_sizes", false)
	v.SetDefault("download.all_tag_extras", false)
	v.SetDefault("filter.enabled", false)
	v.SetDefault("filter.blacklist", false)
	v.SetDefault("filter.category_ids", []int{})
	v.SetDefault("http.timeout", 30*time.Second)
	v.SetDefault("http.max_retries", 60)
	v.SetDefault("http.retry_delay", time.Second)
	v.SetDefault("http.use_backoff", true)
	v.SetDefault("http.backoff_increment", 5*time.Second)
	v.SetDefault("http.fail_on_403", true)
	v.SetDefault("http.fail_on_404", false)
	v.SetDefault("http.max_404s", 5)
	v.SetDefault("http.requests_per_second", 0.0)
	v.SetDefault("http.burst", 1)
	v.SetDefault("http.max_body_size", "64MB")
	v.SetDefault("verify.enabled", true)
	v.SetDefault("verify.thorough", false)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("logging.banner_color", "255,80,80")
	v.SetDefault("metrics.textfile", "metrics.prom")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Site.URL) == "" {
		return fmt.Errorf("site.url must be set")
	}
	u, err := url.Parse(c.Site.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("site.url must be an absolute http(s) url, got %q", c.Site.URL)
	}
	if c.Site.Cookie != "" && strings.TrimSpace(c.Site.CookieName) == "" {
		return fmt.Errorf("site.cookie_name must be set when site.cookie is provided")
	}
	if strings.TrimSpace(c.Paths.Root) == "" {
		return fmt.Errorf("paths.root must be set")
	}
	if c.Download.MaxPostsPerRequest <= 0 {
		return fmt.Errorf("download.max_posts_per_request must be > 0")
	}
	if c.Download.ProgressInterval <= 0 {
		return fmt.Errorf("download.progress_interval must be > 0")
	}
	if c.Download.URLNotifyInterval <= 0 {
		return fmt.Errorf("download.url_notify_interval must be > 0")
	}
	if c.Download.MaxSkippedTopicURLs < 0 {
		return fmt.Errorf("download.max_skipped_topic_urls must be >= 0")
	}
	if c.Download.RestartDelay < 0 {
		return fmt.Errorf("download.restart_delay must be >= 0")
	}
	if c.Filter.Enabled && len(c.Filter.CategoryIDs) == 0 {
		return fmt.Errorf("filter.category_ids must be set when the filter is enabled")
	}
	if c.HTTP.Timeout <= 0 {
		return fmt.Errorf("http.timeout must be > 0")
	}
	if c.HTTP.MaxRetries < -1 {
		return fmt.Errorf("http.max_retries must be >= -1")
	}
	if c.HTTP.Max404s < -1 {
		return fmt.Errorf("http.max_404s must be >= -1")
	}
	if c.HTTP.RetryDelay < 0 || c.HTTP.BackoffIncrement < 0 {
		return fmt.Errorf("http.retry_delay and http.backoff_increment must be >= 0")
	}
	if c.HTTP.RequestsPerSecond < 0 {
		return fmt.Errorf("http.requests_per_second must be >= 0")
	}
	if _, err := c.HTTP.BodyLimit(); err != nil {
		return err
	}
	return nil
}

// BaseURL returns the forum URL without a trailing slash.
func (c Config) BaseURL() string {
	return strings.TrimRight(strings.TrimSpace(c.Site.URL), "/")
}

// MetricsPath resolves the metrics textfile against the archive root. An empty
// result disables the export.
func (c Config) MetricsPath() string {
	if strings.TrimSpace(c.Metrics.Textfile) == "" {
		return ""
	}
	if filepath.IsAbs(c.Metrics.Textfile) {
		return c.Metrics.Textfile
	}
	return filepath.Join(c.Paths.Root, c.Metrics.Textfile)
}

// BodyLimit parses max_body_size ("64MB", "1GiB", "0" for unlimited).
func (h HTTPConfig) BodyLimit() (int, error) {
	raw := strings.TrimSpace(h.MaxBodySize)
	if raw == "" || raw == "0" {
		return 0, nil
	}
	size, err := humanize.ParseBytes(raw)
	if err != nil {
		return 0, fmt.Errorf("http.max_body_size must be a byte size: %w", err)
	}
	return int(size), nil
}
