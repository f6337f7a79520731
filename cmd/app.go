package cmd

import (
	"context"
	"fmt"
	imagecolor "image/color"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/discourse-archiver/internal/archive"
	"github.com/JakeFAU/discourse-archiver/internal/clock/system"
	"github.com/JakeFAU/discourse-archiver/internal/config"
	"github.com/JakeFAU/discourse-archiver/internal/fetcher"
	collyfetcher "github.com/JakeFAU/discourse-archiver/internal/fetcher/colly"
	"github.com/JakeFAU/discourse-archiver/internal/id/uuid"
	"github.com/JakeFAU/discourse-archiver/internal/logging"
	"github.com/JakeFAU/discourse-archiver/internal/metrics"
	"github.com/JakeFAU/discourse-archiver/internal/policy/ratelimit"
	"github.com/JakeFAU/discourse-archiver/internal/progress"
	"github.com/JakeFAU/discourse-archiver/internal/progress/sinks"
	"github.com/JakeFAU/discourse-archiver/internal/storage/local"
)

const closeTimeout = 10 * time.Second

var defaultBanner = imagecolor.RGBA{R: 255, G: 80, B: 80, A: 255}

// appOptions tell the factory where to read config and how a command
// overrides it.
type appOptions struct {
	configPath string
	stderr     io.Writer
	// registerer receives the progress collectors; nil uses the default registry.
	registerer prometheus.Registerer
	override   func(*config.Config)
}

// app holds the services shared by the commands of one process.
type app struct {
	cfg      config.Config
	logger   *zap.Logger
	hub      *progress.Hub
	archiver *archive.Archiver
	runID    string
}

// newApp is the application factory. It's a variable so tests can swap the
// metrics registry or the whole wiring.
var newApp = buildApp

func buildApp(_ context.Context, opts appOptions) (*app, error) {
	store, err := config.Open(opts.configPath)
	if err != nil {
		return nil, err
	}
	cfg, err := store.Config()
	if err != nil {
		return nil, err
	}
	if opts.override != nil {
		opts.override(&cfg)
	}

	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)

	banner, err := store.GetColor("logging", "banner_color")
	if err != nil {
		logger.Warn("invalid banner color, using the default", zap.Error(err))
		banner = defaultBanner
	}

	files, err := local.New(local.Config{BaseDir: cfg.Paths.Root})
	if err != nil {
		return nil, fmt.Errorf("open archive root: %w", err)
	}

	bodyLimit, err := cfg.HTTP.BodyLimit()
	if err != nil {
		return nil, err
	}
	transport := collyfetcher.New(collyfetcher.Config{
		UserAgent:   cfg.Site.UserAgent,
		Timeout:     cfg.HTTP.Timeout,
		CookieName:  cfg.Site.CookieName,
		Cookie:      cfg.Site.Cookie,
		MaxBodySize: bodyLimit,
	})
	limiter := ratelimit.New(ratelimit.Config{RPS: cfg.HTTP.RequestsPerSecond, Burst: cfg.HTTP.Burst})
	client := fetcher.NewClient(transport, limiter, retryPolicy(cfg.HTTP), logger.Named("fetch"))

	metrics.Init()
	registerer := opts.registerer
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	promSink, err := sinks.NewPrometheusSink(registerer)
	if err != nil {
		return nil, err
	}
	hub := progress.NewHub(progress.Config{Logger: logger.Named("progress")},
		sinks.NewLogSink(logger.Named("progress")), promSink)

	id, err := uuid.New().NewRawID()
	if err != nil {
		_ = hub.Close(context.Background())
		return nil, err
	}
	runLogger := logger.With(zap.String("run_id", id.String()))

	archiver := archive.New(archiveConfig(cfg), archive.Deps{
		Fetcher:  client,
		Files:    files,
		Clock:    system.New(),
		Progress: hub,
		RunID:    progress.UUIDToBytes(id),
		Notify:   bannerNotifier(opts.stderr, banner),
	}, runLogger)

	runLogger.Info("archiver ready",
		zap.String("site", cfg.BaseURL()),
		zap.String("root", cfg.Paths.Root),
		zap.String("config", store.Path()),
	)
	return &app{
		cfg:      cfg,
		logger:   runLogger,
		hub:      hub,
		archiver: archiver,
		runID:    id.String(),
	}, nil
}

// Close drains progress sinks and exports the metrics textfile.
func (a *app) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := a.hub.Close(ctx); err != nil {
		a.logger.Warn("failed to drain progress events", zap.Error(err))
	}
	if path := a.cfg.MetricsPath(); path != "" {
		if err := metrics.WriteTextfile(path); err != nil {
			a.logger.Warn("failed to write metrics textfile", zap.Error(err))
		} else {
			a.logger.Info("metrics written", zap.String("path", path))
		}
	}
	_ = a.logger.Sync()
}

// archiveConfig maps the loaded configuration onto the engine's tunables.
func archiveConfig(cfg config.Config) archive.Config {
	d := cfg.Download
	return archive.Config{
		SiteURL:                  cfg.BaseURL(),
		Topics:                   d.Topics,
		Users:                    d.Users,
		Tags:                     d.Tags,
		Misc:                     d.Misc,
		BatchLimit:               d.MaxPostsPerRequest,
		ProgressInterval:         d.ProgressInterval,
		URLNotifyInterval:        d.URLNotifyInterval,
		SkipBudget:               d.MaxSkippedTopicURLs,
		MaxFailedPages:           cfg.HTTP.Max404s,
		SkipExistingCategories:   d.SkipExistingCategories,
		SkipExistingTopics:       d.SkipExistingTopics,
		SkipExistingPosts:        d.SkipExistingPosts,
		URLCaching:               d.URLCaching,
		DataCaching:              d.DataCaching,
		StrictCounts:             d.StrictCountChecks,
		IncludeSubcategoryTopics: d.IncludeSubcategoryTopics,
		Filter: archive.FilterConfig{
			Enabled:   cfg.Filter.Enabled,
			Blacklist: cfg.Filter.Blacklist,
			IDs:       cfg.Filter.CategoryIDs,
		},
		Resume:         d.Resume,
		RestartDelay:   d.RestartDelay,
		VerifyCounts:   cfg.Verify.Enabled,
		VerifyThorough: cfg.Verify.Thorough,
		FailOn403:      cfg.HTTP.FailOn403,
		AllUserActions: d.AllUserActions,
		AllAvatarSizes: d.AllAvatarSizes,
		AllTagExtras:   d.AllTagExtras,
	}
}

func retryPolicy(h config.HTTPConfig) fetcher.Policy {
	return fetcher.Policy{
		MaxRetries:       h.MaxRetries,
		RetryDelay:       h.RetryDelay,
		UseBackoff:       h.UseBackoff,
		BackoffIncrement: h.BackoffIncrement,
		FailOn403:        h.FailOn403,
		FailOn404:        h.FailOn404,
		Max404s:          h.Max404s,
	}
}

// bannerNotifier prints operator warnings between colored rules so they
// stand out from the log stream.
func bannerNotifier(w io.Writer, c imagecolor.RGBA) func(string) {
	if w == nil {
		return nil
	}
	paint := color.RGB(int(c.R), int(c.G), int(c.B)).Add(color.Bold)
	rule := strings.Repeat("=", 72)
	return func(msg string) {
		paint.Fprintln(w, rule)
		paint.Fprintln(w, msg)
		paint.Fprintln(w, rule)
	}
}
