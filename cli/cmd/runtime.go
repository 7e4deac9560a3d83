package cmd

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/fedsearch/archive"
	"github.com/pithecene-io/fedsearch/backend"
	"github.com/pithecene-io/fedsearch/cli/config"
	"github.com/pithecene-io/fedsearch/federator"
	"github.com/pithecene-io/fedsearch/log"
	"github.com/pithecene-io/fedsearch/metrics"
	"github.com/pithecene-io/fedsearch/notify"
	"github.com/pithecene-io/fedsearch/notify/redis"
	"github.com/pithecene-io/fedsearch/notify/webhook"
	"github.com/pithecene-io/fedsearch/session"
	"github.com/pithecene-io/fedsearch/sru"
	"github.com/pithecene-io/fedsearch/translate"
	"github.com/pithecene-io/fedsearch/types"
)

// runtime is everything a command needs to federate.
type runtime struct {
	config     *config.Config
	logger     *log.Logger
	metrics    *metrics.Collector
	dispatcher *federator.Dispatcher
	hooks      *notify.Hooks
}

// Close flushes the logger and releases the notifier.
func (r *runtime) Close() error {
	err := r.hooks.Close()
	_ = r.logger.Sync()
	return err
}

// buildRuntime wires adapters, dispatcher and side channels from cfg and
// flags. cfg may be nil.
func buildRuntime(c *cli.Context, cfg *config.Config) (*runtime, error) {
	level := resolveString(c, "log-level", configVal(cfg, func(c *config.Config) string { return c.Log.Level }))
	logger, err := log.New(errWriter(c), level)
	if err != nil {
		return nil, invalidInput("invalid --log-level: %v", err)
	}

	if cfg == nil {
		cfg = &config.Config{}
	}
	collector := metrics.NewCollector()

	dir := cfg.Directory()
	registry := backend.Registry{
		types.KindSession: session.NewFactory(dir, cfg.SessionOptions(), logger),
		types.KindHTTP:    sru.NewFactory(dir, &http.Client{}, logger),
	}

	fc := cfg.FederatorConfig()
	fc.MaxConcurrency = resolveInt(c, "max-concurrency", fc.MaxConcurrency)
	fc.Deadline = resolveDuration(c, "deadline", fc.Deadline)

	dispatcher := federator.New(registry, fc,
		federator.WithTranslator(translate.New(cfg.AttributeSet())),
		federator.WithLogger(logger),
		federator.WithMetrics(collector),
	)

	nc, err := parseNotifyConfigWithPrecedence(c, cfg, resolveString(c, "notify", cfg.Notify.Type))
	if err != nil {
		return nil, invalidInput("%v", err)
	}
	notifier, err := buildNotifier(nc)
	if err != nil {
		return nil, invalidInput("notifier: %v", err)
	}

	ac, err := parseArchiveConfigWithPrecedence(c, cfg)
	if err != nil {
		return nil, invalidInput("%v", err)
	}
	arc, err := buildArchive(c.Context, ac, logger, collector)
	if err != nil {
		if notifier != nil {
			_ = notifier.Close()
		}
		return nil, invalidInput("archive: %v", err)
	}

	return &runtime{
		config:     cfg,
		logger:     logger,
		metrics:    collector,
		dispatcher: dispatcher,
		hooks: &notify.Hooks{
			Archive:  arc,
			Notifier: notifier,
			Logger:   logger,
			Metrics:  collector,
		},
	}, nil
}

func errWriter(c *cli.Context) io.Writer {
	if c.App != nil && c.App.ErrWriter != nil {
		return c.App.ErrWriter
	}
	return os.Stderr
}

// notifyChoice holds the resolved notifier configuration.
type notifyChoice struct {
	notifyType string
	url        string
	channel    string
	headers    map[string]string
	timeout    time.Duration
	retries    int
}

// parseNotifyConfigWithPrecedence resolves notifier settings, CLI over
// config. An empty type disables notification and returns nil.
func parseNotifyConfigWithPrecedence(c *cli.Context, cfg *config.Config, notifyType string) (*notifyChoice, error) {
	if notifyType == "" {
		return nil, nil
	}
	nc := &notifyChoice{
		notifyType: notifyType,
		url:        resolveString(c, "notify-url", configVal(cfg, func(c *config.Config) string { return c.Notify.URL })),
		channel:    resolveString(c, "notify-channel", configVal(cfg, func(c *config.Config) string { return c.Notify.Channel })),
		timeout:    resolveDuration(c, "notify-timeout", configVal(cfg, func(c *config.Config) time.Duration { return c.Notify.Timeout.Duration })),
		retries:    c.Int("notify-retries"),
		headers:    map[string]string{},
	}
	if !c.IsSet("notify-retries") {
		if r := configVal(cfg, func(c *config.Config) *int { return c.Notify.Retries }); r != nil {
			nc.retries = *r
		}
	}

	for k, v := range configVal(cfg, func(c *config.Config) map[string]string { return c.Notify.Headers }) {
		nc.headers[k] = v
	}
	for _, h := range c.StringSlice("notify-header") {
		k, v, ok := strings.Cut(h, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --notify-header %q: expected Key=Value", h)
		}
		nc.headers[k] = v
	}

	switch notifyType {
	case "webhook", "redis":
	default:
		return nil, fmt.Errorf("unknown notifier %q (must be webhook or redis)", notifyType)
	}
	if nc.url == "" {
		return nil, fmt.Errorf("--notify-url is required for %s notifier", notifyType)
	}
	if nc.retries < 0 {
		return nil, fmt.Errorf("--notify-retries must be >= 0, got %d", nc.retries)
	}
	return nc, nil
}

// buildNotifier creates the configured notifier, or nil for none.
func buildNotifier(nc *notifyChoice) (notify.Notifier, error) {
	if nc == nil {
		return nil, nil
	}
	switch nc.notifyType {
	case "webhook":
		return webhook.New(webhook.Config{
			URL:     nc.url,
			Headers: nc.headers,
			Timeout: nc.timeout,
			Retries: nc.retries,
		})
	case "redis":
		return redis.New(redis.Config{
			URL:     nc.url,
			Channel: nc.channel,
			Timeout: nc.timeout,
			Retries: nc.retries,
		})
	default:
		return nil, fmt.Errorf("unknown notifier %q", nc.notifyType)
	}
}

// archiveChoice holds the resolved archive configuration.
type archiveChoice struct {
	backend   string // "fs" or "s3"
	path      string // fs: directory, s3: bucket/prefix
	dataset   string
	region    string
	endpoint  string
	pathStyle bool
}

// parseArchiveConfigWithPrecedence resolves archive settings, CLI over
// config. An empty backend disables archiving and returns nil.
func parseArchiveConfigWithPrecedence(c *cli.Context, cfg *config.Config) (*archiveChoice, error) {
	ac := &archiveChoice{
		backend:   resolveString(c, "archive-backend", configVal(cfg, func(c *config.Config) string { return c.Archive.Backend })),
		path:      resolveString(c, "archive-path", configVal(cfg, func(c *config.Config) string { return c.Archive.Path })),
		dataset:   resolveString(c, "archive-dataset", configVal(cfg, func(c *config.Config) string { return c.Archive.Dataset })),
		region:    resolveString(c, "archive-s3-region", configVal(cfg, func(c *config.Config) string { return c.Archive.Region })),
		endpoint:  resolveString(c, "archive-s3-endpoint", configVal(cfg, func(c *config.Config) string { return c.Archive.Endpoint })),
		pathStyle: resolveBool(c, "archive-s3-path-style", configVal(cfg, func(c *config.Config) bool { return c.Archive.S3PathStyle })),
	}
	switch ac.backend {
	case "":
		return nil, nil
	case "fs", "s3":
	default:
		return nil, fmt.Errorf("invalid --archive-backend %q (must be fs or s3)", ac.backend)
	}
	if ac.path == "" {
		return nil, fmt.Errorf("--archive-path is required for %s backend", ac.backend)
	}
	if ac.dataset == "" {
		ac.dataset = archive.DefaultDataset
	}
	return ac, nil
}

// buildArchive opens the configured archive, or nil for none.
func buildArchive(ctx context.Context, ac *archiveChoice, logger *log.Logger, collector *metrics.Collector) (*archive.Archive, error) {
	if ac == nil {
		return nil, nil
	}
	opts := []archive.Option{archive.WithLogger(logger), archive.WithMetrics(collector)}
	switch ac.backend {
	case "fs":
		return archive.NewFS(ac.dataset, ac.path, opts...)
	case "s3":
		bucket, prefix := archive.ParseS3Path(ac.path)
		return archive.NewS3(ctx, ac.dataset, archive.S3Config{
			Bucket:       bucket,
			Prefix:       prefix,
			Region:       ac.region,
			Endpoint:     ac.endpoint,
			UsePathStyle: ac.pathStyle,
		}, opts...)
	default:
		return nil, fmt.Errorf("unknown archive backend %q", ac.backend)
	}
}
