// Package app builds the long-lived services of a crawl run and owns their
// shutdown, acting as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/redis/go-redis/v9"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-crawler/internal/api"
	"github.com/JakeFAU/listing-crawler/internal/bootstrap"
	"github.com/JakeFAU/listing-crawler/internal/clock/system"
	"github.com/JakeFAU/listing-crawler/internal/config"
	"github.com/JakeFAU/listing-crawler/internal/crawler"
	"github.com/JakeFAU/listing-crawler/internal/fetch"
	"github.com/JakeFAU/listing-crawler/internal/frontier"
	"github.com/JakeFAU/listing-crawler/internal/hash/sha256"
	"github.com/JakeFAU/listing-crawler/internal/id/uuid"
	"github.com/JakeFAU/listing-crawler/internal/orchestrator"
	"github.com/JakeFAU/listing-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/listing-crawler/internal/progress"
	"github.com/JakeFAU/listing-crawler/internal/progress/sinks"
	"github.com/JakeFAU/listing-crawler/internal/publisher/memory"
	pubsubpub "github.com/JakeFAU/listing-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/listing-crawler/internal/session"
	"github.com/JakeFAU/listing-crawler/internal/sink"
	"github.com/JakeFAU/listing-crawler/internal/telemetry"
	"github.com/JakeFAU/listing-crawler/internal/tor"
)

const proxyProbeTimeout = 5 * time.Second

// Options carries collaborators the CLI (or a test) supplies.
type Options struct {
	// Operator is required for interactive bootstraps.
	Operator bootstrap.Operator
	// NewEngine overrides the configured browser engine.
	NewEngine func() (bootstrap.Engine, error)
	// Version is reported on trace resources.
	Version string
}

// App holds the shared services of one process.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	proxy  session.ProxyConfig

	bootstrapper *bootstrap.Bootstrapper
	store        *session.Store
	orchestrator *orchestrator.Orchestrator
	hub          *progress.Hub
	status       *sinks.StatusSink
	server       *api.Server
	local        *memory.Publisher

	closeOnce sync.Once
	closeErr  error
	// closers run in reverse order of registration.
	closers []namedCloser
}

type namedCloser struct {
	name  string
	close func(ctx context.Context) error
}

// New wires every service from cfg. On error, anything already started is
// shut down before returning.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts Options) (a *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a = &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			if cerr := a.Close(context.WithoutCancel(ctx)); cerr != nil {
				logger.Warn("cleanup after failed start", zap.Error(cerr))
			}
			a = nil
		}
	}()

	logger.Info("initializing application services")

	if err := a.initProxy(ctx); err != nil {
		return nil, err
	}

	// Bootstrap observers and page hooks report into the orchestrator, which
	// is built last.
	var orch atomic.Pointer[orchestrator.Orchestrator]

	if err := a.initBootstrap(opts, func(r bootstrap.Report) {
		if o := orch.Load(); o != nil {
			o.ObserveBootstrap(r)
		}
	}); err != nil {
		return nil, err
	}
	a.store = session.NewStore(a.bootstrapper, logger.Named("session"))

	fetchOpts := []fetch.Option{}
	if limiter := ratelimit.New(ratelimit.Config{RPS: cfg.HTTP.OriginRPS}); limiter.Enabled() {
		fetchOpts = append(fetchOpts, fetch.WithLimiter(limiter))
	}
	fetcher := fetch.New(fetch.Config{
		Timeout:     cfg.HTTP.Timeout,
		MaxAttempts: cfg.HTTP.RetryCount,
		RetryDelay:  cfg.HTTP.RetryDelay,
	}, logger.Named("fetch"), fetchOpts...)

	walker := frontier.NewWalker(fetcher, logger.Named("frontier"), frontier.WithPageHook(func(r frontier.PageReport) {
		if o := orch.Load(); o != nil {
			o.ObservePage(r)
		}
	}))

	results, err := a.initSinks(ctx)
	if err != nil {
		return nil, err
	}

	publisher, err := a.initPublisher(ctx)
	if err != nil {
		return nil, err
	}

	a.status = sinks.NewStatusSink()
	a.hub = progress.NewHub(progress.Config{Logger: logger.Named("progress")},
		sinks.NewLogSink(logger),
		sinks.NewPrometheusSink(),
		a.status,
	)
	a.register("progress hub", a.hub.Close)

	tracing, err := a.initTracing(ctx, opts.Version)
	if err != nil {
		return nil, err
	}

	orchOpts := []orchestrator.Option{
		orchestrator.WithEmitter(a.hub),
		orchestrator.WithHasher(sha256.New()),
		orchestrator.WithClock(system.New()),
		orchestrator.WithIDGenerator(uuid.New()),
		orchestrator.WithPublisher(publisher),
	}
	if tracing != nil {
		orchOpts = append(orchOpts, orchestrator.WithTracerProvider(tracing))
	}
	a.orchestrator = orchestrator.New(orchestrator.Config{
		PageLimit:    cfg.Crawl.PageLimitPerCategory,
		ProductCap:   cfg.Crawl.ProductCountCap,
		Delay:        cfg.Crawl.InterRequestDelay,
		Jitter:       cfg.Crawl.Jitter,
		FlushTimeout: cfg.Crawl.FlushTimeout,
		Topic:        cfg.Notify.PubSub.TopicID,
	}, walker, fetcher, a.store, results, logger, orchOpts...)
	orch.Store(a.orchestrator)

	if cfg.Metrics.Enabled {
		a.server = api.NewServer(a.status, a.ready, logger)
	}

	logger.Info("application services initialized",
		zap.String("proxy", a.proxy.URL()),
		zap.String("engine", cfg.Bootstrap.Engine),
		zap.String("bootstrap_mode", cfg.Bootstrap.Mode),
	)
	return a, nil
}

func (a *App) initProxy(ctx context.Context) error {
	a.proxy = a.cfg.ProxySettings()
	if a.cfg.Proxy.EmbeddedTor {
		daemon := tor.NewDaemon(a.cfg.Proxy.TorStartupTimeout, a.logger.Named("tor"))
		addr, err := daemon.Start(ctx)
		if err != nil {
			return fmt.Errorf("start embedded tor: %w", err)
		}
		a.register("embedded tor", func(context.Context) error { return daemon.Stop() })
		a.proxy.Endpoint = addr
	}
	if err := a.proxy.Validate(); err != nil {
		return fmt.Errorf("proxy: %w", err)
	}
	if err := session.Probe(ctx, a.proxy, proxyProbeTimeout); err != nil {
		return fmt.Errorf("proxy preflight: %w", err)
	}
	return nil
}

func (a *App) initBootstrap(opts Options, observe func(bootstrap.Report)) error {
	cfg := a.cfg
	newEngine := opts.NewEngine
	if newEngine == nil {
		engineOpts := bootstrap.EngineOptions{
			Proxy:       a.proxy,
			JSEnabled:   cfg.Bootstrap.JSEnabled,
			Headless:    cfg.Headless(),
			BrowserPath: cfg.Bootstrap.BrowserPath,
			UserAgent:   cfg.HTTP.UserAgent,
			TLSVerify:   cfg.HTTP.TLSVerify,
		}
		logger := a.logger.Named("engine")
		newEngine = func() (bootstrap.Engine, error) {
			return bootstrap.NewEngine(cfg.Bootstrap.Engine, engineOpts, logger)
		}
	}

	bootOpts := []bootstrap.Option{bootstrap.WithObserver(observe)}
	if opts.Operator != nil {
		bootOpts = append(bootOpts, bootstrap.WithOperator(opts.Operator))
	}
	if cfg.Bootstrap.CookieCache.Enabled {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Bootstrap.CookieCache.Addr})
		a.register("redis", func(context.Context) error { return rdb.Close() })
		cache := bootstrap.NewRedisCookieCache(rdb, cfg.Bootstrap.CookieCache.Prefix, cfg.Bootstrap.CookieCache.TTL)
		bootOpts = append(bootOpts, bootstrap.WithCookieCache(cache))
	}

	boot, err := bootstrap.New(bootstrap.Options{
		Mode:            bootstrap.Mode(cfg.Bootstrap.Mode),
		Warmup:          cfg.Bootstrap.Warmup,
		PageLoadTimeout: cfg.Bootstrap.PageLoadTimeout,
		KeepBrowserOpen: cfg.Bootstrap.KeepBrowserOpen,
		Session:         cfg.SessionSettings(a.proxy),
	}, newEngine, a.logger.Named("bootstrap"), bootOpts...)
	if err != nil {
		return fmt.Errorf("bootstrapper: %w", err)
	}
	a.bootstrapper = boot
	a.register("bootstrapper", boot.Close)
	return nil
}

func (a *App) initSinks(ctx context.Context) (*sink.Multi, error) {
	out := a.cfg.Output
	primary, err := sink.NewFileSink(out.Dir, out.FilePrefix)
	if err != nil {
		return nil, fmt.Errorf("file sink: %w", err)
	}

	var secondaries []sink.Sink
	if out.GCS.Enabled {
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client: %w", err)
		}
		a.register("gcs client", func(context.Context) error { return client.Close() })
		gcs, err := sink.NewGCSSink(client, out.GCS.Bucket, out.GCS.Prefix)
		if err != nil {
			return nil, err
		}
		secondaries = append(secondaries, gcs)
	}
	if out.Postgres.Enabled {
		pg, err := sink.NewPostgresSink(ctx, out.Postgres.DSN, out.Postgres.Table)
		if err != nil {
			return nil, err
		}
		secondaries = append(secondaries, pg)
	}
	if out.SQLite.Enabled {
		lite, err := sink.NewSQLiteSink(ctx, out.SQLite.Path)
		if err != nil {
			return nil, err
		}
		secondaries = append(secondaries, lite)
	}

	multi := sink.NewMulti(primary, secondaries, a.logger.Named("sink"))
	a.register("sinks", func(context.Context) error { return multi.Close() })
	return multi, nil
}

func (a *App) initPublisher(ctx context.Context) (crawler.Publisher, error) {
	ps := a.cfg.Notify.PubSub
	if !ps.Enabled {
		a.local = memory.New()
		return a.local, nil
	}
	client, err := pubsub.NewClient(ctx, ps.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client: %w", err)
	}
	pub := pubsubpub.New(client, ps.TopicID)
	a.register("pubsub", func(context.Context) error { return pub.Close() })
	return pub, nil
}

func (a *App) initTracing(ctx context.Context, version string) (*sdktrace.TracerProvider, error) {
	tc := a.cfg.Tracing
	if !tc.Enabled {
		return nil, nil
	}
	tp, err := telemetry.NewTracerProvider(ctx, telemetry.Options{
		ServiceName: tc.ServiceName,
		Version:     version,
		ProjectID:   tc.ProjectID,
		SampleRatio: tc.SampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("tracing: %w", err)
	}
	telemetry.Install(tp)
	a.register("tracer provider", tp.Shutdown)
	return tp, nil
}

func (a *App) register(name string, fn func(ctx context.Context) error) {
	a.closers = append(a.closers, namedCloser{name: name, close: fn})
}

// ready fails while the proxy is unreachable.
func (a *App) ready(ctx context.Context) error {
	return session.Probe(ctx, a.proxy, proxyProbeTimeout)
}

// Run crawls seeds, serving the status endpoints for the duration when
// metrics are enabled.
func (a *App) Run(ctx context.Context, seeds []string) (crawler.RunSummary, error) {
	if a.server != nil {
		srvCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
		done := make(chan struct{})
		go func() {
			defer close(done)
			if err := a.server.Serve(srvCtx, a.cfg.Metrics.Addr); err != nil {
				a.logger.Warn("status server stopped", zap.Error(err))
			}
		}()
		defer func() {
			stop()
			<-done
		}()
	}
	return a.orchestrator.Run(ctx, seeds)
}

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Orchestrator exposes the run driver.
func (a *App) Orchestrator() *orchestrator.Orchestrator { return a.orchestrator }

// Sessions exposes the origin session store.
func (a *App) Sessions() *session.Store { return a.store }

// Summaries returns the run summaries published in process. It is empty
// when Pub/Sub carries them instead.
func (a *App) Summaries() []crawler.RunSummary {
	if a.local == nil {
		return nil
	}
	var out []crawler.RunSummary
	for _, msg := range a.local.Messages() {
		if sum, ok := msg.Payload.(crawler.RunSummary); ok {
			out = append(out, sum)
		}
	}
	return out
}

// Status returns the live run snapshot.
func (a *App) Status() sinks.Snapshot { return a.status.Snapshot() }

// Close shuts services down in reverse start order. It is safe to call more
// than once.
func (a *App) Close(ctx context.Context) error {
	a.closeOnce.Do(func() {
		a.logger.Info("shutting down application services")
		var errs []error
		for i := len(a.closers) - 1; i >= 0; i-- {
			c := a.closers[i]
			if err := c.close(ctx); err != nil {
				a.logger.Warn("error closing service", zap.String("service", c.name), zap.Error(err))
				errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
			}
		}
		a.closeErr = errors.Join(errs...)
	})
	return a.closeErr
}
