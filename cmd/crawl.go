package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-crawler/internal/app"
	"github.com/JakeFAU/listing-crawler/internal/bootstrap"
	"github.com/JakeFAU/listing-crawler/internal/config"
	"github.com/JakeFAU/listing-crawler/internal/crawler"
	"github.com/JakeFAU/listing-crawler/internal/logging"
	"github.com/JakeFAU/listing-crawler/internal/seeds"
)

// shutdownTimeout bounds service teardown once the run has returned. The
// interactive close prompt is not bound by it.
const shutdownTimeout = 30 * time.Second

func newCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Crawls every seed category and saves the product pages",
		Long: `Loads the seed category URLs, bootstraps a session for each origin and
walks the listing pages, fetching each product page once. Press Ctrl-C to
stop early; everything collected so far is still saved.`,
		Args: cobra.NoArgs,
		RunE: runCrawl,
	}

	f := cmd.Flags()
	f.Bool("manual", false, "pause each bootstrap until the operator presses Enter")
	f.Bool("socks", false, "use a SOCKS5 proxy instead of HTTP")
	f.String("proxy", "", "proxy endpoint host:port")
	config.SecondsFlag(f, "page-timeout", bootstrap.DefaultPageLoadTimeout, "browser page load timeout, in seconds or as a duration")
	f.String("browser-path", "", "path to the browser binary")
	config.SecondsFlag(f, "delay", 2*time.Second, "minimum pause between product fetches, in seconds (2.5) or as a duration (2500ms)")
	f.Int("max-products", 0, "stop after this many products (0 for no limit)")
	config.SecondsFlag(f, "session-wait", bootstrap.DefaultWarmup, "wait after the bootstrap page loads before taking cookies, in seconds or as a duration")
	f.Bool("disable-js", false, "disable JavaScript in the bootstrap browser")
	f.Bool("insecure", false, "skip TLS certificate verification")
	f.Bool("keep-browser-open", false, "leave the browser running on exit")
	f.Int("max-pages-per-category", 3, "listing pages to visit per category (0 for no limit)")
	f.String("seeds", seeds.DefaultPath, "JSON or YAML list of category URLs")
	f.String("engine", bootstrap.EngineChromedp, "browser engine: chromedp or playwright")
	f.Bool("embedded-tor", false, "start a private Tor daemon and route through it")
	return cmd
}

func runCrawl(cmd *cobra.Command, _ []string) error {
	cfgPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return err
	}
	cfg, err := config.Load(cfgPath, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := logging.New(logging.Options{Development: cfg.Logging.Development, Level: cfg.Logging.Level})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	undo := zap.ReplaceGlobals(logger)
	defer undo()

	categories, err := seeds.Load(cfg.Seeds.Path)
	if err != nil {
		return err
	}
	logger.Info("loaded seeds", zap.String("path", cfg.Seeds.Path), zap.Int("categories", len(categories)))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := app.Options{Version: buildVersion()}
	if cfg.Interactive() {
		// Not tied to ctx: the close prompt is answered after an interrupt.
		signals := bootstrap.LineSignals(cmd.Context(), cmd.InOrStdin())
		opts.Operator = bootstrap.NewSignalOperator(signals, cmd.ErrOrStderr(), logger.Named("operator"))
	}

	a, err := app.New(ctx, cfg, logger, opts)
	if err != nil {
		return fmt.Errorf("initialize services: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if cerr := a.Close(closeCtx); cerr != nil {
			logger.Warn("shutdown incomplete", zap.Error(cerr))
		}
	}()

	sum, runErr := a.Run(ctx, categories)
	if sum.RunID != "" {
		if err := printSummary(cmd, sum); err != nil {
			logger.Warn("print summary", zap.Error(err))
		}
	}
	if runErr != nil {
		return runErr
	}
	if sum.State == crawler.RunStateFailed {
		return fmt.Errorf("run %s failed: %s", sum.RunID, sum.Error)
	}
	return nil
}

func printSummary(cmd *cobra.Command, sum crawler.RunSummary) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(sum)
}
