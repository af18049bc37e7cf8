// Package config loads and validates crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/JakeFAU/listing-crawler/internal/bootstrap"
	"github.com/JakeFAU/listing-crawler/internal/seeds"
	"github.com/JakeFAU/listing-crawler/internal/session"
)

// EnvPrefix is prepended to every environment override, e.g.
// LISTINGCRAWLER_HTTP_RETRY_COUNT.
const EnvPrefix = "LISTINGCRAWLER"

// Config captures every knob of a crawl run.
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging"`
	Seeds     SeedsConfig     `mapstructure:"seeds"`
	Bootstrap BootstrapConfig `mapstructure:"bootstrap"`
	Proxy     ProxyConfig     `mapstructure:"proxy"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Crawl     CrawlConfig     `mapstructure:"crawl"`
	Output    OutputConfig    `mapstructure:"output"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// SeedsConfig locates the category seed list.
type SeedsConfig struct {
	Path string `mapstructure:"path"`
}

// BootstrapConfig drives the credential browser.
type BootstrapConfig struct {
	Mode            string            `mapstructure:"mode"`
	Engine          string            `mapstructure:"engine"`
	BrowserPath     string            `mapstructure:"browser_path"`
	Headless        bool              `mapstructure:"headless"`
	Warmup          time.Duration     `mapstructure:"warmup"`
	PageLoadTimeout time.Duration     `mapstructure:"page_load_timeout"`
	JSEnabled       bool              `mapstructure:"js_enabled"`
	KeepBrowserOpen bool              `mapstructure:"keep_browser_open"`
	CookieCache     CookieCacheConfig `mapstructure:"cookie_cache"`
}

// CookieCacheConfig points at the optional redis snapshot cache.
type CookieCacheConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Addr    string        `mapstructure:"addr"`
	TTL     time.Duration `mapstructure:"ttl"`
	Prefix  string        `mapstructure:"prefix"`
}

// ProxyConfig selects how every request leaves the host.
type ProxyConfig struct {
	Mode              string        `mapstructure:"mode"`
	Endpoint          string        `mapstructure:"endpoint"`
	EmbeddedTor       bool          `mapstructure:"embedded_tor"`
	TorStartupTimeout time.Duration `mapstructure:"tor_startup_timeout"`
}

// HTTPConfig configures Fetch-with-Retry and the session clients.
type HTTPConfig struct {
	Timeout    time.Duration `mapstructure:"timeout"`
	RetryCount int           `mapstructure:"retry_count"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
	TLSVerify  bool          `mapstructure:"tls_verify"`
	UserAgent  string        `mapstructure:"user_agent"`
	OriginRPS  float64       `mapstructure:"origin_rps"`
}

// CrawlConfig bounds and paces the run.
type CrawlConfig struct {
	InterRequestDelay    time.Duration `mapstructure:"inter_request_delay"`
	Jitter               time.Duration `mapstructure:"jitter"`
	PageLimitPerCategory int           `mapstructure:"page_limit_per_category"`
	ProductCountCap      int           `mapstructure:"product_count_cap"`
	FlushTimeout         time.Duration `mapstructure:"flush_timeout"`
}

// OutputConfig lists the result sinks. The local file is always written.
type OutputConfig struct {
	Dir        string         `mapstructure:"dir"`
	FilePrefix string         `mapstructure:"file_prefix"`
	GCS        GCSConfig      `mapstructure:"gcs"`
	Postgres   PostgresConfig `mapstructure:"postgres"`
	SQLite     SQLiteConfig   `mapstructure:"sqlite"`
}

// GCSConfig mirrors flushes into a bucket.
type GCSConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Bucket  string `mapstructure:"bucket"`
	Prefix  string `mapstructure:"prefix"`
}

// PostgresConfig mirrors flushes into a table.
type PostgresConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DSN     string `mapstructure:"dsn"`
	Table   string `mapstructure:"table"`
}

// SQLiteConfig mirrors flushes into a local database file.
type SQLiteConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// NotifyConfig holds run-completed notification targets.
type NotifyConfig struct {
	PubSub PubSubConfig `mapstructure:"pubsub"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	TopicID   string `mapstructure:"topic_id"`
}

// MetricsConfig controls the status server.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// TracingConfig controls OpenTelemetry spans and Cloud Trace export.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	ProjectID   string  `mapstructure:"project_id"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// flagKeys binds CLI flags directly onto config keys.
var flagKeys = map[string]string{
	"proxy":                  "proxy.endpoint",
	"page-timeout":           "bootstrap.page_load_timeout",
	"browser-path":           "bootstrap.browser_path",
	"delay":                  "crawl.inter_request_delay",
	"max-products":           "crawl.product_count_cap",
	"session-wait":           "bootstrap.warmup",
	"keep-browser-open":      "bootstrap.keep_browser_open",
	"max-pages-per-category": "crawl.page_limit_per_category",
	"seeds":                  "seeds.path",
	"engine":                 "bootstrap.engine",
	"embedded-tor":           "proxy.embedded_tor",
}

// Load builds a Config from defaults, an optional file, the environment and
// any flags the user actually set, in increasing precedence.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	if flags != nil {
		if err := applyFlags(v, flags); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func applyFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for name, key := range flagKeys {
		f := flags.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag --%s: %w", name, err)
		}
	}
	// Switches that select or invert a value.
	switches := []struct {
		flag, key string
		value     any
	}{
		{"manual", "bootstrap.mode", string(bootstrap.ModeInteractive)},
		{"socks", "proxy.mode", string(session.ProxyModeSOCKS5)},
		{"disable-js", "bootstrap.js_enabled", false},
		{"insecure", "http.tls_verify", false},
	}
	for _, s := range switches {
		on, err := flags.GetBool(s.flag)
		if err != nil || !flags.Changed(s.flag) || !on {
			continue
		}
		v.Set(s.key, s.value)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("seeds.path", seeds.DefaultPath)
	v.SetDefault("bootstrap.mode", string(bootstrap.ModeUnattended))
	v.SetDefault("bootstrap.engine", bootstrap.EngineChromedp)
	v.SetDefault("bootstrap.browser_path", "")
	v.SetDefault("bootstrap.headless", true)
	v.SetDefault("bootstrap.warmup", bootstrap.DefaultWarmup)
	v.SetDefault("bootstrap.page_load_timeout", bootstrap.DefaultPageLoadTimeout)
	v.SetDefault("bootstrap.js_enabled", true)
	v.SetDefault("bootstrap.keep_browser_open", false)
	v.SetDefault("bootstrap.cookie_cache.enabled", false)
	v.SetDefault("bootstrap.cookie_cache.addr", "127.0.0.1:6379")
	v.SetDefault("bootstrap.cookie_cache.ttl", 30*time.Minute)
	v.SetDefault("bootstrap.cookie_cache.prefix", "listingcrawler:cookies:")
	v.SetDefault("proxy.mode", string(session.ProxyModeHTTP))
	v.SetDefault("proxy.endpoint", "")
	v.SetDefault("proxy.embedded_tor", false)
	v.SetDefault("proxy.tor_startup_timeout", 3*time.Minute)
	v.SetDefault("http.timeout", 30*time.Second)
	v.SetDefault("http.retry_count", 3)
	v.SetDefault("http.retry_delay", 5*time.Second)
	v.SetDefault("http.tls_verify", true)
	v.SetDefault("http.user_agent", session.DefaultUserAgent)
	v.SetDefault("http.origin_rps", 0.0)
	v.SetDefault("crawl.inter_request_delay", 2*time.Second)
	v.SetDefault("crawl.jitter", time.Second)
	v.SetDefault("crawl.page_limit_per_category", 3)
	v.SetDefault("crawl.product_count_cap", 0)
	v.SetDefault("crawl.flush_timeout", 2*time.Minute)
	v.SetDefault("output.dir", "data")
	v.SetDefault("output.file_prefix", "products_html")
	v.SetDefault("output.gcs.enabled", false)
	v.SetDefault("output.gcs.bucket", "")
	v.SetDefault("output.gcs.prefix", "runs/")
	v.SetDefault("output.postgres.enabled", false)
	v.SetDefault("output.postgres.dsn", "")
	v.SetDefault("output.postgres.table", "product_pages")
	v.SetDefault("output.sqlite.enabled", false)
	v.SetDefault("output.sqlite.path", "data/products.db")
	v.SetDefault("notify.pubsub.enabled", false)
	v.SetDefault("notify.pubsub.project_id", "")
	v.SetDefault("notify.pubsub.topic_id", "")
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", "127.0.0.1:9090")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "listingcrawler")
	v.SetDefault("tracing.project_id", "")
	v.SetDefault("tracing.sample_ratio", 1.0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	switch bootstrap.Mode(c.Bootstrap.Mode) {
	case bootstrap.ModeUnattended, bootstrap.ModeInteractive:
	default:
		return fmt.Errorf("bootstrap.mode must be %q or %q", bootstrap.ModeUnattended, bootstrap.ModeInteractive)
	}
	switch c.Bootstrap.Engine {
	case bootstrap.EngineChromedp, bootstrap.EnginePlaywright:
	default:
		return fmt.Errorf("bootstrap.engine must be %q or %q", bootstrap.EngineChromedp, bootstrap.EnginePlaywright)
	}
	switch session.ProxyMode(c.Proxy.Mode) {
	case session.ProxyModeHTTP, session.ProxyModeSOCKS5:
	default:
		return fmt.Errorf("proxy.mode must be %q or %q", session.ProxyModeHTTP, session.ProxyModeSOCKS5)
	}
	if c.Proxy.EmbeddedTor && session.ProxyMode(c.Proxy.Mode) != session.ProxyModeSOCKS5 {
		return errors.New("proxy.embedded_tor requires proxy.mode=socks5")
	}
	if !c.Proxy.EmbeddedTor {
		if err := c.ProxySettings().Validate(); err != nil {
			return fmt.Errorf("proxy.endpoint: %w", err)
		}
	}

	durations := []struct {
		key string
		val time.Duration
	}{
		{"bootstrap.warmup", c.Bootstrap.Warmup},
		{"bootstrap.page_load_timeout", c.Bootstrap.PageLoadTimeout},
		{"bootstrap.cookie_cache.ttl", c.Bootstrap.CookieCache.TTL},
		{"proxy.tor_startup_timeout", c.Proxy.TorStartupTimeout},
		{"http.timeout", c.HTTP.Timeout},
		{"http.retry_delay", c.HTTP.RetryDelay},
		{"crawl.inter_request_delay", c.Crawl.InterRequestDelay},
		{"crawl.jitter", c.Crawl.Jitter},
		{"crawl.flush_timeout", c.Crawl.FlushTimeout},
	}
	for _, d := range durations {
		if d.val < 0 {
			return fmt.Errorf("%s must be >= 0", d.key)
		}
	}
	if c.HTTP.Timeout == 0 {
		return errors.New("http.timeout must be > 0")
	}
	if c.HTTP.RetryCount <= 0 {
		return errors.New("http.retry_count must be > 0")
	}
	if c.HTTP.OriginRPS < 0 {
		return errors.New("http.origin_rps must be >= 0")
	}
	if c.Crawl.PageLimitPerCategory < 0 {
		return errors.New("crawl.page_limit_per_category must be >= 0")
	}
	if c.Crawl.ProductCountCap < 0 {
		return errors.New("crawl.product_count_cap must be >= 0")
	}
	if c.Seeds.Path == "" {
		return errors.New("seeds.path must be set")
	}
	if c.Output.Dir == "" {
		return errors.New("output.dir must be set")
	}
	if c.Bootstrap.CookieCache.Enabled && c.Bootstrap.CookieCache.Addr == "" {
		return errors.New("bootstrap.cookie_cache.addr must be set when the cookie cache is enabled")
	}
	if c.Output.GCS.Enabled && c.Output.GCS.Bucket == "" {
		return errors.New("output.gcs.bucket must be set when gcs is enabled")
	}
	if c.Output.Postgres.Enabled && c.Output.Postgres.DSN == "" {
		return errors.New("output.postgres.dsn must be set when postgres is enabled")
	}
	if c.Output.SQLite.Enabled && c.Output.SQLite.Path == "" {
		return errors.New("output.sqlite.path must be set when sqlite is enabled")
	}
	if c.Notify.PubSub.Enabled && (c.Notify.PubSub.ProjectID == "" || c.Notify.PubSub.TopicID == "") {
		return errors.New("notify.pubsub.project_id and notify.pubsub.topic_id must be set when pubsub is enabled")
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return errors.New("tracing.sample_ratio must be within [0, 1]")
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return errors.New("metrics.addr must be set when metrics are enabled")
	}
	return nil
}

// Interactive reports whether bootstraps wait for an operator.
func (c Config) Interactive() bool {
	return bootstrap.Mode(c.Bootstrap.Mode) == bootstrap.ModeInteractive
}

// Headless reports whether the browser runs without a window. An operator
// needs to see the challenge, so interactive runs are never headless.
func (c Config) Headless() bool {
	return c.Bootstrap.Headless && !c.Interactive()
}

// ProxySettings returns the run's proxy with its default endpoint filled in.
func (c Config) ProxySettings() session.ProxyConfig {
	return session.ProxyConfig{Mode: session.ProxyMode(c.Proxy.Mode), Endpoint: c.Proxy.Endpoint}.WithDefaults()
}

// SessionSettings returns what every origin session shares.
func (c Config) SessionSettings(proxy session.ProxyConfig) session.Settings {
	return session.Settings{
		Proxy:     proxy,
		TLSVerify: c.HTTP.TLSVerify,
		UserAgent: c.HTTP.UserAgent,
		Timeout:   c.HTTP.Timeout,
	}
}
