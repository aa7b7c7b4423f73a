package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"cvadapt/internal/observability"
)

// envBindings lists the environment variables recognized for each key.
var envBindings = map[string][]string{
	"server.port":                           {"PORT"},
	"server.base_url":                       {"APP_BASE_URL"},
	"server.max_body_bytes":                 {"CVADAPT_MAX_BODY_BYTES"},
	"server.rate_limit.requests_per_minute": {"CVADAPT_RATE_LIMIT_RPM"},
	"server.rate_limit.burst":               {"CVADAPT_RATE_LIMIT_BURST"},
	"server.debug":                          {"CVADAPT_DEBUG"},
	"anthropic.api_key":                     {"ANTHROPIC_API_KEY"},
	"anthropic.model":                       {"ANTHROPIC_MODEL"},
	"anthropic.base_url":                    {"ANTHROPIC_BASE_URL"},
	"stripe.secret_key":                     {"STRIPE_SECRET_KEY"},
	"stripe.prices.starter":                 {"STRIPE_PRICE_STARTER"},
	"stripe.prices.pro":                     {"STRIPE_PRICE_PRO"},
	"stripe.prices.growth":                  {"STRIPE_PRICE_GROWTH"},
	"store.backend":                         {"CVADAPT_STORE_BACKEND"},
	"store.path":                            {"CVADAPT_STORE_PATH"},
	"store.redis_url":                       {"REDIS_URL"},
	"store.upstash_url":                     {"UPSTASH_REDIS_REST_URL"},
	"store.upstash_token":                   {"UPSTASH_REDIS_REST_TOKEN"},
	"store.database_url":                    {"DATABASE_URL"},
	"ledger.default_credits":                {"CVADAPT_DEFAULT_CREDITS"},
	"observability.logging.level":           {"CVADAPT_LOG_LEVEL"},
	"observability.logging.format":          {"CVADAPT_LOG_FORMAT"},
	"observability.metrics.enabled":         {"CVADAPT_METRICS_ENABLED"},
	"observability.metrics.prometheus_port": {"CVADAPT_METRICS_PORT"},
	"observability.tracing.enabled":         {"CVADAPT_TRACING_ENABLED"},
	"observability.tracing.exporter":        {"CVADAPT_TRACING_EXPORTER"},
	"observability.tracing.otlp_endpoint":   {"OTEL_EXPORTER_OTLP_ENDPOINT"},
}

func setDefaults(v *viper.Viper) {
	obs := observability.DefaultConfig()

	v.SetDefault("server.port", DefaultPort)
	v.SetDefault("server.base_url", DefaultBaseURL)
	v.SetDefault("server.max_body_bytes", 0)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.rate_limit.requests_per_minute", 30)
	v.SetDefault("server.rate_limit.burst", 10)
	v.SetDefault("server.debug", false)

	v.SetDefault("anthropic.model", DefaultAnthropicModel)
	v.SetDefault("anthropic.timeout", 120*time.Second)

	v.SetDefault("ledger.default_credits", DefaultCredits)

	v.SetDefault("observability.logging.level", obs.Logging.Level)
	v.SetDefault("observability.logging.format", obs.Logging.Format)
	v.SetDefault("observability.metrics.enabled", obs.Metrics.Enabled)
	v.SetDefault("observability.metrics.prometheus_port", obs.Metrics.PrometheusPort)
	v.SetDefault("observability.tracing.enabled", obs.Tracing.Enabled)
	v.SetDefault("observability.tracing.exporter", obs.Tracing.Exporter)
	v.SetDefault("observability.tracing.otlp_endpoint", obs.Tracing.OTLPEndpoint)
	v.SetDefault("observability.tracing.sample_rate", obs.Tracing.SampleRate)
	v.SetDefault("observability.tracing.service_name", obs.Tracing.ServiceName)
	v.SetDefault("observability.tracing.service_version", obs.Tracing.ServiceVersion)
}

// Load reads defaults, the optional YAML file and the environment, in that
// order of precedence. An empty path searches cvadapt.yaml in the working
// directory and $HOME/.cvadapt; a missing file is not an error then.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	for key, envs := range envBindings {
		args := append([]string{key}, envs...)
		if err := v.BindEnv(args...); err != nil {
			return Config{}, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("cvadapt")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.cvadapt")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	normalize(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func normalize(cfg *Config) {
	cfg.Server.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.Server.BaseURL), "/")
	if cfg.Server.BaseURL == "" {
		cfg.Server.BaseURL = DefaultBaseURL
	}
	cfg.Anthropic.APIKey = strings.TrimSpace(cfg.Anthropic.APIKey)
	cfg.Anthropic.Model = strings.TrimSpace(cfg.Anthropic.Model)
	if cfg.Anthropic.Model == "" {
		cfg.Anthropic.Model = DefaultAnthropicModel
	}
	cfg.Stripe.SecretKey = strings.TrimSpace(cfg.Stripe.SecretKey)
	cfg.Store.Backend = strings.ToLower(strings.TrimSpace(cfg.Store.Backend))
	cfg.Store.RedisURL = strings.TrimSpace(cfg.Store.RedisURL)
	cfg.Store.UpstashURL = strings.TrimSpace(cfg.Store.UpstashURL)
	cfg.Store.UpstashToken = strings.TrimSpace(cfg.Store.UpstashToken)
	cfg.Store.DatabaseURL = strings.TrimSpace(cfg.Store.DatabaseURL)
	cfg.Observability.Logging.Level = strings.ToLower(strings.TrimSpace(cfg.Observability.Logging.Level))
	cfg.Observability.Logging.Format = strings.ToLower(strings.TrimSpace(cfg.Observability.Logging.Format))
}

// Validate rejects values the service cannot start with.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Ledger.DefaultCredits < 0 {
		return fmt.Errorf("default credits must be >= 0, got %d", c.Ledger.DefaultCredits)
	}
	if _, err := c.Store.ResolveBackend(); err != nil {
		return err
	}
	switch c.Observability.Logging.Format {
	case "", "json", "text":
	default:
		return fmt.Errorf("unknown log format %q", c.Observability.Logging.Format)
	}
	return nil
}

// ResolveBackend decides the store once at startup: an explicit backend wins,
// then Redis, then Postgres, then the in-process memory store.
func (s StoreConfig) ResolveBackend() (string, error) {
	switch s.Backend {
	case BackendMemory, BackendFile, BackendSQLite:
		return s.Backend, nil
	case BackendRedis:
		if _, err := s.RedisConnectionURL(); err != nil {
			return "", err
		}
		return s.Backend, nil
	case BackendPostgres:
		if s.DatabaseURL == "" {
			return "", errors.New("postgres backend requires DATABASE_URL")
		}
		return s.Backend, nil
	case "":
	default:
		return "", fmt.Errorf("unknown store backend %q", s.Backend)
	}

	if s.RedisURL != "" || (s.UpstashURL != "" && s.UpstashToken != "") {
		return BackendRedis, nil
	}
	if s.DatabaseURL != "" {
		return BackendPostgres, nil
	}
	return BackendMemory, nil
}

// RedisConnectionURL returns the redis:// URL to dial. The Upstash REST pair
// maps onto the TLS endpoint of the same database.
func (s StoreConfig) RedisConnectionURL() (string, error) {
	if s.RedisURL != "" {
		return s.RedisURL, nil
	}
	if s.UpstashURL == "" || s.UpstashToken == "" {
		return "", errors.New("redis backend requires REDIS_URL or UPSTASH_REDIS_REST_URL and UPSTASH_REDIS_REST_TOKEN")
	}
	rest, err := url.Parse(s.UpstashURL)
	if err != nil || rest.Hostname() == "" {
		return "", fmt.Errorf("invalid UPSTASH_REDIS_REST_URL %q", s.UpstashURL)
	}
	u := url.URL{
		Scheme: "rediss",
		User:   url.UserPassword("default", s.UpstashToken),
		Host:   net.JoinHostPort(rest.Hostname(), upstashRedisPort),
	}
	return u.String(), nil
}

// StorePath returns the on-disk location for the file and sqlite backends.
func (s StoreConfig) StorePath(backend string) string {
	if p := strings.TrimSpace(s.Path); p != "" {
		return p
	}
	if backend == BackendSQLite {
		return defaultSQLitePath
	}
	return defaultFilePath
}
