package config

import (
	"strings"
	"time"

	"cvadapt/internal/billing/domain"
	"cvadapt/internal/observability"
)

// Store backends recognized by ResolveBackend.
const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

const (
	DefaultPort           = 8787
	DefaultBaseURL        = "http://localhost:5173"
	DefaultAnthropicModel = "claude-sonnet-4-5-20250929"
	DefaultCredits        = 3
	defaultFilePath       = "data/store.json"
	defaultSQLitePath     = "data/cvadapt.db"
	upstashRedisPort      = "6379"
)

// Config is the runtime configuration of the service.
type Config struct {
	Server        ServerConfig         `yaml:"server" mapstructure:"server"`
	Anthropic     AnthropicConfig      `yaml:"anthropic" mapstructure:"anthropic"`
	Stripe        StripeConfig         `yaml:"stripe" mapstructure:"stripe"`
	Store         StoreConfig          `yaml:"store" mapstructure:"store"`
	Ledger        LedgerConfig         `yaml:"ledger" mapstructure:"ledger"`
	Observability observability.Config `yaml:"observability" mapstructure:"observability"`
}

type ServerConfig struct {
	Port    int    `yaml:"port" mapstructure:"port"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	// MaxBodyBytes caps request bodies; 0 keeps the router default.
	MaxBodyBytes    int64           `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
	RateLimit       RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`
	Debug           bool            `yaml:"debug" mapstructure:"debug"`
}

// RateLimitConfig throttles the AI routes per client. Zero disables it.
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
	Burst             int `yaml:"burst" mapstructure:"burst"`
}

type AnthropicConfig struct {
	APIKey  string        `yaml:"api_key" mapstructure:"api_key"`
	Model   string        `yaml:"model" mapstructure:"model"`
	BaseURL string        `yaml:"base_url" mapstructure:"base_url"`
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

type StripeConfig struct {
	SecretKey string      `yaml:"secret_key" mapstructure:"secret_key"`
	Prices    PriceConfig `yaml:"prices" mapstructure:"prices"`
}

// PriceConfig holds one provider price id per credit package.
type PriceConfig struct {
	Starter string `yaml:"starter" mapstructure:"starter"`
	Pro     string `yaml:"pro" mapstructure:"pro"`
	Growth  string `yaml:"growth" mapstructure:"growth"`
}

// Configured reports whether checkout can be offered at all.
func (s StripeConfig) Configured() bool {
	return strings.TrimSpace(s.SecretKey) != ""
}

// ByPackage maps the configured price ids onto the package catalog. Empty
// entries are omitted.
func (p PriceConfig) ByPackage() map[domain.PackageID]string {
	out := make(map[domain.PackageID]string, 3)
	for id, price := range map[domain.PackageID]string{
		domain.PackageStarter: p.Starter,
		domain.PackagePro:     p.Pro,
		domain.PackageGrowth:  p.Growth,
	} {
		if price = strings.TrimSpace(price); price != "" {
			out[id] = price
		}
	}
	return out
}

type StoreConfig struct {
	Backend      string `yaml:"backend" mapstructure:"backend"`
	Path         string `yaml:"path" mapstructure:"path"`
	RedisURL     string `yaml:"redis_url" mapstructure:"redis_url"`
	UpstashURL   string `yaml:"upstash_url" mapstructure:"upstash_url"`
	UpstashToken string `yaml:"upstash_token" mapstructure:"upstash_token"`
	DatabaseURL  string `yaml:"database_url" mapstructure:"database_url"`
}

type LedgerConfig struct {
	DefaultCredits int64 `yaml:"default_credits" mapstructure:"default_credits"`
}
