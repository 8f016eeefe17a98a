package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv string `env:"APP_ENV" envDefault:"development"`
	Port   string `env:"PORT" envDefault:"8080"`

	UpstreamBaseURL      string        `env:"UPSTREAM_BASE_URL"`
	UpstreamToken        string        `env:"UPSTREAM_TOKEN"`
	UpstreamJWTSecret    string        `env:"UPSTREAM_JWT_SECRET"`
	UpstreamTokenSubject string        `env:"UPSTREAM_TOKEN_SUBJECT" envDefault:"genpipe"`
	UpstreamTokenTTL     time.Duration `env:"UPSTREAM_TOKEN_TTL" envDefault:"60s"`
	GeneratePath         string        `env:"UPSTREAM_GENERATE_PATH" envDefault:"/v1/projects/{key}/generate"`
	GenerateEnrichedPath string        `env:"UPSTREAM_GENERATE_ENRICHED_PATH" envDefault:"/v1/projects/{key}/generate-with-credentials"`
	StreamPrefix         string        `env:"UPSTREAM_STREAM_PREFIX" envDefault:"data:"`
	ProviderTokenPrefix  string        `env:"PROVIDER_TOKEN_PREFIX" envDefault:"PROVIDER_TOKEN_"`

	JWTSecret       string   `env:"JWT_SECRET"`
	AllowedOrigins  []string `env:"ALLOWED_ORIGINS" envSeparator:","`
	RateLimitPerMin int      `env:"RATE_LIMIT_PER_MINUTE" envDefault:"30"`
	DefaultLocale   string   `env:"DEFAULT_LOCALE" envDefault:"en"`

	RetryPolicyFile  string        `env:"RETRY_POLICY_FILE"`
	JobIdleTimeout   time.Duration `env:"JOB_IDLE_TIMEOUT" envDefault:"10m"`
	JobRetention     time.Duration `env:"JOB_RETENTION" envDefault:"30m"`
	JobSweepInterval time.Duration `env:"JOB_SWEEP_INTERVAL" envDefault:"1m"`

	StoragePath    string `env:"STORAGE_PATH" envDefault:"./data/results"`
	StorageBaseURL string `env:"STORAGE_BASE_URL"`

	OTelEndpoint string `env:"OTEL_ENDPOINT"`

	HTTPReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	HTTPWriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"0s"`
	HTTPIdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"60s"`
}

// LoadEnvFiles reads .env and .env.local into the process environment.
// Missing files are skipped; variables already set are left alone.
func LoadEnvFiles(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env", ".env.local"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// LoadConfig loads env files, then parses and validates the process environment.
func LoadConfig() (*Config, error) {
	if err := LoadEnvFiles(); err != nil {
		return nil, err
	}
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseConfig builds a Config from an explicit variable set instead of the
// process environment.
func ParseConfig(vars map[string]string) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{Environment: vars}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required settings and normalizes values.
func (c *Config) Validate() error {
	c.UpstreamBaseURL = strings.TrimRight(strings.TrimSpace(c.UpstreamBaseURL), "/")
	if c.UpstreamBaseURL == "" {
		return fmt.Errorf("UPSTREAM_BASE_URL is required")
	}
	if c.IsProduction() && c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required in production")
	}
	if !strings.Contains(c.GeneratePath, "{key}") || !strings.Contains(c.GenerateEnrichedPath, "{key}") {
		return fmt.Errorf("generate paths must contain a {key} placeholder")
	}
	if c.UpstreamTokenTTL <= 0 {
		return fmt.Errorf("UPSTREAM_TOKEN_TTL must be positive")
	}
	if c.JobSweepInterval <= 0 {
		return fmt.Errorf("JOB_SWEEP_INTERVAL must be positive")
	}
	if c.StorageBaseURL == "" {
		c.StorageBaseURL = fmt.Sprintf("http://localhost:%s/results", c.Port)
	}
	origins := c.AllowedOrigins[:0]
	for _, o := range c.AllowedOrigins {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	c.AllowedOrigins = origins
	return nil
}

// IsProduction reports whether the service runs with production settings.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.AppEnv, "production")
}
